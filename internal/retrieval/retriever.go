package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/hrq/internal/query"
)

const (
	// DefaultThreshold is the minimum similarity a match must exceed.
	DefaultThreshold float32 = 0.7
	// DefaultLimit caps the number of matches returned.
	DefaultLimit = 10
)

// TextEmbedder turns query text into a vector. *Embedder implements it.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever combines embedding and vector search to find document chunks
// relevant to a question.
type Retriever struct {
	embedder TextEmbedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given embedder and store.
func NewRetriever(embedder TextEmbedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds text and returns the caller's chunks whose similarity
// exceeds threshold, most similar first, truncated to limit. A limit of
// zero or less means DefaultLimit.
//
// No match is an empty, non-nil slice. Embedding failures wrap
// query.ErrEmbeddingUnavailable and store failures wrap
// query.ErrRetrievalBackendUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, text, callerID string, threshold float32, limit int) ([]query.DocumentMatch, error) {
	if callerID == "" {
		return nil, query.ErrUnauthorized
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", query.ErrEmbeddingUnavailable, err)
	}

	scored, err := r.store.Search(ctx, vec, threshold, limit, callerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", query.ErrRetrievalBackendUnavailable, err)
	}

	return toMatches(scored, threshold, limit), nil
}

// toMatches converts store results, re-applying the threshold, order and
// limit so a backend that is loose about any of them cannot leak through.
func toMatches(scored []ScoredChunk, threshold float32, limit int) []query.DocumentMatch {
	kept := make([]ScoredChunk, 0, len(scored))
	for _, s := range scored {
		if s.Similarity > threshold {
			kept = append(kept, s)
		}
	}
	sortBySimilarity(kept)
	if len(kept) > limit {
		kept = kept[:limit]
	}

	matches := make([]query.DocumentMatch, len(kept))
	for i, s := range kept {
		matches[i] = query.DocumentMatch{
			ChunkID:        s.ChunkID,
			DocumentID:     s.DocumentID,
			Text:           s.Text,
			Similarity:     s.Similarity,
			SourceDocument: s.SourceDocument,
			Metadata:       s.Metadata,
		}
	}
	return matches
}
