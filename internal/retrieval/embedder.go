package retrieval

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Dimensions is the embedding width every stored chunk shares.
const Dimensions = 384

// ErrDimensionMismatch is returned when the backend produces vectors of an
// unexpected width, usually because the configured model changed.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// batchSize bounds how many texts go into one backend request.
const batchSize = 16

// Backend produces raw embeddings for a named model. *ollama.Client
// satisfies it.
type Backend interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Embedder wraps a Backend to generate fixed-width text embeddings.
type Embedder struct {
	backend Backend
	model   string
	dims    int
}

// NewEmbedder creates an Embedder using the given backend and model. dims of
// zero disables the width check.
func NewEmbedder(b Backend, model string, dims int) *Embedder {
	return &Embedder{backend: b, model: model, dims: dims}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.backend.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if err := e.check(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for texts, index-aligned. Texts are
// sent in batches, at most four in flight. Returns nil (not error) for
// empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.backend.EmbedMany(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding texts %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			for i, v := range vecs {
				if err := e.check(v); err != nil {
					return fmt.Errorf("text %d: %w", start+i, err)
				}
				results[start+i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Embedder) check(vec []float32) error {
	if e.dims > 0 && len(vec) != e.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), e.dims)
	}
	return nil
}
