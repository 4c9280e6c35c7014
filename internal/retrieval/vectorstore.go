package retrieval

import (
	"context"
	"slices"
)

// VectorStore holds chunk embeddings and answers owner-scoped similarity
// queries. Two backends exist: SQLiteStore scans document_chunks in the
// service database, PgVectorStore delegates to the pgvector extension.
type VectorStore interface {
	// Upsert writes embeddings for the given chunks.
	Upsert(ctx context.Context, records []Record) error

	// Search returns chunks owned by ownerID whose similarity to vector is
	// strictly greater than threshold, most similar first, at most limit.
	Search(ctx context.Context, vector []float32, threshold float32, limit int, ownerID string) ([]ScoredChunk, error)

	// DeleteDocument drops every embedding belonging to documentID.
	DeleteDocument(ctx context.Context, documentID string) error
}

// Record is one embedded chunk. OwnerID and SourceDocument are denormalized
// for backends that do not share the documents table.
type Record struct {
	ChunkID        string
	DocumentID     string
	OwnerID        string
	SourceDocument string
	Index          int
	Text           string
	Embedding      []float32
	Metadata       map[string]string
}

// ScoredChunk is a Record with its similarity to the query vector.
// Similarity is 1 - cosine distance.
type ScoredChunk struct {
	Record
	Similarity float32
}

// sortBySimilarity orders results most similar first, breaking ties by
// chunk ID so equal scores come back in a stable order.
func sortBySimilarity(results []ScoredChunk) {
	slices.SortFunc(results, func(a, b ScoredChunk) int {
		return rank(hit{a.ChunkID, a.Similarity}, hit{b.ChunkID, b.Similarity})
	})
}
