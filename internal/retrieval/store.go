package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore searches embeddings kept in the document_chunks table with a
// brute-force cosine scan. Ownership comes from the parent documents row.
//
// The scan is linear in the caller's chunk count; PgVectorStore is the
// option once that becomes noticeable.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps a database migrated by internal/storage.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Upsert sets the embedding of existing chunk rows. Chunks are created by
// document ingestion; a record for an unknown chunk is an error.
func (s *SQLiteStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE document_chunks SET embedding = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		res, err := stmt.ExecContext(ctx, encodeVector(r.Embedding), r.ChunkID)
		if err != nil {
			return fmt.Errorf("storing embedding for chunk %s: %w", r.ChunkID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("chunk %s not found", r.ChunkID)
		}
	}
	return tx.Commit()
}

// Search scans the owner's embedded chunks, keeping the best limit scores
// above threshold, then loads full rows for the winners only.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, threshold float32, limit int, ownerID string) ([]ScoredChunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	qNorm := norm(vector)
	if qNorm == 0 {
		return nil, nil
	}

	best, err := s.scan(ctx, vector, qNorm, threshold, limit, ownerID)
	if err != nil || len(best) == 0 {
		return nil, err
	}

	ids := make([]any, len(best))
	scores := make(map[string]float32, len(best))
	for i, h := range best {
		ids[i] = h.id
		scores[h.id] = h.score
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.text, c.metadata, d.owner_id, d.filename
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.id IN (?`+strings.Repeat(", ?", len(ids)-1)+`)`, ids...)
	if err != nil {
		return nil, fmt.Errorf("loading matched chunks: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredChunk, 0, len(ids))
	for rows.Next() {
		var r Record
		var meta string
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Index, &r.Text, &meta, &r.OwnerID, &r.SourceDocument); err != nil {
			return nil, fmt.Errorf("reading matched chunk: %w", err)
		}
		if r.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("chunk %s metadata: %w", r.ChunkID, err)
		}
		results = append(results, ScoredChunk{Record: r, Similarity: scores[r.ChunkID]})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading matched chunks: %w", err)
	}

	// IN does not preserve order.
	sortBySimilarity(results)
	return results, nil
}

// scan scores every embedded chunk the owner has and returns the best
// limit hits scoring strictly above threshold.
func (s *SQLiteStore) scan(ctx context.Context, q []float32, qNorm float64, threshold float32, limit int, ownerID string) ([]hit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.embedding
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.owner_id = ? AND c.embedding IS NOT NULL`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}
	defer rows.Close()

	top := newTopK(limit)
	var vec []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning embeddings: %w", err)
		}
		if vec, err = decodeVector(vec, blob); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", id, err)
		}
		if score := cosine(q, qNorm, vec); score > threshold {
			top.offer(hit{id: id, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}
	return top.hits, nil
}

// DeleteDocument clears the embeddings of a document's chunks. The chunk
// rows themselves belong to the document and go with it.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE document_chunks SET embedding = NULL WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clearing embeddings for %s: %w", documentID, err)
	}
	return nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
