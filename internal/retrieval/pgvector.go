package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

var _ VectorStore = (*PgVectorStore)(nil)

// PgVectorStore keeps chunk embeddings in a Postgres table with a pgvector
// column and lets the database rank them with the <=> cosine operator.
type PgVectorStore struct {
	db        *sql.DB
	dimension int
}

// OpenPgVector connects to dsn, verifies the connection and ensures the
// chunk_vectors table exists.
func OpenPgVector(ctx context.Context, dsn string, dimension int) (*PgVectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewPgVectorStore(db, dimension)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPgVectorStore wraps an open Postgres handle.
func NewPgVectorStore(db *sql.DB, dimension int) *PgVectorStore {
	return &PgVectorStore{db: db, dimension: dimension}
}

// Close closes the underlying connection pool.
func (s *PgVectorStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the extension, table and owner index if missing.
func (s *PgVectorStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_vectors (
			chunk_id        TEXT PRIMARY KEY,
			document_id     TEXT NOT NULL,
			owner_id        TEXT NOT NULL,
			source_document TEXT NOT NULL,
			chunk_index     INTEGER NOT NULL,
			text            TEXT NOT NULL,
			metadata        JSONB NOT NULL DEFAULT '{}',
			embedding       vector(%d) NOT NULL
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_chunk_vectors_owner ON chunk_vectors(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_vectors_document ON chunk_vectors(document_id)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	return nil
}

const pgUpsert = `
	INSERT INTO chunk_vectors (chunk_id, document_id, owner_id, source_document, chunk_index, text, metadata, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)
	ON CONFLICT (chunk_id) DO UPDATE SET
		document_id = EXCLUDED.document_id,
		owner_id = EXCLUDED.owner_id,
		source_document = EXCLUDED.source_document,
		chunk_index = EXCLUDED.chunk_index,
		text = EXCLUDED.text,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding`

// Upsert inserts or replaces records in one transaction.
func (s *PgVectorStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pgUpsert)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if len(r.Embedding) != s.dimension {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, want %d", r.ChunkID, len(r.Embedding), s.dimension)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", r.ChunkID, err)
		}
		if r.Metadata == nil {
			meta = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx,
			r.ChunkID, r.DocumentID, r.OwnerID, r.SourceDocument, r.Index, r.Text, string(meta), vectorToString(r.Embedding),
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", r.ChunkID, err)
		}
	}
	return tx.Commit()
}

const pgSearch = `
	SELECT chunk_id, document_id, owner_id, source_document, chunk_index, text, metadata,
	       1 - (embedding <=> $1::vector) AS similarity
	FROM chunk_vectors
	WHERE owner_id = $2 AND 1 - (embedding <=> $1::vector) > $3
	ORDER BY embedding <=> $1::vector, chunk_id
	LIMIT $4`

// Search ranks the owner's chunks by cosine distance in the database.
func (s *PgVectorStore) Search(ctx context.Context, vector []float32, threshold float32, limit int, ownerID string) ([]ScoredChunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, pgSearch, vectorToString(vector), ownerID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var meta []byte
		var sim float64
		if err := rows.Scan(
			&sc.ChunkID, &sc.DocumentID, &sc.OwnerID, &sc.SourceDocument, &sc.Index, &sc.Text, &meta, &sim,
		); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		if sc.Metadata, err = decodeMetadata(string(meta)); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", sc.ChunkID, err)
		}
		sc.Similarity = float32(sim)
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar: %w", err)
	}
	return results, nil
}

// DeleteDocument removes every vector of documentID.
func (s *PgVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete vectors for %s: %w", documentID, err)
	}
	return nil
}

// vectorToString converts a float32 slice to pgvector text format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
