package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveDocument inserts a document and its chunks in one transaction. Chunk
// indexes must form the sequence 0..len(chunks)-1 in slice order.
func (s *Store) SaveDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("chunk %d of document %s has index %d: indexes must be contiguous from 0", i, doc.ID, c.Index)
		}
		if c.DocumentID != doc.ID {
			return fmt.Errorf("chunk %s belongs to document %s, not %s", c.ID, c.DocumentID, doc.ID)
		}
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	status := doc.Status
	if status == "" {
		status = DocumentPending
	}
	metadata := doc.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning document transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, filename, content_type, metadata, chunk_count, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OwnerID, doc.Filename, contentType, metadata, len(chunks), status, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, document_id, chunk_index, text, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta := c.Metadata
		if meta == "" {
			meta = "{}"
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Index, c.Text, meta, formatTime(createdAt)); err != nil {
			return fmt.Errorf("inserting chunk %d of %s: %w", c.Index, doc.ID, err)
		}
	}

	return tx.Commit()
}

// GetDocument returns a document by ID. An empty ownerID skips the ownership
// check; it is only used by the ingest worker.
func (s *Store) GetDocument(ctx context.Context, id, ownerID string) (Document, error) {
	query := `SELECT id, owner_id, filename, content_type, metadata, chunk_count, status, created_at
		FROM documents WHERE id = ?`
	args := []any{id}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	d, err := scanDocument(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	return d, err
}

// ListDocuments returns the newest documents owned by ownerID.
func (s *Store) ListDocuments(ctx context.Context, ownerID string, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, filename, content_type, metadata, chunk_count, status, created_at
		FROM documents WHERE owner_id = ? ORDER BY created_at DESC, id ASC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DocumentChunks returns the chunks of a document in index order. Embeddings
// are not loaded.
func (s *Store) DocumentChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, text, metadata, created_at
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var createdAt string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &c.Metadata, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for chunk %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetDocumentStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// DeleteDocument removes a document owned by ownerID together with its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func scanDocument(r rowScanner) (Document, error) {
	var d Document
	var createdAt string
	if err := r.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.ContentType, &d.Metadata, &d.ChunkCount, &d.Status, &createdAt); err != nil {
		return Document{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}
