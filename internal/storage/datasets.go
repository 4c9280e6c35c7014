package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertDataset stores a dataset, replacing the schema and connection of an
// existing one with the same ID. It returns ErrConflict when the ID belongs
// to another owner.
func (s *Store) UpsertDataset(ctx context.Context, d Dataset) error {
	now := time.Now()
	analyzedAt := d.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = now
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO datasets (id, owner_id, name, driver, dsn, schema_json, analyzed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			driver = excluded.driver,
			dsn = excluded.dsn,
			schema_json = excluded.schema_json,
			analyzed_at = excluded.analyzed_at,
			updated_at = excluded.updated_at
		WHERE datasets.owner_id = excluded.owner_id`,
		d.ID, d.OwnerID, d.Name, d.Driver, d.DSN, d.SchemaJSON,
		formatTime(analyzedAt), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upserting dataset %s: %w", d.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// GetDataset returns the dataset with the given ID if ownerID owns it.
func (s *Store) GetDataset(ctx context.Context, id, ownerID string) (Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, driver, dsn, schema_json, analyzed_at, created_at, updated_at
		FROM datasets WHERE id = ? AND owner_id = ?`, id, ownerID)
	d, err := scanDataset(row)
	if err == sql.ErrNoRows {
		return Dataset{}, ErrNotFound
	}
	return d, err
}

// ListDatasets returns the datasets owned by ownerID, most recently analyzed first.
func (s *Store) ListDatasets(ctx context.Context, ownerID string) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, driver, dsn, schema_json, analyzed_at, created_at, updated_at
		FROM datasets WHERE owner_id = ? ORDER BY analyzed_at DESC, id ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDataset(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(r rowScanner) (Dataset, error) {
	var d Dataset
	var analyzedAt, createdAt, updatedAt string
	if err := r.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Driver, &d.DSN, &d.SchemaJSON, &analyzedAt, &createdAt, &updatedAt); err != nil {
		return Dataset{}, err
	}
	var err error
	if d.AnalyzedAt, err = parseTime(analyzedAt); err != nil {
		return Dataset{}, fmt.Errorf("parsing analyzed_at: %w", err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Dataset{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Dataset{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}
