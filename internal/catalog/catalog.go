package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/hrq/internal/query"
	"github.com/kalambet/hrq/internal/storage"
)

// DatasetStore is the persistence the catalog needs.
type DatasetStore interface {
	UpsertDataset(ctx context.Context, d storage.Dataset) error
	GetDataset(ctx context.Context, id, ownerID string) (storage.Dataset, error)
	ListDatasets(ctx context.Context, ownerID string) ([]storage.Dataset, error)
	DeleteDataset(ctx context.Context, id, ownerID string) error
	DeleteDatasetCache(ctx context.Context, datasetID, callerID string) (int64, error)
}

// ErrInvalidSchema wraps validation failures on import.
var ErrInvalidSchema = errors.New("invalid schema")

// ErrDatasetOwned means the dataset ID is already registered by another caller.
var ErrDatasetOwned = errors.New("dataset id belongs to another caller")

// Catalog serves schemas scoped to the caller that discovered them.
type Catalog struct {
	store DatasetStore
}

func New(store DatasetStore) *Catalog {
	return &Catalog{store: store}
}

// GetSchema returns the schema of datasetID if callerID owns it, or
// query.ErrDatasetNotFound.
func (c *Catalog) GetSchema(ctx context.Context, datasetID, callerID string) (*Schema, error) {
	ds, err := c.Get(ctx, datasetID, callerID)
	if err != nil {
		return nil, err
	}
	return &ds.Schema, nil
}

// Get returns the full dataset record, including its connection.
func (c *Catalog) Get(ctx context.Context, datasetID, callerID string) (*Dataset, error) {
	row, err := c.store.GetDataset(ctx, datasetID, callerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", query.ErrDatasetNotFound, datasetID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading dataset %s: %w", datasetID, err)
	}
	return fromRow(row)
}

// List returns the caller's datasets.
func (c *Catalog) List(ctx context.Context, callerID string) ([]Dataset, error) {
	rows, err := c.store.ListDatasets(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	out := make([]Dataset, 0, len(rows))
	for _, r := range rows {
		ds, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	return out, nil
}

// Import stores ds for callerID, replacing any earlier analysis of the same
// dataset wholesale.
func (c *Catalog) Import(ctx context.Context, callerID string, ds Dataset) error {
	if ds.ID == "" {
		return fmt.Errorf("%w: dataset id is required", ErrInvalidSchema)
	}
	if err := ds.Schema.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if ds.Schema.DatabaseID == "" {
		ds.Schema.DatabaseID = ds.ID
	}
	raw, err := json.Marshal(ds.Schema)
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}
	err = c.store.UpsertDataset(ctx, storage.Dataset{
		ID:         ds.ID,
		OwnerID:    callerID,
		Name:       ds.Name,
		Driver:     ds.Driver,
		DSN:        ds.DSN,
		SchemaJSON: string(raw),
		AnalyzedAt: ds.AnalyzedAt,
	})
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: %s", ErrDatasetOwned, ds.ID)
	}
	if err != nil {
		return fmt.Errorf("storing dataset %s: %w", ds.ID, err)
	}
	c.invalidate(ctx, ds.ID, callerID)
	return nil
}

// Delete removes a dataset owned by callerID.
func (c *Catalog) Delete(ctx context.Context, datasetID, callerID string) error {
	err := c.store.DeleteDataset(ctx, datasetID, callerID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", query.ErrDatasetNotFound, datasetID)
	}
	if err != nil {
		return err
	}
	c.invalidate(ctx, datasetID, callerID)
	return nil
}

// invalidate drops cached answers computed against the previous schema.
func (c *Catalog) invalidate(ctx context.Context, datasetID, callerID string) {
	n, err := c.store.DeleteDatasetCache(ctx, datasetID, callerID)
	if err != nil {
		slog.Warn("invalidating cached answers", "dataset_id", datasetID, "error", err)
		return
	}
	if n > 0 {
		slog.Debug("invalidated cached answers", "dataset_id", datasetID, "entries", n)
	}
}

func fromRow(r storage.Dataset) (*Dataset, error) {
	var s Schema
	if err := json.Unmarshal([]byte(r.SchemaJSON), &s); err != nil {
		return nil, fmt.Errorf("decoding schema of dataset %s: %w", r.ID, err)
	}
	return &Dataset{
		ID:         r.ID,
		Name:       r.Name,
		Driver:     r.Driver,
		DSN:        r.DSN,
		Schema:     s,
		AnalyzedAt: r.AnalyzedAt,
	}, nil
}
