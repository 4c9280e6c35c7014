// Package history keeps the append-only log of answered questions.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/hrq/internal/query"
	"github.com/kalambet/hrq/internal/storage"
)

// DefaultWriteTimeout bounds a single background append.
const DefaultWriteTimeout = 5 * time.Second

// Store is the persistence the recorder writes to.
type Store interface {
	AppendHistory(ctx context.Context, h storage.HistoryEntry) error
	ListHistory(ctx context.Context, callerID string, limit int) ([]storage.HistoryEntry, error)
}

// Recorder appends records without blocking the request that produced them.
type Recorder struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRecorder(store Store, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Recorder{store: store, timeout: timeout, logger: slog.Default()}
}

// Append schedules rec for writing and returns immediately. The write uses
// its own deadline, so it survives the caller's context being cancelled.
// Failures are logged and otherwise dropped.
func (r *Recorder) Append(rec query.Record) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("history append after close", "caller_id", rec.CallerID)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.Write(ctx, rec); err != nil {
			r.logger.Error("history append failed", "caller_id", rec.CallerID, "error", err)
		}
	}()
}

// Write stores rec synchronously.
func (r *Recorder) Write(ctx context.Context, rec query.Record) error {
	h, err := toEntry(rec)
	if err != nil {
		return err
	}
	return r.store.AppendHistory(ctx, h)
}

// List returns the newest records for callerID, at most limit of them.
func (r *Recorder) List(ctx context.Context, callerID string, limit int) ([]query.Record, error) {
	if callerID == "" {
		return nil, query.ErrUnauthorized
	}
	if limit <= 0 {
		limit = 50
	}
	entries, err := r.store.ListHistory(ctx, callerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	out := make([]query.Record, 0, len(entries))
	for _, h := range entries {
		out = append(out, fromEntry(h))
	}
	return out, nil
}

// Close waits for in-flight appends. Appends after Close are dropped.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}

func toEntry(rec query.Record) (storage.HistoryEntry, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	sources := rec.Sources
	if sources == nil {
		sources = []string{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return storage.HistoryEntry{}, fmt.Errorf("encoding sources: %w", err)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	status := rec.Status
	if status == "" {
		status = query.StatusOK
	}
	return storage.HistoryEntry{
		ID:             id,
		CallerID:       rec.CallerID,
		DatasetID:      rec.DatasetID,
		QueryText:      rec.QueryText,
		Intent:         string(rec.Intent),
		GeneratedSQL:   rec.GeneratedSQL,
		ResultCount:    rec.ResultCount,
		ResponseTimeMs: rec.ResponseTimeMs,
		CacheHit:       rec.CacheHit,
		Sources:        string(raw),
		Status:         status,
		Error:          rec.Error,
		CreatedAt:      ts,
	}, nil
}

func fromEntry(h storage.HistoryEntry) query.Record {
	var sources []string
	if err := json.Unmarshal([]byte(h.Sources), &sources); err != nil {
		slog.Warn("history row has malformed sources", "id", h.ID, "error", err)
	}
	if sources == nil {
		sources = []string{}
	}
	return query.Record{
		ID:             h.ID,
		QueryText:      h.QueryText,
		DatasetID:      h.DatasetID,
		Intent:         query.Intent(h.Intent),
		GeneratedSQL:   h.GeneratedSQL,
		ResultCount:    h.ResultCount,
		ResponseTimeMs: h.ResponseTimeMs,
		CacheHit:       h.CacheHit,
		Sources:        sources,
		CallerID:       h.CallerID,
		Status:         h.Status,
		Error:          h.Error,
		Timestamp:      h.CreatedAt,
	}
}
