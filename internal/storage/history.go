package storage

import (
	"context"
	"fmt"
	"time"
)

// historyTimeFormat has a fixed-width fraction so created_at sorts as text.
const historyTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// AppendHistory inserts one query log row. Rows are never updated.
func (s *Store) AppendHistory(ctx context.Context, h HistoryEntry) error {
	createdAt := h.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	sources := h.Sources
	if sources == "" {
		sources = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_history (id, caller_id, dataset_id, query_text, intent, generated_sql, result_count,
			response_time_ms, cache_hit, sources, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.CallerID, h.DatasetID, h.QueryText, h.Intent, h.GeneratedSQL, h.ResultCount,
		h.ResponseTimeMs, h.CacheHit, sources, h.Status, h.Error, createdAt.UTC().Format(historyTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// ListHistory returns the newest entries for callerID.
func (s *Store) ListHistory(ctx context.Context, callerID string, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller_id, dataset_id, query_text, intent, generated_sql, result_count,
			response_time_ms, cache_hit, sources, status, error, created_at
		FROM query_history WHERE caller_id = ?
		ORDER BY created_at DESC, id ASC LIMIT ?`, callerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var createdAt string
		if err := rows.Scan(&h.ID, &h.CallerID, &h.DatasetID, &h.QueryText, &h.Intent, &h.GeneratedSQL, &h.ResultCount,
			&h.ResponseTimeMs, &h.CacheHit, &h.Sources, &h.Status, &h.Error, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(historyTimeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		h.CreatedAt = t
		out = append(out, h)
	}
	return out, rows.Err()
}
