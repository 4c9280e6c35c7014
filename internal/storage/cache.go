package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertCacheEntry writes an entry, fully replacing any entry under the same
// key. Hit accounting restarts from zero.
func (s *Store) UpsertCacheEntry(ctx context.Context, e CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_cache (key, query_text, dataset_id, caller_id, result_json, created_at, expires_at, hit_count, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(key) DO UPDATE SET
			query_text = excluded.query_text,
			dataset_id = excluded.dataset_id,
			caller_id = excluded.caller_id,
			result_json = excluded.result_json,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			hit_count = 0,
			last_accessed_at = excluded.last_accessed_at`,
		e.Key, e.QueryText, e.DatasetID, e.CallerID, e.ResultJSON,
		e.CreatedAt.UnixMilli(), e.ExpiresAt.UnixMilli(), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upserting cache entry: %w", err)
	}
	return nil
}

// GetCacheEntry returns the entry under key if it belongs to callerID and has
// not expired at now. Expired or foreign entries read as ErrNotFound.
func (s *Store) GetCacheEntry(ctx context.Context, key, callerID string, now time.Time) (CacheEntry, error) {
	var e CacheEntry
	var createdAt, expiresAt, lastAccessed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT key, query_text, dataset_id, caller_id, result_json, created_at, expires_at, hit_count, last_accessed_at
		FROM query_cache
		WHERE key = ? AND caller_id = ? AND expires_at > ?`,
		key, callerID, now.UnixMilli(),
	).Scan(&e.Key, &e.QueryText, &e.DatasetID, &e.CallerID, &e.ResultJSON, &createdAt, &expiresAt, &e.HitCount, &lastAccessed)
	if err == sql.ErrNoRows {
		return CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return CacheEntry{}, fmt.Errorf("reading cache entry: %w", err)
	}
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	e.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	e.LastAccessedAt = time.UnixMilli(lastAccessed).UTC()
	return e, nil
}

// IncrementCacheHit bumps hit_count in a single statement so concurrent
// callers never lose an increment.
func (s *Store) IncrementCacheHit(ctx context.Context, key string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE query_cache SET hit_count = hit_count + 1, last_accessed_at = ? WHERE key = ?`,
		now.UnixMilli(), key,
	)
	if err != nil {
		return fmt.Errorf("recording cache hit: %w", err)
	}
	return expectOneRow(res)
}

// DeleteExpiredCache removes entries whose expiry is at or before now.
func (s *Store) DeleteExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("deleting expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

// DeleteDatasetCache removes callerID's entries for datasetID.
func (s *Store) DeleteDatasetCache(ctx context.Context, datasetID, callerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE dataset_id = ? AND caller_id = ?`, datasetID, callerID)
	if err != nil {
		return 0, fmt.Errorf("deleting cache entries: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) CacheStats(ctx context.Context, now time.Time) (CacheStats, error) {
	var st CacheStats
	var live sql.NullInt64
	var hits sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END),
		       SUM(hit_count)
		FROM query_cache`, now.UnixMilli(),
	).Scan(&st.Entries, &live, &hits)
	if err != nil {
		return CacheStats{}, err
	}
	st.Live = int(live.Int64)
	st.Hits = hits.Int64
	return st, nil
}
