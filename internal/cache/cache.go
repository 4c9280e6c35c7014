// Package cache stores merged query results keyed by question, dataset and
// caller, with a fixed time-to-live and per-entry hit accounting.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/hrq/internal/query"
	"github.com/kalambet/hrq/internal/storage"
)

// DefaultTTL is how long a computed result stays servable.
const DefaultTTL = 5 * time.Minute

// Store is the persistence the cache needs. *storage.Store implements it.
type Store interface {
	UpsertCacheEntry(ctx context.Context, e storage.CacheEntry) error
	GetCacheEntry(ctx context.Context, key, callerID string, now time.Time) (storage.CacheEntry, error)
	IncrementCacheHit(ctx context.Context, key string, now time.Time) error
	DeleteExpiredCache(ctx context.Context, now time.Time) (int64, error)
	CacheStats(ctx context.Context, now time.Time) (storage.CacheStats, error)
}

// Options configures a Cache. Zero values take defaults.
type Options struct {
	TTL time.Duration
	Now func() time.Time
}

// Cache is safe for concurrent use; it keeps no state of its own beyond
// configuration.
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func New(store Store, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{store: store, ttl: opts.TTL, now: opts.Now}
}

// DeriveKey returns a 64-character hex key for the triple. Each field is
// length-prefixed before hashing so ("ab","c") and ("a","bc") differ.
func DeriveKey(queryText, datasetID, callerID string) string {
	h := sha256.New()
	var n [8]byte
	for _, field := range []string{queryText, datasetID, callerID} {
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is a result to be cached.
type Entry struct {
	Key       string
	QueryText string
	DatasetID string
	CallerID  string
	Result    *query.Result
}

// Lookup returns the live result under key owned by callerID. The second
// return value is false for a miss, which includes expired entries and
// entries written for another caller.
func (c *Cache) Lookup(ctx context.Context, key, callerID string) (*query.Result, bool, error) {
	e, err := c.store.GetCacheEntry(ctx, key, callerID, c.now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}

	res, err := decodeResult([]byte(e.ResultJSON))
	if err != nil {
		return nil, false, fmt.Errorf("decoding cached result %s: %w", key, err)
	}
	return res, true, nil
}

// Canonical returns res in the form Lookup hands back after a round trip
// through the store: numbers in rows and parameters become json.Number.
// Returning it on a miss makes a later hit deep-equal to the first answer.
func Canonical(res *query.Result) (*query.Result, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return decodeResult(raw)
}

// decodeResult keeps numbers as written instead of turning them into
// float64, so a cached answer renders exactly like the original.
func decodeResult(raw []byte) (*query.Result, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var res query.Result
	if err := dec.Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Store writes e with expiry now+TTL, replacing any entry under the same key.
func (c *Cache) Store(ctx context.Context, e Entry) error {
	if e.Result == nil {
		return errors.New("cache store: nil result")
	}
	raw, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	now := c.now()
	return c.store.UpsertCacheEntry(ctx, storage.CacheEntry{
		Key:        e.Key,
		QueryText:  e.QueryText,
		DatasetID:  e.DatasetID,
		CallerID:   e.CallerID,
		ResultJSON: string(raw),
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
	})
}

// RecordHit increments the hit count of key and refreshes its access time.
func (c *Cache) RecordHit(ctx context.Context, key string) error {
	return c.store.IncrementCacheHit(ctx, key, c.now())
}

// Sweep deletes expired entries and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	return c.store.DeleteExpiredCache(ctx, c.now())
}

// Stats summarises the cache at the current time.
func (c *Cache) Stats(ctx context.Context) (storage.CacheStats, error) {
	return c.store.CacheStats(ctx, c.now())
}
