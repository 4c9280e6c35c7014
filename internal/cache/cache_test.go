package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/hrq/internal/query"
	"github.com/kalambet/hrq/internal/storage"
)

var ctx = context.Background()

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T) (*Cache, *clock, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(s, Options{Now: clk.Now}), clk, s
}

func countResult() *query.Result {
	return &query.Result{
		Intent:       query.IntentSQL,
		SQLRows:      []query.Row{{"count": int64(42)}},
		GeneratedSQL: `SELECT COUNT(*) AS "count" FROM "employees"`,
		Sources:      []string{query.SourceDatabase},
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey("How many employees do we have?", "hr", "alice")
	b := DeriveKey("How many employees do we have?", "hr", "alice")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDeriveKey_FieldsMatter(t *testing.T) {
	base := DeriveKey("q", "d", "c")
	assert.NotEqual(t, base, DeriveKey("q2", "d", "c"))
	assert.NotEqual(t, base, DeriveKey("q", "d2", "c"))
	assert.NotEqual(t, base, DeriveKey("q", "d", "c2"))
	// Field boundaries are part of the key.
	assert.NotEqual(t, DeriveKey("ab", "c", "x"), DeriveKey("a", "bc", "x"))
	assert.NotEqual(t, DeriveKey("", "", "abc"), DeriveKey("abc", "", ""))
}

func TestDeriveKey_NoCollisions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	word := func() string {
		b := make([]byte, 1+rng.Intn(12))
		for i := range b {
			b[i] = byte('a' + rng.Intn(26))
		}
		return string(b)
	}
	seen := make(map[string][3]string, 20000)
	for i := 0; i < 20000; i++ {
		triple := [3]string{word(), word(), word()}
		key := DeriveKey(triple[0], triple[1], triple[2])
		if prev, ok := seen[key]; ok && prev != triple {
			t.Fatalf("collision: %v and %v -> %s", prev, triple, key)
		}
		seen[key] = triple
	}
}

func TestStoreAndLookup_IdenticalPayload(t *testing.T) {
	c, _, _ := newTestCache(t)
	key := DeriveKey("How many employees do we have?", "hr", "alice")
	orig := countResult()

	require.NoError(t, c.Store(ctx, Entry{Key: key, QueryText: "How many employees do we have?", DatasetID: "hr", CallerID: "alice", Result: orig}))

	got, ok, err := c.Lookup(ctx, key, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	want, _ := json.Marshal(orig)
	have, _ := json.Marshal(got)
	assert.JSONEq(t, string(want), string(have))
	assert.Equal(t, string(want), string(have))
	assert.Nil(t, got.DocumentMatches, "absent leg must stay absent")
	assert.Equal(t, 1, got.Count())
}

func TestLookup_HybridEmptyLegsSurvive(t *testing.T) {
	c, _, _ := newTestCache(t)
	res := &query.Result{Intent: query.IntentHybrid, SQLRows: []query.Row{}, DocumentMatches: []query.DocumentMatch{}, Sources: []string{}}
	require.NoError(t, c.Store(ctx, Entry{Key: "k", CallerID: "alice", Result: res}))

	got, ok, err := c.Lookup(ctx, "k", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, got.SQLRows)
	assert.NotNil(t, got.DocumentMatches)
	assert.NoError(t, got.Validate())
}

func TestLookup_Expiry(t *testing.T) {
	c, clk, _ := newTestCache(t)
	require.NoError(t, c.Store(ctx, Entry{Key: "k", CallerID: "alice", Result: countResult()}))

	clk.Advance(DefaultTTL - time.Millisecond)
	_, ok, err := c.Lookup(ctx, "k", "alice")
	require.NoError(t, err)
	assert.True(t, ok, "entry should be live just before expiry")

	clk.Advance(2 * time.Millisecond)
	_, ok, err = c.Lookup(ctx, "k", "alice")
	require.NoError(t, err)
	assert.False(t, ok, "entry looked up after expiry must be absent")
}

func TestLookup_OtherCallerMisses(t *testing.T) {
	c, _, _ := newTestCache(t)
	require.NoError(t, c.Store(ctx, Entry{Key: "k", CallerID: "alice", Result: countResult()}))

	_, ok, err := c.Lookup(ctx, "k", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ReplacesAndResetsHits(t *testing.T) {
	c, clk, _ := newTestCache(t)
	require.NoError(t, c.Store(ctx, Entry{Key: "k", CallerID: "alice", Result: countResult()}))
	require.NoError(t, c.RecordHit(ctx, "k"))

	clk.Advance(time.Minute)
	newer := countResult()
	newer.SQLRows = []query.Row{{"count": int64(43)}}
	require.NoError(t, c.Store(ctx, Entry{Key: "k", CallerID: "alice", Result: newer}))

	got, ok, err := c.Lookup(ctx, "k", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, json.Number("43"), got.SQLRows[0]["count"])

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.Hits)

	// The replacement restarts the TTL.
	clk.Advance(DefaultTTL - time.Second)
	_, ok, _ = c.Lookup(ctx, "k", "alice")
	assert.True(t, ok)
}

func TestRecordHit_Concurrent(t *testing.T) {
	c, _, _ := newTestCache(t)
	require.NoError(t, c.Store(ctx, Entry{Key: "k", CallerID: "alice", Result: countResult()}))

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.RecordHit(ctx, "k")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, n, st.Hits)
}

func TestRecordHit_MissingKey(t *testing.T) {
	c, _, _ := newTestCache(t)
	assert.Error(t, c.RecordHit(ctx, "nope"))
}

func TestSweep(t *testing.T) {
	c, clk, _ := newTestCache(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Store(ctx, Entry{Key: fmt.Sprintf("old-%d", i), CallerID: "alice", Result: countResult()}))
	}
	clk.Advance(DefaultTTL + time.Second)
	require.NoError(t, c.Store(ctx, Entry{Key: "fresh", CallerID: "alice", Result: countResult()}))

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Entries)
	assert.Equal(t, 1, st.Live)

	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, ok, _ := c.Lookup(ctx, "fresh", "alice")
	assert.True(t, ok)
}

func TestStore_NilResult(t *testing.T) {
	c, _, _ := newTestCache(t)
	assert.Error(t, c.Store(ctx, Entry{Key: "k", CallerID: "alice"}))
}

func TestNewSweeper_Schedule(t *testing.T) {
	c, _, _ := newTestCache(t)

	s, err := NewSweeper(c, "")
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)

	_, err = NewSweeper(c, "*/15 * * * *")
	assert.NoError(t, err)

	_, err = NewSweeper(c, "every now and then")
	assert.Error(t, err)
}

func TestSweeper_Run(t *testing.T) {
	c, clk, s := newTestCache(t)
	require.NoError(t, c.Store(ctx, Entry{Key: "k", CallerID: "alice", Result: countResult()}))
	clk.Advance(time.Hour)

	sw, err := NewSweeper(c, "@hourly")
	require.NoError(t, err)
	sw.run()

	st, err := s.CacheStats(ctx, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Entries)
}

func TestSweeper_Next(t *testing.T) {
	c, _, _ := newTestCache(t)
	sw, err := NewSweeper(c, "@hourly")
	require.NoError(t, err)
	assert.True(t, sw.Next().IsZero())

	sw.Start()
	defer sw.Stop()
	assert.True(t, sw.Next().After(time.Now()))
}

func TestCanonical_MatchesLookup(t *testing.T) {
	c, _, _ := newTestCache(t)
	res := countResult()
	res.SQLRows = append(res.SQLRows, query.Row{"count": 140000.5})
	res.SQLParams = []any{int64(100000)}

	canon, err := Canonical(res)
	require.NoError(t, err)
	assert.Equal(t, json.Number("42"), canon.SQLRows[0]["count"])
	assert.Equal(t, json.Number("140000.5"), canon.SQLRows[1]["count"])
	assert.Equal(t, []any{json.Number("100000")}, canon.SQLParams)
	assert.Nil(t, canon.DocumentMatches)

	require.NoError(t, c.Store(ctx, Entry{Key: "k", CallerID: "alice", Result: res}))
	got, ok, err := c.Lookup(ctx, "k", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, canon, got)
}
