package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the expiry sweep every ten minutes.
const DefaultSweepSchedule = "@every 10m"

// Sweeper deletes expired entries on a cron schedule. Reads already ignore
// expired rows; sweeping only reclaims space.
type Sweeper struct {
	cache   *Cache
	cron    *cron.Cron
	timeout time.Duration
}

// NewSweeper validates schedule (standard five-field cron or a descriptor
// such as "@hourly" or "@every 10m") and registers the sweep.
func NewSweeper(c *Cache, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{
		cache:   c,
		timeout: time.Minute,
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	slog.Info("cache sweeper started", "next", s.Next())
}

// Stop halts the schedule and waits up to ten seconds for a running sweep.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		slog.Warn("cache sweeper stop timed out")
	}
}

// Next reports when the sweep runs next. Zero before Start.
func (s *Sweeper) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.cache.Sweep(ctx)
	if err != nil {
		slog.Error("cache sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("cache sweep", "deleted", n)
	}
}
