// ABOUTME: Cron-driven job that removes expired sessions from a Store.
// ABOUTME: Runs CleanupExpired on a fixed interval and updates the live-session gauge.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCleanupInterval is how often the sweeper runs when no interval is configured.
const DefaultCleanupInterval = 5 * time.Minute

// Sweeper periodically purges expired sessions.
type Sweeper struct {
	store    Store
	cron     *cron.Cron
	interval time.Duration
	logger   *slog.Logger
	// observe receives the live-session count after each run.
	observe func(int)
}

// NewSweeper schedules CleanupExpired every interval. observe may be nil.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger, observe func(int)) (*Sweeper, error) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:    store,
		cron:     cron.New(),
		interval: interval,
		logger:   logger.With("component", "session-sweeper"),
		observe:  observe,
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.RunOnce(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("scheduling session cleanup: %w", err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.logger.Info("session sweeper started", "interval", s.interval)
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs a single sweep and returns how many sessions were removed.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	removed, err := s.store.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("session cleanup failed", "error", err)
		return 0
	}
	if removed > 0 {
		s.logger.Info("expired sessions removed", "count", removed)
	}
	if s.observe != nil {
		if n, err := s.store.Count(ctx); err == nil {
			s.observe(n)
		}
	}
	return removed
}
