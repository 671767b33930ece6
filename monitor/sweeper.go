package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/toolplane/jobq/job"
)

// Sweeper deletes terminal jobs older than the retention TTL so the
// store does not grow without bound. A zero TTL disables sweeping.
type Sweeper struct {
	store    job.Store
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewSweeper creates a retention sweeper.
func NewSweeper(store job.Store, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop. No-op when the TTL is zero.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.ttl <= 0 {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go s.run(loopCtx)
	s.logger.Info("retention sweeper started",
		slog.Duration("ttl", s.ttl),
		slog.Duration("interval", s.interval),
	)
	return nil
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("retention sweeper stopped")
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep removes terminal jobs whose completion predates the TTL cutoff.
// Exported so tests and operators can force a pass outside the ticker.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	removed, err := s.store.SweepTerminal(ctx, cutoff)
	if err != nil {
		s.logger.Error("terminal sweep failed", slog.Any("error", err))
		return
	}
	if removed > 0 {
		s.logger.Info("terminal jobs swept", slog.Int64("removed", removed))
	}
}
