package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/toolplane/jobq/id"
)

// EnqueueFunc is the callback the scheduler uses to admit jobs. The
// engine provides queue.Enqueue; the func type avoids an import cycle.
type EnqueueFunc func(ctx context.Context, taskType string, payload []byte) (id.JobID, error)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// Scheduler fires cron entries on a tick loop, enqueuing a job for
// each due entry. Entries are added before Start and are immutable
// afterwards; the run times advance under the scheduler's lock.
type Scheduler struct {
	enqueue EnqueueFunc
	logger  *slog.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	started bool
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(enqueue EnqueueFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      enqueue,
		logger:       logger,
		tickInterval: time.Second,
		entries:      make(map[string]*entry),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a scheduled enqueue. The expression is validated here;
// the first firing is the expression's next activation from now.
func (s *Scheduler) Add(name, taskType, expr string, payload []byte) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("jobq/cron: parse schedule %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("jobq/cron: add %q: scheduler already started", name)
	}
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("jobq/cron: duplicate entry %q", name)
	}
	s.entries[name] = &entry{
		name:      name,
		taskType:  taskType,
		expr:      expr,
		payload:   payload,
		schedule:  sched,
		nextRunAt: sched.Next(time.Now().UTC()),
	}
	return nil
}

// Entries returns snapshots of all entries, sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the tick loop. Starting with no entries is a no-op.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	count := len(s.entries)
	s.mu.Unlock()

	if count == 0 {
		return nil
	}

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Int("entries", count),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the tick loop to exit and waits for it.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(time.Now().UTC())
		}
	}
}

// tick fires every due entry. Due entries are collected under the lock
// and fired outside it, so a slow enqueue does not block Entries.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.nextRunAt.After(now) {
			due = append(due, e)
			e.lastRunAt = &now
			e.nextRunAt = e.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(e, now)
	}
}

func (s *Scheduler) fire(e *entry, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jobID, err := s.enqueue(ctx, e.taskType, e.payload)
	if err != nil {
		s.logger.Error("cron enqueue failed",
			slog.String("entry", e.name),
			slog.String("task_type", e.taskType),
			slog.Any("error", err),
		)
		return
	}

	s.logger.Info("cron fired",
		slog.String("entry", e.name),
		slog.String("task_type", e.taskType),
		slog.String("job_id", jobID.String()),
		slog.Time("fired_at", now),
	)
}
