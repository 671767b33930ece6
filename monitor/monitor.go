package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/hook"
	"github.com/toolplane/jobq/job"
)

// Monitor periodically scans for running jobs whose lease expired and
// reclaims them: requeue while the retry budget lasts, terminal failure
// once exhausted. Reclaim writes carry the expired lease's token, so a
// worker that is merely slow (not dead) loses the race cleanly on
// whichever side writes second.
type Monitor struct {
	store    job.Store
	backlog  job.Backlog
	hooks    *hook.Registry
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a lease monitor scanning at the given interval.
func New(store job.Store, backlog job.Backlog, hooks *hook.Registry, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:    store,
		backlog:  backlog,
		hooks:    hooks,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the scan loop.
func (m *Monitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true

	go m.run(loopCtx)
	m.logger.Info("lease monitor started", slog.Duration("interval", m.interval))
	return nil
}

// Stop halts the scan loop and waits for an in-progress scan to finish.
func (m *Monitor) Stop(_ context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("lease monitor stopped")
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan reclaims all jobs whose lease expired before now. Exported so
// tests and operators can force a pass outside the ticker.
func (m *Monitor) Scan(ctx context.Context) {
	expired, err := m.store.ExpiredLeases(ctx, time.Now().UTC())
	if err != nil {
		m.logger.Error("expired lease scan failed", slog.Any("error", err))
		return
	}

	for _, j := range expired {
		m.reclaim(ctx, j)
	}
}

func (m *Monitor) reclaim(ctx context.Context, j *job.Job) {
	if j.RetryCount >= j.MaxRetries {
		jobErr := &job.Error{
			Kind:    job.KindLeaseExpired,
			Message: "lease expired and retry budget exhausted",
		}
		if err := m.store.FailJob(ctx, j.ID, j.LeaseToken, jobErr); err != nil {
			m.logReclaimError(j, err)
			return
		}
		m.logger.Warn("orphaned job failed terminally",
			slog.String("job_id", j.ID.String()),
			slog.String("task_type", j.Type),
			slog.Int("retry_count", j.RetryCount),
		)
		m.hooks.EmitLeaseExpired(ctx, j, false)
		m.hooks.EmitJobFailed(ctx, j, jobErr)
		return
	}

	if err := m.store.RequeueJob(ctx, j.ID, j.LeaseToken); err != nil {
		m.logReclaimError(j, err)
		return
	}
	if err := m.backlog.Push(ctx, j.ID); err != nil {
		m.logger.Error("failed to push reclaimed job",
			slog.String("job_id", j.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	m.logger.Info("orphaned job reclaimed",
		slog.String("job_id", j.ID.String()),
		slog.String("task_type", j.Type),
		slog.Int("retry_count", j.RetryCount+1),
	)
	m.hooks.EmitLeaseExpired(ctx, j, true)
}

// logReclaimError reports a failed reclaim write. Losing the lease race
// means the worker finished between scan and write; its outcome stands.
func (m *Monitor) logReclaimError(j *job.Job, err error) {
	if errors.Is(err, jobq.ErrLeaseLost) {
		m.logger.Debug("worker finished before reclaim, outcome stands",
			slog.String("job_id", j.ID.String()),
		)
		return
	}
	m.logger.Error("lease reclaim failed",
		slog.String("job_id", j.ID.String()),
		slog.Any("error", err),
	)
}
