package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/hook"
	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
)

// Pool runs a fixed set of claim loops. Each loop blocks on the backlog,
// claims the popped job under a fresh lease, and hands it to the
// executor. The pool never polls: claim loops sleep until the backlog
// wakes them.
type Pool struct {
	workerID id.WorkerID
	store    job.Store
	backlog  job.Backlog
	executor *Executor
	hooks    *hook.Registry
	hub      *Hub
	cfg      jobq.Config
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPool creates a worker pool. The hub must be the same instance the
// executor was built with, so cancellation signals reach running jobs.
func NewPool(
	store job.Store,
	backlog job.Backlog,
	executor *Executor,
	hooks *hook.Registry,
	hub *Hub,
	cfg jobq.Config,
	logger *slog.Logger,
) *Pool {
	return &Pool{
		workerID: id.NewWorkerID(),
		store:    store,
		backlog:  backlog,
		executor: executor,
		hooks:    hooks,
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
	}
}

// ID returns the pool's worker identity, stamped as lease owner on every
// job it claims.
func (p *Pool) ID() id.WorkerID { return p.workerID }

// Start launches the claim loops. The passed context scopes startup
// only; the loops run on a pool-lifetime context ended by Stop.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.started = true

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.claimLoop(loopCtx)
	}

	p.logger.Info("worker pool started",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.cfg.Concurrency),
	)
	return nil
}

// Stop drains the pool: claim loops stop popping, in-flight jobs get
// ShutdownTimeout to finish, then their contexts are cancelled so the
// executor requeues whatever is still running.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()

	timeout := p.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	if p.waitWithTimeout(timeout) {
		p.logger.Info("worker pool stopped", slog.String("worker_id", p.workerID.String()))
		return nil
	}

	p.logger.Warn("shutdown deadline passed, cancelling in-flight jobs",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("in_flight", p.hub.Active()),
	)
	p.hub.CancelAll()
	p.wg.Wait()

	p.logger.Info("worker pool stopped", slog.String("worker_id", p.workerID.String()))
	return nil
}

func (p *Pool) waitWithTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func (p *Pool) claimLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		jobID, err := p.backlog.PopBlocking(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, jobq.ErrBacklogClosed) {
				return
			}
			p.logger.Error("backlog pop failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// A pop that raced shutdown must not swallow the entry: the job
		// is still queued in the store, so return it to the backlog.
		if ctx.Err() != nil {
			if perr := p.backlog.Push(context.WithoutCancel(ctx), jobID); perr != nil {
				p.logger.Error("failed to return job to backlog during shutdown",
					slog.String("job_id", jobID.String()),
					slog.Any("error", perr),
				)
			}
			return
		}

		j, err := p.store.ClaimJob(ctx, jobID, p.workerID, p.cfg.LeaseDuration)
		if err != nil {
			// Stale entries are expected: the job was cancelled after
			// push, swept, or already reclaimed and re-pushed elsewhere.
			if errors.Is(err, jobq.ErrNotClaimable) || errors.Is(err, jobq.ErrJobNotFound) {
				continue
			}
			p.logger.Error("claim failed",
				slog.String("job_id", jobID.String()),
				slog.Any("error", err),
			)
			continue
		}

		p.hooks.EmitJobClaimed(ctx, j)
		p.executor.Execute(ctx, j)
	}
}
