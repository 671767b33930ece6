package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/backoff"
	"github.com/toolplane/jobq/hook"
	"github.com/toolplane/jobq/job"
	"github.com/toolplane/jobq/middleware"
	"github.com/toolplane/jobq/task"
)

// Executor runs a single claimed job through the middleware chain and
// records the outcome. It owns the failure classification: success,
// acknowledged cancellation, timeout, fatal, panic, shutdown
// interruption, or retryable with backoff. Every outcome write carries
// the job's lease token, so an
// executor whose lease was reclaimed loses the write race cleanly.
type Executor struct {
	registry *task.Registry
	store    job.Store
	backlog  job.Backlog
	hooks    *hook.Registry
	backoff  backoff.Strategy
	hub      *Hub
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an executor. The middleware chain may be nil, in
// which case handlers run bare.
func NewExecutor(
	registry *task.Registry,
	store job.Store,
	backlog job.Backlog,
	hooks *hook.Registry,
	strategy backoff.Strategy,
	hub *Hub,
	mw middleware.Middleware,
	logger *slog.Logger,
) *Executor {
	if strategy == nil {
		strategy = backoff.DefaultStrategy()
	}
	if mw == nil {
		mw = func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
			return next(ctx)
		}
	}
	return &Executor{
		registry: registry,
		store:    store,
		backlog:  backlog,
		hooks:    hooks,
		backoff:  strategy,
		hub:      hub,
		mw:       mw,
		logger:   logger,
	}
}

// Execute runs a claimed job to an outcome. The handler's context is
// severed from the caller's cancellation: during shutdown, in-flight
// jobs get their drain window and are interrupted only through the Hub.
// Outcome writes likewise must land even during shutdown.
func (e *Executor) Execute(ctx context.Context, j *job.Job) {
	writeCtx := context.WithoutCancel(ctx)

	// A cancel request raised against a previous attempt survives the
	// requeue in the store record. Honour it before running the handler,
	// so a reclaimed-and-reclaimed job cannot outrun its cancellation.
	if j.CancelRequested {
		if serr := e.store.CancelRunning(writeCtx, j.ID, j.LeaseToken); serr != nil {
			e.logOutcomeError(j, "cancel", serr)
			return
		}
		e.logger.Debug("claimed job had a pending cancel request",
			slog.String("job_id", j.ID.String()),
			slog.String("task_type", j.Type),
		)
		e.hooks.EmitJobCancelled(writeCtx, j)
		return
	}

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		// A claimed job with no handler means the registry diverged
		// between producer and worker. Not retryable anywhere.
		e.fail(writeCtx, j, &job.Error{
			Kind:    job.KindFatal,
			Message: fmt.Sprintf("no handler registered for task type %q", j.Type),
		})
		return
	}

	execCtx, cancel := context.WithCancel(writeCtx)
	defer cancel()

	jobKey := j.ID.String()
	e.hub.Track(jobKey, cancel)
	defer e.hub.Untrack(jobKey)

	start := time.Now()
	result, err := e.mw(execCtx, j, func(c context.Context) ([]byte, error) {
		return handler(c, j.Payload)
	})
	elapsed := time.Since(start)

	if err == nil {
		if serr := e.store.CompleteJob(writeCtx, j.ID, j.LeaseToken, result); serr != nil {
			e.logOutcomeError(j, "complete", serr)
			return
		}
		e.hooks.EmitJobSucceeded(writeCtx, j, elapsed)
		return
	}

	var pe *middleware.PanicError
	switch {
	case errors.As(err, &pe):
		e.fail(writeCtx, j, &job.Error{
			Kind:    job.KindPanic,
			Message: pe.Error() + "\n" + pe.Stack,
		})

	case errors.Is(err, context.Canceled) && e.hub.CancelRequested(jobKey):
		// The handler acknowledged the cooperative cancellation signal.
		if serr := e.store.CancelRunning(writeCtx, j.ID, j.LeaseToken); serr != nil {
			e.logOutcomeError(j, "cancel", serr)
			return
		}
		e.hooks.EmitJobCancelled(writeCtx, j)

	case errors.Is(err, context.DeadlineExceeded):
		// Exceeding the execution timeout is a transient condition.
		e.retryOrFail(writeCtx, j, job.KindTimeout, err)

	case task.IsFatal(err):
		e.fail(writeCtx, j, &job.Error{Kind: job.KindFatal, Message: err.Error()})

	case errors.Is(err, context.Canceled):
		// No cancel request was raised, so the cancellation came from
		// shutdown interrupting the handler. That is a worker-side event,
		// not a handler failure: the attempt is abandoned and the job
		// returns to the queue with its retry budget intact.
		e.release(writeCtx, j)

	default:
		// Unclassified errors are retryable.
		e.retryOrFail(writeCtx, j, job.KindRetryable, err)
	}
}

// release returns an interrupted job to the queue without consuming any
// of its retry budget.
func (e *Executor) release(ctx context.Context, j *job.Job) {
	if serr := e.store.ReleaseJob(ctx, j.ID, j.LeaseToken); serr != nil {
		e.logOutcomeError(j, "release", serr)
		return
	}
	if berr := e.backlog.Push(ctx, j.ID); berr != nil {
		e.logger.Error("failed to return released job to backlog",
			slog.String("job_id", j.ID.String()),
			slog.String("task_type", j.Type),
			slog.Any("error", berr),
		)
		return
	}
	e.logger.Debug("job released after interrupted attempt",
		slog.String("job_id", j.ID.String()),
		slog.String("task_type", j.Type),
		slog.Int("retry_count", j.RetryCount),
	)
}

// retryOrFail requeues the job with backoff while the retry budget
// lasts, and fails it terminally once exhausted.
func (e *Executor) retryOrFail(ctx context.Context, j *job.Job, kind job.ErrorKind, cause error) {
	if j.RetryCount >= j.MaxRetries {
		e.fail(ctx, j, &job.Error{Kind: kind, Message: cause.Error()})
		return
	}

	if serr := e.store.RequeueJob(ctx, j.ID, j.LeaseToken); serr != nil {
		e.logOutcomeError(j, "requeue", serr)
		return
	}

	delay := e.backoff.Delay(j.RetryCount)
	if berr := e.backlog.PushDelayed(ctx, j.ID, delay); berr != nil {
		e.logger.Error("failed to push retry into backlog",
			slog.String("job_id", j.ID.String()),
			slog.String("task_type", j.Type),
			slog.Any("error", berr),
		)
		return
	}

	e.logger.Debug("job requeued for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("task_type", j.Type),
		slog.Int("retry_count", j.RetryCount+1),
		slog.Duration("delay", delay),
		slog.Any("error", cause),
	)
	e.hooks.EmitJobRetrying(ctx, j, j.RetryCount+1, delay)
}

func (e *Executor) fail(ctx context.Context, j *job.Job, jobErr *job.Error) {
	if serr := e.store.FailJob(ctx, j.ID, j.LeaseToken, jobErr); serr != nil {
		e.logOutcomeError(j, "fail", serr)
		return
	}
	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("task_type", j.Type),
		slog.String("kind", string(jobErr.Kind)),
		slog.String("error", jobErr.Message),
	)
	e.hooks.EmitJobFailed(ctx, j, jobErr)
}

// logOutcomeError reports a failed outcome write. A lost lease is the
// expected end of a write race with the monitor and is logged quietly;
// the reclaiming side already decided the job's fate.
func (e *Executor) logOutcomeError(j *job.Job, op string, err error) {
	if errors.Is(err, jobq.ErrLeaseLost) {
		e.logger.Debug("lease lost, outcome discarded",
			slog.String("job_id", j.ID.String()),
			slog.String("op", op),
		)
		return
	}
	e.logger.Error("failed to record job outcome",
		slog.String("job_id", j.ID.String()),
		slog.String("op", op),
		slog.Any("error", err),
	)
}
