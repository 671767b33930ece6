package queue

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
	"github.com/toolplane/jobq/task"
)

// canceller delivers the cooperative cancellation signal to a job
// running in this process. Satisfied by the worker Hub.
type canceller interface {
	Cancel(jobID string) bool
}

// CancelState describes how far a cancellation got.
type CancelState string

const (
	// CancelImmediate means the job was still queued and will never run.
	CancelImmediate CancelState = "immediate"
	// CancelPending means the job is running and the cooperative signal
	// has been raised; the job reaches cancelled only when the handler
	// acknowledges it.
	CancelPending CancelState = "pending"
)

// Ack is the response to a cancellation request.
type Ack struct {
	State CancelState `json:"state"`
	// Signalled reports whether a handler in this process received the
	// context cancellation (false when the job runs elsewhere; the
	// CancelRequested flag still reaches it through the store).
	Signalled bool `json:"signalled"`
}

// Queue is the producer-facing API: submit work, query status, request
// cancellation. Admission is validated synchronously against the sealed
// task registry, so a bogus task type never leaves a record behind.
type Queue struct {
	registry *task.Registry
	store    job.Store
	backlog  job.Backlog
	hooks    *hook.Registry
	limiter  *Limiter
	hub      canceller
	logger   *slog.Logger

	// admitMu holds sequence assignment and backlog insertion together,
	// so jobs enter the backlog in admission order.
	admitMu sync.Mutex
}

// New creates a Queue. The limiter may be nil for unlimited admission;
// the hub may be nil when no local workers run in this process.
func New(
	registry *task.Registry,
	store job.Store,
	backlog job.Backlog,
	hooks *hook.Registry,
	limiter *Limiter,
	hub canceller,
	logger *slog.Logger,
) *Queue {
	if limiter == nil {
		limiter = NewLimiter()
	}
	return &Queue{
		registry: registry,
		store:    store,
		backlog:  backlog,
		hooks:    hooks,
		limiter:  limiter,
		hub:      hub,
		logger:   logger,
	}
}

// EnqueueOption customizes a single enqueue.
type EnqueueOption func(*job.Job)

// WithMaxRetries sets how many times the job may be retried after a
// transient failure. Zero means the first failure is terminal.
func WithMaxRetries(n int) EnqueueOption {
	return func(j *job.Job) { j.MaxRetries = n }
}

// WithTimeout sets the job's maximum execution duration per attempt.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(j *job.Job) { j.Timeout = d }
}

// Enqueue validates and admits a job, returning its assigned ID. The
// task type must be registered; unknown types are rejected with
// jobq.ErrInvalidTaskType before any record exists. Per-type admission
// limits reject with jobq.ErrRateLimited.
func (q *Queue) Enqueue(ctx context.Context, taskType string, payload []byte, opts ...EnqueueOption) (id.JobID, error) {
	if !q.registry.Sealed() {
		return id.Nil, jobq.ErrRegistryUnsealed
	}
	if !q.registry.Has(taskType) {
		return id.Nil, jobq.ErrInvalidTaskType
	}

	if !q.limiter.allow(taskType) {
		return id.Nil, jobq.ErrRateLimited
	}
	within, err := q.limiter.withinPending(ctx, q.store, taskType)
	if err != nil {
		return id.Nil, err
	}
	if !within {
		return id.Nil, jobq.ErrRateLimited
	}

	j := &job.Job{
		Entity:  jobq.NewEntity(),
		ID:      id.NewJobID(),
		Type:    taskType,
		Payload: payload,
	}
	for _, opt := range opts {
		opt(j)
	}

	// CreateJob assigns the admission sequence; Push must follow before
	// any other enqueuer gets between them, or a later sequence could
	// reach the backlog first.
	q.admitMu.Lock()
	if err := q.store.CreateJob(ctx, j); err != nil {
		q.admitMu.Unlock()
		return id.Nil, err
	}
	err = q.backlog.Push(ctx, j.ID)
	q.admitMu.Unlock()
	if err != nil {
		return id.Nil, err
	}

	q.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("task_type", taskType),
		slog.Uint64("seq", j.Seq),
	)
	q.hooks.EmitJobEnqueued(ctx, j)
	return j.ID, nil
}

// Status returns the producer-facing snapshot of a job. The store is
// the single source of truth: results appear only once the status is
// succeeded, errors only on failed or cancelled.
func (q *Queue) Status(ctx context.Context, jobID id.JobID) (job.View, error) {
	j, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return job.View{}, err
	}
	return j.View(), nil
}

// Cancel requests cancellation of a job.
//
// A queued job is cancelled atomically and will never run. A running
// job gets the cooperative signal (store flag plus context cancellation
// when it runs locally); the returned Ack says the cancellation is
// pending the handler's acknowledgement. Terminal jobs return
// jobq.ErrAlreadyTerminal.
func (q *Queue) Cancel(ctx context.Context, jobID id.JobID) (Ack, error) {
	err := q.store.CancelQueued(ctx, jobID)
	if err == nil {
		// Claimed-off-backlog entries are guarded by the claim CAS, so
		// a leftover backlog entry is harmless; drop it if still there.
		if rerr := q.backlog.Remove(ctx, jobID); rerr != nil {
			q.logger.Debug("backlog remove after cancel failed",
				slog.String("job_id", jobID.String()),
				slog.Any("error", rerr),
			)
		}
		if j, gerr := q.store.GetJob(ctx, jobID); gerr == nil {
			q.hooks.EmitJobCancelled(ctx, j)
		}
		return Ack{State: CancelImmediate}, nil
	}

	// The job was claimed between our snapshot and the write, or was
	// already running; fall through to the cooperative path.
	if !errors.Is(err, jobq.ErrInvalidTransition) {
		return Ack{}, err
	}

	if err := q.store.RequestCancel(ctx, jobID); err != nil {
		return Ack{}, err
	}

	signalled := false
	if q.hub != nil {
		signalled = q.hub.Cancel(jobID.String())
	}
	q.logger.Debug("cancellation requested",
		slog.String("job_id", jobID.String()),
		slog.Bool("signalled", signalled),
	)
	return Ack{State: CancelPending, Signalled: signalled}, nil
}

// List returns producer-facing snapshots matching opts, in admission
// order.
func (q *Queue) List(ctx context.Context, opts job.ListOpts) ([]job.View, error) {
	jobs, err := q.store.ListJobs(ctx, opts)
	if err != nil {
		return nil, err
	}
	views := make([]job.View, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, j.View())
	}
	return views, nil
}

// Count returns the number of jobs matching opts.
func (q *Queue) Count(ctx context.Context, opts job.ListOpts) (int64, error) {
	return q.store.CountJobs(ctx, opts)
}
