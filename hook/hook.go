package hook

import (
	"context"
	"time"

	"github.com/toolplane/jobq/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// JobEnqueued is called after a job is accepted into the backlog.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobClaimed is called when a worker claims a job under a fresh lease.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after a job finishes successfully.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, jobErr *job.Error) error
}

// JobRetrying is called when a job fails but is requeued for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, retryCount int, delay time.Duration) error
}

// JobCancelled is called when a job reaches the cancelled status,
// whether before claim or by worker acknowledgement.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// LeaseExpired is called when the monitor reclaims an orphaned job.
type LeaseExpired interface {
	OnLeaseExpired(ctx context.Context, j *job.Job, requeued bool) error
}

// Shutdown is called when the core is shutting down gracefully.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
