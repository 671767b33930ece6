package job

import (
	"context"
	"time"

	"github.com/toolplane/jobq/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Type filters by task type. Empty means all types.
	Type string
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for job records. It is the
// single source of truth for status queries.
//
// Every method that writes a running job takes the caller's lease token
// and fails with jobq.ErrLeaseLost when the token no longer matches the
// job's current lease. That comparison is the sole arbiter between a
// live worker and the lease monitor.
type Store interface {
	// CreateJob persists a new job in queued status and assigns its
	// admission sequence number under the store's mutual exclusion.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ClaimJob atomically transitions a queued job to running with a
	// fresh lease owned by workerID, in a single indivisible step.
	// Fails with jobq.ErrNotClaimable if the job is not queued.
	ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseDuration time.Duration) (*Job, error)

	// CompleteJob transitions a running job to succeeded with its result
	// and clears the lease.
	CompleteJob(ctx context.Context, jobID id.JobID, token id.LeaseID, result []byte) error

	// FailJob transitions a running job to failed with the recorded
	// error and clears the lease.
	FailJob(ctx context.Context, jobID id.JobID, token id.LeaseID, jobErr *Error) error

	// RequeueJob transitions a running job back to queued, increments
	// its retry count, and clears the lease. Used for retryable
	// failures and lease-expiry reclaims.
	RequeueJob(ctx context.Context, jobID id.JobID, token id.LeaseID) error

	// ReleaseJob transitions a running job back to queued without
	// touching its retry count and clears the lease. Used when shutdown
	// interrupts a handler: the attempt is abandoned, not failed.
	ReleaseJob(ctx context.Context, jobID id.JobID, token id.LeaseID) error

	// CancelQueued atomically transitions a queued job to cancelled,
	// guaranteeing no future claim. Fails with jobq.ErrAlreadyTerminal
	// if terminal, jobq.ErrInvalidTransition if running.
	CancelQueued(ctx context.Context, jobID id.JobID) error

	// RequestCancel sets the cooperative cancellation flag on a running
	// job. The job reaches cancelled only when the worker acknowledges.
	RequestCancel(ctx context.Context, jobID id.JobID) error

	// CancelRunning transitions a running job to cancelled after the
	// worker acknowledged the cancellation signal.
	CancelRunning(ctx context.Context, jobID id.JobID, token id.LeaseID) error

	// ExpiredLeases returns running jobs whose lease expired before now,
	// presumed orphaned by their worker.
	ExpiredLeases(ctx context.Context, now time.Time) ([]*Job, error)

	// SweepTerminal deletes terminal jobs completed before cutoff and
	// returns how many were removed.
	SweepTerminal(ctx context.Context, cutoff time.Time) (int64, error)

	// ListJobs returns jobs matching the given options, ordered by
	// admission sequence.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts ListOpts) (int64, error)
}
