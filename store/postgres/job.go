package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
)

// CreateJob persists a new job in queued status. The admission sequence
// is assigned by the jobs table identity column and written back to j.
func (b *Backend) CreateJob(ctx context.Context, j *job.Job) error {
	j.Status = job.StatusQueued

	err := b.pool.QueryRow(ctx, `
		INSERT INTO jobq_jobs (
			id, type, payload, status, max_retries, timeout_ns,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		j.ID.String(), j.Type, j.Payload, string(j.Status),
		j.MaxRetries, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	).Scan(&j.Seq)
	if err != nil {
		if isDuplicateKey(err) {
			return jobq.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobq/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (b *Backend) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := b.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobq_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobq.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobq/postgres: get job: %w", err)
	}
	return j, nil
}

// ClaimJob atomically transitions a queued job to running under a fresh
// lease. The WHERE status = 'queued' condition and the UPDATE are one
// statement, so exactly one concurrent claimer can win.
func (b *Backend) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseDuration time.Duration) (*job.Job, error) {
	token := id.NewLeaseID()
	now := time.Now().UTC()
	expires := now.Add(leaseDuration)

	row := b.pool.QueryRow(ctx, `
		UPDATE jobq_jobs SET
			status = 'running',
			lease_owner = $2,
			lease_token = $3,
			lease_expires_at = $4,
			claimed_at = $5,
			updated_at = $5
		WHERE id = $1 AND status = 'queued'
		RETURNING `+jobColumns,
		jobID.String(), workerID.String(), token.String(), expires, now,
	)
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("jobq/postgres: claim job: %w", err)
	}
	return nil, b.claimRejection(ctx, jobID)
}

// claimRejection distinguishes a missing job from an unclaimable one
// after a claim UPDATE matched no rows.
func (b *Backend) claimRejection(ctx context.Context, jobID id.JobID) error {
	var status string
	err := b.pool.QueryRow(ctx,
		`SELECT status FROM jobq_jobs WHERE id = $1`, jobID.String(),
	).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return jobq.ErrJobNotFound
		}
		return fmt.Errorf("jobq/postgres: claim status check: %w", err)
	}
	return jobq.ErrNotClaimable
}

// CompleteJob transitions a running job to succeeded, conditioned on
// the lease token.
func (b *Backend) CompleteJob(ctx context.Context, jobID id.JobID, token id.LeaseID, result []byte) error {
	now := time.Now().UTC()
	tag, err := b.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'succeeded',
			result = $3,
			completed_at = $4,
			updated_at = $4,
			lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL
		WHERE id = $1 AND status = 'running' AND lease_token = $2`,
		jobID.String(), token.String(), result, now,
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return b.leaseRejection(ctx, jobID)
	}
	return nil
}

// FailJob transitions a running job to failed, conditioned on the lease
// token.
func (b *Backend) FailJob(ctx context.Context, jobID id.JobID, token id.LeaseID, jobErr *job.Error) error {
	kind, msg := nullableErr(jobErr)
	now := time.Now().UTC()
	tag, err := b.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'failed',
			error_kind = $3,
			error_message = $4,
			completed_at = $5,
			updated_at = $5,
			lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL
		WHERE id = $1 AND status = 'running' AND lease_token = $2`,
		jobID.String(), token.String(), kind, msg, now,
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return b.leaseRejection(ctx, jobID)
	}
	return nil
}

// RequeueJob transitions a running job back to queued with an
// incremented retry count, conditioned on the lease token.
func (b *Backend) RequeueJob(ctx context.Context, jobID id.JobID, token id.LeaseID) error {
	tag, err := b.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'queued',
			retry_count = retry_count + 1,
			updated_at = $3,
			lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
			claimed_at = NULL
		WHERE id = $1 AND status = 'running' AND lease_token = $2`,
		jobID.String(), token.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return b.leaseRejection(ctx, jobID)
	}
	return nil
}

// ReleaseJob transitions a running job back to queued without touching
// its retry count, conditioned on the lease token.
func (b *Backend) ReleaseJob(ctx context.Context, jobID id.JobID, token id.LeaseID) error {
	tag, err := b.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'queued',
			updated_at = $3,
			lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
			claimed_at = NULL
		WHERE id = $1 AND status = 'running' AND lease_token = $2`,
		jobID.String(), token.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return b.leaseRejection(ctx, jobID)
	}
	return nil
}

// leaseRejection distinguishes a missing job from a lost lease after a
// token-conditioned UPDATE matched no rows.
func (b *Backend) leaseRejection(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := b.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM jobq_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("jobq/postgres: lease status check: %w", err)
	}
	if !exists {
		return jobq.ErrJobNotFound
	}
	return jobq.ErrLeaseLost
}

// CancelQueued atomically transitions a queued job to cancelled.
func (b *Backend) CancelQueued(ctx context.Context, jobID id.JobID) error {
	now := time.Now().UTC()
	tag, err := b.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'cancelled',
			completed_at = $2,
			updated_at = $2
		WHERE id = $1 AND status = 'queued'`,
		jobID.String(), now,
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: cancel queued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return b.cancelRejection(ctx, jobID)
	}
	return nil
}

// RequestCancel sets the cooperative cancellation flag on a running job.
func (b *Backend) RequestCancel(ctx context.Context, jobID id.JobID) error {
	tag, err := b.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			cancel_requested = TRUE,
			updated_at = $2
		WHERE id = $1 AND status = 'running'`,
		jobID.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return b.cancelRejection(ctx, jobID)
	}
	return nil
}

// cancelRejection maps a failed cancel write to the right sentinel
// based on the job's current status.
func (b *Backend) cancelRejection(ctx context.Context, jobID id.JobID) error {
	var status string
	err := b.pool.QueryRow(ctx,
		`SELECT status FROM jobq_jobs WHERE id = $1`, jobID.String(),
	).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return jobq.ErrJobNotFound
		}
		return fmt.Errorf("jobq/postgres: cancel status check: %w", err)
	}
	if job.Status(status).Terminal() {
		return jobq.ErrAlreadyTerminal
	}
	return jobq.ErrInvalidTransition
}

// CancelRunning transitions a running job to cancelled after the worker
// acknowledged the cancellation signal, conditioned on the lease token.
func (b *Backend) CancelRunning(ctx context.Context, jobID id.JobID, token id.LeaseID) error {
	now := time.Now().UTC()
	tag, err := b.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'cancelled',
			completed_at = $3,
			updated_at = $3,
			lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL
		WHERE id = $1 AND status = 'running' AND lease_token = $2`,
		jobID.String(), token.String(), now,
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: cancel running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return b.leaseRejection(ctx, jobID)
	}
	return nil
}

// ExpiredLeases returns running jobs whose lease expired before now.
func (b *Backend) ExpiredLeases(ctx context.Context, now time.Time) ([]*job.Job, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobq_jobs
		WHERE status = 'running' AND lease_expires_at < $1
		ORDER BY lease_expires_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("jobq/postgres: expired leases: %w", err)
	}
	return collectJobs(rows)
}

// SweepTerminal deletes terminal jobs completed before cutoff.
func (b *Backend) SweepTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := b.pool.Exec(ctx, `
		DELETE FROM jobq_jobs
		WHERE status IN ('succeeded', 'failed', 'cancelled')
		  AND completed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("jobq/postgres: sweep terminal: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListJobs returns jobs matching opts in admission order.
func (b *Backend) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobq_jobs WHERE TRUE`
	args := make([]any, 0, 4)

	if opts.Type != "" {
		args = append(args, opts.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY seq ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobq/postgres: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (b *Backend) CountJobs(ctx context.Context, opts job.ListOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM jobq_jobs WHERE TRUE`
	args := make([]any, 0, 2)

	if opts.Type != "" {
		args = append(args, opts.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var count int64
	if err := b.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("jobq/postgres: count jobs: %w", err)
	}
	return count, nil
}
