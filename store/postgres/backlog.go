package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/id"
)

// pollInterval bounds the PopBlocking wait between backlog checks.
const pollInterval = 250 * time.Millisecond

// Push appends a job id to the backlog table.
func (b *Backend) Push(ctx context.Context, jobID id.JobID) error {
	if b.closed.Load() {
		return jobq.ErrBacklogClosed
	}
	_, err := b.pool.Exec(ctx,
		`INSERT INTO jobq_backlog (job_id) VALUES ($1)`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: backlog push: %w", err)
	}
	return nil
}

// PopBlocking removes and returns the oldest due backlog entry. It
// polls at a bounded interval until an entry is available, ctx is done,
// or the backend closes. FOR UPDATE SKIP LOCKED keeps concurrent
// consumers from popping the same row.
func (b *Backend) PopBlocking(ctx context.Context) (id.JobID, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if b.closed.Load() {
			return id.Nil, jobq.ErrBacklogClosed
		}

		jobID, ok, err := b.tryPop(ctx)
		if err != nil {
			return id.Nil, err
		}
		if ok {
			return jobID, nil
		}

		select {
		case <-ctx.Done():
			return id.Nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Backend) tryPop(ctx context.Context) (id.JobID, bool, error) {
	var idStr string
	err := b.pool.QueryRow(ctx, `
		DELETE FROM jobq_backlog
		WHERE pos = (
			SELECT pos FROM jobq_backlog
			WHERE due_at <= NOW()
			ORDER BY pos ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING job_id`,
	).Scan(&idStr)
	if err != nil {
		if isNoRows(err) {
			return id.Nil, false, nil
		}
		if ctx.Err() != nil {
			return id.Nil, false, ctx.Err()
		}
		return id.Nil, false, fmt.Errorf("jobq/postgres: backlog pop: %w", err)
	}

	jobID, perr := id.ParseJobID(idStr)
	if perr != nil {
		b.logger.Warn("dropping malformed backlog entry", "entry", idStr)
		return id.Nil, false, nil
	}
	return jobID, true, nil
}

// PushDelayed schedules a job id to become claimable after delay.
func (b *Backend) PushDelayed(ctx context.Context, jobID id.JobID, delay time.Duration) error {
	if b.closed.Load() {
		return jobq.ErrBacklogClosed
	}
	_, err := b.pool.Exec(ctx,
		`INSERT INTO jobq_backlog (job_id, due_at) VALUES ($1, NOW() + $2)`,
		jobID.String(), delay,
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: backlog push delayed: %w", err)
	}
	return nil
}

// Remove drops a job id from the backlog if still present. Best-effort
// by contract.
func (b *Backend) Remove(ctx context.Context, jobID id.JobID) error {
	_, err := b.pool.Exec(ctx,
		`DELETE FROM jobq_backlog WHERE job_id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: backlog remove: %w", err)
	}
	return nil
}

// Len returns the number of immediately claimable entries.
func (b *Backend) Len(ctx context.Context) (int, error) {
	var n int
	err := b.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobq_backlog WHERE due_at <= NOW()`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("jobq/postgres: backlog len: %w", err)
	}
	return n, nil
}
