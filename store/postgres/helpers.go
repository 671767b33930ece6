package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
)

// jobColumns is the canonical column list for SELECT and RETURNING.
const jobColumns = `
	id, type, payload, status, seq, result, error_kind, error_message,
	retry_count, max_retries, timeout_ns, cancel_requested,
	lease_owner, lease_token, lease_expires_at, claimed_at, completed_at,
	created_at, updated_at`

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks for a PostgreSQL unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// scanJob reads one job from a row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		status    string
		errKind   *string
		errMsg    *string
		timeoutNs int64
		owner     *string
		token     *string
	)

	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &status, &j.Seq, &j.Result, &errKind, &errMsg,
		&j.RetryCount, &j.MaxRetries, &timeoutNs, &j.CancelRequested,
		&owner, &token, &j.LeaseExpiresAt, &j.ClaimedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	jID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, err
	}
	j.ID = jID
	j.Status = job.Status(status)
	j.Timeout = time.Duration(timeoutNs)

	if errKind != nil {
		msg := ""
		if errMsg != nil {
			msg = *errMsg
		}
		j.Error = &job.Error{Kind: job.ErrorKind(*errKind), Message: msg}
	}
	if owner != nil && *owner != "" {
		if parsed, perr := id.Parse(*owner); perr == nil {
			j.LeaseOwner = parsed
		}
	}
	if token != nil && *token != "" {
		if parsed, perr := id.Parse(*token); perr == nil {
			j.LeaseToken = parsed
		}
	}
	return &j, nil
}

// collectJobs drains rows into a slice.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// nullableErr splits a job error into its kind and message columns.
func nullableErr(jobErr *job.Error) (kind, msg *string) {
	if jobErr == nil {
		return nil, nil
	}
	k := string(jobErr.Kind)
	m := jobErr.Message
	return &k, &m
}
