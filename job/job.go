package job

import (
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/id"
)

// Job represents a unit of submitted work tracked through its lifecycle.
type Job struct {
	jobq.Entity

	ID      id.JobID `json:"id"`
	Type    string   `json:"type"`
	Payload []byte   `json:"payload,omitempty"`
	Status  Status   `json:"status"`

	// Seq is the strictly increasing admission sequence number, assigned
	// by the store under the same mutual exclusion as job creation.
	// Workers claim in Seq order within a task type.
	Seq uint64 `json:"seq"`

	// Result is set only when Status is succeeded.
	Result []byte `json:"result,omitempty"`
	// Error is set only when Status is failed (or cancelled mid-run).
	Error *Error `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Timeout is the optional maximum execution duration. Zero means
	// unlimited; exceeding it raises the cooperative cancellation signal.
	Timeout time.Duration `json:"timeout,omitempty"`

	// CancelRequested is the cooperative cancellation flag, observed by
	// the handler at its next checkpoint.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Lease fields, set while running and cleared on terminal/requeue.
	LeaseOwner     id.WorkerID `json:"lease_owner,omitempty"`
	LeaseToken     id.LeaseID  `json:"lease_token,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`

	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// View builds the read-only snapshot producers receive from status
// queries. Terminal fields are write-once and in-flight fields are read
// optimistically: a caller may see a stale but never a torn state.
func (j *Job) View() View {
	v := View{
		ID:              j.ID,
		Type:            j.Type,
		Status:          j.Status,
		RetryCount:      j.RetryCount,
		MaxRetries:      j.MaxRetries,
		CancelRequested: j.CancelRequested,
		CreatedAt:       j.CreatedAt,
		ClaimedAt:       j.ClaimedAt,
		CompletedAt:     j.CompletedAt,
	}
	if j.Status == StatusSucceeded {
		v.Result = j.Result
	}
	if j.Error != nil {
		v.Error = j.Error
	}
	return v
}

// View is the producer-facing snapshot of a job.
type View struct {
	ID              id.JobID   `json:"id"`
	Type            string     `json:"type"`
	Status          Status     `json:"status"`
	Result          []byte     `json:"result,omitempty"`
	Error           *Error     `json:"error,omitempty"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
