package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
	"github.com/toolplane/jobq/queue"
)

// ErrNotFailed is returned when a replay targets a job that is not in
// the failed status.
var ErrNotFailed = errors.New("jobq/dlq: job is not failed")

// enqueuer admits replayed jobs through normal admission. Satisfied by
// *queue.Queue.
type enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload []byte, opts ...queue.EnqueueOption) (id.JobID, error)
}

// Entry is the dead-letter view of a failed job.
type Entry struct {
	JobID      id.JobID   `json:"job_id"`
	Type       string     `json:"type"`
	Payload    []byte     `json:"payload"`
	Error      *job.Error `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`
}

// ListOpts narrows a dead-letter listing.
type ListOpts struct {
	// Type filters by task type. Empty means all types.
	Type string
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Service provides dead-letter operations over the job store.
type Service struct {
	store  job.Store
	queue  enqueuer
	logger *slog.Logger
}

// NewService creates a dead-letter service. The queue may be nil when
// replay is not needed (inspection only).
func NewService(store job.Store, queue enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, queue: queue, logger: logger}
}

// List returns failed jobs as dead-letter entries, in admission order.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	jobs, err := s.store.ListJobs(ctx, job.ListOpts{
		Type:   opts.Type,
		Status: job.StatusFailed,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(jobs))
	for _, j := range jobs {
		entries = append(entries, entryFromJob(j))
	}
	return entries, nil
}

// Get returns the dead-letter entry for a single failed job.
func (s *Service) Get(ctx context.Context, jobID id.JobID) (*Entry, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusFailed {
		return nil, ErrNotFailed
	}
	return entryFromJob(j), nil
}

// Count returns the number of failed jobs.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountJobs(ctx, job.ListOpts{Status: job.StatusFailed})
}

// Replay admits a fresh job with the failed job's task type, payload,
// retry budget, and timeout. The new job gets its own ID and a zero
// retry count; the failed record is left in place for the sweeper.
func (s *Service) Replay(ctx context.Context, jobID id.JobID) (id.JobID, error) {
	if s.queue == nil {
		return id.Nil, fmt.Errorf("jobq/dlq: replay requires a queue")
	}

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return id.Nil, err
	}
	if j.Status != job.StatusFailed {
		return id.Nil, ErrNotFailed
	}

	newID, err := s.queue.Enqueue(ctx, j.Type, j.Payload,
		queue.WithMaxRetries(j.MaxRetries),
		queue.WithTimeout(j.Timeout),
	)
	if err != nil {
		return id.Nil, err
	}

	s.logger.Info("dead-lettered job replayed",
		slog.String("failed_job_id", jobID.String()),
		slog.String("new_job_id", newID.String()),
		slog.String("task_type", j.Type),
	)
	return newID, nil
}

func entryFromJob(j *job.Job) *Entry {
	e := &Entry{
		JobID:      j.ID,
		Type:       j.Type,
		Payload:    j.Payload,
		Error:      j.Error,
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
	}
	e.FailedAt = j.CompletedAt
	return e
}
