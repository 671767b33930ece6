package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
)

// Ensure Backend implements both backend contracts at compile time.
// We can't import store here (import cycle), so we verify each slice.
var (
	_ job.Store   = (*Backend)(nil)
	_ job.Backlog = (*Backend)(nil)
)

// Backend is a fully in-memory implementation of store.Backend.
// Safe for concurrent access.
type Backend struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
	seq  uint64

	backlog *fifo
}

// New returns a new empty Backend.
func New() *Backend {
	return &Backend{
		jobs:    make(map[string]*job.Job),
		backlog: newFIFO(),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory backend.
func (m *Backend) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory backend.
func (m *Backend) Ping(_ context.Context) error { return nil }

// Close releases blocked consumers and stops pending delayed pushes.
func (m *Backend) Close() error { return m.backlog.close() }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job in queued status. The admission sequence
// number is assigned here, under the same lock that inserts the record,
// so sequence order and creation order cannot diverge.
func (m *Backend) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobq.ErrJobAlreadyExists
	}

	m.seq++
	j.Seq = m.seq
	j.Status = job.StatusQueued

	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Backend) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobq.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ClaimJob atomically transitions a queued job to running under a fresh
// lease. The status check, lease issue, and write happen under one lock
// acquisition, so at most one caller ever claims a given job.
func (m *Backend) ClaimJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, leaseDuration time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobq.ErrJobNotFound
	}
	if j.Status != job.StatusQueued {
		return nil, jobq.ErrNotClaimable
	}

	now := time.Now().UTC()
	expires := now.Add(leaseDuration)

	j.Status = job.StatusRunning
	j.LeaseOwner = workerID
	j.LeaseToken = id.NewLeaseID()
	j.LeaseExpiresAt = &expires
	j.ClaimedAt = &now
	j.UpdatedAt = now

	cp := *j
	return &cp, nil
}

// leaseHeld returns the job if token still matches its current lease.
// Callers must hold m.mu.
func (m *Backend) leaseHeld(jobID id.JobID, token id.LeaseID) (*job.Job, error) {
	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobq.ErrJobNotFound
	}
	if j.Status != job.StatusRunning || j.LeaseToken.String() != token.String() {
		return nil, jobq.ErrLeaseLost
	}
	return j, nil
}

// clearLease resets the lease fields on a job. Callers must hold m.mu.
func clearLease(j *job.Job) {
	j.LeaseOwner = id.Nil
	j.LeaseToken = id.Nil
	j.LeaseExpiresAt = nil
}

// CompleteJob transitions a running job to succeeded with its result.
func (m *Backend) CompleteJob(_ context.Context, jobID id.JobID, token id.LeaseID, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leaseHeld(jobID, token)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	j.Status = job.StatusSucceeded
	j.Result = result
	j.CompletedAt = &now
	j.UpdatedAt = now
	clearLease(j)
	return nil
}

// FailJob transitions a running job to failed with the recorded error.
func (m *Backend) FailJob(_ context.Context, jobID id.JobID, token id.LeaseID, jobErr *job.Error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leaseHeld(jobID, token)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	j.Status = job.StatusFailed
	j.Error = jobErr
	j.CompletedAt = &now
	j.UpdatedAt = now
	clearLease(j)
	return nil
}

// RequeueJob transitions a running job back to queued with an
// incremented retry count.
func (m *Backend) RequeueJob(_ context.Context, jobID id.JobID, token id.LeaseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leaseHeld(jobID, token)
	if err != nil {
		return err
	}

	j.Status = job.StatusQueued
	j.RetryCount++
	j.ClaimedAt = nil
	j.UpdatedAt = time.Now().UTC()
	clearLease(j)
	return nil
}

// ReleaseJob transitions a running job back to queued without touching
// its retry count.
func (m *Backend) ReleaseJob(_ context.Context, jobID id.JobID, token id.LeaseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leaseHeld(jobID, token)
	if err != nil {
		return err
	}

	j.Status = job.StatusQueued
	j.ClaimedAt = nil
	j.UpdatedAt = time.Now().UTC()
	clearLease(j)
	return nil
}

// CancelQueued atomically transitions a queued job to cancelled.
func (m *Backend) CancelQueued(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobq.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return jobq.ErrAlreadyTerminal
	}
	if j.Status != job.StatusQueued {
		return jobq.ErrInvalidTransition
	}

	now := time.Now().UTC()
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// RequestCancel sets the cooperative cancellation flag on a running job.
func (m *Backend) RequestCancel(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobq.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return jobq.ErrAlreadyTerminal
	}
	if j.Status != job.StatusRunning {
		return jobq.ErrInvalidTransition
	}

	j.CancelRequested = true
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// CancelRunning transitions a running job to cancelled once the worker
// acknowledged the cancellation signal.
func (m *Backend) CancelRunning(_ context.Context, jobID id.JobID, token id.LeaseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leaseHeld(jobID, token)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	clearLease(j)
	return nil
}

// ExpiredLeases returns running jobs whose lease expired before now.
func (m *Backend) ExpiredLeases(_ context.Context, now time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusRunning {
			continue
		}
		if j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now) {
			cp := *j
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

// SweepTerminal deletes terminal jobs completed before cutoff.
func (m *Backend) SweepTerminal(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, j := range m.jobs {
		if !j.Status.Terminal() {
			continue
		}
		if j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(m.jobs, key)
			count++
		}
	}
	return count, nil
}

// ListJobs returns jobs matching the given options in admission order.
func (m *Backend) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].Seq < result[k].Seq
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Backend) CountJobs(_ context.Context, opts job.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}
