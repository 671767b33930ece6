package queue

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/toolplane/jobq/job"
)

// Limit defines admission constraints for a single task type.
type Limit struct {
	// Type is the task-type identifier this limit applies to.
	Type string

	// PerSecond is the maximum sustained admission rate. Zero disables
	// rate limiting for the type.
	PerSecond float64

	// Burst is the token-bucket burst size. Defaults to 1 when
	// PerSecond is set and Burst is zero.
	Burst int

	// MaxPending caps how many jobs of this type may sit in queued
	// status at once. Zero means unbounded.
	MaxPending int
}

// typeState tracks runtime admission state for a single task type.
type typeState struct {
	limit   Limit
	limiter *rate.Limiter
}

// Limiter enforces per-type admission limits at enqueue time using a
// token-bucket rate limiter and a pending-count gate. Task types without
// a Limit are admitted unconditionally. Safe for concurrent use.
type Limiter struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewLimiter creates a Limiter with the given per-type limits.
func NewLimiter(limits ...Limit) *Limiter {
	l := &Limiter{types: make(map[string]*typeState, len(limits))}
	for _, lim := range limits {
		l.types[lim.Type] = newTypeState(lim)
	}
	return l
}

func newTypeState(lim Limit) *typeState {
	ts := &typeState{limit: lim}
	if lim.PerSecond > 0 {
		burst := lim.Burst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(lim.PerSecond), burst)
	}
	return ts
}

// SetLimit adds or replaces the limit for a task type at runtime.
func (l *Limiter) SetLimit(lim Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types[lim.Type] = newTypeState(lim)
}

// allow consumes a rate token for the task type, reporting false when
// the bucket is empty. Unlimited types always pass.
func (l *Limiter) allow(taskType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts, ok := l.types[taskType]
	if !ok || ts.limiter == nil {
		return true
	}
	return ts.limiter.Allow()
}

// withinPending checks the queued-count cap for the task type against
// the store. Unlimited types always pass.
func (l *Limiter) withinPending(ctx context.Context, store job.Store, taskType string) (bool, error) {
	l.mu.Lock()
	ts, ok := l.types[taskType]
	l.mu.Unlock()

	if !ok || ts.limit.MaxPending <= 0 {
		return true, nil
	}

	pending, err := store.CountJobs(ctx, job.ListOpts{Type: taskType, Status: job.StatusQueued})
	if err != nil {
		return false, err
	}
	return pending < int64(ts.limit.MaxPending), nil
}
