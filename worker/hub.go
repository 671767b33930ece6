package worker

import (
	"context"
	"sync"
)

// activeJob pairs a running job's cancel func with whether a cooperative
// cancellation was explicitly requested (as opposed to shutdown or
// timeout, which also cancel the context).
type activeJob struct {
	cancel    context.CancelFunc
	requested bool
}

// Hub tracks the jobs currently executing in this process and lets the
// producer-facing queue deliver the cooperative cancellation signal into
// a running handler's context. Safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	active map[string]*activeJob
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{active: make(map[string]*activeJob)}
}

// Track registers a running job's cancel func.
func (h *Hub) Track(jobID string, cancel context.CancelFunc) {
	h.mu.Lock()
	h.active[jobID] = &activeJob{cancel: cancel}
	h.mu.Unlock()
}

// Untrack removes a job once execution finished.
func (h *Hub) Untrack(jobID string) {
	h.mu.Lock()
	delete(h.active, jobID)
	h.mu.Unlock()
}

// Cancel fires the cooperative cancellation signal for a running job.
// Returns false if the job is not executing in this process.
func (h *Hub) Cancel(jobID string) bool {
	h.mu.Lock()
	a, ok := h.active[jobID]
	if ok {
		a.requested = true
	}
	h.mu.Unlock()

	if ok {
		a.cancel()
	}
	return ok
}

// CancelRequested reports whether Cancel was called for the job. The
// executor uses it to tell an acknowledged cancellation apart from a
// timeout or shutdown, which cancel the same context.
func (h *Hub) CancelRequested(jobID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.active[jobID]
	return ok && a.requested
}

// CancelAll cancels every active job's context. Used on shutdown when
// the drain deadline has passed; the jobs are requeued or reclaimed by
// the lease monitor.
func (h *Hub) CancelAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range h.active {
		a.cancel()
	}
}

// Active returns the number of jobs currently executing.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}
