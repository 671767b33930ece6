package memory

import (
	"context"
	"sync"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/id"
)

// fifo is the in-memory backlog: a mutex-guarded slice with a single-slot
// wakeup channel so blocked consumers suspend instead of polling. Each
// pushed id is delivered to exactly one consumer, in push order.
type fifo struct {
	mu     sync.Mutex
	queue  []id.JobID
	wake   chan struct{}
	done   chan struct{}
	closed bool
	timers map[string]*time.Timer
}

func newFIFO() *fifo {
	return &fifo{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
}

// signal wakes one blocked consumer without blocking the caller.
func (f *fifo) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Push appends a job id to the backlog and wakes one blocked consumer.
func (f *fifo) Push(_ context.Context, jobID id.JobID) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return jobq.ErrBacklogClosed
	}
	f.queue = append(f.queue, jobID)
	f.mu.Unlock()

	f.signal()
	return nil
}

// PopBlocking removes and returns the oldest job id, suspending until one
// is available, ctx is done, or the backlog closes.
func (f *fifo) PopBlocking(ctx context.Context) (id.JobID, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return id.Nil, jobq.ErrBacklogClosed
		}
		if len(f.queue) > 0 {
			jobID := f.queue[0]
			f.queue = f.queue[1:]
			remaining := len(f.queue)
			f.mu.Unlock()

			// Chain the wakeup: the single-slot channel may have held
			// one token for several pushes.
			if remaining > 0 {
				f.signal()
			}
			return jobID, nil
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return id.Nil, ctx.Err()
		case <-f.done:
			return id.Nil, jobq.ErrBacklogClosed
		case <-f.wake:
		}
	}
}

// PushDelayed schedules a job id to re-enter the backlog after delay.
func (f *fifo) PushDelayed(_ context.Context, jobID id.JobID, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return jobq.ErrBacklogClosed
	}

	key := jobID.String()
	f.timers[key] = time.AfterFunc(delay, func() {
		f.mu.Lock()
		delete(f.timers, key)
		if f.closed {
			f.mu.Unlock()
			return
		}
		f.queue = append(f.queue, jobID)
		f.mu.Unlock()

		f.signal()
	})
	return nil
}

// Remove drops a job id from the backlog if still present, including a
// pending delayed push.
func (f *fifo) Remove(_ context.Context, jobID id.JobID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := jobID.String()
	if t, ok := f.timers[key]; ok {
		t.Stop()
		delete(f.timers, key)
	}

	for i, queued := range f.queue {
		if queued.String() == key {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of immediately claimable entries.
func (f *fifo) Len(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue), nil
}

// close releases blocked consumers and stops pending delayed pushes.
func (f *fifo) close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for key, t := range f.timers {
		t.Stop()
		delete(f.timers, key)
	}
	f.mu.Unlock()

	close(f.done)
	return nil
}

// ──────────────────────────────────────────────────
// Backlog methods on Backend (delegate to the fifo)
// ──────────────────────────────────────────────────

// Push implements job.Backlog.
func (m *Backend) Push(ctx context.Context, jobID id.JobID) error {
	return m.backlog.Push(ctx, jobID)
}

// PopBlocking implements job.Backlog.
func (m *Backend) PopBlocking(ctx context.Context) (id.JobID, error) {
	return m.backlog.PopBlocking(ctx)
}

// PushDelayed implements job.Backlog.
func (m *Backend) PushDelayed(ctx context.Context, jobID id.JobID, delay time.Duration) error {
	return m.backlog.PushDelayed(ctx, jobID, delay)
}

// Remove implements job.Backlog.
func (m *Backend) Remove(ctx context.Context, jobID id.JobID) error {
	return m.backlog.Remove(ctx, jobID)
}

// Len implements job.Backlog.
func (m *Backend) Len(ctx context.Context) (int, error) {
	return m.backlog.Len(ctx)
}
