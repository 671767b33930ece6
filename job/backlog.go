package job

import (
	"context"
	"time"

	"github.com/toolplane/jobq/id"
)

// Backlog is the claimable queue of job ids — the admission structure a
// worker blocks on. It delivers each pushed id to exactly one consumer,
// in FIFO order of push. A backend may keep it in memory or delegate it
// to an external broker; either way the authoritative claim guard is the
// Store's queued→running transition, so a stale backlog entry (for a job
// cancelled after push) is harmless: the claim fails and the entry is
// dropped.
type Backlog interface {
	// Push appends a job id to the backlog and wakes one blocked consumer.
	Push(ctx context.Context, jobID id.JobID) error

	// PopBlocking removes and returns the oldest job id, blocking until
	// one is available or ctx is done. Returns ctx.Err() on cancellation
	// and jobq.ErrBacklogClosed after Close.
	PopBlocking(ctx context.Context) (id.JobID, error)

	// PushDelayed schedules a job id to re-enter the backlog after delay.
	// Used for retry backoff.
	PushDelayed(ctx context.Context, jobID id.JobID, delay time.Duration) error

	// Remove drops a job id from the backlog if still present.
	// Best-effort: ids already consumed are not recalled.
	Remove(ctx context.Context, jobID id.JobID) error

	// Len returns the number of immediately claimable entries.
	Len(ctx context.Context) (int, error)

	// Close releases blocked consumers.
	Close() error
}
