package job

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusQueued means the job is waiting in the backlog for a worker.
	StatusQueued Status = "queued"
	// StatusRunning means a worker holds the lease and is executing the job.
	StatusRunning Status = "running"
	// StatusSucceeded means the handler completed and the result is recorded.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the job failed terminally and the error is recorded.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled before or during execution.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are
// immutable: no field changes once a terminal status is written.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates every legal status edge.
var transitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusQueued:    true, // requeue on retryable failure or lease expiry
		StatusCancelled: true, // cooperative, worker-acknowledged
	},
}

// CanTransition reports whether the edge from → to is legal.
// No edge leaves a terminal status.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}
