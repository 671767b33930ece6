package job

// ErrorKind classifies a recorded job failure.
type ErrorKind string

const (
	// KindRetryable is a transient handler failure that exhausted its
	// retry budget.
	KindRetryable ErrorKind = "retryable"
	// KindFatal is a permanent handler failure.
	KindFatal ErrorKind = "fatal"
	// KindTimeout means the job exceeded its maximum execution duration.
	KindTimeout ErrorKind = "timeout"
	// KindCancelled means the handler acknowledged a cancellation request.
	KindCancelled ErrorKind = "cancelled"
	// KindLeaseExpired means the worker stopped responding and retries
	// were exhausted.
	KindLeaseExpired ErrorKind = "lease_expired"
	// KindPanic means the handler panicked; the stack is in the message.
	KindPanic ErrorKind = "panic"
)

// Error is the failure recorded on a job. Present only when the job
// reached StatusFailed (or StatusCancelled, with KindCancelled).
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}
