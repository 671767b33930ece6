package task

import "errors"

// classifiedError carries a handler's own verdict on whether the failure
// is worth retrying. It wraps the original error so errors.Is / errors.As
// keep working through the classification.
type classifiedError struct {
	err   error
	fatal bool
}

func (c *classifiedError) Error() string { return c.err.Error() }

func (c *classifiedError) Unwrap() error { return c.err }

// Retryable marks err as transient: the job will be requeued with backoff
// while the retry budget lasts. Returns nil if err is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err}
}

// Fatal marks err as permanent: the job fails immediately regardless of
// the remaining retry budget. Returns nil if err is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, fatal: true}
}

// IsFatal reports whether err was classified with Fatal.
// Unclassified errors are retryable.
func IsFatal(err error) bool {
	var c *classifiedError
	if errors.As(err, &c) {
		return c.fatal
	}
	return false
}
