package jobq

import "errors"

var (
	// Backend errors.
	ErrNoBackend     = errors.New("jobq: no backend configured")
	ErrBackendClosed = errors.New("jobq: backend closed")
	ErrBacklogClosed = errors.New("jobq: backlog closed")

	// Lifecycle errors.
	ErrNotBuilt = errors.New("jobq: core has no components, build it with engine.Build first")

	// Validation errors, rejected synchronously before a record exists.
	ErrInvalidTaskType = errors.New("jobq: invalid task type")
	ErrRateLimited     = errors.New("jobq: task type rate limited")

	// Not found errors.
	ErrJobNotFound = errors.New("jobq: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("jobq: job already exists")

	// State errors.
	ErrAlreadyTerminal    = errors.New("jobq: job already in a terminal state")
	ErrInvalidTransition  = errors.New("jobq: invalid status transition")
	ErrNotClaimable       = errors.New("jobq: job is not claimable")
	ErrLeaseLost          = errors.New("jobq: lease no longer held")
	ErrMaxRetriesExceeded = errors.New("jobq: max retries exceeded")

	// Registry errors.
	ErrRegistrySealed   = errors.New("jobq: registry sealed")
	ErrRegistryUnsealed = errors.New("jobq: registry must be sealed before accepting traffic")
)
