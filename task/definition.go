package task

import "context"

// Definition is a typed task definition with a handler function.
// T is the payload type and R the result type (both JSON-serializable).
type Definition[T, R any] struct {
	// Type is the unique task-type identifier for this handler.
	Type string

	// Handler processes the payload and produces a result. It must not
	// share mutable state across invocations. Cancellation is delivered
	// through ctx; the handler should observe it at safe checkpoints.
	Handler func(ctx context.Context, payload T) (R, error)
}

// NewDefinition creates a typed task definition.
func NewDefinition[T, R any](taskType string, handler func(ctx context.Context, payload T) (R, error)) *Definition[T, R] {
	return &Definition[T, R]{
		Type:    taskType,
		Handler: handler,
	}
}
