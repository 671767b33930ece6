package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/toolplane/jobq/job"
)

// PanicError is the error a recovered handler panic is converted to.
// The worker records it as a fatal failure with the stack attached.
type PanicError struct {
	TaskType string
	Value    any
	Stack    string
}

// Error implements the error interface.
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic in task %s: %v", p.TaskType, p.Value)
}

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to *PanicError and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (result []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("task handler panicked",
					slog.String("task_type", j.Type),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				result = nil
				retErr = &PanicError{TaskType: j.Type, Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
