// Package task defines typed task definitions, the type-erased handler
// form, error classification, and the sealed registry.
//
// # Defining a Task
//
// Use [Definition] with a typed handler. The payload is JSON-deserialized
// before the handler runs and the result is JSON-serialized after:
//
//	var Thumbnail = task.NewDefinition("render_thumbnail",
//	    func(ctx context.Context, in RenderInput) (RenderOutput, error) {
//	        return renderer.Thumbnail(ctx, in)
//	    })
//
// # Classification
//
// A handler decides whether its failure is worth retrying. Wrap the
// returned error with [Retryable] or [Fatal]; unclassified errors are
// treated as retryable. The worker never infers classification from
// error types it does not own.
//
// # Registry
//
// [Registry] is a closed, validated table. Register every definition at
// startup, then call [Registry.Seal]; the queue rejects enqueues for
// unknown types before any record is created, and registration after
// sealing panics — a handler table that changes under live traffic is a
// programming error.
package task
