// Package hook defines the lifecycle hook system for jobq.
//
// Hooks are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs. Each
// lifecycle event is a separate interface so a hook opts in only to the
// events it cares about.
//
// # Implementing a Hook
//
//	type MyHook struct{}
//
//	func (h *MyHook) Name() string { return "my-hook" }
//
//	// Opt in to specific events by implementing their interfaces.
//	func (h *MyHook) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s succeeded in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Events
//
//   - [JobEnqueued] — job was accepted into the backlog
//   - [JobClaimed] — a worker claimed the job under a fresh lease
//   - [JobSucceeded] — handler finished successfully
//   - [JobFailed] — job failed terminally
//   - [JobRetrying] — job failed but will be retried after backoff
//   - [JobCancelled] — job was cancelled, before or during execution
//   - [LeaseExpired] — the monitor reclaimed an orphaned job
//   - [Shutdown] — the core is shutting down gracefully
//
// The [Registry] fans out each event to all registered hooks that
// implement the corresponding interface. Hook errors are logged, never
// propagated — they must not block the pipeline.
package hook
