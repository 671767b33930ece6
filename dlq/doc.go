// Package dlq provides dead-letter inspection and replay for jobs that
// failed terminally.
//
// Failed jobs stay in the job store until the terminal-TTL sweeper
// removes them, so the dead letter set is simply the jobs with status
// failed. [Service] wraps the store with operations scoped to that set:
//
//	svc := dlq.NewService(store, q, logger)
//
//	entries, _ := svc.List(ctx, dlq.ListOpts{Limit: 50})
//	n, _ := svc.Count(ctx)
//
// # Replay
//
// Replaying a failed job admits a fresh job with the original task
// type, payload, retry budget, and timeout. The new job goes through
// normal admission (registry validation, rate limits) and gets its own
// ID; the failed record is left untouched for the sweeper.
//
//	newID, err := svc.Replay(ctx, failedID)
package dlq
