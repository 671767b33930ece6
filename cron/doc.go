// Package cron schedules recurring enqueues of registered task types.
//
// Entries pair a cron expression with a task type and payload. The
// scheduler ticks once a second, fires every due entry by admitting a
// job through the queue, and advances the entry's next run time.
//
//	sched := cron.NewScheduler(q.Enqueue, logger)
//	err := sched.Add("nightly-report", "report.generate", "0 3 * * *", nil)
//
// Expressions use the standard 5-field syntax plus descriptors like
// "@every 30s" and "@hourly".
//
// The scheduler is a runner: the engine starts and stops it with the
// rest of the core. Entries must be added before Start.
package cron
