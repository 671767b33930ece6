// Package job defines the job entity, its status state machine, the
// producer-facing view, and the persistence contracts (Store, Backlog).
//
// # Job Entity
//
// A [Job] is one unit of submitted work. It carries an opaque JSON
// payload, bounded retry bookkeeping, and — while running — a lease:
// a time-bounded exclusive claim identified by a token that is rotated
// on every claim. The status moves only along:
//
//	queued → running → succeeded
//	queued → running → failed
//	queued → running → queued      (retryable failure or lease expiry)
//	queued → running → cancelled   (cooperative, worker-acknowledged)
//	queued → cancelled
//
// Terminal statuses (succeeded, failed, cancelled) are immutable.
//
// # Store and Backlog
//
// [Store] is the authoritative record of every job; all writes to a
// running job are conditioned on the current lease token, so a worker
// and the lease monitor can never both win the same transition.
// [Backlog] is the claimable queue of job ids — a blocking, FIFO
// admission structure that a backend may keep in memory or delegate to
// an external broker. One backend implements both.
package job
