// Package jobq is an asynchronous job-processing core for tool servers.
// Producers submit long-running work and poll for completion without
// blocking the request path; a fixed pool of workers claims jobs under
// time-bounded leases and writes outcomes back to the job store.
//
// jobq is a library, not a service. Import it, pick a backend, register
// task handlers as ordinary Go functions, and enqueue.
//
// # Quick Start
//
//	core, err := jobq.New(
//	    jobq.WithBackend(memory.New()),
//	    jobq.WithConcurrency(8),
//	)
//	eng, err := engine.Build(core)
//
//	engine.Register(eng, task.NewDefinition("echo",
//	    func(ctx context.Context, in map[string]string) (map[string]string, error) {
//	        return in, nil
//	    }))
//
//	err = eng.Start(ctx)
//	jobID, err := engine.Enqueue(ctx, eng, "echo", map[string]string{"msg": "hi"})
//
// # Architecture
//
// The backend is a composable pair of interfaces: job.Store (authoritative
// record of every job and its state) and job.Backlog (the claimable queue
// of job ids). A single backend — memory, Redis, or Postgres — implements
// both. Workers block on the backlog, claim exactly one job via an atomic
// queued→running transition that issues a fresh lease token, and every
// subsequent write to that job is conditioned on the token. A background
// monitor returns orphaned jobs (expired leases) to the backlog.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package jobq
