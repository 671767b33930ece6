package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/backoff"
	"github.com/toolplane/jobq/hook"
	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
	"github.com/toolplane/jobq/middleware"
	"github.com/toolplane/jobq/store/memory"
	"github.com/toolplane/jobq/task"
	"github.com/toolplane/jobq/worker"
)

type poolEnv struct {
	backend *memory.Backend
	hub     *worker.Hub
	pool    *worker.Pool
	gate    *blockGate
	count   atomic.Int64
}

func newPoolEnv(t *testing.T, concurrency int, shutdownTimeout time.Duration) *poolEnv {
	t.Helper()
	logger := testLogger()

	env := &poolEnv{
		backend: memory.New(),
		hub:     worker.NewHub(),
		gate:    newBlockGate(),
	}

	registry := task.NewRegistry()
	task.RegisterDefinition(registry, task.NewDefinition("count",
		func(_ context.Context, p echoPayload) (echoPayload, error) {
			env.count.Add(1)
			return p, nil
		}))
	task.RegisterDefinition(registry, task.NewDefinition("block",
		func(ctx context.Context, _ echoPayload) (echoPayload, error) {
			return echoPayload{}, env.gate.wait(ctx)
		}))
	registry.Seal()

	hooks := hook.NewRegistry(logger)
	mw := middleware.Chain(middleware.Recover(logger), middleware.Timeout(logger))
	exec := worker.NewExecutor(
		registry, env.backend, env.backend, hooks,
		backoff.NewConstant(time.Millisecond), env.hub, mw, logger,
	)

	cfg := jobq.DefaultConfig()
	cfg.Concurrency = concurrency
	cfg.ShutdownTimeout = shutdownTimeout
	env.pool = worker.NewPool(env.backend, env.backend, exec, hooks, env.hub, cfg, logger)
	return env
}

func (env *poolEnv) enqueue(t *testing.T, taskType string, maxRetries int) id.JobID {
	t.Helper()
	ctx := context.Background()
	j := &job.Job{
		Entity:     jobq.NewEntity(),
		ID:         id.NewJobID(),
		Type:       taskType,
		Payload:    []byte(`{"msg":"x"}`),
		MaxRetries: maxRetries,
	}
	if err := env.backend.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := env.backend.Push(ctx, j.ID); err != nil {
		t.Fatalf("Push: %v", err)
	}
	return j.ID
}

func (env *poolEnv) waitStatus(t *testing.T, jobID id.JobID, want job.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, err := env.backend.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if j.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := env.backend.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached %s (now %s)", jobID, want, j.Status)
}

func TestPool_ProcessesBacklog(t *testing.T) {
	env := newPoolEnv(t, 4, time.Second)

	ids := make([]id.JobID, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, env.enqueue(t, "count", 0))
	}

	if err := env.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer env.pool.Stop(context.Background())

	for _, jobID := range ids {
		env.waitStatus(t, jobID, job.StatusSucceeded)
	}
	if got := env.count.Load(); got != 10 {
		t.Errorf("handler ran %d times, want 10", got)
	}
}

func TestPool_EachJobExecutesExactlyOnce(t *testing.T) {
	env := newPoolEnv(t, 8, time.Second)

	const n = 40
	ids := make([]id.JobID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, env.enqueue(t, "count", 0))
	}

	if err := env.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer env.pool.Stop(context.Background())

	for _, jobID := range ids {
		env.waitStatus(t, jobID, job.StatusSucceeded)
	}
	if got := env.count.Load(); got != n {
		t.Errorf("handler ran %d times, want %d", got, n)
	}
}

func TestPool_SkipsCancelledBacklogEntries(t *testing.T) {
	env := newPoolEnv(t, 2, time.Second)
	ctx := context.Background()

	// Cancelled after admission but before any worker runs: the claim
	// guard must reject the stale backlog entry.
	cancelled := env.enqueue(t, "count", 0)
	if err := env.backend.CancelQueued(ctx, cancelled); err != nil {
		t.Fatalf("CancelQueued: %v", err)
	}
	live := env.enqueue(t, "count", 0)

	if err := env.pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer env.pool.Stop(ctx)

	env.waitStatus(t, live, job.StatusSucceeded)

	j, err := env.backend.GetJob(ctx, cancelled)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusCancelled {
		t.Errorf("cancelled job status = %s", j.Status)
	}
	if got := env.count.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestPool_StopRequeuesInFlightJobs(t *testing.T) {
	env := newPoolEnv(t, 1, 20*time.Millisecond)
	ctx := context.Background()

	jobID := env.enqueue(t, "block", 3)
	if err := env.pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	env.waitStatus(t, jobID, job.StatusRunning)
	select {
	case <-env.gate.entered:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	// The blocked handler outlives the drain window; Stop cancels it
	// and the executor requeues the run.
	if err := env.pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	j, err := env.backend.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusQueued {
		t.Fatalf("status = %s, want queued after shutdown requeue", j.Status)
	}
	if j.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", j.RetryCount)
	}
}

func TestPool_StartStopIdempotent(t *testing.T) {
	env := newPoolEnv(t, 2, time.Second)
	ctx := context.Background()

	if err := env.pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.pool.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := env.pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := env.pool.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
