package monitor_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/hook"
	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
	"github.com/toolplane/jobq/monitor"
	"github.com/toolplane/jobq/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createJob(t *testing.T, backend *memory.Backend, maxRetries int) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:     jobq.NewEntity(),
		ID:         id.NewJobID(),
		Type:       "echo",
		MaxRetries: maxRetries,
	}
	if err := backend.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

// leaseExpiredRecorder captures LeaseExpired hook notifications.
type leaseExpiredRecorder struct {
	requeued []bool
}

func (r *leaseExpiredRecorder) Name() string { return "lease-expired-recorder" }

func (r *leaseExpiredRecorder) OnLeaseExpired(_ context.Context, _ *job.Job, requeued bool) error {
	r.requeued = append(r.requeued, requeued)
	return nil
}

func TestScan_RequeuesExpiredLease(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	logger := testLogger()

	recorder := &leaseExpiredRecorder{}
	hooks := hook.NewRegistry(logger)
	hooks.Register(recorder)

	j := createJob(t, backend, 3)
	// A lease that is already expired when the scan runs.
	if _, err := backend.ClaimJob(ctx, j.ID, id.NewWorkerID(), -time.Second); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	m := monitor.New(backend, backend, hooks, time.Minute, logger)
	m.Scan(ctx)

	got, err := backend.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if !got.LeaseToken.IsNil() {
		t.Error("lease token not cleared on reclaim")
	}

	// The reclaimed job is immediately claimable again.
	popCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	popped, err := backend.PopBlocking(popCtx)
	if err != nil {
		t.Fatalf("PopBlocking: %v", err)
	}
	if popped.String() != j.ID.String() {
		t.Errorf("popped %s, want %s", popped, j.ID)
	}

	if len(recorder.requeued) != 1 || !recorder.requeued[0] {
		t.Errorf("hook notifications = %v, want [true]", recorder.requeued)
	}
}

func TestScan_FailsWhenRetriesExhausted(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	logger := testLogger()

	recorder := &leaseExpiredRecorder{}
	hooks := hook.NewRegistry(logger)
	hooks.Register(recorder)

	j := createJob(t, backend, 0)
	if _, err := backend.ClaimJob(ctx, j.ID, id.NewWorkerID(), -time.Second); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	m := monitor.New(backend, backend, hooks, time.Minute, logger)
	m.Scan(ctx)

	got, err := backend.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == nil || got.Error.Kind != job.KindLeaseExpired {
		t.Errorf("error = %+v, want kind lease_expired", got.Error)
	}
	if len(recorder.requeued) != 1 || recorder.requeued[0] {
		t.Errorf("hook notifications = %v, want [false]", recorder.requeued)
	}
}

func TestScan_IgnoresLiveLeases(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	logger := testLogger()
	hooks := hook.NewRegistry(logger)

	j := createJob(t, backend, 3)
	claimed, err := backend.ClaimJob(ctx, j.ID, id.NewWorkerID(), time.Minute)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	m := monitor.New(backend, backend, hooks, time.Minute, logger)
	m.Scan(ctx)

	got, err := backend.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusRunning {
		t.Fatalf("status = %s, want running", got.Status)
	}
	if got.LeaseToken.String() != claimed.LeaseToken.String() {
		t.Error("live lease was disturbed")
	}
}

func TestScan_LosesRaceToFinishedWorker(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	logger := testLogger()
	hooks := hook.NewRegistry(logger)

	j := createJob(t, backend, 3)
	claimed, err := backend.ClaimJob(ctx, j.ID, id.NewWorkerID(), -time.Second)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	// The snapshot saw an expired lease, but the worker completes before
	// the reclaim write lands.
	expired, err := backend.ExpiredLeases(ctx, time.Now().UTC())
	if err != nil || len(expired) != 1 {
		t.Fatalf("ExpiredLeases = %v, %v", expired, err)
	}
	if err := backend.CompleteJob(ctx, j.ID, claimed.LeaseToken, []byte(`"done"`)); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	m := monitor.New(backend, backend, hooks, time.Minute, logger)
	m.Scan(ctx)

	got, err := backend.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded (worker outcome stands)", got.Status)
	}
}

func TestMonitor_StartStop(t *testing.T) {
	backend := memory.New()
	logger := testLogger()
	hooks := hook.NewRegistry(logger)

	m := monitor.New(backend, backend, hooks, 10*time.Millisecond, logger)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
