package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
	"github.com/toolplane/jobq/store/memory"
)

func newTestJob() *job.Job {
	return &job.Job{
		Entity:     jobq.NewEntity(),
		ID:         id.NewJobID(),
		Type:       "echo",
		Payload:    []byte(`{"msg":"hi"}`),
		MaxRetries: 3,
	}
}

func TestCreateJob_AssignsSequence(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	first := newTestJob()
	second := newTestJob()
	if err := m.CreateJob(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CreateJob(ctx, second); err != nil {
		t.Fatalf("create: %v", err)
	}

	if first.Seq == 0 || second.Seq <= first.Seq {
		t.Errorf("sequence not strictly increasing: %d then %d", first.Seq, second.Seq)
	}
	if first.Status != job.StatusQueued {
		t.Errorf("status = %s, want queued", first.Status)
	}
}

func TestCreateJob_Duplicate(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	j := newTestJob()
	if err := m.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CreateJob(ctx, j); !errors.Is(err, jobq.ErrJobAlreadyExists) {
		t.Errorf("duplicate create error = %v, want ErrJobAlreadyExists", err)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	m := memory.New()

	_, err := m.GetJob(context.Background(), id.NewJobID())
	if !errors.Is(err, jobq.ErrJobNotFound) {
		t.Errorf("error = %v, want ErrJobNotFound", err)
	}
}

func TestClaimJob_ExactlyOneWinner(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	j := newTestJob()
	if err := m.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	const claimers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.ClaimJob(ctx, j.ID, id.NewWorkerID(), time.Minute); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("claim winners = %d, want exactly 1", wins.Load())
	}
}

func TestClaimJob_IssuesFreshLease(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	worker := id.NewWorkerID()

	j := newTestJob()
	_ = m.CreateJob(ctx, j)

	claimed, err := m.ClaimJob(ctx, j.ID, worker, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != job.StatusRunning {
		t.Errorf("status = %s, want running", claimed.Status)
	}
	if claimed.LeaseToken.IsNil() || claimed.LeaseExpiresAt == nil {
		t.Error("claim did not issue a lease")
	}
	if claimed.LeaseOwner.String() != worker.String() {
		t.Errorf("lease owner = %s, want %s", claimed.LeaseOwner, worker)
	}
}

func TestCompleteJob_StaleTokenRejected(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	j := newTestJob()
	_ = m.CreateJob(ctx, j)
	claimed, err := m.ClaimJob(ctx, j.ID, id.NewWorkerID(), time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The monitor reclaims; the token rotates away from the worker.
	if err := m.RequeueJob(ctx, j.ID, claimed.LeaseToken); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	// Late completion with the stale token must be discarded.
	err = m.CompleteJob(ctx, j.ID, claimed.LeaseToken, []byte(`{}`))
	if !errors.Is(err, jobq.ErrLeaseLost) {
		t.Errorf("stale complete error = %v, want ErrLeaseLost", err)
	}

	got, _ := m.GetJob(ctx, j.ID)
	if got.Status != job.StatusQueued {
		t.Errorf("status after stale complete = %s, want queued", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
}

func TestReleaseJob_KeepsRetryCount(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	j := newTestJob()
	_ = m.CreateJob(ctx, j)
	claimed, err := m.ClaimJob(ctx, j.ID, id.NewWorkerID(), time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := m.ReleaseJob(ctx, j.ID, claimed.LeaseToken); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, _ := m.GetJob(ctx, j.ID)
	if got.Status != job.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", got.RetryCount)
	}
	if !got.LeaseToken.IsNil() || got.ClaimedAt != nil {
		t.Error("lease not cleared on release")
	}

	// The stale token must not release twice.
	if err := m.ReleaseJob(ctx, j.ID, claimed.LeaseToken); !errors.Is(err, jobq.ErrLeaseLost) {
		t.Errorf("stale release error = %v, want ErrLeaseLost", err)
	}
}

func TestCompleteJob_RecordsResult(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	j := newTestJob()
	_ = m.CreateJob(ctx, j)
	claimed, _ := m.ClaimJob(ctx, j.ID, id.NewWorkerID(), time.Minute)

	if err := m.CompleteJob(ctx, j.ID, claimed.LeaseToken, []byte(`{"ok":1}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ := m.GetJob(ctx, j.ID)
	if got.Status != job.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
	if string(got.Result) != `{"ok":1}` {
		t.Errorf("result = %s", got.Result)
	}
	if !got.LeaseToken.IsNil() || got.LeaseExpiresAt != nil {
		t.Error("lease not cleared on completion")
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestFailJob_RecordsError(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	j := newTestJob()
	_ = m.CreateJob(ctx, j)
	claimed, _ := m.ClaimJob(ctx, j.ID, id.NewWorkerID(), time.Minute)

	jerr := &job.Error{Kind: job.KindFatal, Message: "bad input"}
	if err := m.FailJob(ctx, j.ID, claimed.LeaseToken, jerr); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, _ := m.GetJob(ctx, j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error == nil || got.Error.Kind != job.KindFatal {
		t.Errorf("error = %+v, want fatal kind", got.Error)
	}
}

func TestCancelQueued(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	j := newTestJob()
	_ = m.CreateJob(ctx, j)

	if err := m.CancelQueued(ctx, j.ID); err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
	got, _ := m.GetJob(ctx, j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	// Cancelling a terminal job is a state error.
	if err := m.CancelQueued(ctx, j.ID); !errors.Is(err, jobq.ErrAlreadyTerminal) {
		t.Errorf("cancel terminal error = %v, want ErrAlreadyTerminal", err)
	}

	// A cancelled job can never be claimed.
	if _, err := m.ClaimJob(ctx, j.ID, id.NewWorkerID(), time.Minute); !errors.Is(err, jobq.ErrNotClaimable) {
		t.Errorf("claim cancelled error = %v, want ErrNotClaimable", err)
	}
}

func TestRequestCancel_OnlyWhileRunning(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	j := newTestJob()
	_ = m.CreateJob(ctx, j)

	if err := m.RequestCancel(ctx, j.ID); !errors.Is(err, jobq.ErrInvalidTransition) {
		t.Errorf("request cancel on queued = %v, want ErrInvalidTransition", err)
	}

	claimed, _ := m.ClaimJob(ctx, j.ID, id.NewWorkerID(), time.Minute)
	if err := m.RequestCancel(ctx, j.ID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}

	got, _ := m.GetJob(ctx, j.ID)
	if !got.CancelRequested {
		t.Error("cancel flag not set")
	}

	if err := m.CancelRunning(ctx, j.ID, claimed.LeaseToken); err != nil {
		t.Fatalf("cancel running: %v", err)
	}
	got, _ = m.GetJob(ctx, j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestExpiredLeases(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	j := newTestJob()
	_ = m.CreateJob(ctx, j)
	if _, err := m.ClaimJob(ctx, j.ID, id.NewWorkerID(), 10*time.Millisecond); err != nil {
		t.Fatalf("claim: %v", err)
	}

	expired, err := m.ExpiredLeases(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("expired leases: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expired = %d jobs, want 1", len(expired))
	}
	if expired[0].ID.String() != j.ID.String() {
		t.Errorf("wrong job reported expired")
	}
}

func TestSweepTerminal(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	done := newTestJob()
	_ = m.CreateJob(ctx, done)
	claimed, _ := m.ClaimJob(ctx, done.ID, id.NewWorkerID(), time.Minute)
	_ = m.CompleteJob(ctx, done.ID, claimed.LeaseToken, nil)

	live := newTestJob()
	_ = m.CreateJob(ctx, live)

	swept, err := m.SweepTerminal(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}
	if _, err := m.GetJob(ctx, done.ID); !errors.Is(err, jobq.ErrJobNotFound) {
		t.Error("terminal job survived the sweep")
	}
	if _, err := m.GetJob(ctx, live.ID); err != nil {
		t.Error("queued job was swept")
	}
}

func TestListJobs_AdmissionOrder(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	var ids []string
	for range 5 {
		j := newTestJob()
		_ = m.CreateJob(ctx, j)
		ids = append(ids, j.ID.String())
	}

	listed, err := m.ListJobs(ctx, job.ListOpts{Type: "echo"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 5 {
		t.Fatalf("listed %d jobs, want 5", len(listed))
	}
	for i, j := range listed {
		if j.ID.String() != ids[i] {
			t.Errorf("position %d: got %s, want %s", i, j.ID, ids[i])
		}
	}
}

// ──────────────────────────────────────────────────
// Backlog
// ──────────────────────────────────────────────────

func TestBacklog_FIFO(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	first, second := id.NewJobID(), id.NewJobID()
	_ = m.Push(ctx, first)
	_ = m.Push(ctx, second)

	got, err := m.PopBlocking(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if got.String() != first.String() {
		t.Errorf("pop order violated: got %s, want %s", got, first)
	}
}

func TestBacklog_PopBlocksUntilPush(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	want := id.NewJobID()
	popped := make(chan id.JobID, 1)
	go func() {
		jobID, err := m.PopBlocking(ctx)
		if err == nil {
			popped <- jobID
		}
	}()

	// Give the consumer time to block, then push.
	time.Sleep(20 * time.Millisecond)
	_ = m.Push(ctx, want)

	select {
	case got := <-popped:
		if got.String() != want.String() {
			t.Errorf("popped %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked consumer never woke up")
	}
}

func TestBacklog_PopRespectsContext(t *testing.T) {
	m := memory.New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.PopBlocking(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
}

func TestBacklog_PushDelayed(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	want := id.NewJobID()
	_ = m.PushDelayed(ctx, want, 30*time.Millisecond)

	if n, _ := m.Len(ctx); n != 0 {
		t.Errorf("delayed entry visible immediately, len = %d", n)
	}

	popCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := m.PopBlocking(popCtx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if got.String() != want.String() {
		t.Errorf("popped %s, want %s", got, want)
	}
}

func TestBacklog_Remove(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	victim, keeper := id.NewJobID(), id.NewJobID()
	_ = m.Push(ctx, victim)
	_ = m.Push(ctx, keeper)
	_ = m.Remove(ctx, victim)

	got, err := m.PopBlocking(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if got.String() != keeper.String() {
		t.Errorf("popped %s, want %s", got, keeper)
	}
	if n, _ := m.Len(ctx); n != 0 {
		t.Errorf("len = %d after removal and pop, want 0", n)
	}
}

func TestBacklog_CloseReleasesConsumers(t *testing.T) {
	m := memory.New()

	errCh := make(chan error, 1)
	go func() {
		_, err := m.PopBlocking(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = m.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, jobq.ErrBacklogClosed) {
			t.Errorf("error = %v, want ErrBacklogClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer not released on close")
	}
}

func TestBacklog_SingleDelivery(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	const entries = 100
	for range entries {
		_ = m.Push(ctx, id.NewJobID())
	}

	var delivered atomic.Int32
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				popCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
				_, err := m.PopBlocking(popCtx)
				cancel()
				if err != nil {
					return
				}
				delivered.Add(1)
			}
		}()
	}
	wg.Wait()

	if delivered.Load() != entries {
		t.Errorf("delivered %d entries, want %d", delivered.Load(), entries)
	}
}
