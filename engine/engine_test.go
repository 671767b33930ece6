package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/backoff"
	"github.com/toolplane/jobq/dlq"
	"github.com/toolplane/jobq/engine"
	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
	"github.com/toolplane/jobq/queue"
	"github.com/toolplane/jobq/store/memory"
	"github.com/toolplane/jobq/stream"
	"github.com/toolplane/jobq/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type echoInput struct {
	Msg string `json:"msg"`
}

type echoOutput struct {
	Msg string `json:"msg"`
}

func newCore(t *testing.T) *jobq.Core {
	t.Helper()
	cfg := jobq.DefaultConfig()
	cfg.Concurrency = 2
	cfg.MonitorInterval = 10 * time.Millisecond
	core, err := jobq.New(
		jobq.WithBackend(memory.New()),
		jobq.WithConfig(cfg),
		jobq.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("jobq.New: %v", err)
	}
	return core
}

func waitResult[R any](t *testing.T, eng *engine.Engine, jobID id.JobID) (R, error) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		result, done, err := engine.Result[R](context.Background(), eng, jobID)
		if done || (err != nil && !errors.Is(err, jobq.ErrJobNotFound)) {
			return result, err
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	panic("unreachable")
}

func TestEngine_EndToEndEcho(t *testing.T) {
	core := newCore(t)
	eng, err := engine.Build(core)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	engine.Register(eng, task.NewDefinition("echo",
		func(_ context.Context, in echoInput) (echoOutput, error) {
			return echoOutput{Msg: in.Msg}, nil
		}))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	jobID, err := engine.Enqueue(ctx, eng, "echo", echoInput{Msg: "round trip"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	out, err := waitResult[echoOutput](t, eng, jobID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if out.Msg != "round trip" {
		t.Errorf("result = %q, want %q", out.Msg, "round trip")
	}
}

func TestEngine_RetryUntilSuccess(t *testing.T) {
	core := newCore(t)
	eng, err := engine.Build(core,
		engine.WithBackoff(backoff.NewConstant(time.Millisecond)))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var attempts atomic.Int64
	engine.Register(eng, task.NewDefinition("flaky",
		func(_ context.Context, in echoInput) (echoOutput, error) {
			if attempts.Add(1) < 3 {
				return echoOutput{}, errors.New("not yet")
			}
			return echoOutput{Msg: in.Msg}, nil
		}))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	jobID, err := engine.Enqueue(ctx, eng, "flaky", echoInput{Msg: "eventually"},
		queue.WithMaxRetries(5))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	out, err := waitResult[echoOutput](t, eng, jobID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if out.Msg != "eventually" {
		t.Errorf("result = %q", out.Msg)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}

	view, err := eng.Queue().Status(ctx, jobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", view.RetryCount)
	}
}

func TestEngine_RetriesExhaustedFails(t *testing.T) {
	core := newCore(t)
	eng, err := engine.Build(core,
		engine.WithBackoff(backoff.NewConstant(time.Millisecond)))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var attempts atomic.Int64
	engine.Register(eng, task.NewDefinition("hopeless",
		func(_ context.Context, _ echoInput) (echoOutput, error) {
			attempts.Add(1)
			return echoOutput{}, errors.New("always broken")
		}))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	jobID, err := engine.Enqueue(ctx, eng, "hopeless", echoInput{},
		queue.WithMaxRetries(2))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	_, err = waitResult[echoOutput](t, eng, jobID)
	var jobErr *job.Error
	if !errors.As(err, &jobErr) {
		t.Fatalf("err = %v, want *job.Error", err)
	}
	if jobErr.Kind != job.KindRetryable {
		t.Errorf("kind = %s, want retryable", jobErr.Kind)
	}
	// Initial attempt plus two retries.
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestEngine_CooperativeCancel(t *testing.T) {
	core := newCore(t)
	eng, err := engine.Build(core)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	started := make(chan struct{}, 1)
	engine.Register(eng, task.NewDefinition("parked",
		func(ctx context.Context, _ echoInput) (echoOutput, error) {
			started <- struct{}{}
			<-ctx.Done()
			return echoOutput{}, ctx.Err()
		}))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	jobID, err := engine.Enqueue(ctx, eng, "parked", echoInput{},
		queue.WithMaxRetries(3))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never started")
	}

	ack, err := eng.Queue().Cancel(ctx, jobID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ack.State != queue.CancelPending {
		t.Fatalf("ack state = %s, want pending", ack.State)
	}
	if !ack.Signalled {
		t.Error("running handler was not signalled")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		view, err := eng.Queue().Status(ctx, jobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if view.Status == job.StatusCancelled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %s, never reached cancelled", view.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_EnqueueBeforeStartRejected(t *testing.T) {
	core := newCore(t)
	eng, err := engine.Build(core)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	engine.Register(eng, task.NewDefinition("echo",
		func(_ context.Context, in echoInput) (echoOutput, error) {
			return echoOutput(in), nil
		}))

	_, err = engine.Enqueue(context.Background(), eng, "echo", echoInput{})
	if !errors.Is(err, jobq.ErrRegistryUnsealed) {
		t.Fatalf("err = %v, want ErrRegistryUnsealed", err)
	}
}

func TestEngine_UnknownTypeRejected(t *testing.T) {
	core := newCore(t)
	eng, err := engine.Build(core)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	_, err = engine.Enqueue(ctx, eng, "never.registered", echoInput{})
	if !errors.Is(err, jobq.ErrInvalidTaskType) {
		t.Fatalf("err = %v, want ErrInvalidTaskType", err)
	}
}

func TestEngine_ScheduledEnqueue(t *testing.T) {
	core := newCore(t)
	eng, err := engine.Build(core,
		engine.WithSchedule("beat", "echo", "@every 10ms", []byte(`{"msg":"tick"}`)))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	engine.Register(eng, task.NewDefinition("echo",
		func(_ context.Context, in echoInput) (echoOutput, error) {
			return echoOutput(in), nil
		}))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	// The scheduler ticks once a second, so two firings need a wide window.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := eng.Queue().Count(ctx, job.ListOpts{Type: "echo"})
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scheduler never admitted two jobs")
}

func TestBuild_RejectsInvalidSchedule(t *testing.T) {
	core := newCore(t)
	_, err := engine.Build(core,
		engine.WithSchedule("bad", "echo", "not a schedule", nil))
	if err == nil {
		t.Fatal("invalid schedule accepted")
	}
}

func TestEngine_StreamBrokerObservesLifecycle(t *testing.T) {
	core := newCore(t)
	broker := stream.NewBroker(testLogger())
	eng, err := engine.Build(core, engine.WithHook(broker))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	engine.Register(eng, task.NewDefinition("echo",
		func(_ context.Context, in echoInput) (echoOutput, error) {
			return echoOutput(in), nil
		}))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	sub := broker.Subscribe("test", stream.TopicFirehose)
	jobID, err := engine.Enqueue(ctx, eng, "echo", echoInput{Msg: "watched"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := waitResult[echoOutput](t, eng, jobID); err != nil {
		t.Fatalf("Result: %v", err)
	}

	seen := make(map[stream.EventType]bool)
	deadline := time.After(3 * time.Second)
	for !seen[stream.EventJobSucceeded] {
		select {
		case evt := <-sub.C():
			seen[evt.Type] = true
		case <-deadline:
			t.Fatalf("never saw job.succeeded; saw %v", seen)
		}
	}
	for _, want := range []stream.EventType{
		stream.EventJobEnqueued, stream.EventJobClaimed, stream.EventJobSucceeded,
	} {
		if !seen[want] {
			t.Errorf("missing event %s", want)
		}
	}
}

func TestEngine_DLQReplay(t *testing.T) {
	core := newCore(t)
	eng, err := engine.Build(core,
		engine.WithBackoff(backoff.NewConstant(time.Millisecond)))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var failFirst atomic.Bool
	failFirst.Store(true)
	engine.Register(eng, task.NewDefinition("flaky.import",
		func(_ context.Context, in echoInput) (echoOutput, error) {
			if failFirst.Load() {
				return echoOutput{}, task.Fatal(errors.New("upstream gone"))
			}
			return echoOutput(in), nil
		}))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	jobID, err := engine.Enqueue(ctx, eng, "flaky.import", echoInput{Msg: "retry me"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := waitResult[echoOutput](t, eng, jobID); err == nil {
		t.Fatal("job unexpectedly succeeded")
	}

	entries, err := eng.DLQ().List(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID.String() != jobID.String() {
		t.Fatalf("dead letter entries = %v", entries)
	}

	failFirst.Store(false)
	newID, err := eng.DLQ().Replay(ctx, jobID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	out, err := waitResult[echoOutput](t, eng, newID)
	if err != nil {
		t.Fatalf("replayed job: %v", err)
	}
	if out.Msg != "retry me" {
		t.Errorf("result = %q", out.Msg)
	}
}

func TestBuild_RequiresBackend(t *testing.T) {
	core, err := jobq.New(jobq.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("jobq.New: %v", err)
	}
	if _, err := engine.Build(core); !errors.Is(err, jobq.ErrNoBackend) {
		t.Fatalf("err = %v, want ErrNoBackend", err)
	}
}

func TestStart_RequiresBuiltCore(t *testing.T) {
	// A core with a backend but no Build step has nothing to run.
	core, err := jobq.New(
		jobq.WithLogger(testLogger()),
		jobq.WithBackend(memory.New()),
	)
	if err != nil {
		t.Fatalf("jobq.New: %v", err)
	}
	if err := core.Start(context.Background()); !errors.Is(err, jobq.ErrNotBuilt) {
		t.Fatalf("err = %v, want ErrNotBuilt", err)
	}

	// Without a backend the missing dependency is reported instead.
	bare, err := jobq.New(jobq.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("jobq.New: %v", err)
	}
	if err := bare.Start(context.Background()); !errors.Is(err, jobq.ErrNoBackend) {
		t.Fatalf("err = %v, want ErrNoBackend", err)
	}
}
