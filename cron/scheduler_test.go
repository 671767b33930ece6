package cron_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toolplane/jobq/cron"
	"github.com/toolplane/jobq/id"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdd_ValidatesExpression(t *testing.T) {
	s := cron.NewScheduler(nil, testLogger())

	if err := s.Add("ok", "report.generate", "0 3 * * *", nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("every", "report.generate", "@every 30s", nil); err != nil {
		t.Fatalf("Add @every: %v", err)
	}
	if err := s.Add("bad", "report.generate", "not a schedule", nil); err == nil {
		t.Error("invalid expression accepted")
	}
	if err := s.Add("ok", "report.generate", "0 4 * * *", nil); err == nil {
		t.Error("duplicate name accepted")
	}

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Name != "every" || entries[1].Name != "ok" {
		t.Errorf("entries not sorted by name: %s, %s", entries[0].Name, entries[1].Name)
	}
	if entries[1].NextRunAt.IsZero() {
		t.Error("next run not computed")
	}
}

func TestScheduler_FiresDueEntries(t *testing.T) {
	var fired atomic.Int64
	enqueue := func(_ context.Context, taskType string, payload []byte) (id.JobID, error) {
		if taskType != "heartbeat" {
			t.Errorf("task type = %s, want heartbeat", taskType)
		}
		if string(payload) != `{"src":"cron"}` {
			t.Errorf("payload = %s", payload)
		}
		fired.Add(1)
		return id.NewJobID(), nil
	}

	s := cron.NewScheduler(enqueue, testLogger(), cron.WithTickInterval(5*time.Millisecond))
	if err := s.Add("beat", "heartbeat", "@every 10ms", []byte(`{"src":"cron"}`)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := fired.Load(); got < 2 {
		t.Errorf("fired %d times, want at least 2", got)
	}

	entries := s.Entries()
	if entries[0].LastRunAt == nil {
		t.Error("last run not recorded")
	}
}

func TestScheduler_AddAfterStartRejected(t *testing.T) {
	s := cron.NewScheduler(nil, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background()) //nolint:errcheck

	if err := s.Add("late", "report.generate", "@hourly", nil); err == nil {
		t.Error("add after start accepted")
	}
}

func TestScheduler_StartStopWithoutEntries(t *testing.T) {
	s := cron.NewScheduler(nil, testLogger())
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
