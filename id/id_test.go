package id_test

import (
	"testing"

	"github.com/toolplane/jobq/id"
)

func TestNew_PrefixAndUniqueness(t *testing.T) {
	a := id.NewJobID()
	b := id.NewJobID()

	if a.Prefix() != id.PrefixJob {
		t.Errorf("prefix = %q, want %q", a.Prefix(), id.PrefixJob)
	}
	if a.String() == b.String() {
		t.Errorf("two generated IDs collided: %s", a)
	}
	if a.IsNil() {
		t.Error("generated ID reported IsNil")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewLeaseID()

	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip mismatch: %s != %s", parsed, orig)
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error parsing empty string")
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	jobID := id.NewJobID()

	if _, err := id.ParseWorkerID(jobID.String()); err == nil {
		t.Error("expected prefix mismatch error")
	}
}

func TestMarshalText_Nil(t *testing.T) {
	data, err := id.Nil.MarshalText()
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("nil ID marshaled to %q, want empty", data)
	}
}

func TestScan_StringAndBytes(t *testing.T) {
	orig := id.NewWorkerID()

	var fromString id.ID
	if err := fromString.Scan(orig.String()); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if fromString.String() != orig.String() {
		t.Errorf("scan string mismatch: %s", fromString)
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("scan nil did not produce Nil ID")
	}
}
