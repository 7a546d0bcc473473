package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/jobq/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"RepeatID", id.NewRepeatID, "rpt_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"JobID", id.NewJobID, id.ParseJobID},
		{"RepeatID", id.NewRepeatID, id.ParseRepeatID},
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.Compare(original) != 0 {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseJobID(id.NewWorkerID().String()); err == nil {
		t.Error("ParseJobID accepted a worker ID")
	}
	if _, err := id.ParseRepeatID(id.NewJobID().String()); err == nil {
		t.Error("ParseRepeatID accepted a job ID")
	}
	if _, err := id.ParseWorkerID(id.NewRepeatID().String()); err == nil {
		t.Error("ParseWorkerID accepted a repeat ID")
	}
}

func TestParseOptional(t *testing.T) {
	got, err := id.ParseOptional("", id.PrefixRepeat)
	if err != nil {
		t.Fatalf("ParseOptional(\"\"): %v", err)
	}
	if !got.IsNil() {
		t.Error("expected Nil for empty input")
	}

	if _, err := id.ParseOptional(id.NewJobID().String(), id.PrefixRepeat); err == nil {
		t.Error("expected prefix mismatch error")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestCompare(t *testing.T) {
	a := id.NewJobID()
	b, err := id.Parse(a.String())
	if err != nil {
		t.Fatal(err)
	}
	if a.Compare(b) != 0 {
		t.Errorf("expected equal IDs to compare 0")
	}
	if id.Nil.Compare(a) >= 0 {
		t.Errorf("expected Nil to sort before %q", a)
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewJobID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if unmarshalErr := restored.UnmarshalText(data); unmarshalErr != nil {
		t.Fatalf("UnmarshalText failed: %v", unmarshalErr)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	var nilID id.ID
	data, err = nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewRepeatID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var scanned2 id.ID
	if err := scanned2.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of nil")
	}

	if err := scanned2.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewJobID()
	b := id.NewJobID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewJobID() calls returned the same ID: %q", a.String())
	}
}

func TestNewOccurrenceID(t *testing.T) {
	series := id.NewRepeatID()

	a := id.NewOccurrenceID(series, 2)
	b := id.NewOccurrenceID(series, 2)
	if a.String() != b.String() {
		t.Errorf("same occurrence gave %q and %q", a, b)
	}
	if a.Prefix() != id.PrefixJob {
		t.Errorf("expected prefix %q, got %q", id.PrefixJob, a.Prefix())
	}
	if c := id.NewOccurrenceID(series, 3); c.String() == a.String() {
		t.Errorf("occurrences 2 and 3 share ID %q", a)
	}
	if d := id.NewOccurrenceID(id.NewRepeatID(), 2); d.String() == a.String() {
		t.Errorf("two series share ID %q", a)
	}

	parsed, err := id.ParseJobID(a.String())
	if err != nil {
		t.Fatalf("parse derived ID: %v", err)
	}
	if parsed.String() != a.String() {
		t.Errorf("round trip: got %q, want %q", parsed, a)
	}
}
