package golden

import (
	"path/filepath"
	"testing"
)

func sampleEvents() []Event {
	return []Event{
		{Tick: 0, Pin: "step0", Level: "High"},
		{Tick: 10, Pin: "step0", Level: "Low"},
		{Tick: 1000, Pin: "step0", Level: "High"},
	}
}

func TestCompareTraceUpdateThenMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.golden.gz")
	events := sampleEvents()

	if err := CompareTrace(path, true, events); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := CompareTrace(path, false, events); err != nil {
		t.Fatalf("compare against freshly written golden: %v", err)
	}
}

func TestCompareTraceDetectsMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.golden.gz")
	if err := CompareTrace(path, true, sampleEvents()); err != nil {
		t.Fatalf("update: %v", err)
	}

	changed := sampleEvents()
	changed[1].Level = "High"
	if err := CompareTrace(path, false, changed); err == nil {
		t.Fatal("expected mismatch error, got nil")
	}

	shorter := sampleEvents()[:2]
	if err := CompareTrace(path, false, shorter); err == nil {
		t.Fatal("expected length-mismatch error, got nil")
	}
}
