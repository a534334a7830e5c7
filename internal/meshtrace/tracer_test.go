package meshtrace

import (
	"testing"
	"time"
)

func TestStartCompleteTraceMovesToHistory(t *testing.T) {
	tr := newTracer()

	id := tr.StartTrace("discover", map[string]any{"domain": "ai"})
	if active := tr.ActiveTraces(); len(active) != 1 || active[0].ID != id {
		t.Fatalf("expected one active trace with id %q, got %+v", id, active)
	}

	tr.CompleteTrace(id, "ok", map[string]any{"count": 3})

	if active := tr.ActiveTraces(); len(active) != 0 {
		t.Errorf("expected no active traces after completion, got %d", len(active))
	}

	recent := tr.RecentTraces()
	if len(recent) != 1 {
		t.Fatalf("expected one recent trace, got %d", len(recent))
	}
	if recent[0].Status != "ok" {
		t.Errorf("Status = %q, want ok", recent[0].Status)
	}
	if recent[0].Duration <= 0 {
		t.Error("expected a positive recorded duration")
	}
}

func TestCompleteTraceUnknownIDIsNoop(t *testing.T) {
	tr := newTracer()
	tr.CompleteTrace("does-not-exist", "ok", nil)

	if len(tr.RecentTraces()) != 0 {
		t.Error("expected no history entries from completing an unknown trace")
	}
}

func TestAverageDurationAccumulates(t *testing.T) {
	tr := newTracer()

	for i := 0; i < 3; i++ {
		id := tr.StartTrace("probe", nil)
		time.Sleep(time.Millisecond)
		tr.CompleteTrace(id, "ok", nil)
	}

	avg := tr.AverageDuration("probe")
	if avg <= 0 {
		t.Error("expected a positive average duration after three completed spans")
	}
	if unseen := tr.AverageDuration("never-ran"); unseen != 0 {
		t.Errorf("AverageDuration for unseen op = %v, want 0", unseen)
	}
}

func TestHistoryBounded(t *testing.T) {
	tr := newTracer()
	tr.maxHist = 2

	for i := 0; i < 5; i++ {
		id := tr.StartTrace("op", nil)
		tr.CompleteTrace(id, "ok", nil)
	}

	if got := len(tr.RecentTraces()); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
}
