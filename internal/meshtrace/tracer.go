package meshtrace

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TraceEntry records one active or completed trace span, matching the
// trace-span bookkeeping requirement.
type TraceEntry struct {
	ID        string
	Operation string
	StartedAt time.Time
	EndedAt   time.Time
	Status    string // "active", "ok", "error"
	Context   map[string]any
	Result    any
	Duration  time.Duration
}

// Tracer tracks in-flight and recently completed trace spans and keeps a
// moving average of operation durations. Grounded on an
// internal/health/checker.go-style mutex-guarded map-of-counters pattern,
// generalized from failure counts to trace spans.
type Tracer struct {
	mu      sync.Mutex
	active  map[string]*TraceEntry
	history []TraceEntry
	maxHist int

	avgMu    sync.Mutex
	avgCount map[string]int64
	avgTotal map[string]time.Duration

	durationHist *prometheus.HistogramVec
}

const defaultMaxHistory = 256

func newTracer() *Tracer {
	return &Tracer{
		active:   make(map[string]*TraceEntry),
		maxHist:  defaultMaxHistory,
		avgCount: make(map[string]int64),
		avgTotal: make(map[string]time.Duration),
		durationHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentmesh",
			Subsystem: "trace",
			Name:      "operation_duration_seconds",
			Help:      "Duration of traced operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}
}

// Register registers the tracer's prometheus collectors against reg.
func (t *Tracer) Register(reg prometheus.Registerer) error {
	return reg.Register(t.durationHist)
}

// StartTrace opens a new trace span for operation and returns its ID.
func (t *Tracer) StartTrace(op string, ctx map[string]any) string {
	id := NewID()
	entry := &TraceEntry{
		ID:        id,
		Operation: op,
		StartedAt: time.Now(),
		Status:    "active",
		Context:   ctx,
	}

	t.mu.Lock()
	t.active[id] = entry
	t.mu.Unlock()
	return id
}

// CompleteTrace closes the trace span identified by traceID with the given
// terminal status ("ok" or "error") and result payload. Completing an
// unknown traceID is a no-op; spans are expected to be completed exactly
// once by the code that started them.
func (t *Tracer) CompleteTrace(traceID, status string, result any) {
	t.mu.Lock()
	entry, ok := t.active[traceID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, traceID)

	entry.EndedAt = time.Now()
	entry.Status = status
	entry.Result = result
	entry.Duration = entry.EndedAt.Sub(entry.StartedAt)

	t.history = append(t.history, *entry)
	if len(t.history) > t.maxHist {
		t.history = t.history[len(t.history)-t.maxHist:]
	}
	t.mu.Unlock()

	t.recordDuration(entry.Operation, status, entry.Duration)
}

func (t *Tracer) recordDuration(op, status string, d time.Duration) {
	t.avgMu.Lock()
	t.avgCount[op]++
	t.avgTotal[op] += d
	t.avgMu.Unlock()

	if t.durationHist != nil {
		t.durationHist.WithLabelValues(op, status).Observe(d.Seconds())
	}
}

// ActiveTraces returns a snapshot of all currently open spans.
func (t *Tracer) ActiveTraces() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TraceEntry, 0, len(t.active))
	for _, e := range t.active {
		out = append(out, *e)
	}
	return out
}

// RecentTraces returns a snapshot of the most recently completed spans,
// oldest first, bounded by the tracer's retained history window.
func (t *Tracer) RecentTraces() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TraceEntry, len(t.history))
	copy(out, t.history)
	return out
}

// AverageDuration returns the moving average duration observed for op
// across every completed span, or zero if op has never completed.
func (t *Tracer) AverageDuration(op string) time.Duration {
	t.avgMu.Lock()
	defer t.avgMu.Unlock()

	count := t.avgCount[op]
	if count == 0 {
		return 0
	}
	return t.avgTotal[op] / time.Duration(count)
}
