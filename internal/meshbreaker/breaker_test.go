package meshbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ossp-agi/agentmesh/internal/errs"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenDuration:     20 * time.Millisecond,
		HistorySize:      16,
	}
}

func TestClosedStaysClosedUnderThreshold(t *testing.T) {
	b := New("test", testConfig())
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}

	if b.State() != StateClosed {
		t.Errorf("State() = %q, want %q", b.State(), StateClosed)
	}
}

func TestTripsOpenAtFailureThreshold(t *testing.T) {
	b := New("test", testConfig())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}

	if b.State() != StateOpen {
		t.Fatalf("State() = %q, want %q", b.State(), StateOpen)
	}

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected Execute to reject calls while open")
	}
	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected a circuit breaker error, got %v", err)
	}
	if e.Kind != errs.KindCircuitBreaker {
		t.Errorf("Kind = %q, want %q", e.Kind, errs.KindCircuitBreaker)
	}
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	b := New("test", testConfig())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}
	if b.State() != StateOpen {
		t.Fatal("expected breaker to be open")
	}

	time.Sleep(25 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %q, want %q after open duration elapses", b.State(), StateHalfOpen)
	}

	for i := 0; i < 2; i++ {
		if err := b.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
			t.Fatalf("unexpected error on probe %d: %v", i, err)
		}
	}

	if b.State() != StateClosed {
		t.Errorf("State() = %q, want %q after success threshold reached", b.State(), StateClosed)
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	b := New("test", testConfig())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}
	time.Sleep(25 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatal("expected breaker to be half-open")
	}

	_ = b.Execute(context.Background(), func(context.Context) error { return boom })

	if b.State() != StateOpen {
		t.Errorf("State() = %q, want %q after a failed probe", b.State(), StateOpen)
	}
}

func TestHalfOpenOnlyAllowsOneProbeAtATime(t *testing.T) {
	b := New("test", testConfig())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}
	time.Sleep(25 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if err == nil {
		t.Error("expected the second half-open probe to be rejected")
	}
	close(release)
}

func TestResetForcesClosed(t *testing.T) {
	b := New("test", testConfig())
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("State() = %q, want %q after Reset", b.State(), StateClosed)
	}
}

func TestMetricsTracksCumulativeCounts(t *testing.T) {
	b := New("test", testConfig())
	boom := errors.New("boom")

	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}
	// Breaker is now Open; this call is rejected and must not count as a
	// successful or failed call.
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })

	m := b.Metrics()
	if m.Total != 5 {
		t.Errorf("Total = %d, want 5", m.Total)
	}
	if m.Successful != 2 {
		t.Errorf("Successful = %d, want 2", m.Successful)
	}
	if m.Failed != 3 {
		t.Errorf("Failed = %d, want 3", m.Failed)
	}
	if m.Timeouts != 0 {
		t.Errorf("Timeouts = %d, want 0", m.Timeouts)
	}
	if m.Opens != 1 {
		t.Errorf("Opens = %d, want 1", m.Opens)
	}
	if want := 3.0 / 5.0; m.FailureRate != want {
		t.Errorf("FailureRate = %v, want %v", m.FailureRate, want)
	}
}

func TestMetricsTracksTimeoutsSeparatelyFromFailures(t *testing.T) {
	b := New("test", testConfig())
	timeoutErr := errs.Timeout("deadline exceeded")

	_ = b.Execute(context.Background(), func(context.Context) error { return timeoutErr })
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })

	m := b.Metrics()
	if m.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", m.Timeouts)
	}
	if m.Failed != 2 {
		t.Errorf("Failed = %d, want 2 (timeouts still count as failures)", m.Failed)
	}
}

func TestMetricsTracksOpensAndCloses(t *testing.T) {
	b := New("test", testConfig())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}
	time.Sleep(25 * time.Millisecond)
	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	}

	m := b.Metrics()
	if m.Opens != 1 {
		t.Errorf("Opens = %d, want 1", m.Opens)
	}
	if m.Closes != 1 {
		t.Errorf("Closes = %d, want 1", m.Closes)
	}
}

func TestHistoryRecordsTransitions(t *testing.T) {
	b := New("test", testConfig())
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}

	hist := b.History()
	if len(hist) == 0 {
		t.Fatal("expected at least one recorded transition")
	}
	if hist[len(hist)-1].To != StateOpen {
		t.Errorf("last transition To = %q, want %q", hist[len(hist)-1].To, StateOpen)
	}
}
