package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ossp-agi/agentmesh/internal/errs"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		Strategy:    StrategyFixed,
		BaseDelay:   1 * time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesOnRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errs.Network("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	sentinel := errs.Validation("bad input")
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected the non-retryable error to surface unchanged, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for a non-retryable error)", calls)
	}
}

func TestDoExhaustsAndWrapsLastError(t *testing.T) {
	calls := 0
	last := errors.New("still failing")
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return last
	})

	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected an errs.Error, got %v", err)
	}
	if e.Kind != errs.KindRetry {
		t.Errorf("Kind = %q, want %q", e.Kind, errs.KindRetry)
	}
	if calls != fastPolicy().MaxAttempts {
		t.Errorf("calls = %d, want %d", calls, fastPolicy().MaxAttempts)
	}
	if !errors.Is(err, last) {
		t.Error("expected the wrapped cause to be discoverable via errors.Is")
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(), func(context.Context) error {
		calls++
		return nil
	})
	if err == nil {
		t.Fatal("expected an error from a pre-canceled context")
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 for an already-canceled context", calls)
	}
}

func TestDelayStrategies(t *testing.T) {
	cases := []struct {
		name     string
		strategy Strategy
	}{
		{"immediate", StrategyImmediate},
		{"fixed", StrategyFixed},
		{"linear", StrategyLinear},
		{"exponential", StrategyExponential},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Policy{Strategy: tc.strategy, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
			d := p.Delay(1)
			if d < 0 {
				t.Errorf("Delay(1) = %v, want non-negative", d)
			}
		})
	}
}

func TestDelayRespectsMaxDelay(t *testing.T) {
	p := Policy{Strategy: StrategyExponential, BaseDelay: time.Second, MaxDelay: 2 * time.Second}
	d := p.Delay(10)
	if d > 2*time.Second {
		t.Errorf("Delay(10) = %v, want capped at MaxDelay", d)
	}
}

func TestShouldRetryOverride(t *testing.T) {
	calls := 0
	p := fastPolicy()
	p.ShouldRetry = func(err error) bool { return false }

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errs.Network("would normally retry")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 when ShouldRetry always returns false", calls)
	}
	if err == nil {
		t.Fatal("expected an error")
	}
}
