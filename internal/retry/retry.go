// Package retry implements configurable backoff policies for transient
// failures, following the same resilience-package convention the circuit
// breaker uses, with a context-aware sleep idiom suited to HTTP and
// subprocess clients that need to honor cancellation mid-backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ossp-agi/agentmesh/internal/errs"
)

// Strategy selects how the delay between attempts grows.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
	StrategyImmediate   Strategy = "immediate"
)

// Policy configures retry behavior for a call site.
type Policy struct {
	MaxAttempts int
	Strategy    Strategy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction (0..1) of the computed delay randomized to
	// avoid thundering-herd retries against the same downstream agent.
	Jitter float64
	// ShouldRetry overrides errs.IsRetryable when non-nil.
	ShouldRetry func(error) bool
}

// DefaultPolicy returns a sensible default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Strategy:    StrategyExponential,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}
}

// Delay computes the backoff delay before attempt (1-indexed: the delay
// before the 2nd attempt is Delay(1)).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	var d time.Duration
	switch p.Strategy {
	case StrategyImmediate:
		d = 0
	case StrategyFixed:
		d = p.BaseDelay
	case StrategyLinear:
		d = p.BaseDelay * time.Duration(attempt)
	case StrategyExponential:
		d = time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	default:
		d = p.BaseDelay
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 && d > 0 {
		jitterRange := float64(d) * p.Jitter
		d = d - time.Duration(jitterRange/2) + time.Duration(rand.Float64()*jitterRange)
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (p Policy) retryable(err error) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return errs.IsRetryable(err)
}

// Do invokes fn until it succeeds, the policy's MaxAttempts are exhausted,
// the error is classified non-retryable, or ctx is canceled. On exhaustion
// it returns an errs.RetryExhausted wrapping the last failure.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errs.Cancellation("retry loop canceled: %v", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !p.retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errs.Cancellation("retry loop canceled during backoff: %v", ctx.Err())
			case <-timer.C:
			}
		}
	}

	return errs.RetryExhausted(p.MaxAttempts, lastErr)
}
