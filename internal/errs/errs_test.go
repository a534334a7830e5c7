package errs

import (
	"errors"
	"testing"
	"time"
)

func TestErrorUnwrapAndAs(t *testing.T) {
	cause := errors.New("disk full")
	err := Registry("write failed").WithCause(cause)

	var wrapped error = err
	if !errors.Is(wrapped, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}

	got, ok := As(wrapped)
	if !ok {
		t.Fatal("expected errors.As to match *Error")
	}
	if got.Kind != KindRegistry {
		t.Errorf("Kind = %q, want %q", got.Kind, KindRegistry)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"validation never retries", Validation("bad field"), false},
		{"auth never retries", Auth("missing credentials"), false},
		{"timeout never retries", Timeout("deadline exceeded"), false},
		{"network retries", Network("connection reset"), true},
		{"explicit override wins", Validation("x").WithRetryable(true), true},
		{"plain error retries", errors.New("boom"), true},
		{"circuit breaker terminal", CircuitBreakerOpen("open", time.Now()), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRetryableHTTPStatus(t *testing.T) {
	retry := []int{429, 500, 502, 503, 504}
	for _, s := range retry {
		if !RetryableHTTPStatus(s) {
			t.Errorf("status %d should be retryable", s)
		}
	}
	never := []int{401, 403}
	for _, s := range never {
		if RetryableHTTPStatus(s) {
			t.Errorf("status %d should never be retryable", s)
		}
	}
}

func TestRetryExhaustedCarriesAttemptsAndCause(t *testing.T) {
	cause := errors.New("last failure")
	err := RetryExhausted(3, cause)
	if err.Context["attempts"] != 3 {
		t.Errorf("attempts = %v, want 3", err.Context["attempts"])
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be discoverable via errors.Is")
	}
}
