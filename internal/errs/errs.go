// Package errs defines the typed error taxonomy shared by every component
// of the control plane, built around an ErrValidation/errors.As-style
// pattern generalized to cover every failure kind the control plane raises.
package errs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an Error into one of the taxonomy's buckets.
type Kind string

const (
	KindFormat         Kind = "format"
	KindValidation     Kind = "validation"
	KindResolution     Kind = "resolution"
	KindAuth           Kind = "auth"
	KindTimeout        Kind = "timeout"
	KindNetwork        Kind = "network"
	KindProtocol       Kind = "protocol"
	KindCircuitBreaker Kind = "circuit_breaker"
	KindRetry          Kind = "retry"
	KindCancellation   Kind = "cancellation"
	KindRateLimit      Kind = "rate_limit"
	KindRegistry       Kind = "registry"
	KindDiscovery      Kind = "discovery"
	KindMCP            Kind = "mcp"
	KindA2A            Kind = "a2a"
)

// Error is the structured, correlation-aware failure type every component
// returns.
type Error struct {
	Kind      Kind
	Message   string
	Timestamp time.Time
	ID        string
	Context   map[string]any
	Cause     error

	// Retryable overrides the default classification in IsRetryable when
	// non-nil — set explicitly by a caller that knows better than the
	// Kind default.
	Retryable *bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string) *Error {
	return &Error{
		Kind:      kind,
		Message:   msg,
		Timestamp: time.Now().UTC(),
		ID:        uuid.New().String(),
		Context:   make(map[string]any),
	}
}

// WithContext attaches a key/value pair to the error's context and returns
// the same error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// WithCause attaches a wrapped cause and returns the same error for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable pins the retryable classification explicitly.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = &retryable
	return e
}

// Format constructs a KindFormat error (malformed URN, malformed input).
func Format(format string, args ...any) *Error { return newErr(KindFormat, fmt.Sprintf(format, args...)) }

// Validation constructs a KindValidation error (recognized shape, rule violation).
func Validation(format string, args ...any) *Error {
	return newErr(KindValidation, fmt.Sprintf(format, args...))
}

// Resolution constructs a KindResolution error (entity absent/duplicate).
func Resolution(format string, args ...any) *Error {
	return newErr(KindResolution, fmt.Sprintf(format, args...))
}

// Auth constructs a KindAuth error.
func Auth(format string, args ...any) *Error {
	e := newErr(KindAuth, fmt.Sprintf(format, args...))
	return e.WithRetryable(false)
}

// Timeout constructs a KindTimeout error.
func Timeout(format string, args ...any) *Error {
	e := newErr(KindTimeout, fmt.Sprintf(format, args...))
	return e.WithRetryable(false)
}

// Network constructs a KindNetwork error.
func Network(format string, args ...any) *Error {
	e := newErr(KindNetwork, fmt.Sprintf(format, args...))
	return e.WithRetryable(true)
}

// Protocol constructs a KindProtocol error, optionally carrying a JSON-RPC
// code and method name in Context.
func Protocol(code int, method, format string, args ...any) *Error {
	return newErr(KindProtocol, fmt.Sprintf(format, args...)).
		WithContext("code", code).
		WithContext("method", method)
}

// CircuitBreakerOpen constructs a KindCircuitBreaker error carrying the
// breaker's state and next retry time.
func CircuitBreakerOpen(state string, nextAttempt time.Time) *Error {
	return newErr(KindCircuitBreaker, "circuit breaker is open").
		WithContext("state", state).
		WithContext("next_attempt", nextAttempt).
		WithRetryable(false)
}

// RetryExhausted constructs a KindRetry error wrapping the final cause and
// attempt count.
func RetryExhausted(attempts int, cause error) *Error {
	return newErr(KindRetry, fmt.Sprintf("retry exhausted after %d attempts", attempts)).
		WithContext("attempts", attempts).
		WithCause(cause).
		WithRetryable(false)
}

// Cancellation constructs a KindCancellation error.
func Cancellation(format string, args ...any) *Error {
	return newErr(KindCancellation, fmt.Sprintf(format, args...)).WithRetryable(false)
}

// RateLimit constructs a KindRateLimit error.
func RateLimit(format string, args ...any) *Error {
	return newErr(KindRateLimit, fmt.Sprintf(format, args...)).WithRetryable(true)
}

// Registry constructs a component-tagged KindRegistry error.
func Registry(format string, args ...any) *Error { return newErr(KindRegistry, fmt.Sprintf(format, args...)) }

// Discovery constructs a component-tagged KindDiscovery error.
func Discovery(format string, args ...any) *Error {
	return newErr(KindDiscovery, fmt.Sprintf(format, args...))
}

// MCP constructs a component-tagged KindMCP error.
func MCP(format string, args ...any) *Error { return newErr(KindMCP, fmt.Sprintf(format, args...)) }

// A2A constructs a component-tagged KindA2A error.
func A2A(format string, args ...any) *Error { return newErr(KindA2A, fmt.Sprintf(format, args...)) }

// As is a typed convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsRetryable classifies err: an explicit Retryable override wins;
// otherwise the kinds format, validation, auth, timeout, cancellation,
// circuit_breaker and retry are non-retryable, and anything else
// (including errors that are not *Error) retries. HTTP status codes are
// not inspected here; see RetryableHTTPStatus.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	e, ok := As(err)
	if !ok {
		return true
	}
	if e.Retryable != nil {
		return *e.Retryable
	}
	switch e.Kind {
	case KindFormat, KindValidation, KindAuth, KindTimeout, KindCancellation, KindCircuitBreaker, KindRetry:
		return false
	default:
		return true
	}
}

// RetryableHTTPStatus reports whether an HTTP status code should be retried
// by convention: {429, 500, 502, 503, 504} retry, {401, 403} never do.
func RetryableHTTPStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	case 401, 403:
		return false
	default:
		return false
	}
}
