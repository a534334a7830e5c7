// Package meshbreaker implements a three-state circuit breaker guarding
// calls to unreliable downstream agents. The API shape — Config, Execute,
// state transitions driven by consecutive failure/success counts — follows
// a resilience-package convention for breaker usage: configure thresholds
// and a cooldown window, wrap calls in Execute, let the state machine do
// the rest.
package meshbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/ossp-agi/agentmesh/internal/errs"
	"github.com/prometheus/client_golang/prometheus"
)

// State is one of the breaker's three states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed
	// state that trips the breaker to Open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in HalfOpen
	// state required to close the breaker again.
	SuccessThreshold int
	// OpenDuration is how long the breaker stays Open before allowing a
	// single HalfOpen probe call through.
	OpenDuration time.Duration
	// HistorySize bounds the retained event history.
	HistorySize int
}

// DefaultConfig returns sensible defaults for a breaker guarding an outbound call.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenDuration:     30 * time.Second,
		HistorySize:      100,
	}
}

// Event records one state transition or call outcome for observability.
type Event struct {
	Timestamp time.Time
	From      State
	To        State
	Reason    string
}

// Breaker is a three-state circuit breaker: Closed calls pass through;
// after FailureThreshold consecutive failures it trips Open and rejects
// calls immediately; after OpenDuration it allows one HalfOpen probe; a
// run of SuccessThreshold probe successes closes it again, any HalfOpen
// failure reopens it.
type Breaker struct {
	name string
	cfg  Config

	mu               sync.Mutex
	state            State
	consecutiveFails int
	consecutiveOK    int
	openedAt         time.Time
	halfOpenInFlight bool

	history []Event

	listeners []func(Event)

	totalCalls      int64
	successfulCalls int64
	failedCalls     int64
	timeoutCalls    int64
	opens           int64
	closes          int64

	callsTotal *prometheus.CounterVec
	stateGauge prometheus.Gauge
}

// Metrics is a point-in-time snapshot of a Breaker's cumulative call
// outcomes and state-transition counts, plus rates derived from them.
type Metrics struct {
	Total       int64
	Successful  int64
	Failed      int64
	Timeouts    int64
	Opens       int64
	Closes      int64
	FailureRate float64
	TimeoutRate float64
}

// New constructs a Breaker named name (used as a metrics label) with cfg.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Subsystem: "breaker",
			Name:      "calls_total",
			Help:      "Circuit breaker call outcomes by breaker name and result (success, failure, timeout, rejected).",
			ConstLabels: prometheus.Labels{"breaker": name},
		}, []string{"result"}),
		stateGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "agentmesh",
			Subsystem:   "breaker",
			Name:        "state",
			Help:        "Circuit breaker state (0=closed, 1=half_open, 2=open).",
			ConstLabels: prometheus.Labels{"breaker": name},
		}),
	}
}

// Register registers the breaker's prometheus collectors against reg.
func (b *Breaker) Register(reg prometheus.Registerer) error {
	if err := reg.Register(b.callsTotal); err != nil {
		return err
	}
	return reg.Register(b.stateGauge)
}

// OnEvent registers a listener invoked on every state transition. Listeners
// run on a separate goroutine after the transition, not on the caller's
// goroutine; intended for logging hooks.
func (b *Breaker) OnEvent(fn func(Event)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// State returns the breaker's current state, resolving an expired Open
// window to HalfOpen as a side effect (matching allow()'s own check so
// callers observing State() see the same answer Execute would act on).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExpireOpen()
	return b.state
}

// maybeExpireOpen must be called with b.mu held.
func (b *Breaker) maybeExpireOpen() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.OpenDuration {
		b.transition(StateHalfOpen, "open duration elapsed")
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State, reason string) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.consecutiveFails = 0
	b.consecutiveOK = 0
	if to == StateOpen {
		b.openedAt = time.Now()
		b.opens++
	}
	if to == StateClosed {
		b.closes++
	}
	b.halfOpenInFlight = false

	ev := Event{Timestamp: time.Now(), From: from, To: to, Reason: reason}
	b.history = append(b.history, ev)
	if len(b.history) > b.cfg.HistorySize && b.cfg.HistorySize > 0 {
		b.history = b.history[len(b.history)-b.cfg.HistorySize:]
	}
	b.setGauge(to)

	listeners := append([]func(Event){}, b.listeners...)
	go func() {
		for _, fn := range listeners {
			fn(ev)
		}
	}()
}

func (b *Breaker) setGauge(s State) {
	switch s {
	case StateClosed:
		b.stateGauge.Set(0)
	case StateHalfOpen:
		b.stateGauge.Set(1)
	case StateOpen:
		b.stateGauge.Set(2)
	}
}

// allow decides whether a call may proceed, reserving the single HalfOpen
// probe slot if applicable. Must be called with b.mu held.
func (b *Breaker) allow() (bool, *errs.Error) {
	b.maybeExpireOpen()

	switch b.state {
	case StateClosed:
		return true, nil
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return false, errs.CircuitBreakerOpen(string(StateHalfOpen), b.openedAt.Add(b.cfg.OpenDuration))
		}
		b.halfOpenInFlight = true
		return true, nil
	default: // StateOpen
		return false, errs.CircuitBreakerOpen(string(StateOpen), b.openedAt.Add(b.cfg.OpenDuration))
	}
}

// Execute runs fn if the breaker's state allows it, recording the outcome
// and driving state transitions. Returns errs.CircuitBreakerOpen without
// invoking fn when the breaker rejects the call.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	ok, rejectErr := b.allow()
	b.mu.Unlock()

	if !ok {
		b.callsTotal.WithLabelValues("rejected").Inc()
		return rejectErr
	}

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	if b.state == StateHalfOpen {
		b.halfOpenInFlight = false
	}

	if err != nil {
		b.failedCalls++
		isTimeout := false
		if e, ok := errs.As(err); ok && e.Kind == errs.KindTimeout {
			isTimeout = true
		}
		if isTimeout {
			b.timeoutCalls++
			b.callsTotal.WithLabelValues("timeout").Inc()
		} else {
			b.callsTotal.WithLabelValues("failure").Inc()
		}
		b.consecutiveOK = 0
		b.consecutiveFails++

		switch b.state {
		case StateHalfOpen:
			b.transition(StateOpen, "probe call failed")
		case StateClosed:
			if b.consecutiveFails >= b.cfg.FailureThreshold {
				b.transition(StateOpen, "failure threshold exceeded")
			}
		}
		return err
	}

	b.successfulCalls++
	b.callsTotal.WithLabelValues("success").Inc()
	b.consecutiveFails = 0
	b.consecutiveOK++

	if b.state == StateHalfOpen && b.consecutiveOK >= b.cfg.SuccessThreshold {
		b.transition(StateClosed, "success threshold reached")
	}
	return nil
}

// Metrics returns a snapshot of cumulative call outcomes and
// state-transition counts, with failure/timeout rates derived over Total.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{
		Total:      b.totalCalls,
		Successful: b.successfulCalls,
		Failed:     b.failedCalls,
		Timeouts:   b.timeoutCalls,
		Opens:      b.opens,
		Closes:     b.closes,
	}
	if m.Total > 0 {
		m.FailureRate = float64(m.Failed) / float64(m.Total)
		m.TimeoutRate = float64(m.Timeouts) / float64(m.Total)
	}
	return m
}

// History returns a snapshot of recent state transitions, oldest first.
func (b *Breaker) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Reset forces the breaker back to Closed, clearing counters. Intended for
// administrative use (e.g. an API endpoint) and tests.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed, "manual reset")
}
