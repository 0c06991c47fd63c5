// Package breaker guards sink calls with a circuit breaker so a dead
// endpoint fails fast instead of piling up latency and retries.
package breaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int32

const (
	StateClosed   State = 0
	StateOpen     State = 1
	StateHalfOpen State = 2
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker settings.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. 0 disables the breaker (always closed).
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open probe
	// successes required to close the breaker again.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before admitting probes.
	Timeout time.Duration
	// HalfOpenRequests caps concurrent probes while half-open.
	HalfOpenRequests int
}

// DefaultConfig returns conservative breaker settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Breaker is a circuit breaker driven solely by sink call outcomes.
// Thread-safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	probesInFlight      int
	openedAt            time.Time

	now func() time.Time

	// onTransition is an optional callback for state transitions.
	onTransition func(name string, from, to State)
}

// New creates a circuit breaker in the closed state.
func New(name string, cfg Config) *Breaker {
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
	stateGauge.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// SetTransitionCallback sets an optional callback for state transitions.
func (b *Breaker) SetTransitionCallback(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. While open all calls are
// short-circuited; while half-open at most HalfOpenRequests concurrent
// probes pass and everything else is short-circuited too.
func (b *Breaker) Allow() bool {
	if b.cfg.FailureThreshold <= 0 {
		return true // disabled
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Timeout {
			b.transitionLocked(StateHalfOpen)
			b.halfOpenSuccesses = 0
			b.probesInFlight = 1
			return true
		}
		shortCircuitTotal.WithLabelValues(b.name).Inc()
		return false
	case StateHalfOpen:
		if b.probesInFlight < b.cfg.HalfOpenRequests {
			b.probesInFlight++
			return true
		}
		shortCircuitTotal.WithLabelValues(b.name).Inc()
		return false
	default:
		return true
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	if b.cfg.FailureThreshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0

	if b.state == StateHalfOpen {
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	}
}

// RecordFailure records a failed call. A probe failure while half-open
// reopens the breaker immediately and restarts the timeout.
func (b *Breaker) RecordFailure() {
	if b.cfg.FailureThreshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case StateHalfOpen:
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		b.openLocked()
	}
}

// ConsecutiveFailures returns the current failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// openLocked moves to the open state and restarts the timeout. Must be
// called with b.mu held.
func (b *Breaker) openLocked() {
	b.openedAt = b.now()
	b.transitionLocked(StateOpen)
	openTotal.WithLabelValues(b.name).Inc()
}

// transitionLocked changes the state. Must be called with b.mu held.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	stateGauge.WithLabelValues(b.name).Set(float64(to))
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}
