package breaker

import (
	"sync"
)

// AdaptiveConfig derives the trip decision from a rolling error-rate
// percentage instead of a fixed consecutive-failure count.
type AdaptiveConfig struct {
	// ErrorRate in [0, 1] at or above which the breaker opens.
	ErrorRate float64
	// MinSamples is the window size; the rate is recomputed once per
	// window, never per call.
	MinSamples int
}

// DefaultAdaptiveConfig opens the breaker at a 50% error rate over 20 calls.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{ErrorRate: 0.5, MinSamples: 20}
}

// Adaptive wraps a Breaker and trips it based on the rolling error rate of
// the last MinSamples outcomes.
type Adaptive struct {
	*Breaker
	cfg AdaptiveConfig

	mu       sync.Mutex
	failures int
	total    int
}

// NewAdaptive creates an adaptive breaker. The embedded breaker keeps its
// timeout/half-open behavior; only the closed-state trip condition changes.
func NewAdaptive(name string, cfg Config, acfg AdaptiveConfig) *Adaptive {
	if acfg.MinSamples <= 0 {
		acfg.MinSamples = 20
	}
	if acfg.ErrorRate <= 0 || acfg.ErrorRate > 1 {
		acfg.ErrorRate = 0.5
	}
	// The fixed threshold is effectively replaced: make it unreachable so
	// only the window decision trips the breaker.
	cfg.FailureThreshold = int(^uint(0) >> 1)
	return &Adaptive{
		Breaker: New(name, cfg),
		cfg:     acfg,
	}
}

// RecordSuccess records a successful call into the window.
func (a *Adaptive) RecordSuccess() {
	a.Breaker.RecordSuccess()
	a.observe(false)
}

// RecordFailure records a failed call into the window.
func (a *Adaptive) RecordFailure() {
	a.Breaker.RecordFailure()
	a.observe(true)
}

// observe accumulates one outcome and evaluates the window when full.
func (a *Adaptive) observe(failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if failed {
		a.failures++
	}
	if a.total < a.cfg.MinSamples {
		return
	}

	rate := float64(a.failures) / float64(a.total)
	a.failures = 0
	a.total = 0

	if rate >= a.cfg.ErrorRate && a.Breaker.State() == StateClosed {
		a.Breaker.mu.Lock()
		a.Breaker.openLocked()
		a.Breaker.mu.Unlock()
	}
}
