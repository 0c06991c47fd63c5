// Package ratelimit caps outbound event throughput. Limiters never block:
// Admit returns a decision and callers choose whether to sleep the returned
// wait or apply backpressure instead.
package ratelimit

import (
	"fmt"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	// Allow reports whether n events may be sent now.
	Allow bool
	// Wait is the time until enough budget accrues when Allow is false.
	Wait time.Duration
}

// Limiter admits or delays outbound sends to stay under a configured
// events/second ceiling.
type Limiter interface {
	// Admit asks to send n events. It never blocks.
	Admit(n int) Decision
	// Rate returns the current effective rate limit in events/second.
	Rate() float64
	// Burst returns the largest n a single Admit call can ever allow.
	// Callers sending in fixed-size batches must keep the batch size at or
	// under this bound or admission would deny forever.
	Burst() int
}

// Algorithm names accepted by New.
const (
	AlgorithmTokenBucket   = "token_bucket"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmAdaptive      = "adaptive"
)

// Config selects and parameterizes a limiter.
type Config struct {
	Algorithm       string
	TokensPerSecond float64
	BurstSize       int
	WindowSize      time.Duration
	MaxRequests     int
	Adaptive        AdaptiveConfig
}

// DefaultConfig returns a token bucket at 10k events/s with a 1k burst.
func DefaultConfig() Config {
	return Config{
		Algorithm:       AlgorithmTokenBucket,
		TokensPerSecond: 10000,
		BurstSize:       1000,
		WindowSize:      time.Second,
		MaxRequests:     10000,
		Adaptive:        DefaultAdaptiveConfig(),
	}
}

// New builds the limiter named by cfg.Algorithm for one source stream; name
// labels the limiter's metrics. Misconfiguration is rejected here; a
// constructed limiter never fails at admission time.
func New(name string, cfg Config) (Limiter, error) {
	switch cfg.Algorithm {
	case "", AlgorithmTokenBucket:
		return NewTokenBucket(name, cfg.TokensPerSecond, cfg.BurstSize)
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(name, cfg.WindowSize, cfg.MaxRequests)
	case AlgorithmAdaptive:
		return NewAdaptive(name, cfg.Adaptive)
	default:
		return nil, fmt.Errorf("unknown rate limiting algorithm: %s", cfg.Algorithm)
	}
}
