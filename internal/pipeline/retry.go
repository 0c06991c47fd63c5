package pipeline

import (
	"math/rand"
	"time"
)

// RetryConfig controls the exponential backoff between send attempts.
type RetryConfig struct {
	// MaxAttempts is the total number of send attempts (initial + retries).
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// Multiplier grows the delay per attempt (1.0 = constant).
	Multiplier float64
	// MaxDelay caps the grown delay.
	MaxDelay time.Duration
	// Jitter randomizes each delay uniformly in (0, delay] to decorrelate
	// retry storms across pipelines.
	Jitter bool
}

// DefaultRetryConfig matches the delivery defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     time.Minute,
		Jitter:       true,
	}
}

// backoffDelay computes the delay before retry number attempt (1-based).
func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= cfg.Multiplier
		if delay >= float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		delay *= rand.Float64()
		if delay < float64(time.Millisecond) {
			delay = float64(time.Millisecond)
		}
	}
	return time.Duration(delay)
}
