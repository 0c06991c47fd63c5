package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// AdaptiveConfig parameterizes the latency-feedback limiter.
type AdaptiveConfig struct {
	// TargetLatency is the p99 send latency the limiter steers toward.
	TargetLatency time.Duration
	// InitialRate is the starting rate in events/second.
	InitialRate float64
	// MinRate and MaxRate clamp adjustments.
	MinRate float64
	MaxRate float64
	// DecreaseFactor is applied when p99 exceeds the target (e.g. 0.9).
	DecreaseFactor float64
	// IncreaseFactor is applied after CalmIntervals consecutive intervals
	// comfortably under target (e.g. 1.05).
	IncreaseFactor float64
	// CalmIntervals is the number of consecutive under-target intervals
	// required before the rate is raised.
	CalmIntervals int
	// TickInterval is how often the rate is re-evaluated. Adjustment
	// happens at most once per tick to avoid oscillation.
	TickInterval time.Duration
}

// DefaultAdaptiveConfig returns conservative adaptive settings.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		TargetLatency:  200 * time.Millisecond,
		InitialRate:    5000,
		MinRate:        100,
		MaxRate:        50000,
		DecreaseFactor: 0.9,
		IncreaseFactor: 1.05,
		CalmIntervals:  3,
		TickInterval:   time.Second,
	}
}

// adaptiveState is the feedback-loop state. Adjustment is a pure function of
// (state, latest p99 sample) so it stays deterministic and testable without
// real time.
type adaptiveState struct {
	rate       float64
	calmStreak int
}

// adjust computes the next state from an observed p99 latency. A zero p99
// means no samples were taken this interval and leaves the state untouched.
func adjust(st adaptiveState, p99 time.Duration, cfg AdaptiveConfig) adaptiveState {
	if p99 <= 0 {
		return st
	}
	if p99 > cfg.TargetLatency {
		st.rate *= cfg.DecreaseFactor
		st.calmStreak = 0
	} else {
		st.calmStreak++
		if st.calmStreak >= cfg.CalmIntervals {
			st.rate *= cfg.IncreaseFactor
			st.calmStreak = 0
		}
	}
	if st.rate < cfg.MinRate {
		st.rate = cfg.MinRate
	}
	if st.rate > cfg.MaxRate {
		st.rate = cfg.MaxRate
	}
	return st
}

// Adaptive drives a token bucket whose rate follows observed send latency.
type Adaptive struct {
	name string
	cfg  AdaptiveConfig

	mu      sync.Mutex
	state   adaptiveState
	samples []time.Duration
	bucket  *TokenBucket
}

// NewAdaptive creates an adaptive limiter; name labels the limiter's metrics.
func NewAdaptive(name string, cfg AdaptiveConfig) (*Adaptive, error) {
	if cfg.TargetLatency <= 0 {
		return nil, fmt.Errorf("target_latency must be positive, got %v", cfg.TargetLatency)
	}
	if cfg.MinRate <= 0 || cfg.MaxRate <= 0 {
		return nil, fmt.Errorf("min_rate and max_rate must be positive")
	}
	if cfg.MaxRate < cfg.MinRate {
		return nil, fmt.Errorf("max_rate %v is below min_rate %v", cfg.MaxRate, cfg.MinRate)
	}
	if cfg.InitialRate < cfg.MinRate || cfg.InitialRate > cfg.MaxRate {
		return nil, fmt.Errorf("initial_rate %v outside [%v, %v]", cfg.InitialRate, cfg.MinRate, cfg.MaxRate)
	}
	if cfg.DecreaseFactor <= 0 || cfg.DecreaseFactor >= 1 {
		return nil, fmt.Errorf("decrease_factor must be in (0, 1), got %v", cfg.DecreaseFactor)
	}
	if cfg.IncreaseFactor <= 1 {
		return nil, fmt.Errorf("increase_factor must be > 1, got %v", cfg.IncreaseFactor)
	}
	if cfg.CalmIntervals <= 0 {
		cfg.CalmIntervals = 3
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	burst := int(cfg.InitialRate / 10)
	if burst < 1 {
		burst = 1
	}
	bucket, err := NewTokenBucket(name, cfg.InitialRate, burst)
	if err != nil {
		return nil, err
	}
	currentRate.WithLabelValues(AlgorithmAdaptive, name).Set(cfg.InitialRate)
	return &Adaptive{
		name:   name,
		cfg:    cfg,
		state:  adaptiveState{rate: cfg.InitialRate},
		bucket: bucket,
	}, nil
}

// Admit delegates to the underlying bucket at the current adaptive rate.
func (a *Adaptive) Admit(n int) Decision {
	return a.bucket.Admit(n)
}

// Burst returns the underlying bucket's capacity. It is fixed at
// construction; rate adjustments change refill speed, not capacity.
func (a *Adaptive) Burst() int {
	return a.bucket.Burst()
}

// Rate returns the current adaptive rate.
func (a *Adaptive) Rate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.rate
}

// Observe records one send latency sample for the current interval.
func (a *Adaptive) Observe(latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = append(a.samples, latency)
}

// Tick applies one adjustment from the samples collected since the last
// tick and resets the interval. Callers invoke it on cfg.TickInterval.
func (a *Adaptive) Tick() {
	a.mu.Lock()
	p99 := percentile99(a.samples)
	a.samples = a.samples[:0]
	a.state = adjust(a.state, p99, a.cfg)
	rate := a.state.rate
	a.mu.Unlock()

	a.bucket.setRate(rate)
	currentRate.WithLabelValues(AlgorithmAdaptive, a.name).Set(rate)
}

// Run ticks the limiter until stop is closed.
func (a *Adaptive) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.Tick()
		}
	}
}

// percentile99 returns the p99 of the samples, or 0 when empty.
func percentile99(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * 99 / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
