package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// SlidingWindow admits events while the count of admissions within the
// trailing window stays under the configured maximum. Smoother than a token
// bucket at the cost of O(max_requests) memory.
type SlidingWindow struct {
	name string

	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	timestamps  []time.Time

	now func() time.Time
}

// NewSlidingWindow creates a sliding window limiter; name labels the
// limiter's metrics.
func NewSlidingWindow(name string, window time.Duration, maxRequests int) (*SlidingWindow, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window_size must be positive, got %v", window)
	}
	if maxRequests <= 0 {
		return nil, fmt.Errorf("max_requests must be positive, got %d", maxRequests)
	}
	sw := &SlidingWindow{
		name:        name,
		window:      window,
		maxRequests: maxRequests,
		timestamps:  make([]time.Time, 0, maxRequests),
		now:         time.Now,
	}
	currentRate.WithLabelValues(AlgorithmSlidingWindow, name).Set(sw.Rate())
	return sw, nil
}

// Admit records n admissions if they fit in the trailing window; otherwise
// it reports the time until enough old admissions age out.
func (sw *SlidingWindow) Admit(n int) Decision {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.pruneLocked(now)

	if len(sw.timestamps)+n <= sw.maxRequests {
		for i := 0; i < n; i++ {
			sw.timestamps = append(sw.timestamps, now)
		}
		admittedTotal.WithLabelValues(AlgorithmSlidingWindow, sw.name).Add(float64(n))
		return Decision{Allow: true}
	}

	deniedTotal.WithLabelValues(AlgorithmSlidingWindow, sw.name).Inc()
	// The request fits once the (deficit)th oldest admission leaves the window.
	deficit := len(sw.timestamps) + n - sw.maxRequests
	if deficit > len(sw.timestamps) {
		// n alone exceeds the window capacity; the best we can offer is a
		// full window from now.
		return Decision{Wait: sw.window}
	}
	wait := sw.timestamps[deficit-1].Add(sw.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return Decision{Wait: wait}
}

// Rate returns the configured ceiling normalized to events/second.
func (sw *SlidingWindow) Rate() float64 {
	return float64(sw.maxRequests) / sw.window.Seconds()
}

// Burst returns the window capacity, the largest admissible n.
func (sw *SlidingWindow) Burst() int {
	return sw.maxRequests
}

// pruneLocked drops timestamps older than the trailing window. Must be
// called with sw.mu held.
func (sw *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(sw.timestamps) && !sw.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.timestamps = append(sw.timestamps[:0], sw.timestamps[i:]...)
	}
}
