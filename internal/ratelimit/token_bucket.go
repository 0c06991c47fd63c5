package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// TokenBucket is the baseline limiter: capacity refills at a fixed rate and
// each admitted event consumes one token.
type TokenBucket struct {
	name string

	mu         sync.Mutex
	rate       float64 // tokens per second
	capacity   float64
	tokens     float64
	lastRefill time.Time

	now func() time.Time
}

// NewTokenBucket creates a token bucket with the given refill rate and burst
// capacity; name labels the limiter's metrics.
func NewTokenBucket(name string, tokensPerSecond float64, burstSize int) (*TokenBucket, error) {
	if tokensPerSecond <= 0 {
		return nil, fmt.Errorf("tokens_per_second must be positive, got %v", tokensPerSecond)
	}
	if burstSize <= 0 {
		return nil, fmt.Errorf("burst_size must be positive, got %d", burstSize)
	}
	tb := &TokenBucket{
		name:     name,
		rate:     tokensPerSecond,
		capacity: float64(burstSize),
		now:      time.Now,
	}
	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
	currentRate.WithLabelValues(AlgorithmTokenBucket, name).Set(tokensPerSecond)
	return tb, nil
}

// Admit consumes n tokens if available; otherwise it reports the time until
// enough tokens accrue.
func (tb *TokenBucket) Admit(n int) Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	need := float64(n)
	if tb.tokens >= need {
		tb.tokens -= need
		admittedTotal.WithLabelValues(AlgorithmTokenBucket, tb.name).Add(float64(n))
		return Decision{Allow: true}
	}

	deniedTotal.WithLabelValues(AlgorithmTokenBucket, tb.name).Inc()
	deficit := need - tb.tokens
	wait := time.Duration(deficit / tb.rate * float64(time.Second))
	return Decision{Wait: wait}
}

// Rate returns the refill rate.
func (tb *TokenBucket) Rate() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.rate
}

// Burst returns the bucket capacity, the largest admissible n.
func (tb *TokenBucket) Burst() int {
	return int(tb.capacity)
}

// setRate changes the refill rate. Tokens accrued so far are settled at the
// old rate first.
func (tb *TokenBucket) setRate(rate float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	tb.rate = rate
}

// refillLocked accrues tokens since the last refill. Must be called with
// tb.mu held.
func (tb *TokenBucket) refillLocked() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}
