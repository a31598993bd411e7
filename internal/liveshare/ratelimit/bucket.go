// Package ratelimit implements the per-connection, per-priority-class token
// bucket rate limiter described in spec.md §4.2, grounded on
// original_source/src/core/liveshare/rate_limiter.rs.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time so tests can drive it deterministically
// (spec.md §9 "the clock is similarly injected").
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock backed by a monotonic steady clock
// (time.Now, which on Go includes a monotonic reading — spec.md §4.2
// "wall-clock monotonicity is required").
var SystemClock Clock = systemClock{}

// Bucket is a single token bucket for one (connection, priority-class) pair.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	clock      Clock
}

// NewBucket creates a full bucket with the given capacity and refill rate.
func NewBucket(capacity float64, refillPerSec float64, clock Clock) *Bucket {
	if clock == nil {
		clock = SystemClock
	}
	return &Bucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillPerSec,
		lastRefill: clock.Now(),
		clock:      clock,
	}
}

func (b *Bucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// CheckAndConsume refills since the last call, then atomically subtracts n
// tokens if available, returning success. On failure no tokens are consumed
// (spec.md §4.2).
func (b *Bucket) CheckAndConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Check reports whether n tokens are available without consuming them.
func (b *Bucket) Check(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens >= n
}

// Tokens returns the current token count after refilling.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// Reset refills the bucket to full capacity.
func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.capacity
	b.lastRefill = b.clock.Now()
}

// IsEmpty reports whether the bucket has less than one token available.
func (b *Bucket) IsEmpty() bool {
	return b.Tokens() < 1.0
}
