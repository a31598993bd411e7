package ratelimit

import "github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"

// Default bucket parameters per spec.md §4.1.
const (
	DefaultVolatileCapacity = 120
	DefaultVolatileRefill   = 60
	DefaultLowCapacity      = 60
	DefaultLowRefill        = 30
	DefaultNormalCapacity   = 60
	DefaultNormalRefill     = 30
	DefaultCriticalCapacity = 20
	DefaultCriticalRefill   = 10
)

// Limits holds the bucket parameters for all four priority classes, sourced
// from configuration (spec.md §6 "Rate-limit bucket parameters per class").
type Limits struct {
	VolatileCapacity, VolatileRefill float64
	LowCapacity, LowRefill           float64
	NormalCapacity, NormalRefill     float64
	CriticalCapacity, CriticalRefill float64
}

// DefaultLimits returns the spec.md §4.1 default bucket parameters.
func DefaultLimits() Limits {
	return Limits{
		VolatileCapacity: DefaultVolatileCapacity, VolatileRefill: DefaultVolatileRefill,
		LowCapacity: DefaultLowCapacity, LowRefill: DefaultLowRefill,
		NormalCapacity: DefaultNormalCapacity, NormalRefill: DefaultNormalRefill,
		CriticalCapacity: DefaultCriticalCapacity, CriticalRefill: DefaultCriticalRefill,
	}
}

// MessageLimiter is the per-connection limiter segmented by priority class
// (spec.md §4.2 "A token bucket per (connection, class)").
type MessageLimiter struct {
	volatile *Bucket
	low      *Bucket
	normal   *Bucket
	critical *Bucket
}

// NewMessageLimiter builds a MessageLimiter from the given limits and clock.
func NewMessageLimiter(limits Limits, clock Clock) *MessageLimiter {
	return &MessageLimiter{
		volatile: NewBucket(limits.VolatileCapacity, limits.VolatileRefill, clock),
		low:      NewBucket(limits.LowCapacity, limits.LowRefill, clock),
		normal:   NewBucket(limits.NormalCapacity, limits.NormalRefill, clock),
		critical: NewBucket(limits.CriticalCapacity, limits.CriticalRefill, clock),
	}
}

// CheckAndConsume consumes a single token from the bucket for the given
// priority class.
func (m *MessageLimiter) CheckAndConsume(p protocol.Priority) bool {
	return m.bucketFor(p).CheckAndConsume(1)
}

func (m *MessageLimiter) bucketFor(p protocol.Priority) *Bucket {
	switch p {
	case protocol.PriorityVolatile:
		return m.volatile
	case protocol.PriorityLow:
		return m.low
	case protocol.PriorityNormal:
		return m.normal
	default:
		return m.critical
	}
}

// ResetAll refills every bucket to full capacity.
func (m *MessageLimiter) ResetAll() {
	m.volatile.Reset()
	m.low.Reset()
	m.normal.Reset()
	m.critical.Reset()
}

// CriticalExhausted reports whether the critical bucket has drained, the
// signal the session uses to close with RateLimitExceeded (spec.md §4.2
// "critical messages are never dropped by the limiter; instead, if the
// critical bucket drains, the session closes").
func (m *MessageLimiter) CriticalExhausted() bool {
	return m.critical.IsEmpty()
}
