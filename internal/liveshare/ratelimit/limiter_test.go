package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
)

func TestMessageLimiterSegmentsByPriority(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMessageLimiter(Limits{
		VolatileCapacity: 1, VolatileRefill: 0,
		LowCapacity: 1, LowRefill: 0,
		NormalCapacity: 1, NormalRefill: 0,
		CriticalCapacity: 1, CriticalRefill: 0,
	}, clock)

	require.True(t, limiter.CheckAndConsume(protocol.PriorityVolatile))
	require.False(t, limiter.CheckAndConsume(protocol.PriorityVolatile))

	// Draining one class must not affect the others.
	require.True(t, limiter.CheckAndConsume(protocol.PriorityLow))
	require.True(t, limiter.CheckAndConsume(protocol.PriorityNormal))
	require.True(t, limiter.CheckAndConsume(protocol.PriorityCritical))
}

func TestMessageLimiterResetAll(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMessageLimiter(Limits{
		VolatileCapacity: 1, VolatileRefill: 0,
		LowCapacity: 1, LowRefill: 0,
		NormalCapacity: 1, NormalRefill: 0,
		CriticalCapacity: 1, CriticalRefill: 0,
	}, clock)

	require.True(t, limiter.CheckAndConsume(protocol.PriorityCritical))
	require.True(t, limiter.CriticalExhausted())

	limiter.ResetAll()
	require.False(t, limiter.CriticalExhausted())
}

func TestCriticalExhaustedSignalsSessionClose(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMessageLimiter(Limits{
		VolatileCapacity: 5, VolatileRefill: 5,
		LowCapacity: 5, LowRefill: 5,
		NormalCapacity: 5, NormalRefill: 5,
		CriticalCapacity: 2, CriticalRefill: 0,
	}, clock)

	require.False(t, limiter.CriticalExhausted())
	require.True(t, limiter.CheckAndConsume(protocol.PriorityCritical))
	require.True(t, limiter.CheckAndConsume(protocol.PriorityCritical))
	require.True(t, limiter.CriticalExhausted())
	// Critical never silently drops: a drained bucket must stop granting, not wrap.
	require.False(t, limiter.CheckAndConsume(protocol.PriorityCritical))
}

func TestPrioritiesAreDroppableExceptCritical(t *testing.T) {
	require.True(t, protocol.PriorityVolatile.Droppable())
	require.True(t, protocol.PriorityLow.Droppable())
	require.True(t, protocol.PriorityNormal.Droppable())
	require.False(t, protocol.PriorityCritical.Droppable())
}
