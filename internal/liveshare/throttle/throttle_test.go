package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func TestCursorThrottlerSendsFirstUpdateImmediately(t *testing.T) {
	clock := newFakeClock()
	th := NewCursorThrottler(DefaultCursorInterval, clock)

	pos, ok := th.Update(protocol.Point{X: 1, Y: 2})
	require.True(t, ok)
	require.Equal(t, protocol.Point{X: 1, Y: 2}, pos)
}

func TestCursorThrottlerCoalescesWithinInterval(t *testing.T) {
	clock := newFakeClock()
	th := NewCursorThrottler(DefaultCursorInterval, clock)

	_, ok := th.Update(protocol.Point{X: 0, Y: 0})
	require.True(t, ok)

	clock.advance(DefaultCursorInterval / 2)
	_, ok = th.Update(protocol.Point{X: 1, Y: 1})
	require.False(t, ok, "second update within the interval must coalesce")

	_, ok = th.Update(protocol.Point{X: 2, Y: 2})
	require.False(t, ok)
}

func TestCursorThrottlerDrainsPendingOnceIntervalElapses(t *testing.T) {
	clock := newFakeClock()
	th := NewCursorThrottler(DefaultCursorInterval, clock)

	_, ok := th.Update(protocol.Point{X: 0, Y: 0})
	require.True(t, ok)

	clock.advance(DefaultCursorInterval / 2)
	_, ok = th.Update(protocol.Point{X: 5, Y: 5})
	require.False(t, ok)

	_, ok = th.DrainPending()
	require.False(t, ok, "interval has not fully elapsed yet")

	clock.advance(DefaultCursorInterval)
	pos, ok := th.DrainPending()
	require.True(t, ok)
	require.Equal(t, protocol.Point{X: 5, Y: 5}, pos)

	_, ok = th.DrainPending()
	require.False(t, ok, "pending must be cleared after a successful drain")
}

func TestCursorThrottlerResetClearsState(t *testing.T) {
	clock := newFakeClock()
	th := NewCursorThrottler(DefaultCursorInterval, clock)

	_, ok := th.Update(protocol.Point{X: 0, Y: 0})
	require.True(t, ok)
	clock.advance(DefaultCursorInterval / 2)
	_, ok = th.Update(protocol.Point{X: 9, Y: 9})
	require.False(t, ok)

	th.Reset()

	pos, ok := th.Update(protocol.Point{X: 3, Y: 4})
	require.True(t, ok, "after reset the next update sends immediately")
	require.Equal(t, protocol.Point{X: 3, Y: 4}, pos)

	clock.advance(DefaultCursorInterval)
	_, ok = th.DrainPending()
	require.False(t, ok, "reset must not leave a stale pending value behind")
}

func TestSchemaThrottlerAllowsFirstSend(t *testing.T) {
	clock := newFakeClock()
	th := NewSchemaThrottler(DefaultSchemaInterval, clock)

	require.True(t, th.ShouldSend())
}

func TestSchemaThrottlerBlocksUntilIntervalElapses(t *testing.T) {
	clock := newFakeClock()
	th := NewSchemaThrottler(DefaultSchemaInterval, clock)

	require.True(t, th.ShouldSend())
	th.MarkSent()

	require.False(t, th.ShouldSend())

	clock.advance(DefaultSchemaInterval / 2)
	require.False(t, th.ShouldSend())

	clock.advance(DefaultSchemaInterval)
	require.True(t, th.ShouldSend())
}

func TestSchemaThrottlerResetAllowsImmediateSend(t *testing.T) {
	clock := newFakeClock()
	th := NewSchemaThrottler(DefaultSchemaInterval, clock)

	th.MarkSent()
	require.False(t, th.ShouldSend())

	th.Reset()
	require.True(t, th.ShouldSend())
}

func TestAwarenessBatcherDoesNotFlushWhenEmpty(t *testing.T) {
	clock := newFakeClock()
	b := NewAwarenessBatcher(DefaultAwarenessInterval, clock)

	require.True(t, b.IsEmpty())
	require.False(t, b.ShouldFlush())

	clock.advance(DefaultAwarenessInterval * 10)
	require.False(t, b.ShouldFlush(), "an empty batch never flushes regardless of elapsed time")
}

func TestAwarenessBatcherKeepsOnlyLatestValuePerUser(t *testing.T) {
	clock := newFakeClock()
	b := NewAwarenessBatcher(DefaultAwarenessInterval, clock)

	user := protocol.UserId{}
	b.Add(user, protocol.AwarenessState{Color: "red"})
	b.Add(user, protocol.AwarenessState{Color: "blue"})

	require.Equal(t, 1, b.PendingCount())

	clock.advance(DefaultAwarenessInterval)
	flushed := b.Flush()
	require.Len(t, flushed, 1)
	require.Equal(t, "blue", flushed[user].Color)
}

func TestAwarenessBatcherFlushRequiresIntervalElapsed(t *testing.T) {
	clock := newFakeClock()
	b := NewAwarenessBatcher(DefaultAwarenessInterval, clock)

	b.Add(protocol.UserId{}, protocol.AwarenessState{Color: "green"})
	require.False(t, b.ShouldFlush())

	clock.advance(DefaultAwarenessInterval)
	require.True(t, b.ShouldFlush())
}

func TestAwarenessBatcherFlushClearsPendingState(t *testing.T) {
	clock := newFakeClock()
	b := NewAwarenessBatcher(DefaultAwarenessInterval, clock)

	b.Add(protocol.UserId{}, protocol.AwarenessState{Color: "green"})
	clock.advance(DefaultAwarenessInterval)

	flushed := b.Flush()
	require.Len(t, flushed, 1)
	require.True(t, b.IsEmpty())
	require.Equal(t, 0, b.PendingCount())
	require.False(t, b.ShouldFlush())
}
