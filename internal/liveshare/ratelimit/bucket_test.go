package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func TestBucketStartsFull(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(10, 5, clock)
	require.Equal(t, 10.0, b.Tokens())
}

func TestBucketConsumesTokens(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(10, 5, clock)

	require.True(t, b.CheckAndConsume(4))
	require.Equal(t, 6.0, b.Tokens())
}

func TestBucketRejectsWhenExhausted(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(2, 1, clock)

	require.True(t, b.CheckAndConsume(2))
	require.False(t, b.CheckAndConsume(1), "bucket should be empty")
	require.Equal(t, 0.0, b.Tokens())
}

func TestBucketRefillsOverTime(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(10, 5, clock) // 5 tokens/sec

	require.True(t, b.CheckAndConsume(10))
	require.False(t, b.CheckAndConsume(1))

	clock.advance(1 * time.Second)
	require.True(t, b.CheckAndConsume(5))
	require.False(t, b.CheckAndConsume(1))
}

func TestBucketRefillClampsAtCapacity(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(10, 5, clock)

	clock.advance(100 * time.Second) // would refill far beyond capacity
	require.Equal(t, 10.0, b.Tokens())
}

func TestBucketResetRefillsToFull(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(5, 1, clock)

	require.True(t, b.CheckAndConsume(5))
	b.Reset()
	require.Equal(t, 5.0, b.Tokens())
}

func TestBucketIsEmpty(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(1, 1, clock)

	require.False(t, b.IsEmpty())
	require.True(t, b.CheckAndConsume(1))
	require.True(t, b.IsEmpty())
}

func TestBucketFailedConsumeDoesNotDrainTokens(t *testing.T) {
	clock := newFakeClock()
	b := NewBucket(3, 1, clock)

	require.False(t, b.CheckAndConsume(5))
	require.Equal(t, 3.0, b.Tokens())
}
