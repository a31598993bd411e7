// Package throttle implements the per-connection debouncers for cursor and
// schema streams, plus the time-windowed awareness batcher, per spec.md
// §4.3, grounded on original_source/src/core/liveshare/throttling.rs.
package throttle

import (
	"time"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
)

// Clock abstracts wall-clock time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

var SystemClock Clock = systemClock{}

// Default intervals from spec.md §4.3 / §6.
const (
	DefaultCursorInterval    = 33 * time.Millisecond
	DefaultSchemaInterval    = 150 * time.Millisecond
	DefaultAwarenessInterval = 100 * time.Millisecond
)

// CursorThrottler coalesces cursor samples: the first send passes
// immediately, subsequent samples are coalesced to the latest pending
// position and flushed when the interval elapses.
type CursorThrottler struct {
	clock    Clock
	interval time.Duration
	lastSent *time.Time
	pending  *protocol.Point
	hasPending bool
}

func NewCursorThrottler(interval time.Duration, clock Clock) *CursorThrottler {
	if clock == nil {
		clock = SystemClock
	}
	return &CursorThrottler{clock: clock, interval: interval}
}

// Update records a new cursor sample. It returns (position, true) if the
// sample should be emitted immediately (first send or interval elapsed; any
// pending coalesced sample is discarded in favour of this one), otherwise
// the sample is coalesced into pending and (false) is returned; callers
// should still call DrainPending on the tick.
func (c *CursorThrottler) Update(pos protocol.Point) (protocol.Point, bool) {
	if c.shouldSendLocked() {
		c.markSent()
		return pos, true
	}
	c.pending = &pos
	c.hasPending = true
	return protocol.Point{}, false
}

func (c *CursorThrottler) shouldSendLocked() bool {
	if c.lastSent == nil {
		return true
	}
	return c.clock.Now().Sub(*c.lastSent) >= c.interval
}

func (c *CursorThrottler) markSent() {
	now := c.clock.Now()
	c.lastSent = &now
	c.pending = nil
	c.hasPending = false
}

// DrainPending is called by the session's periodic tick (<=50ms, spec.md
// §4.3). It flushes the latest coalesced position once the interval has
// elapsed since the last emission.
func (c *CursorThrottler) DrainPending() (protocol.Point, bool) {
	if !c.hasPending {
		return protocol.Point{}, false
	}
	if c.lastSent != nil && c.clock.Now().Sub(*c.lastSent) < c.interval {
		return protocol.Point{}, false
	}
	pos := *c.pending
	c.markSent()
	return pos, true
}

// Reset clears throttler state.
func (c *CursorThrottler) Reset() {
	c.lastSent = nil
	c.pending = nil
	c.hasPending = false
}

// SchemaThrottler drops mutation broadcasts whose inter-arrival is shorter
// than the configured interval; convergence is reestablished by subsequent
// GraphOps plus the periodic full sync (spec.md §4.3).
type SchemaThrottler struct {
	clock    Clock
	interval time.Duration
	lastSent *time.Time
}

func NewSchemaThrottler(interval time.Duration, clock Clock) *SchemaThrottler {
	if clock == nil {
		clock = SystemClock
	}
	return &SchemaThrottler{clock: clock, interval: interval}
}

// ShouldSend reports whether a schema broadcast may be sent now.
func (s *SchemaThrottler) ShouldSend() bool {
	if s.lastSent == nil {
		return true
	}
	return s.clock.Now().Sub(*s.lastSent) >= s.interval
}

// MarkSent records that a schema broadcast was just sent.
func (s *SchemaThrottler) MarkSent() {
	now := s.clock.Now()
	s.lastSent = &now
}

// Reset clears throttler state.
func (s *SchemaThrottler) Reset() {
	s.lastSent = nil
}

// AwarenessBatcher accumulates per-user awareness updates and emits the
// latest value per key as a single batch on window expiry (spec.md §4.3).
type AwarenessBatcher struct {
	clock     Clock
	interval  time.Duration
	pending   map[protocol.UserId]protocol.AwarenessState
	order     []protocol.UserId
	lastFlush time.Time
}

func NewAwarenessBatcher(interval time.Duration, clock Clock) *AwarenessBatcher {
	if clock == nil {
		clock = SystemClock
	}
	return &AwarenessBatcher{
		clock:     clock,
		interval:  interval,
		pending:   make(map[protocol.UserId]protocol.AwarenessState),
		lastFlush: clock.Now(),
	}
}

// Add records an awareness update, keyed by user; only the latest value per
// user survives to the next flush.
func (a *AwarenessBatcher) Add(user protocol.UserId, state protocol.AwarenessState) {
	if _, exists := a.pending[user]; !exists {
		a.order = append(a.order, user)
	}
	a.pending[user] = state
}

// ShouldFlush reports whether the batch window has elapsed and there is at
// least one pending update.
func (a *AwarenessBatcher) ShouldFlush() bool {
	if len(a.pending) == 0 {
		return false
	}
	return a.clock.Now().Sub(a.lastFlush) >= a.interval
}

// Flush returns and clears all pending updates, resetting the window timer.
func (a *AwarenessBatcher) Flush() map[protocol.UserId]protocol.AwarenessState {
	out := a.pending
	a.pending = make(map[protocol.UserId]protocol.AwarenessState)
	a.order = nil
	a.lastFlush = a.clock.Now()
	return out
}

// IsEmpty reports whether there are no pending updates.
func (a *AwarenessBatcher) IsEmpty() bool {
	return len(a.pending) == 0
}

// PendingCount returns the number of distinct users with pending updates.
func (a *AwarenessBatcher) PendingCount() int {
	return len(a.pending)
}
