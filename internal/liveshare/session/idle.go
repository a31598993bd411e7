package session

import (
	"time"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
)

// Idle/away thresholds per spec.md §4.7, grounded on
// original_source/src/core/liveshare/idle_detection.rs.
const (
	IdleThreshold = 30 * time.Second
	AwayThreshold = 600 * time.Second
	// TransitionCoalesce bounds how often an activity transition may be
	// broadcast, per spec.md §4.7 "at most one transition broadcast per 5s".
	TransitionCoalesce = 5 * time.Second
)

// ActivityTracker is a per-participant idle/away detector with
// page-visibility override and broadcast coalescing.
type ActivityTracker struct {
	clock             Clock
	lastActivity      time.Time
	status            protocol.Activity
	visible           bool
	lastTransitionSent time.Time
}

// NewActivityTracker builds a tracker starting Active.
func NewActivityTracker(clock Clock) *ActivityTracker {
	if clock == nil {
		clock = SystemClock
	}
	return &ActivityTracker{
		clock:        clock,
		lastActivity: clock.Now(),
		status:       protocol.ActivityActive,
		visible:      true,
	}
}

// RecordActivity marks fresh input; always restores Active status unless
// the page is currently hidden (spec.md §4.7 "Away when the visibility
// hint is hidden, OR ... elapsed").
func (a *ActivityTracker) RecordActivity() {
	a.lastActivity = a.clock.Now()
	if a.visible {
		a.status = protocol.ActivityActive
	}
}

// RecordVisibility records a page-visibility hint from the client.
func (a *ActivityTracker) RecordVisibility(visible bool) {
	a.visible = visible
	if !visible {
		a.status = protocol.ActivityAway
		return
	}
	if a.status == protocol.ActivityAway {
		a.lastActivity = a.clock.Now()
		a.status = protocol.ActivityActive
	}
}

// Update recomputes status from elapsed time and returns (newStatus,
// changed, shouldBroadcast). shouldBroadcast is false when a transition
// happened but the coalesce window has not elapsed since the last
// broadcast; callers should still adopt the new status but defer
// notifying peers.
func (a *ActivityTracker) Update() (protocol.Activity, bool, bool) {
	if !a.visible {
		return a.status, false, false
	}

	elapsed := a.clock.Now().Sub(a.lastActivity)
	var next protocol.Activity
	switch {
	case elapsed >= AwayThreshold:
		next = protocol.ActivityAway
	case elapsed >= IdleThreshold:
		next = protocol.ActivityIdle
	default:
		next = protocol.ActivityActive
	}

	if next == a.status {
		return a.status, false, false
	}
	a.status = next

	now := a.clock.Now()
	if now.Sub(a.lastTransitionSent) < TransitionCoalesce {
		return a.status, true, false
	}
	a.lastTransitionSent = now
	return a.status, true, true
}

// Status returns the current activity status without recomputing it.
func (a *ActivityTracker) Status() protocol.Activity {
	return a.status
}
