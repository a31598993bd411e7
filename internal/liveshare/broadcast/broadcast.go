// Package broadcast implements the per-room delta broadcast ledger: for
// each (user, element) pair it tracks the last version sent, so that only
// changed tables and relationships are retransmitted, with a periodic full
// sync as a correctness backstop (spec.md §4.4), grounded on
// original_source/src/core/liveshare/broadcast_manager.rs.
package broadcast

import (
	"sort"
	"sync"
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

// DefaultFullSyncInterval is the periodic full-resync cadence (spec.md §4.4
// / §6), correcting any ledger drift regardless of cause.
const DefaultFullSyncInterval = 20 * time.Second

type userState struct {
	lastSentVersions map[protocol.ElementKey]uint64
	lastFullSync     *time.Time
}

func newUserState() *userState {
	return &userState{lastSentVersions: make(map[protocol.ElementKey]uint64)}
}

// Manager tracks, per user, which version of each graph element was last
// broadcast to them, and when they last received a full sync. One Room's
// Manager is shared across every joined peer's connection goroutine, so
// every method takes mu.
type Manager struct {
	mu               sync.Mutex
	clock            Clock
	fullSyncInterval time.Duration
	users            map[protocol.UserId]*userState
}

// NewManager builds a Manager with the default 20s full-sync interval.
func NewManager(clock Clock) *Manager {
	return NewManagerWithInterval(DefaultFullSyncInterval, clock)
}

// NewManagerWithInterval builds a Manager with a custom full-sync interval.
func NewManagerWithInterval(interval time.Duration, clock Clock) *Manager {
	if clock == nil {
		clock = SystemClock
	}
	return &Manager{
		clock:            clock,
		fullSyncInterval: interval,
		users:            make(map[protocol.UserId]*userState),
	}
}

// RegisterUser begins tracking broadcast state for a user, typically on
// room join.
func (m *Manager) RegisterUser(user protocol.UserId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user]; !ok {
		m.users[user] = newUserState()
	}
}

// UnregisterUser discards a user's broadcast state, typically on room
// leave.
func (m *Manager) UnregisterUser(user protocol.UserId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, user)
}

// NeedsFullSync reports whether the user has never received a full sync,
// or the full-sync interval has elapsed since their last one. An
// unregistered user always needs a full sync.
func (m *Manager) NeedsFullSync(user protocol.UserId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.users[user]
	if !ok {
		return true
	}
	if state.lastFullSync == nil {
		return true
	}
	return m.clock.Now().Sub(*state.lastFullSync) >= m.fullSyncInterval
}

// MarkFullSync records that a full sync was just sent to the user.
func (m *Manager) MarkFullSync(user protocol.UserId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.users[user]
	if !ok {
		state = newUserState()
		m.users[user] = state
	}
	now := m.clock.Now()
	state.lastFullSync = &now
}

// ShouldSendUpdate reports whether an element update at the given version
// should be sent to the user: true if newer than what was last sent, if it
// was never sent, or if the user is unregistered (defensive default).
func (m *Manager) ShouldSendUpdate(user protocol.UserId, key protocol.ElementKey, version uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.users[user]
	if !ok {
		return true
	}
	last, sent := state.lastSentVersions[key]
	if !sent {
		return true
	}
	return version > last
}

// MarkSent records that an element update was sent to the user at the
// given version.
func (m *Manager) MarkSent(user protocol.UserId, key protocol.ElementKey, version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.users[user]
	if !ok {
		state = newUserState()
		m.users[user] = state
	}
	state.lastSentVersions[key] = version
}

// VersionedElement pairs an element key with its current version, used for
// batch comparisons against the ledger.
type VersionedElement struct {
	Key     protocol.ElementKey
	Version uint64
}

// MarkBatchSent records several element updates at once, e.g. after a full
// snapshot send.
func (m *Manager) MarkBatchSent(user protocol.UserId, updates []VersionedElement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.users[user]
	if !ok {
		state = newUserState()
		m.users[user] = state
	}
	for _, u := range updates {
		state.lastSentVersions[u.Key] = u.Version
	}
}

// GetChangedElements filters currentState down to the elements that are
// newer than what was last sent to the user (or never sent), in the
// canonical tie-break order: tables before relationships, ascending id
// within each list (spec.md §4.4).
func (m *Manager) GetChangedElements(user protocol.UserId, currentState []VersionedElement) []protocol.ElementKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	ordered := make([]VersionedElement, len(currentState))
	copy(ordered, currentState)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i].Key, ordered[j].Key
		if a.IsRelationship != b.IsRelationship {
			return !a.IsRelationship // tables (false) before relationships (true)
		}
		return a.ID < b.ID
	})

	state, registered := m.users[user]
	changed := make([]protocol.ElementKey, 0, len(ordered))
	for _, e := range ordered {
		if !registered {
			changed = append(changed, e.Key)
			continue
		}
		last, sent := state.lastSentVersions[e.Key]
		if !sent || e.Version > last {
			changed = append(changed, e.Key)
		}
	}
	return changed
}

// ResetUser clears a user's ledger and full-sync timestamp, forcing a full
// resync on the next broadcast.
func (m *Manager) ResetUser(user protocol.UserId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.users[user]; ok {
		state.lastSentVersions = make(map[protocol.ElementKey]uint64)
		state.lastFullSync = nil
	}
}

// UserCount returns the number of tracked users.
func (m *Manager) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// HasUser reports whether a user is registered.
func (m *Manager) HasUser(user protocol.UserId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[user]
	return ok
}
