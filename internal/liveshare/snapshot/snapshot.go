// Package snapshot implements the periodic binary snapshot ring buffer used
// for fast rejoin and crash recovery (spec.md §4.5), grounded on
// original_source/src/core/liveshare/snapshots.rs. Unlike the Rust
// original — which falls back to JSON "until bincode is available" — this
// port uses protocol.BinaryCodec throughout, per spec.md's binary snapshot
// requirement.
package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
)

// Defaults from spec.md §4.5 / §6.
const (
	DefaultInterval    = 25 * time.Second
	MaxSnapshotSize    = 10 * 1024 * 1024 // 10 MiB
	SnapshotsToKeep    = 10
)

// Clock abstracts wall-clock time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

var SystemClock Clock = systemClock{}

// Snapshot is a single point-in-time capture of a room's graph state.
type Snapshot struct {
	ID           uuid.UUID
	RoomID       protocol.RoomId
	Data         []byte
	CreatedAt    time.Time
	SizeBytes    int
	ElementCount int
}

// IsValid reports whether the snapshot payload is within the size bound.
func (s Snapshot) IsValid() bool {
	return s.SizeBytes > 0 && s.SizeBytes <= MaxSnapshotSize
}

// Stats summarizes the snapshots currently held for a room.
type Stats struct {
	TotalSnapshots    int
	TotalSizeBytes    int
	AvgSizeBytes      int
	OldestSnapshotAge *time.Duration
	NewestSnapshotAge *time.Duration
}

// Manager owns the snapshot ring buffer for a single room.
type Manager struct {
	mu           sync.RWMutex
	roomID       protocol.RoomId
	interval     time.Duration
	clock        Clock
	codec        protocol.BinaryCodec
	lastSnapshot *time.Time
	snapshots    []Snapshot
}

// NewManager builds a snapshot Manager for a room with the default 25s
// interval.
func NewManager(roomID protocol.RoomId, clock Clock) *Manager {
	return NewManagerWithInterval(roomID, DefaultInterval, clock)
}

// NewManagerWithInterval builds a snapshot Manager with a custom interval.
func NewManagerWithInterval(roomID protocol.RoomId, interval time.Duration, clock Clock) *Manager {
	if clock == nil {
		clock = SystemClock
	}
	return &Manager{roomID: roomID, interval: interval, clock: clock}
}

// ShouldSnapshot reports whether enough time has elapsed since the last
// snapshot (or none exists yet) to warrant creating a new one.
func (m *Manager) ShouldSnapshot() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastSnapshot == nil {
		return true
	}
	return m.clock.Now().Sub(*m.lastSnapshot) >= m.interval
}

// CreateSnapshot encodes the given state with the binary codec, validates
// its size, and appends it to the ring, evicting the oldest entries beyond
// SnapshotsToKeep.
func (m *Manager) CreateSnapshot(state protocol.GraphState) (Snapshot, error) {
	data, err := m.codec.Encode(state)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}

	snap := Snapshot{
		ID:           uuid.New(),
		RoomID:       m.roomID,
		Data:         data,
		CreatedAt:    m.clock.Now(),
		SizeBytes:    len(data),
		ElementCount: len(state.Tables) + len(state.Relationships),
	}
	if !snap.IsValid() {
		return Snapshot{}, fmt.Errorf("invalid snapshot: %d bytes (max %d)", snap.SizeBytes, MaxSnapshotSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := snap.CreatedAt
	m.lastSnapshot = &now
	m.snapshots = append(m.snapshots, snap)
	if len(m.snapshots) > SnapshotsToKeep {
		excess := len(m.snapshots) - SnapshotsToKeep
		m.snapshots = m.snapshots[excess:]
	}
	return snap, nil
}

// GetLatest returns the most recently created snapshot, if any.
func (m *Manager) GetLatest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.snapshots) == 0 {
		return Snapshot{}, false
	}
	return m.snapshots[len(m.snapshots)-1], true
}

// GetRecent returns up to count of the most recent snapshots, newest
// first.
func (m *Manager) GetRecent(count int) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.snapshots)
	if count > n {
		count = n
	}
	out := make([]Snapshot, count)
	for i := 0; i < count; i++ {
		out[i] = m.snapshots[n-1-i]
	}
	return out
}

// RestoreFromLatest decodes the most recent snapshot back into a
// GraphState, for rejoin/recovery.
func (m *Manager) RestoreFromLatest() (protocol.GraphState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.snapshots) == 0 {
		return protocol.GraphState{}, fmt.Errorf("no snapshots available")
	}
	latest := m.snapshots[len(m.snapshots)-1]
	return m.codec.Decode(latest.Data)
}

// Clear discards all held snapshots.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = nil
}

// GetStats reports aggregate statistics over the held snapshots.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totalSize int
	for _, s := range m.snapshots {
		totalSize += s.SizeBytes
	}
	var avg int
	if len(m.snapshots) > 0 {
		avg = totalSize / len(m.snapshots)
	}

	stats := Stats{
		TotalSnapshots: len(m.snapshots),
		TotalSizeBytes: totalSize,
		AvgSizeBytes:   avg,
	}
	if len(m.snapshots) > 0 {
		now := m.clock.Now()
		oldest := now.Sub(m.snapshots[0].CreatedAt)
		newest := now.Sub(m.snapshots[len(m.snapshots)-1].CreatedAt)
		stats.OldestSnapshotAge = &oldest
		stats.NewestSnapshotAge = &newest
	}
	return stats
}

// GlobalStats aggregates snapshot statistics across all rooms.
type GlobalStats struct {
	TotalSnapshots     int
	TotalSizeBytes     int
	RoomsWithSnapshots int
}

// Registry owns one Manager per room, created lazily.
type Registry struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	managers map[protocol.RoomId]*Manager
}

// NewRegistry builds a Registry using the default snapshot interval for
// every room it creates a Manager for.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock
	}
	return &Registry{clock: clock, interval: DefaultInterval, managers: make(map[protocol.RoomId]*Manager)}
}

// GetOrCreate returns the Manager for a room, creating one if absent.
func (r *Registry) GetOrCreate(roomID protocol.RoomId) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[roomID]; ok {
		return m
	}
	m := NewManagerWithInterval(roomID, r.interval, r.clock)
	r.managers[roomID] = m
	return m
}

// Get returns the existing Manager for a room without creating one.
func (r *Registry) Get(roomID protocol.RoomId) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[roomID]
	return m, ok
}

// Remove discards the Manager for a room, e.g. when the room closes.
func (r *Registry) Remove(roomID protocol.RoomId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.managers, roomID)
}

// GlobalStats aggregates statistics across every tracked room.
func (r *Registry) GlobalStats() GlobalStats {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	var out GlobalStats
	for _, m := range managers {
		stats := m.GetStats()
		if stats.TotalSnapshots > 0 {
			out.TotalSnapshots += stats.TotalSnapshots
			out.TotalSizeBytes += stats.TotalSizeBytes
			out.RoomsWithSnapshots++
		}
	}
	return out
}
