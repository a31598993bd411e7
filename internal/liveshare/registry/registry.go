// Package registry implements the process-wide room registry: a
// concurrent map from RoomId to *room.Room, dependency-injected rather
// than a hidden singleton (spec.md §9), grounded on
// original_source/src/core/liveshare/room.rs's RoomManager.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/room"
)

// Registry owns every active room in the process.
type Registry struct {
	mu    sync.RWMutex
	rooms map[protocol.RoomId]*room.Room
	clock room.Clock
}

// New builds an empty Registry. A nil clock uses the system clock; tests
// inject a fake one for determinism.
func New(clock room.Clock) *Registry {
	return &Registry{rooms: make(map[protocol.RoomId]*room.Room), clock: clock}
}

// CreateRoom creates and registers a new room with a freshly generated id.
func (r *Registry) CreateRoom(diagramID protocol.DiagramId, ownerID protocol.UserId, config room.Config) (*room.Room, error) {
	return r.CreateRoomWithID(uuid.New(), diagramID, ownerID, config)
}

// CreateRoomWithID creates and registers a room with a caller-supplied id,
// failing if one already exists under that id.
func (r *Registry) CreateRoomWithID(id protocol.RoomId, diagramID protocol.DiagramId, ownerID protocol.UserId, config room.Config) (*room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[id]; exists {
		return nil, errRoomExists
	}
	rm := room.New(id, diagramID, ownerID, config, r.clock)
	r.rooms[id] = rm
	return rm, nil
}

// GetRoom returns the room for an id, if registered.
func (r *Registry) GetRoom(id protocol.RoomId) (*room.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	return rm, ok
}

// DeleteRoom ends and removes a room from the registry.
func (r *Registry) DeleteRoom(id protocol.RoomId) (*room.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil, false
	}
	rm.End()
	delete(r.rooms, id)
	return rm, true
}

// RoomCount returns the number of active rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// TotalUserCount sums the participant count across all rooms.
func (r *Registry) TotalUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, rm := range r.rooms {
		total += rm.UserCount()
	}
	return total
}

// CleanupEmptyRooms removes and ends every room with no connected users,
// returning the number removed. Called periodically; spec.md §3 ties a
// room's death to "the last participant leaves *and* an idle TTL elapses",
// so callers should only invoke this after confirming the TTL via
// room-level idle tracking, not on every tick.
func (r *Registry) CleanupEmptyRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rm := range r.rooms {
		if rm.UserCount() == 0 {
			rm.End()
			delete(r.rooms, id)
			removed++
		}
	}
	return removed
}

// ListRooms returns every currently registered room.
func (r *Registry) ListRooms() []*room.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	return out
}

type registryError string

func (e registryError) Error() string { return string(e) }

const errRoomExists = registryError("room with this id already exists")
