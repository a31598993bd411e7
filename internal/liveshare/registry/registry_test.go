package registry

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/room"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func TestCreateRoomRegistersAndGeneratesID(t *testing.T) {
	reg := New(newFakeClock())
	rm, err := reg.CreateRoom(uuid.New(), uuid.New(), room.DefaultConfig("room"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, rm.ID)

	found, ok := reg.GetRoom(rm.ID)
	require.True(t, ok)
	require.Same(t, rm, found)
	require.Equal(t, 1, reg.RoomCount())
}

func TestCreateRoomWithIDRejectsDuplicate(t *testing.T) {
	reg := New(newFakeClock())
	id := uuid.New()
	_, err := reg.CreateRoomWithID(id, uuid.New(), uuid.New(), room.DefaultConfig("room"))
	require.NoError(t, err)

	_, err = reg.CreateRoomWithID(id, uuid.New(), uuid.New(), room.DefaultConfig("room"))
	require.Error(t, err)
}

func TestGetRoomReturnsFalseForUnknownID(t *testing.T) {
	reg := New(newFakeClock())
	_, ok := reg.GetRoom(uuid.New())
	require.False(t, ok)
}

func TestDeleteRoomEndsAndRemoves(t *testing.T) {
	reg := New(newFakeClock())
	rm, err := reg.CreateRoom(uuid.New(), uuid.New(), room.DefaultConfig("room"))
	require.NoError(t, err)

	removed, ok := reg.DeleteRoom(rm.ID)
	require.True(t, ok)
	require.False(t, removed.IsActive())
	require.Equal(t, 0, reg.RoomCount())

	_, ok = reg.GetRoom(rm.ID)
	require.False(t, ok)
}

func TestDeleteRoomReturnsFalseForUnknownID(t *testing.T) {
	reg := New(newFakeClock())
	_, ok := reg.DeleteRoom(uuid.New())
	require.False(t, ok)
}

func TestTotalUserCountSumsAcrossRooms(t *testing.T) {
	reg := New(newFakeClock())
	a, err := reg.CreateRoom(uuid.New(), uuid.New(), room.DefaultConfig("a"))
	require.NoError(t, err)
	b, err := reg.CreateRoom(uuid.New(), uuid.New(), room.DefaultConfig("b"))
	require.NoError(t, err)

	_, err = a.AddUser(uuid.New(), "alice", "#fff")
	require.NoError(t, err)
	_, err = b.AddUser(uuid.New(), "bob", "#000")
	require.NoError(t, err)
	_, err = b.AddUser(uuid.New(), "carol", "#111")
	require.NoError(t, err)

	require.Equal(t, 3, reg.TotalUserCount())
}

func TestCleanupEmptyRoomsRemovesOnlyEmptyOnes(t *testing.T) {
	reg := New(newFakeClock())
	empty, err := reg.CreateRoom(uuid.New(), uuid.New(), room.DefaultConfig("empty"))
	require.NoError(t, err)
	occupied, err := reg.CreateRoom(uuid.New(), uuid.New(), room.DefaultConfig("occupied"))
	require.NoError(t, err)
	_, err = occupied.AddUser(uuid.New(), "alice", "#fff")
	require.NoError(t, err)

	removed := reg.CleanupEmptyRooms()
	require.Equal(t, 1, removed)

	_, ok := reg.GetRoom(empty.ID)
	require.False(t, ok)
	_, ok = reg.GetRoom(occupied.ID)
	require.True(t, ok)
}

func TestListRoomsReturnsEveryRoom(t *testing.T) {
	reg := New(newFakeClock())
	_, err := reg.CreateRoom(uuid.New(), uuid.New(), room.DefaultConfig("a"))
	require.NoError(t, err)
	_, err = reg.CreateRoom(uuid.New(), uuid.New(), room.DefaultConfig("b"))
	require.NoError(t, err)

	require.Len(t, reg.ListRooms(), 2)
}
