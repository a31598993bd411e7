package room

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/c0st1nus/archischema-liveshare/internal/errs"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func newTestRoom(t *testing.T, clock Clock) *Room {
	t.Helper()
	return New(uuid.New(), uuid.New(), uuid.New(), DefaultConfig("test room"), clock)
}

func strPtr(s string) *string { return &s }

func TestWithPasswordHashesAndVerifies(t *testing.T) {
	cfg, err := DefaultConfig("room").WithPassword("hunter2")
	require.NoError(t, err)
	require.NotNil(t, cfg.PasswordHash)

	r := New(uuid.New(), uuid.New(), uuid.New(), cfg, newFakeClock())
	require.True(t, r.IsProtected())
	require.False(t, r.VerifyPassword(nil))
	require.False(t, r.VerifyPassword(strPtr("wrong")))
	require.True(t, r.VerifyPassword(strPtr("hunter2")))
}

func TestWithEmptyPasswordLeavesRoomUnprotected(t *testing.T) {
	cfg, err := DefaultConfig("room").WithPassword("")
	require.NoError(t, err)
	r := New(uuid.New(), uuid.New(), uuid.New(), cfg, newFakeClock())
	require.False(t, r.IsProtected())
	require.True(t, r.VerifyPassword(nil))
}

func TestAddUserJoinsAndRejectsDuplicate(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	user := uuid.New()

	p, err := r.AddUser(user, "alice", "#ff0000")
	require.NoError(t, err)
	require.Equal(t, user, p.UserID)
	require.True(t, r.HasUser(user))
	require.Equal(t, 1, r.UserCount())

	_, err = r.AddUser(user, "alice", "#ff0000")
	require.ErrorIs(t, err, errs.ErrAlreadyJoined)
}

func TestAddUserRejectsWhenRoomFull(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig("room")
	cfg.MaxUsers = 2
	r := New(uuid.New(), uuid.New(), uuid.New(), cfg, clock)

	_, err := r.AddUser(uuid.New(), "alice", "#fff")
	require.NoError(t, err)

	_, err = r.AddUser(uuid.New(), "bob", "#000")
	require.NoError(t, err)

	_, err = r.AddUser(uuid.New(), "carol", "#00f")
	require.ErrorIs(t, err, errs.ErrRoomFull)
	require.True(t, r.IsFull())
}

func TestAddUserRejectsAfterRoomEnded(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	r.End()
	require.False(t, r.IsActive())

	_, err := r.AddUser(uuid.New(), "alice", "#fff")
	require.ErrorIs(t, err, errs.ErrRoomClosed)
}

func TestRemoveUserIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	user := uuid.New()
	_, err := r.AddUser(user, "alice", "#fff")
	require.NoError(t, err)

	r.RemoveUser(user)
	require.False(t, r.HasUser(user))
	require.NotPanics(t, func() { r.RemoveUser(user) })
}

func TestApplyOpRejectedAfterRoomEnded(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	r.End()

	name := "users"
	_, err := r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpCreateTable, Name: &name})
	require.ErrorIs(t, err, errs.ErrRoomClosed)
}

func TestCreateTableAssignsIDAndVersionOne(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	name := "users"

	change, err := r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpCreateTable, Name: &name})
	require.NoError(t, err)
	require.Equal(t, uint64(1), change.Version)
	require.False(t, change.Key.IsRelationship)
	require.NotNil(t, change.Op.NodeId)

	state := r.State()
	require.Len(t, state.Tables, 1)
	require.Equal(t, "users", state.Tables[0].Name)
}

func TestCreateTableRejectsDuplicateName(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	name := "users"

	_, err := r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpCreateTable, Name: &name})
	require.NoError(t, err)

	_, err = r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpCreateTable, Name: &name})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestRenameTableBumpsVersionAndRejectsStaleObservedVersion(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	name := "users"
	created, err := r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpCreateTable, Name: &name})
	require.NoError(t, err)
	nodeID := created.Op.NodeId

	newName := "accounts"
	stale := uint64(0)
	change, err := r.ApplyOp(uuid.New(), protocol.GraphOperation{
		Type: protocol.OpRenameTable, NodeId: nodeID, NewName: &newName, ObservedVersion: &stale,
	})
	require.NoError(t, err)
	require.True(t, change.Rejected, "stale observed version must be rejected via LWW, not applied")

	current := uint64(1)
	change, err = r.ApplyOp(uuid.New(), protocol.GraphOperation{
		Type: protocol.OpRenameTable, NodeId: nodeID, NewName: &newName, ObservedVersion: &current,
	})
	require.NoError(t, err)
	require.False(t, change.Rejected)
	require.Equal(t, uint64(2), change.Version)

	state := r.State()
	require.Equal(t, "accounts", state.Tables[0].Name)
}

func TestDeleteTableCascadesRelationships(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	nameA, nameB := "a", "b"
	a, err := r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpCreateTable, Name: &nameA})
	require.NoError(t, err)
	b, err := r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpCreateTable, Name: &nameB})
	require.NoError(t, err)

	kind := protocol.RelationshipOneToMany
	fromCol, toCol := "id", "a_id"
	_, err = r.ApplyOp(uuid.New(), protocol.GraphOperation{
		Type:     protocol.OpCreateRelationship,
		FromNode: a.Op.NodeId, ToNode: b.Op.NodeId,
		FromColumn: &fromCol, ToColumn: &toCol, Kind: &kind,
	})
	require.NoError(t, err)
	require.Len(t, r.State().Relationships, 1)

	_, err = r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpDeleteTable, NodeId: a.Op.NodeId})
	require.NoError(t, err)

	state := r.State()
	require.Len(t, state.Tables, 1)
	require.Empty(t, state.Relationships, "deleting an endpoint table must cascade-delete its relationships")
}

func TestAddColumnRejectsUnknownForeignKeyTarget(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	name := "users"
	created, err := r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpCreateTable, Name: &name})
	require.NoError(t, err)

	col := protocol.Column{Name: "org_id", Type: "uuid", ForeignKey: &protocol.ForeignKey{RefTable: "orgs", RefColumn: "id"}}
	_, err = r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpAddColumn, NodeId: created.Op.NodeId, Column: &col})
	require.Error(t, err)
}

func TestUpdateColumnRejectsOutOfRangeIndex(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	name := "users"
	created, err := r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpCreateTable, Name: &name})
	require.NoError(t, err)

	idx := 0
	col := protocol.Column{Name: "id", Type: "uuid"}
	_, err = r.ApplyOp(uuid.New(), protocol.GraphOperation{Type: protocol.OpUpdateColumn, NodeId: created.Op.NodeId, ColumnIndex: &idx, Column: &col})
	require.Error(t, err)
}

func TestMaybeSnapshotRespectsInterval(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)

	_, taken, err := r.MaybeSnapshot()
	require.NoError(t, err)
	require.True(t, taken, "first snapshot attempt must always fire")

	_, taken, err = r.MaybeSnapshot()
	require.NoError(t, err)
	require.False(t, taken)
}

func TestEndIsIdempotentAndTerminal(t *testing.T) {
	clock := newFakeClock()
	r := newTestRoom(t, clock)
	r.End()
	endedAt := r.EndedAt

	r.End()
	require.Equal(t, endedAt, r.EndedAt, "ending an already-ended room must not move the timestamp")
	require.False(t, r.IsActive())
}

func TestMaxUsersIsClampedToBounds(t *testing.T) {
	clock := newFakeClock()
	cfg := Config{Name: "room", MaxUsers: 0}
	r := New(uuid.New(), uuid.New(), uuid.New(), cfg, clock)
	require.Equal(t, MinUsersPerRoom, r.MaxUsers())

	cfg2 := Config{Name: "room", MaxUsers: MaxUsersPerRoom + 100}
	r2 := New(uuid.New(), uuid.New(), uuid.New(), cfg2, clock)
	require.Equal(t, MaxUsersPerRoom, r2.MaxUsers())
}
