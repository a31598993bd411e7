// Package room implements the collaborative editing room: the owner of
// graph state, awareness, the broadcast ledger, and the snapshot ring for
// one diagram (spec.md §4.6), grounded on
// original_source/src/core/liveshare/room.rs. Where the Rust original
// synchronizes an opaque Yjs CRDT document, this port synchronizes the
// structured GraphState directly via versioned, validated operations, per
// spec.md's schema-graph data model.
package room

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/c0st1nus/archischema-liveshare/internal/errs"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/broadcast"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/snapshot"
)

// Limits on room membership (spec.md §6 "max_users" / §8 boundary case).
const (
	MaxUsersPerRoom = 100
	MinUsersPerRoom = 2
)

// Config holds a room's configuration, including optional share-link
// password protection (grounded on room.rs's RoomConfig/with_password,
// supplementing spec.md's bare `password_hash?` column with the
// bcrypt-backed verification the original implements).
type Config struct {
	Name      string
	MaxUsers  int
	PasswordHash *string
}

// DefaultConfig returns the default room configuration.
func DefaultConfig(name string) Config {
	return Config{Name: name, MaxUsers: MaxUsersPerRoom}
}

// WithPassword sets password protection on the config, hashing with bcrypt.
func (c Config) WithPassword(password string) (Config, error) {
	if password == "" {
		c.PasswordHash = nil
		return c, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return c, fmt.Errorf("hash password: %w", err)
	}
	h := string(hash)
	c.PasswordHash = &h
	return c, nil
}

func clampMaxUsers(n int) int {
	if n < MinUsersPerRoom {
		return MinUsersPerRoom
	}
	if n > MaxUsersPerRoom {
		return MaxUsersPerRoom
	}
	return n
}

// Participant is a user currently joined to a room (spec.md §3).
type Participant struct {
	UserID       protocol.UserId
	DisplayName  string
	Color        string
	Cursor       *protocol.Point
	Activity     protocol.Activity
	LastActivity time.Time
	JoinedAt     time.Time
}

// AppliedChange is the result of a successfully applied graph operation,
// ready for broadcast.
type AppliedChange struct {
	Op      protocol.GraphOperation
	Key     protocol.ElementKey
	Version uint64
	// Rejected is set when the op lost an optimistic-concurrency race; the
	// server kept its own version (LWW) and the submitter must be sent a
	// corrective full-sync (spec.md §4.6).
	Rejected bool
}

// Clock abstracts wall-clock time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

var SystemClock Clock = systemClock{}

// Room owns graph state, awareness, the broadcast ledger, and the snapshot
// ring for one diagram (spec.md §3 "Room").
type Room struct {
	mu sync.RWMutex

	ID         protocol.RoomId
	DiagramID  protocol.DiagramId
	OwnerID    protocol.UserId
	CreatedAt  time.Time
	EndedAt    *time.Time
	config     Config

	state      protocol.GraphState
	users      map[protocol.UserId]*Participant
	awareness  map[protocol.UserId]protocol.AwarenessState

	clock     Clock
	ledger    *broadcast.Manager
	snapshots *snapshot.Manager

	subMu       sync.Mutex
	subscribers map[protocol.UserId]chan<- BroadcastMessage

	nextNodeID protocol.NodeId
	nextEdgeID protocol.EdgeId
}

// BroadcastMessage is a server message queued for delivery to one peer's
// connection goroutine. Subscribe registers the channel the Room sends on;
// this is the in-process analogue of the teacher's redis pub/sub fan-out,
// scoped to one room within a single server instance (spec.md §4.6
// "broadcast_update").
type BroadcastMessage struct {
	Message  protocol.ServerMessage
	Priority protocol.Priority
}

// New creates an active room with the given configuration.
func New(id protocol.RoomId, diagramID protocol.DiagramId, ownerID protocol.UserId, config Config, clock Clock) *Room {
	if clock == nil {
		clock = SystemClock
	}
	config.MaxUsers = clampMaxUsers(config.MaxUsers)
	return &Room{
		ID:          id,
		DiagramID:   diagramID,
		OwnerID:     ownerID,
		CreatedAt:   clock.Now(),
		config:      config,
		users:       make(map[protocol.UserId]*Participant),
		awareness:   make(map[protocol.UserId]protocol.AwarenessState),
		clock:       clock,
		ledger:      broadcast.NewManager(clock),
		snapshots:   snapshot.NewManager(id, nil),
		subscribers: make(map[protocol.UserId]chan<- BroadcastMessage),
	}
}

// Subscribe registers a peer's broadcast channel; Room only ever sends on
// it, non-blockingly, never closes or receives from it. Callers
// (typically a Session, on joining) own the channel's lifecycle.
func (r *Room) Subscribe(userID protocol.UserId, ch chan<- BroadcastMessage) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers[userID] = ch
}

// Unsubscribe removes a peer's broadcast channel, typically on disconnect.
func (r *Room) Unsubscribe(userID protocol.UserId) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	delete(r.subscribers, userID)
}

func (r *Room) peersExcept(sender protocol.UserId) map[protocol.UserId]chan<- BroadcastMessage {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	out := make(map[protocol.UserId]chan<- BroadcastMessage, len(r.subscribers))
	for uid, ch := range r.subscribers {
		if uid != sender {
			out[uid] = ch
		}
	}
	return out
}

// deliver attempts a non-blocking send; a full channel means the peer's
// connection is backed up and the delivery is dropped, relying on the
// ledger's full-sync backstop to catch them up later (spec.md §4.4).
func deliver(ch chan<- BroadcastMessage, msg protocol.ServerMessage, priority protocol.Priority) bool {
	select {
	case ch <- BroadcastMessage{Message: msg, Priority: priority}:
		return true
	default:
		return false
	}
}

// BroadcastJoin announces a newly joined participant to every other peer;
// the joiner themself is informed separately, via their own RoomInfo
// (spec.md §8 property 5's join-side counterpart).
func (r *Room) BroadcastJoin(userID protocol.UserId, username, color string) {
	msg := protocol.ServerMessage{Type: protocol.TypeJoin, UserID: userID, Username: username, Color: color}
	for _, ch := range r.peersExcept(userID) {
		deliver(ch, msg, protocol.PriorityCritical)
	}
}

// BroadcastLeave announces a departing participant to every remaining peer
// (spec.md §8 property 5 "on termination, exactly one UserLeft").
func (r *Room) BroadcastLeave(userID protocol.UserId) {
	msg := protocol.ServerMessage{Type: protocol.TypeLeave, UserID: userID}
	for _, ch := range r.peersExcept(userID) {
		deliver(ch, msg, protocol.PriorityCritical)
	}
}

func elementVersions(state protocol.GraphState) []broadcast.VersionedElement {
	out := make([]broadcast.VersionedElement, 0, len(state.Tables)+len(state.Relationships))
	for _, t := range state.Tables {
		out = append(out, broadcast.VersionedElement{Key: protocol.TableKey(t.NodeId), Version: t.Version})
	}
	for _, rel := range state.Relationships {
		out = append(out, broadcast.VersionedElement{Key: protocol.RelationshipKey(rel.EdgeId), Version: rel.Version})
	}
	return out
}

// broadcastUpdate composes a successfully applied op with the broadcast
// ledger's broadcast_incremental (spec.md §4.4, §4.6): every other joined
// peer receives either a full resync (if due, or if they have drifted on
// more than the element this op touched) or exactly this op, and the
// sender never receives an echo of their own operation (spec.md's delivery
// law, E2E scenario S1).
func (r *Room) broadcastUpdate(sender protocol.UserId, change AppliedChange) {
	state := r.State()
	versions := elementVersions(state)

	for uid, ch := range r.peersExcept(sender) {
		if r.ledger.NeedsFullSync(uid) {
			r.sendFullSync(uid, ch, state, versions)
			continue
		}

		changed := r.ledger.GetChangedElements(uid, versions)
		switch {
		case len(changed) == 0 && (change.Op.Type == protocol.OpDeleteTable || change.Op.Type == protocol.OpDeleteRelationship):
			// A deletion leaves no element behind for the ledger to diff,
			// so the op itself is how an in-sync peer learns of it.
			deliver(ch, protocol.ServerMessage{Type: protocol.TypeUpdate, Op: &change.Op}, protocol.PriorityCritical)
		case len(changed) == 0:
			// Peer's ledger already reflects this version (e.g. a
			// duplicate broadcast race); nothing to send.
		case len(changed) == 1 && r.ledger.ShouldSendUpdate(uid, change.Key, change.Version):
			if deliver(ch, protocol.ServerMessage{Type: protocol.TypeUpdate, Op: &change.Op}, protocol.PriorityCritical) {
				r.ledger.MarkSent(uid, change.Key, change.Version)
			}
		default:
			// Peer missed one or more prior broadcasts; resync the whole
			// state rather than reconstructing synthetic ops for every
			// element they drifted on.
			r.sendFullSync(uid, ch, state, versions)
		}
	}
}

func (r *Room) sendFullSync(uid protocol.UserId, ch chan<- BroadcastMessage, state protocol.GraphState, versions []broadcast.VersionedElement) {
	if deliver(ch, protocol.ServerMessage{Type: protocol.TypeInitState, State: &state}, protocol.PriorityCritical) {
		r.ledger.MarkBatchSent(uid, versions)
		r.ledger.MarkFullSync(uid)
	}
}

// IsActive reports whether the room has not been ended.
func (r *Room) IsActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.EndedAt == nil
}

// IsProtected reports whether the room requires a password to join.
func (r *Room) IsProtected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.PasswordHash != nil
}

// VerifyPassword checks a candidate password against the room's hash. A
// room with no password accepts any (including absent) password.
func (r *Room) VerifyPassword(password *string) bool {
	r.mu.RLock()
	hash := r.config.PasswordHash
	r.mu.RUnlock()
	if hash == nil {
		return true
	}
	if password == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(*password)) == nil
}

// UserCount returns the current number of joined participants.
func (r *Room) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// IsFull reports whether the room is at capacity.
func (r *Room) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users) >= r.config.MaxUsers
}

// MaxUsers reports the room's configured capacity.
func (r *Room) MaxUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.MaxUsers
}

// Name reports the room's display name.
func (r *Room) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Name
}

// HasUser reports whether a user is currently joined.
func (r *Room) HasUser(userID protocol.UserId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Participants returns a snapshot slice of current participants.
func (r *Room) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.users))
	for _, p := range r.users {
		out = append(out, *p)
	}
	return out
}

// AddUser joins a participant to the room (spec.md §4.6).
func (r *Room) AddUser(userID protocol.UserId, displayName, color string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.EndedAt != nil {
		return Participant{}, errs.ErrRoomClosed
	}
	if _, exists := r.users[userID]; exists {
		return Participant{}, errs.ErrAlreadyJoined
	}
	if len(r.users) >= r.config.MaxUsers {
		return Participant{}, errs.ErrRoomFull
	}

	now := r.clock.Now()
	p := &Participant{
		UserID:       userID,
		DisplayName:  displayName,
		Color:        color,
		Activity:     protocol.ActivityActive,
		LastActivity: now,
		JoinedAt:     now,
	}
	r.users[userID] = p
	r.ledger.RegisterUser(userID)
	return *p, nil
}

// RemoveUser removes a participant, idempotently, and clears their
// broadcast ledger entry (spec.md §4.6).
func (r *Room) RemoveUser(userID protocol.UserId) {
	r.mu.Lock()
	delete(r.users, userID)
	delete(r.awareness, userID)
	r.mu.Unlock()

	r.ledger.UnregisterUser(userID)
	r.Unsubscribe(userID)
}

// State returns a deep copy of the current graph state, e.g. for sending a
// full sync.
func (r *Room) State() protocol.GraphState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// Ledger exposes the room's broadcast ledger, used by the session to
// decide which elements to send.
func (r *Room) Ledger() *broadcast.Manager {
	return r.ledger
}

// Snapshots exposes the room's snapshot manager.
func (r *Room) Snapshots() *snapshot.Manager {
	return r.snapshots
}

// ApplyOp validates and applies a graph operation against current state,
// bumping the affected element's version by exactly one, per the
// validation rules in spec.md §4.6.
func (r *Room) ApplyOp(sender protocol.UserId, op protocol.GraphOperation) (AppliedChange, error) {
	r.mu.Lock()
	if r.EndedAt != nil {
		r.mu.Unlock()
		return AppliedChange{}, errs.ErrRoomClosed
	}

	var (
		change AppliedChange
		err    error
	)
	switch op.Type {
	case protocol.OpCreateTable:
		change, err = r.applyCreateTable(op)
	case protocol.OpDeleteTable:
		change, err = r.applyDeleteTable(op)
	case protocol.OpRenameTable:
		change, err = r.applyRenameTable(op)
	case protocol.OpMoveTable:
		change, err = r.applyMoveTable(op)
	case protocol.OpAddColumn:
		change, err = r.applyAddColumn(op)
	case protocol.OpUpdateColumn:
		change, err = r.applyUpdateColumn(op)
	case protocol.OpDeleteColumn:
		change, err = r.applyDeleteColumn(op)
	case protocol.OpCreateRelationship:
		change, err = r.applyCreateRelationship(op)
	case protocol.OpDeleteRelationship:
		change, err = r.applyDeleteRelationship(op)
	case protocol.OpUpdateRelationship:
		change, err = r.applyUpdateRelationship(op)
	default:
		err = errs.New(errs.KindValidation, fmt.Sprintf("unknown op type %q", op.Type))
	}
	r.mu.Unlock()

	if err == nil && !change.Rejected {
		r.broadcastUpdate(sender, change)
	}
	return change, err
}

// checkObserved implements the optimistic-concurrency rule: if the
// client supplied the version it observed and it is stale relative to the
// stored version, the server wins (LWW) and the change is reported
// rejected rather than applied (spec.md §4.6).
func checkObserved(observed *uint64, stored uint64) bool {
	if observed == nil {
		return true
	}
	return *observed >= stored
}

func (r *Room) applyCreateTable(op protocol.GraphOperation) (AppliedChange, error) {
	if op.Name == nil {
		return AppliedChange{}, errs.New(errs.KindValidation, "create_table requires a name")
	}
	if r.state.HasTableName(*op.Name, 0) {
		return AppliedChange{}, errs.New(errs.KindValidation, "table name already in use")
	}
	r.nextNodeID++
	id := r.nextNodeID
	pos := protocol.Point{}
	if op.Position != nil {
		pos = *op.Position
	}
	table := protocol.Table{NodeId: id, Name: *op.Name, Position: pos, Version: 1}
	r.state.Tables = append(r.state.Tables, table)

	out := op
	out.NodeId = &id
	return AppliedChange{Op: out, Key: protocol.TableKey(id), Version: 1}, nil
}

func (r *Room) findTableIndex(id protocol.NodeId) int {
	for i := range r.state.Tables {
		if r.state.Tables[i].NodeId == id {
			return i
		}
	}
	return -1
}

func (r *Room) findRelIndex(id protocol.EdgeId) int {
	for i := range r.state.Relationships {
		if r.state.Relationships[i].EdgeId == id {
			return i
		}
	}
	return -1
}

func (r *Room) applyDeleteTable(op protocol.GraphOperation) (AppliedChange, error) {
	if op.NodeId == nil {
		return AppliedChange{}, errs.New(errs.KindValidation, "delete_table requires node_id")
	}
	idx := r.findTableIndex(*op.NodeId)
	if idx < 0 {
		return AppliedChange{}, errs.New(errs.KindValidation, "unknown table")
	}
	r.state.Tables = append(r.state.Tables[:idx], r.state.Tables[idx+1:]...)

	remaining := r.state.Relationships[:0]
	for _, rel := range r.state.Relationships {
		if rel.FromNode == *op.NodeId || rel.ToNode == *op.NodeId {
			continue
		}
		remaining = append(remaining, rel)
	}
	r.state.Relationships = remaining

	return AppliedChange{Op: op, Key: protocol.TableKey(*op.NodeId), Version: 0}, nil
}

func (r *Room) applyRenameTable(op protocol.GraphOperation) (AppliedChange, error) {
	if op.NodeId == nil || op.NewName == nil {
		return AppliedChange{}, errs.New(errs.KindValidation, "rename_table requires node_id and new_name")
	}
	idx := r.findTableIndex(*op.NodeId)
	if idx < 0 {
		return AppliedChange{}, errs.New(errs.KindValidation, "unknown table")
	}
	if !checkObserved(op.ObservedVersion, r.state.Tables[idx].Version) {
		return AppliedChange{Op: op, Key: protocol.TableKey(*op.NodeId), Version: r.state.Tables[idx].Version, Rejected: true}, nil
	}
	if r.state.HasTableName(*op.NewName, *op.NodeId) {
		return AppliedChange{}, errs.New(errs.KindValidation, "table name already in use")
	}
	r.state.Tables[idx].Name = *op.NewName
	r.state.Tables[idx].Version++
	return AppliedChange{Op: op, Key: protocol.TableKey(*op.NodeId), Version: r.state.Tables[idx].Version}, nil
}

func (r *Room) applyMoveTable(op protocol.GraphOperation) (AppliedChange, error) {
	if op.NodeId == nil || op.Position == nil {
		return AppliedChange{}, errs.New(errs.KindValidation, "move_table requires node_id and position")
	}
	idx := r.findTableIndex(*op.NodeId)
	if idx < 0 {
		return AppliedChange{}, errs.New(errs.KindValidation, "unknown table")
	}
	if !checkObserved(op.ObservedVersion, r.state.Tables[idx].Version) {
		return AppliedChange{Op: op, Key: protocol.TableKey(*op.NodeId), Version: r.state.Tables[idx].Version, Rejected: true}, nil
	}
	r.state.Tables[idx].Position = *op.Position
	r.state.Tables[idx].Version++
	return AppliedChange{Op: op, Key: protocol.TableKey(*op.NodeId), Version: r.state.Tables[idx].Version}, nil
}

func (r *Room) applyAddColumn(op protocol.GraphOperation) (AppliedChange, error) {
	if op.NodeId == nil || op.Column == nil {
		return AppliedChange{}, errs.New(errs.KindValidation, "add_column requires node_id and column")
	}
	idx := r.findTableIndex(*op.NodeId)
	if idx < 0 {
		return AppliedChange{}, errs.New(errs.KindValidation, "unknown table")
	}
	if op.Column.ForeignKey != nil {
		if err := r.validateForeignKey(*op.Column.ForeignKey); err != nil {
			return AppliedChange{}, err
		}
	}
	r.state.Tables[idx].Columns = append(r.state.Tables[idx].Columns, *op.Column)
	r.state.Tables[idx].Version++
	return AppliedChange{Op: op, Key: protocol.TableKey(*op.NodeId), Version: r.state.Tables[idx].Version}, nil
}

func (r *Room) applyUpdateColumn(op protocol.GraphOperation) (AppliedChange, error) {
	if op.NodeId == nil || op.ColumnIndex == nil || op.Column == nil {
		return AppliedChange{}, errs.New(errs.KindValidation, "update_column requires node_id, column_index, and column")
	}
	idx := r.findTableIndex(*op.NodeId)
	if idx < 0 {
		return AppliedChange{}, errs.New(errs.KindValidation, "unknown table")
	}
	cols := r.state.Tables[idx].Columns
	if *op.ColumnIndex < 0 || *op.ColumnIndex >= len(cols) {
		return AppliedChange{}, errs.New(errs.KindValidation, "column index out of range")
	}
	if !checkObserved(op.ObservedVersion, r.state.Tables[idx].Version) {
		return AppliedChange{Op: op, Key: protocol.TableKey(*op.NodeId), Version: r.state.Tables[idx].Version, Rejected: true}, nil
	}
	if op.Column.ForeignKey != nil {
		if err := r.validateForeignKey(*op.Column.ForeignKey); err != nil {
			return AppliedChange{}, err
		}
	}
	cols[*op.ColumnIndex] = *op.Column
	r.state.Tables[idx].Version++
	return AppliedChange{Op: op, Key: protocol.TableKey(*op.NodeId), Version: r.state.Tables[idx].Version}, nil
}

func (r *Room) applyDeleteColumn(op protocol.GraphOperation) (AppliedChange, error) {
	if op.NodeId == nil || op.ColumnIndex == nil {
		return AppliedChange{}, errs.New(errs.KindValidation, "delete_column requires node_id and column_index")
	}
	idx := r.findTableIndex(*op.NodeId)
	if idx < 0 {
		return AppliedChange{}, errs.New(errs.KindValidation, "unknown table")
	}
	cols := r.state.Tables[idx].Columns
	if *op.ColumnIndex < 0 || *op.ColumnIndex >= len(cols) {
		return AppliedChange{}, errs.New(errs.KindValidation, "column index out of range")
	}
	r.state.Tables[idx].Columns = append(cols[:*op.ColumnIndex], cols[*op.ColumnIndex+1:]...)
	r.state.Tables[idx].Version++
	return AppliedChange{Op: op, Key: protocol.TableKey(*op.NodeId), Version: r.state.Tables[idx].Version}, nil
}

func (r *Room) validateForeignKey(fk protocol.ForeignKey) error {
	for _, t := range r.state.Tables {
		if t.Name != fk.RefTable {
			continue
		}
		for _, c := range t.Columns {
			if c.Name == fk.RefColumn {
				return nil
			}
		}
		return errs.New(errs.KindValidation, "foreign key references unknown column")
	}
	return errs.New(errs.KindValidation, "foreign key references unknown table")
}

func (r *Room) applyCreateRelationship(op protocol.GraphOperation) (AppliedChange, error) {
	if op.FromNode == nil || op.ToNode == nil || op.FromColumn == nil || op.ToColumn == nil || op.Kind == nil {
		return AppliedChange{}, errs.New(errs.KindValidation, "create_relationship requires endpoints and kind")
	}
	if r.findTableIndex(*op.FromNode) < 0 || r.findTableIndex(*op.ToNode) < 0 {
		return AppliedChange{}, errs.New(errs.KindValidation, "relationship endpoints reference unknown table")
	}
	r.nextEdgeID++
	id := r.nextEdgeID
	rel := protocol.Relationship{
		EdgeId: id, FromNode: *op.FromNode, ToNode: *op.ToNode,
		FromColumn: *op.FromColumn, ToColumn: *op.ToColumn, Kind: *op.Kind, Version: 1,
	}
	if op.Name != nil {
		rel.Name = *op.Name
	}
	r.state.Relationships = append(r.state.Relationships, rel)

	out := op
	out.EdgeId = &id
	return AppliedChange{Op: out, Key: protocol.RelationshipKey(id), Version: 1}, nil
}

func (r *Room) applyDeleteRelationship(op protocol.GraphOperation) (AppliedChange, error) {
	if op.EdgeId == nil {
		return AppliedChange{}, errs.New(errs.KindValidation, "delete_relationship requires edge_id")
	}
	idx := r.findRelIndex(*op.EdgeId)
	if idx < 0 {
		return AppliedChange{}, errs.New(errs.KindValidation, "unknown relationship")
	}
	r.state.Relationships = append(r.state.Relationships[:idx], r.state.Relationships[idx+1:]...)
	return AppliedChange{Op: op, Key: protocol.RelationshipKey(*op.EdgeId), Version: 0}, nil
}

func (r *Room) applyUpdateRelationship(op protocol.GraphOperation) (AppliedChange, error) {
	if op.EdgeId == nil {
		return AppliedChange{}, errs.New(errs.KindValidation, "update_relationship requires edge_id")
	}
	idx := r.findRelIndex(*op.EdgeId)
	if idx < 0 {
		return AppliedChange{}, errs.New(errs.KindValidation, "unknown relationship")
	}
	if !checkObserved(op.ObservedVersion, r.state.Relationships[idx].Version) {
		return AppliedChange{Op: op, Key: protocol.RelationshipKey(*op.EdgeId), Version: r.state.Relationships[idx].Version, Rejected: true}, nil
	}
	if op.Kind != nil {
		r.state.Relationships[idx].Kind = *op.Kind
	}
	if op.Name != nil {
		r.state.Relationships[idx].Name = *op.Name
	}
	r.state.Relationships[idx].Version++
	return AppliedChange{Op: op, Key: protocol.RelationshipKey(*op.EdgeId), Version: r.state.Relationships[idx].Version}, nil
}

// UpdateCursor records a participant's cursor position (spec.md §4.6).
func (r *Room) UpdateCursor(userID protocol.UserId, pos protocol.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.users[userID]; ok {
		p.Cursor = &pos
		p.LastActivity = r.clock.Now()
	}
}

// UpdateAwareness records a participant's awareness blob.
func (r *Room) UpdateAwareness(userID protocol.UserId, state protocol.AwarenessState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.awareness[userID] = state
	if p, ok := r.users[userID]; ok {
		p.LastActivity = r.clock.Now()
	}
}

// UpdateActivity sets a participant's activity state (spec.md §4.7).
func (r *Room) UpdateActivity(userID protocol.UserId, activity protocol.Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.users[userID]; ok {
		p.Activity = activity
	}
}

// MaybeSnapshot creates a new snapshot if the snapshot interval has
// elapsed, called from the session's periodic tick (spec.md §4.6).
func (r *Room) MaybeSnapshot() (snapshot.Snapshot, bool, error) {
	if !r.snapshots.ShouldSnapshot() {
		return snapshot.Snapshot{}, false, nil
	}
	state := r.State()
	snap, err := r.snapshots.CreateSnapshot(state)
	if err != nil {
		return snapshot.Snapshot{}, false, err
	}
	return snap, true, nil
}

// End marks the room as ended; callers are responsible for closing all
// sockets with RoomEnded (spec.md §4.6 "Ended is terminal").
func (r *Room) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.EndedAt == nil {
		now := r.clock.Now()
		r.EndedAt = &now
	}
}
