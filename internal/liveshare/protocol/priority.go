package protocol

// Priority is one of Volatile/Low/Normal/Critical, governing drop policy and
// ordering guarantees (spec.md §4.1).
type Priority int

const (
	PriorityVolatile Priority = iota
	PriorityLow
	PriorityNormal
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityVolatile:
		return "volatile"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Droppable reports whether the limiter/queue may silently drop a message of
// this priority instead of delivering it (spec.md §4.1 table).
func (p Priority) Droppable() bool {
	return p != PriorityCritical
}

// OrderPreserving reports whether the server guarantees relative delivery
// order for messages of this priority from the same sender.
func (p Priority) OrderPreserving() bool {
	return p == PriorityCritical
}

// MessageType is the semantic type of a ClientMessage/ServerMessage, kept
// distinct from Priority because priority is a pure function of the type
// (spec.md §9 "Dispatch over message types").
type MessageType int

const (
	TypeAuth MessageType = iota
	TypeAuthResult
	TypeRoomInfo
	TypeJoin
	TypeLeave
	TypeInitState
	TypeUpdate
	TypeCursorMove
	TypeIdleStatus
	TypeUserViewport
	TypeAwareness
	TypeSnapshotRecovery
	TypeOpRejected
	TypePing
	TypePong
)

// Priority returns the priority class for a semantic message type, a pure
// function of the tag as mandated by spec.md §9.
func (t MessageType) Priority() Priority {
	switch t {
	case TypeInitState, TypeUpdate, TypeAuth, TypeAuthResult, TypeRoomInfo,
		TypeJoin, TypeLeave, TypeSnapshotRecovery, TypeOpRejected:
		return PriorityCritical
	case TypeCursorMove:
		return PriorityVolatile
	case TypeIdleStatus, TypeUserViewport:
		return PriorityLow
	case TypeAwareness:
		return PriorityNormal
	case TypePing, TypePong:
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

func (t MessageType) String() string {
	switch t {
	case TypeAuth:
		return "auth"
	case TypeAuthResult:
		return "auth_result"
	case TypeRoomInfo:
		return "room_info"
	case TypeJoin:
		return "user_joined"
	case TypeLeave:
		return "user_left"
	case TypeInitState:
		return "graph_state"
	case TypeUpdate:
		return "graph_op"
	case TypeCursorMove:
		return "cursor_move"
	case TypeIdleStatus:
		return "idle_status"
	case TypeUserViewport:
		return "user_viewport"
	case TypeAwareness:
		return "awareness"
	case TypeSnapshotRecovery:
		return "snapshot_recovery"
	case TypeOpRejected:
		return "op_rejected"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	default:
		return "unknown"
	}
}
