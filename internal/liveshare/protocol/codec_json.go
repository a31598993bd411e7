package protocol

import (
	"encoding/json"
	"fmt"
)

// wireEnvelope mirrors the `{ type, payload }` shape mandated by spec.md §6,
// matching original_source's `#[serde(tag = "type", content = "payload")]`.
type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var clientTypeNames = map[string]MessageType{
	"auth":          TypeAuth,
	"graph_op":      TypeUpdate,
	"cursor_move":   TypeCursorMove,
	"idle_status":   TypeIdleStatus,
	"user_viewport": TypeUserViewport,
	"awareness":     TypeAwareness,
	"ping":          TypePing,
}

var clientTypeTags = func() map[MessageType]string {
	m := make(map[MessageType]string, len(clientTypeNames))
	for k, v := range clientTypeNames {
		m[v] = k
	}
	return m
}()

// DecodeClientMessage parses a JSON text frame into a ClientMessage.
// Returns a plain wrapped error on malformed frames or unknown types
// (ProtocolError, spec.md §7); callers should close the connection on
// failure.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed envelope: %w", err)
	}
	t, ok := clientTypeNames[env.Type]
	if !ok {
		return ClientMessage{}, fmt.Errorf("unknown message type %q", env.Type)
	}
	var msg ClientMessage
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return ClientMessage{}, fmt.Errorf("malformed payload for %q: %w", env.Type, err)
		}
	}
	msg.Type = t
	return msg, nil
}

// EncodeServerMessage renders a ServerMessage to the `{type, payload}` wire
// form.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	tag, ok := serverTypeTags[msg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown server message type %d", msg.Type)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(wireEnvelope{Type: tag, Payload: payload})
}

var serverTypeTags = map[MessageType]string{
	TypeAuthResult:       "auth_result",
	TypeRoomInfo:         "room_info",
	TypeJoin:             "user_joined",
	TypeLeave:            "user_left",
	TypeInitState:        "graph_state",
	TypeUpdate:           "graph_op",
	TypeCursorMove:       "cursor_move",
	TypeIdleStatus:       "idle_status",
	TypeAwareness:        "awareness",
	TypeSnapshotRecovery: "snapshot_recovery",
	TypeOpRejected:       "op_rejected",
	TypePong:             "pong",
}

// EncodeClientMessage renders a ClientMessage to the `{type, payload}` wire
// form. Primarily used by tests exercising the round trip.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	tag, ok := clientTypeTags[msg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown client message type %d", msg.Type)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(wireEnvelope{Type: tag, Payload: payload})
}

// RoomInfoMessage builds the RoomInfo server message sent on join, listing
// current participants (spec.md §4.7 step 2).
func RoomInfoMessage(roomID RoomId, participants []UserSummary) ServerMessage {
	return ServerMessage{Type: TypeRoomInfo, RoomID: roomID, Participants: participants}
}
