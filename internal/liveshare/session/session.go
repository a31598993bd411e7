// Package session implements the per-WebSocket state machine: auth
// handshake, inbound dispatch by semantic type and priority class, the
// periodic tick, and the bounded outbound queue (spec.md §4.7), grounded
// on original_source/src/core/liveshare/websocket.rs's ConnectionSession
// and idle_detection.rs's IdleDetector.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c0st1nus/archischema-liveshare/internal/errs"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/auth"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/ratelimit"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/registry"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/room"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/throttle"
)

// State is the session's connection lifecycle state (spec.md §4.7).
type State int

const (
	StateConnected State = iota
	StateAwaitingAuth
	StateJoined
	StateRejected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateJoined:
		return "joined"
	case StateRejected:
		return "rejected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// AuthTimeout bounds how long a session may remain in AwaitingAuth before
// being closed (spec.md §5 / §6).
const AuthTimeout = 10 * time.Second

// Config bundles the tunables a Session needs at construction (spec.md
// §6 "Configuration (enumerated)").
type Config struct {
	Limits           ratelimit.Limits
	CursorInterval   time.Duration
	SchemaInterval   time.Duration
	AwarenessWindow  time.Duration
	AuthTimeout      time.Duration
	QueueCapacity    int
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		Limits:          ratelimit.DefaultLimits(),
		CursorInterval:  throttle.DefaultCursorInterval,
		SchemaInterval:  throttle.DefaultSchemaInterval,
		AwarenessWindow: throttle.DefaultAwarenessInterval,
		AuthTimeout:     AuthTimeout,
		QueueCapacity:   DefaultQueueCapacity,
	}
}

// Outbound is a single message ready for wire encoding and transmission.
type Outbound struct {
	Message  protocol.ServerMessage
	Priority protocol.Priority
}

// Session is the server-side state for a single WebSocket connection.
type Session struct {
	state       State
	clock       Clock
	connectedAt time.Time
	authDeadline time.Time

	verifier *auth.TokenVerifier
	oracle   auth.Oracle
	rooms    *registry.Registry

	userID    protocol.UserId
	username  string
	color     string
	diagramID protocol.DiagramId
	room      *room.Room

	limiter          *ratelimit.MessageLimiter
	cursorThrottler  *throttle.CursorThrottler
	schemaThrottler  *throttle.SchemaThrottler
	awarenessBatcher *throttle.AwarenessBatcher
	activity         *ActivityTracker

	outbound *OutboundQueue
	pending  []Outbound

	// broadcastCh receives peer fan-out from the joined room (spec.md §4.6
	// "broadcast_update"). It exists from construction so the connection
	// pump can select on it before the session has joined any room; Room
	// only ever sends on it once Subscribe has been called.
	broadcastCh chan room.BroadcastMessage
}

// New constructs a Session in the Connected state, immediately advancing
// to AwaitingAuth (spec.md §4.7 state diagram has no observable
// distinction between the two before the first tick).
func New(verifier *auth.TokenVerifier, oracle auth.Oracle, rooms *registry.Registry, cfg Config, clock Clock) *Session {
	if clock == nil {
		clock = SystemClock
	}
	now := clock.Now()
	return &Session{
		state:            StateAwaitingAuth,
		clock:            clock,
		connectedAt:      now,
		authDeadline:     now.Add(cfg.AuthTimeout),
		verifier:         verifier,
		oracle:           oracle,
		rooms:            rooms,
		limiter:          ratelimit.NewMessageLimiter(cfg.Limits, limiterClock{clock}),
		cursorThrottler:  throttle.NewCursorThrottler(cfg.CursorInterval, throttleClock{clock}),
		schemaThrottler:  throttle.NewSchemaThrottler(cfg.SchemaInterval, throttleClock{clock}),
		awarenessBatcher: throttle.NewAwarenessBatcher(cfg.AwarenessWindow, throttleClock{clock}),
		activity:         NewActivityTracker(clock),
		outbound:         NewOutboundQueue(cfg.QueueCapacity),
		broadcastCh:      make(chan room.BroadcastMessage, cfg.QueueCapacity),
	}
}

// BroadcastChannel returns the channel the session's room fans peer
// updates out on once joined. Callers should select on it alongside
// Dispatch/Tick and route anything received through Enqueue.
func (s *Session) BroadcastChannel() <-chan room.BroadcastMessage {
	return s.broadcastCh
}

// limiterClock/throttleClock adapt the shared Clock interface to the
// per-package Clock interfaces (identical method sets, distinct types per
// Go's lack of structural interface unification across packages without
// an adapter).
type limiterClock struct{ c Clock }

func (l limiterClock) Now() time.Time { return l.c.Now() }

type throttleClock struct{ c Clock }

func (t throttleClock) Now() time.Time { return t.c.Now() }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// UserID returns the authenticated user id, valid once Joined.
func (s *Session) UserID() protocol.UserId { return s.userID }

// Room returns the joined room, or nil before Joined.
func (s *Session) Room() *room.Room { return s.room }

// CheckAuthTimeout reports whether the auth deadline has passed while
// still awaiting auth.
func (s *Session) CheckAuthTimeout() bool {
	return s.state == StateAwaitingAuth && s.clock.Now().After(s.authDeadline)
}

// Dispatch handles one inbound client frame (spec.md §4.7 "Inbound
// dispatch"). It returns a non-nil close code when the connection must be
// terminated; application-level faults return (nil, nil) having already
// queued any corrective response.
func (s *Session) Dispatch(raw []byte) (*protocol.CloseCode, error) {
	msg, err := protocol.DecodeClientMessage(raw)
	if err != nil {
		code := protocol.CloseProtocolError
		return &code, fmt.Errorf("parse inbound frame: %w", err)
	}

	priority := msg.Type.Priority()
	if !s.limiter.CheckAndConsume(priority) {
		if !priority.Droppable() {
			code := protocol.CloseRateLimitExceeded
			return &code, errs.New(errs.KindRateLimited, "critical rate limit exhausted")
		}
		return nil, nil // volatile/low/normal: drop silently
	}

	if s.state == StateAwaitingAuth {
		if msg.Type != protocol.TypeAuth {
			return nil, nil // ignore everything but auth pre-join, per spec.md §4.7
		}
		return s.handleAuth(msg)
	}
	if s.state != StateJoined {
		return nil, nil
	}

	switch msg.Type {
	case protocol.TypeUpdate:
		return nil, s.handleGraphOp(msg)
	case protocol.TypeCursorMove:
		s.handleCursorMove(msg)
		return nil, nil
	case protocol.TypeAwareness:
		s.handleAwareness(msg)
		return nil, nil
	case protocol.TypeIdleStatus:
		s.handleIdleStatus(msg)
		return nil, nil
	case protocol.TypeUserViewport:
		s.handleViewport(msg)
		return nil, nil
	case protocol.TypePing:
		s.queue(protocol.ServerMessage{Type: protocol.TypePong}, protocol.PriorityCritical)
		return nil, nil
	default:
		return nil, nil
	}
}

func (s *Session) handleAuth(msg protocol.ClientMessage) (*protocol.CloseCode, error) {
	claims, err := s.verifier.Verify(msg.Token)
	if err != nil {
		s.rejectAuth("invalid or expired token")
		code := protocol.CloseAuthFailure
		return &code, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		s.rejectAuth("malformed subject claim")
		code := protocol.CloseAuthFailure
		return &code, err
	}

	allowed, err := s.oracle.CanJoin(userID, claims.DiagramID)
	if err != nil || !allowed {
		s.rejectAuth("not authorized to join this room")
		code := protocol.CloseAuthFailure
		return &code, err
	}

	roomID := msg.RoomID
	rm, ok := s.rooms.GetRoom(roomID)
	if !ok {
		s.rejectAuth("room not found")
		code := protocol.CloseRoomFull // closest admission-error code; no dedicated "not found"
		return &code, fmt.Errorf("room %s not found", roomID)
	}

	username := claims.Username
	if msg.Username != "" {
		username = msg.Username
	}
	color := participantColor(userID)

	participant, err := rm.AddUser(userID, username, color)
	if err != nil {
		s.rejectAuth(err.Error())
		code := admissionCloseCode(err)
		return &code, err
	}

	s.state = StateJoined
	s.userID = userID
	s.username = participant.DisplayName
	s.color = color
	s.diagramID = claims.DiagramID
	s.room = rm

	// spec.md §4.7 "On entry to Joined the session MUST, in this order":
	s.queue(protocol.ServerMessage{Type: protocol.TypeAuthResult, Success: true, RoomID: roomID, UserID: userID, Username: username, Color: color}, protocol.PriorityCritical)

	summaries := make([]protocol.UserSummary, 0)
	for _, p := range rm.Participants() {
		summaries = append(summaries, protocol.UserSummary{UserID: p.UserID, Username: p.DisplayName, Color: p.Color})
	}
	s.queue(protocol.RoomInfoMessage(roomID, summaries), protocol.PriorityCritical)

	if snap, ok := rm.Snapshots().GetLatest(); ok {
		s.queue(protocol.ServerMessage{
			Type: protocol.TypeSnapshotRecovery, SnapshotID: snap.ID.String(), SnapshotData: snap.Data,
			ElementCount: snap.ElementCount, SnapshotCreated: snap.CreatedAt,
		}, protocol.PriorityCritical)
	}

	state := rm.State()
	s.queue(protocol.ServerMessage{Type: protocol.TypeInitState, State: &state}, protocol.PriorityCritical)

	rm.Ledger().RegisterUser(userID)
	rm.Ledger().MarkFullSync(userID)

	rm.Subscribe(userID, s.broadcastCh)
	rm.BroadcastJoin(userID, username, color)

	return nil, nil
}

func (s *Session) rejectAuth(reason string) {
	s.state = StateRejected
	s.queue(protocol.ServerMessage{Type: protocol.TypeAuthResult, Success: false, Reason: reason}, protocol.PriorityCritical)
}

func admissionCloseCode(err error) protocol.CloseCode {
	switch {
	case errs.Is(err, errs.KindRoomFull):
		return protocol.CloseRoomFull
	case errs.Is(err, errs.KindRoomClosed):
		return protocol.CloseRoomEnded
	default:
		return protocol.CloseAuthFailure
	}
}

func participantColor(id protocol.UserId) string {
	palette := []string{"#e53e3e", "#dd6b20", "#d69e2e", "#38a169", "#319795", "#3182ce", "#5a67d8", "#805ad5", "#d53f8c"}
	var sum int
	for _, b := range id {
		sum += int(b)
	}
	return palette[sum%len(palette)]
}

func (s *Session) handleGraphOp(msg protocol.ClientMessage) error {
	if msg.Op == nil {
		return errs.New(errs.KindValidation, "graph_op missing operation payload")
	}
	if !s.schemaThrottler.ShouldSend() {
		return nil // throttled; convergence restored by later ops + full sync
	}

	changed, err := s.room.ApplyOp(s.userID, *msg.Op)
	if err != nil {
		var kind errs.Kind = errs.KindValidation
		s.queue(protocol.ServerMessage{
			Type: protocol.TypeOpRejected, RejectedCode: string(kind), RejectedReason: err.Error(),
		}, protocol.PriorityCritical)
		return nil
	}
	s.schemaThrottler.MarkSent()

	if changed.Rejected {
		state := s.room.State()
		s.queue(protocol.ServerMessage{
			Type: protocol.TypeOpRejected, RejectedReason: "stale version, corrective full sync follows",
		}, protocol.PriorityCritical)
		s.queue(protocol.ServerMessage{Type: protocol.TypeInitState, State: &state}, protocol.PriorityCritical)
		return nil
	}

	// The sender receives no echo of their own operation (spec.md's
	// delivery law); Room.ApplyOp has already fanned the change out to
	// every other joined peer via broadcast_update.
	return nil
}

func (s *Session) handleCursorMove(msg protocol.ClientMessage) {
	if msg.Cursor == nil {
		return
	}
	s.activity.RecordActivity()
	s.room.UpdateCursor(s.userID, *msg.Cursor)
	if pos, ok := s.cursorThrottler.Update(*msg.Cursor); ok {
		s.pending = append(s.pending, Outbound{
			Message:  protocol.ServerMessage{Type: protocol.TypeCursorMove, UserID: s.userID, Cursor: &pos},
			Priority: protocol.PriorityVolatile,
		})
	}
}

func (s *Session) handleAwareness(msg protocol.ClientMessage) {
	if msg.Awareness == nil {
		return
	}
	s.activity.RecordActivity()
	s.room.UpdateAwareness(s.userID, *msg.Awareness)
	s.awarenessBatcher.Add(s.userID, *msg.Awareness)
}

func (s *Session) handleIdleStatus(msg protocol.ClientMessage) {
	if msg.VisibilityHint != nil {
		s.activity.RecordVisibility(*msg.VisibilityHint == "visible")
	}
	status, changed, shouldBroadcast := s.activity.Update()
	if !changed || !shouldBroadcast {
		return
	}
	s.room.UpdateActivity(s.userID, status)
	s.pending = append(s.pending, Outbound{
		Message:  protocol.ServerMessage{Type: protocol.TypeIdleStatus, UserID: s.userID, Activity: status},
		Priority: protocol.PriorityLow,
	})
}

func (s *Session) handleViewport(msg protocol.ClientMessage) {
	if msg.Center == nil {
		return
	}
	s.activity.RecordActivity()
	s.pending = append(s.pending, Outbound{
		Message:  protocol.ServerMessage{Type: protocol.TypeUserViewport, UserID: s.userID, Cursor: msg.Center},
		Priority: protocol.PriorityLow,
	})
}

// Tick performs the periodic work described in spec.md §4.7: drain pending
// cursor/awareness, maybe snapshot, service timeouts. It returns queued
// outbound messages and, if set, a close code forcing session shutdown.
func (s *Session) Tick() ([]Outbound, *protocol.CloseCode) {
	if s.state == StateAwaitingAuth && s.CheckAuthTimeout() {
		code := protocol.CloseAuthTimeout
		return nil, &code
	}
	if s.state != StateJoined {
		out := s.pending
		s.pending = nil
		return out, nil
	}

	if pos, ok := s.cursorThrottler.DrainPending(); ok {
		s.pending = append(s.pending, Outbound{
			Message:  protocol.ServerMessage{Type: protocol.TypeCursorMove, UserID: s.userID, Cursor: &pos},
			Priority: protocol.PriorityVolatile,
		})
	}

	if s.awarenessBatcher.ShouldFlush() {
		batch := s.awarenessBatcher.Flush()
		s.pending = append(s.pending, Outbound{
			Message:  protocol.ServerMessage{Type: protocol.TypeAwareness, AwarenessBatch: batch},
			Priority: protocol.PriorityNormal,
		})
	}

	if status, changed, shouldBroadcast := s.activity.Update(); changed && shouldBroadcast {
		s.room.UpdateActivity(s.userID, status)
		s.pending = append(s.pending, Outbound{
			Message:  protocol.ServerMessage{Type: protocol.TypeIdleStatus, UserID: s.userID, Activity: status},
			Priority: protocol.PriorityLow,
		})
	}

	if snap, created, err := s.room.MaybeSnapshot(); err == nil && created {
		s.pending = append(s.pending, Outbound{
			Message: protocol.ServerMessage{
				Type: protocol.TypeSnapshotRecovery, SnapshotID: snap.ID.String(),
				ElementCount: snap.ElementCount, SnapshotCreated: snap.CreatedAt,
			},
			Priority: protocol.PriorityCritical,
		})
	}

	if s.room.Ledger().NeedsFullSync(s.userID) {
		state := s.room.State()
		s.pending = append(s.pending, Outbound{
			Message:  protocol.ServerMessage{Type: protocol.TypeInitState, State: &state},
			Priority: protocol.PriorityCritical,
		})
		s.room.Ledger().MarkFullSync(s.userID)
	}

	out := s.pending
	s.pending = nil
	return out, nil
}

// Enqueue encodes and pushes a message onto the outbound queue, applying
// the overflow policy; it returns true if the session must now close with
// SlowConsumer.
func (s *Session) Enqueue(msg protocol.ServerMessage, priority protocol.Priority) (slowConsumer bool, err error) {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		return false, err
	}
	return s.outbound.Enqueue(data, priority), nil
}

func (s *Session) queue(msg protocol.ServerMessage, priority protocol.Priority) {
	s.pending = append(s.pending, Outbound{Message: msg, Priority: priority})
}

// PendingOutbound drains messages queued by Dispatch since the last drain,
// without performing Tick's periodic work. Callers should flush this after
// every Dispatch so request/response messages like AuthResult or Pong are
// not delayed until the next tick.
func (s *Session) PendingOutbound() []Outbound {
	out := s.pending
	s.pending = nil
	return out
}

// DrainOutbound returns every pending frame already encoded and accepted
// onto the outbound queue.
func (s *Session) DrainOutbound() [][]byte {
	return s.outbound.Drain()
}

// Close transitions the session to Disconnected, removing it from its
// room if joined (spec.md §5 "Cancellation").
func (s *Session) Close() {
	if s.state == StateJoined && s.room != nil {
		s.room.BroadcastLeave(s.userID)
		s.room.RemoveUser(s.userID)
	}
	s.state = StateDisconnected
}
