// Package httpapi exposes the liveshare core over HTTP: room admin REST
// endpoints and the websocket upgrade, grounded on
// sumanthd032-CollabText/server/main.go's http.HandleFunc wiring,
// generalized onto github.com/gorilla/mux (the teacher's declared-but-unused
// router dependency).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/auth"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/registry"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/room"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/session"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/storage"
)

// Deps are the Server's collaborators, grounded on
// MarcoPoloResearchLab-gravity's server.Dependencies pattern.
type Deps struct {
	Rooms    *registry.Registry
	Verifier *auth.TokenVerifier
	Oracle   auth.Oracle
	SessCfg  session.Config
	Logger   *zap.Logger

	// Store and Events are optional; a nil Store runs in the degraded,
	// in-memory-only mode described in spec.md §7.
	Store    storage.Port
	Events   *storage.EventBus
	Degraded *storage.DegradedModeCounter
}

// Server wires the room registry, session config, and optional persistence
// to HTTP handlers.
type Server struct {
	deps     Deps
	upgrader Upgrader
}

// NewServer constructs a Server ready to have its routes mounted.
func NewServer(deps Deps) *Server {
	if deps.Degraded == nil {
		deps.Degraded = storage.NewDegradedModeCounter(nil)
	}
	return &Server{deps: deps, upgrader: NewUpgrader()}
}

// Routes builds the mux.Router serving both the admin REST surface and the
// websocket upgrade endpoint.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/liveshare/rooms", s.handleCreateRoom).Methods(http.MethodPost)
	r.HandleFunc("/api/liveshare/rooms/{id}", s.handleGetRoom).Methods(http.MethodGet)
	r.HandleFunc("/api/liveshare/rooms/{id}", s.handleDeleteRoom).Methods(http.MethodDelete)
	r.HandleFunc("/api/liveshare/ws", s.handleWebsocket).Methods(http.MethodGet)
	return r
}

type createRoomRequest struct {
	DiagramID uuid.UUID `json:"diagram_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Name      string    `json:"name"`
	Password  *string   `json:"password,omitempty"`
	MaxUsers  int       `json:"max_users,omitempty"`
}

type roomResponse struct {
	ID              uuid.UUID `json:"id"`
	DiagramID       uuid.UUID `json:"diagram_id"`
	OwnerID         uuid.UUID `json:"owner_id"`
	UserCount       int       `json:"user_count"`
	MaxUsers        int       `json:"max_users"`
	IsActive        bool      `json:"is_active"`
	PasswordEnabled bool      `json:"password_enabled"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := room.DefaultConfig(req.Name)
	if req.MaxUsers > 0 {
		cfg.MaxUsers = req.MaxUsers
	}
	if req.Password != nil {
		withPwd, err := cfg.WithPassword(*req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to hash room password")
			return
		}
		cfg = withPwd
	}

	rm, err := s.deps.Rooms.CreateRoom(req.DiagramID, req.OwnerID, cfg)
	if err != nil {
		s.deps.Logger.Warn("create room rejected", zap.Error(err))
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.persistSessionRow(r.Context(), rm)
	s.publishEvent(r.Context(), storage.EventRoomCreated, rm.ID, nil)

	writeJSON(w, http.StatusCreated, toRoomResponse(rm))
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	rm, ok := s.deps.Rooms.GetRoom(id)
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, toRoomResponse(rm))
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	if _, ok := s.deps.Rooms.DeleteRoom(id); !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.EndSession(r.Context(), id, time.Now()); err != nil {
			s.deps.Logger.Warn("failed to persist room end", zap.Error(err))
			s.deps.Degraded.Incr(r.Context())
		}
	}
	s.publishEvent(r.Context(), storage.EventRoomEnded, id, nil)

	w.WriteHeader(http.StatusNoContent)
}

// persistSessionRow writes the sessions row for a newly created room.
// Failures are logged and counted, not surfaced to the caller — room
// creation succeeds in-memory regardless (spec.md §7 degraded mode).
func (s *Server) persistSessionRow(ctx context.Context, rm *room.Room) {
	if s.deps.Store == nil {
		return
	}
	_, err := s.deps.Store.CreateSession(ctx, storage.SessionRow{
		ID:        rm.ID,
		DiagramID: rm.DiagramID,
		OwnerID:   rm.OwnerID,
		Name:      rm.Name(),
		MaxUsers:  rm.MaxUsers(),
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if err != nil {
		s.deps.Logger.Warn("failed to persist new session", zap.Error(err))
		s.deps.Degraded.Incr(ctx)
	}
}

func (s *Server) publishEvent(ctx context.Context, kind storage.EventKind, roomID uuid.UUID, userID *uuid.UUID) {
	if s.deps.Events == nil {
		return
	}
	_ = s.deps.Events.Publish(ctx, storage.RoomEvent{
		Kind:      kind,
		RoomID:    roomID,
		UserID:    userID,
		Timestamp: time.Now(),
	})
}

func toRoomResponse(rm *room.Room) roomResponse {
	return roomResponse{
		ID:              rm.ID,
		DiagramID:       rm.DiagramID,
		OwnerID:         rm.OwnerID,
		UserCount:       rm.UserCount(),
		MaxUsers:        rm.MaxUsers(),
		IsActive:        rm.IsActive(),
		PasswordEnabled: rm.IsProtected(),
	}
}
