// Package storage implements the abstract storage port spec.md §6
// describes ("Persisted schema (owned by the core)") plus the
// redis-backed room event fan-out, grounded on
// sumanthd032-CollabText/server/main.go's pgxpool/redis wiring.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
)

// SessionRow mirrors the "sessions" table: one row per live or ended room.
type SessionRow struct {
	ID           protocol.RoomId
	DiagramID    protocol.DiagramId
	OwnerID      protocol.UserId
	Name         string
	PasswordHash *string
	MaxUsers     int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	EndedAt      *time.Time
}

// ParticipantRow mirrors the "participants" table.
type ParticipantRow struct {
	ID        int64
	SessionID protocol.RoomId
	UserID    *protocol.UserId
	Username  string
	JoinedAt  time.Time
	LeftAt    *time.Time
}

// SnapshotRow mirrors the "snapshots" table.
type SnapshotRow struct {
	ID           int64
	SessionID    protocol.RoomId
	SnapshotData []byte
	CreatedAt    time.Time
	SizeBytes    int
	ElementCount int
}

// RateLimitRow mirrors the "rate_limits" table (rolling-window observability,
// not the live in-memory bucket state which never touches storage).
type RateLimitRow struct {
	ID          int64
	SessionID   protocol.RoomId
	UserID      *protocol.UserId
	MessageCount int
	WindowStart time.Time
	WindowEnd   time.Time
}

// ErrAlreadyActive is returned by CreateSession when the diagram already has
// an active session (spec.md §9's "at most one active session per diagram"
// uniqueness constraint, mapped from a database constraint violation).
var ErrAlreadyActive = errors.New("storage: diagram already has an active session")

// Port is the persistence boundary the liveshare core reads/writes through.
// Implementations must map a uniqueness-constraint violation on
// (diagram_id, is_active=true) to ErrAlreadyActive.
type Port interface {
	Close()

	CreateSession(ctx context.Context, row SessionRow) (SessionRow, error)
	GetSession(ctx context.Context, id protocol.RoomId) (SessionRow, bool, error)
	GetActiveSessionByDiagram(ctx context.Context, diagramID protocol.DiagramId) (SessionRow, bool, error)
	EndSession(ctx context.Context, id protocol.RoomId, endedAt time.Time) error
	EndSessionsForDiagram(ctx context.Context, diagramID protocol.DiagramId, endedAt time.Time) error

	RecordJoin(ctx context.Context, sessionID protocol.RoomId, userID *protocol.UserId, username string, joinedAt time.Time) (ParticipantRow, error)
	RecordLeave(ctx context.Context, participantID int64, leftAt time.Time) error

	SaveSnapshot(ctx context.Context, row SnapshotRow) (SnapshotRow, error)
	LatestSnapshot(ctx context.Context, sessionID protocol.RoomId) (SnapshotRow, bool, error)
	TrimSnapshots(ctx context.Context, sessionID protocol.RoomId, keep int) error

	RecordRateLimitWindow(ctx context.Context, row RateLimitRow) error
}
