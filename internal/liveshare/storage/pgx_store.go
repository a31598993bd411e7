package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
)

// pgUniqueViolation is Postgres's SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PgxStore is the Postgres-backed Port, generalized from
// sumanthd032-CollabText/server/main.go's bare pgxpool.New wiring into a
// full implementation of the four owned tables.
type PgxStore struct {
	pool *pgxpool.Pool
}

// NewPgxStore wraps an already-connected pool.
func NewPgxStore(pool *pgxpool.Pool) *PgxStore {
	return &PgxStore{pool: pool}
}

// Connect dials Postgres, mirroring the teacher's pgxpool.New(ctx, dbUrl) call.
func Connect(ctx context.Context, dsn string) (*PgxStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	return NewPgxStore(pool), nil
}

func (s *PgxStore) Close() { s.pool.Close() }

func (s *PgxStore) CreateSession(ctx context.Context, row SessionRow) (SessionRow, error) {
	const q = `
		INSERT INTO sessions (id, diagram_id, owner_id, name, password_hash, max_users, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $7)
		RETURNING id, diagram_id, owner_id, name, password_hash, max_users, is_active, created_at, updated_at, ended_at`

	r := s.pool.QueryRow(ctx, q, row.ID, row.DiagramID, row.OwnerID, row.Name, row.PasswordHash, row.MaxUsers, row.CreatedAt)
	out, err := scanSession(r)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return SessionRow{}, ErrAlreadyActive
		}
		return SessionRow{}, fmt.Errorf("storage: create session: %w", err)
	}
	return out, nil
}

func (s *PgxStore) GetSession(ctx context.Context, id protocol.RoomId) (SessionRow, bool, error) {
	const q = `
		SELECT id, diagram_id, owner_id, name, password_hash, max_users, is_active, created_at, updated_at, ended_at
		FROM sessions WHERE id = $1`
	row, err := scanSession(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRow{}, false, nil
	}
	if err != nil {
		return SessionRow{}, false, fmt.Errorf("storage: get session: %w", err)
	}
	return row, true, nil
}

func (s *PgxStore) GetActiveSessionByDiagram(ctx context.Context, diagramID protocol.DiagramId) (SessionRow, bool, error) {
	const q = `
		SELECT id, diagram_id, owner_id, name, password_hash, max_users, is_active, created_at, updated_at, ended_at
		FROM sessions WHERE diagram_id = $1 AND is_active = true`
	row, err := scanSession(s.pool.QueryRow(ctx, q, diagramID))
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRow{}, false, nil
	}
	if err != nil {
		return SessionRow{}, false, fmt.Errorf("storage: get active session: %w", err)
	}
	return row, true, nil
}

func (s *PgxStore) EndSession(ctx context.Context, id protocol.RoomId, endedAt time.Time) error {
	const q = `UPDATE sessions SET is_active = false, ended_at = $2, updated_at = $2 WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, endedAt)
	if err != nil {
		return fmt.Errorf("storage: end session: %w", err)
	}
	return nil
}

func (s *PgxStore) EndSessionsForDiagram(ctx context.Context, diagramID protocol.DiagramId, endedAt time.Time) error {
	const q = `UPDATE sessions SET is_active = false, ended_at = $2, updated_at = $2 WHERE diagram_id = $1 AND is_active = true`
	_, err := s.pool.Exec(ctx, q, diagramID, endedAt)
	if err != nil {
		return fmt.Errorf("storage: end sessions for diagram: %w", err)
	}
	return nil
}

func (s *PgxStore) RecordJoin(ctx context.Context, sessionID protocol.RoomId, userID *protocol.UserId, username string, joinedAt time.Time) (ParticipantRow, error) {
	const q = `
		INSERT INTO participants (session_id, user_id, username, joined_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, session_id, user_id, username, joined_at, left_at`
	row := s.pool.QueryRow(ctx, q, sessionID, userID, username, joinedAt)

	var p ParticipantRow
	if err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &p.Username, &p.JoinedAt, &p.LeftAt); err != nil {
		return ParticipantRow{}, fmt.Errorf("storage: record join: %w", err)
	}
	return p, nil
}

func (s *PgxStore) RecordLeave(ctx context.Context, participantID int64, leftAt time.Time) error {
	const q = `UPDATE participants SET left_at = $2 WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, participantID, leftAt)
	if err != nil {
		return fmt.Errorf("storage: record leave: %w", err)
	}
	return nil
}

func (s *PgxStore) SaveSnapshot(ctx context.Context, row SnapshotRow) (SnapshotRow, error) {
	const q = `
		INSERT INTO snapshots (session_id, snapshot_data, created_at, size_bytes, element_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, session_id, snapshot_data, created_at, size_bytes, element_count`
	r := s.pool.QueryRow(ctx, q, row.SessionID, row.SnapshotData, row.CreatedAt, row.SizeBytes, row.ElementCount)

	var out SnapshotRow
	if err := r.Scan(&out.ID, &out.SessionID, &out.SnapshotData, &out.CreatedAt, &out.SizeBytes, &out.ElementCount); err != nil {
		return SnapshotRow{}, fmt.Errorf("storage: save snapshot: %w", err)
	}
	return out, nil
}

func (s *PgxStore) LatestSnapshot(ctx context.Context, sessionID protocol.RoomId) (SnapshotRow, bool, error) {
	const q = `
		SELECT id, session_id, snapshot_data, created_at, size_bytes, element_count
		FROM snapshots WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`
	r := s.pool.QueryRow(ctx, q, sessionID)

	var out SnapshotRow
	err := r.Scan(&out.ID, &out.SessionID, &out.SnapshotData, &out.CreatedAt, &out.SizeBytes, &out.ElementCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return SnapshotRow{}, false, nil
	}
	if err != nil {
		return SnapshotRow{}, false, fmt.Errorf("storage: latest snapshot: %w", err)
	}
	return out, true, nil
}

// TrimSnapshots enforces the spec's "snapshot retention trims to the last
// ten per session" invariant at the persistence layer, independent of the
// in-memory ring's own eviction.
func (s *PgxStore) TrimSnapshots(ctx context.Context, sessionID protocol.RoomId, keep int) error {
	const q = `
		DELETE FROM snapshots
		WHERE session_id = $1 AND id NOT IN (
			SELECT id FROM snapshots WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		)`
	_, err := s.pool.Exec(ctx, q, sessionID, keep)
	if err != nil {
		return fmt.Errorf("storage: trim snapshots: %w", err)
	}
	return nil
}

func (s *PgxStore) RecordRateLimitWindow(ctx context.Context, row RateLimitRow) error {
	const q = `
		INSERT INTO rate_limits (session_id, user_id, message_count, window_start, window_end)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, q, row.SessionID, row.UserID, row.MessageCount, row.WindowStart, row.WindowEnd)
	if err != nil {
		return fmt.Errorf("storage: record rate limit window: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (SessionRow, error) {
	var s SessionRow
	err := r.Scan(&s.ID, &s.DiagramID, &s.OwnerID, &s.Name, &s.PasswordHash, &s.MaxUsers, &s.IsActive, &s.CreatedAt, &s.UpdatedAt, &s.EndedAt)
	return s, err
}
