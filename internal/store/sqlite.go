package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"github.com/ashureev/vkyc-desk/internal/shared"
	_ "modernc.org/sqlite"
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so read-modify-write
	// cycles take the write lock up front instead of failing on upgrade.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_role ON agents(role, created_at);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		customer_name TEXT NOT NULL,
		application_id TEXT NOT NULL,
		agent_id TEXT NOT NULL REFERENCES agents(id),
		status TEXT NOT NULL DEFAULT 'PENDING'
			CHECK (status IN ('PENDING', 'ACTIVE', 'COMPLETED', 'REJECTED')),
		invite_token TEXT,
		invite_token_hash TEXT UNIQUE,
		is_customer_online INTEGER NOT NULL DEFAULT 0,
		last_customer_activity INTEGER,
		is_recording INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rooms_created ON rooms(created_at);

	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		file_url TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_room ON recordings(room_id, started_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_recordings_open ON recordings(room_id) WHERE ended_at IS NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// unavailable wraps a driver error so callers see domain.ErrUnavailable.
func unavailable(op string, err error) error {
	switch {
	case shared.IsSQLiteConflictError(err):
		slog.Debug("SQLite busy", "op", op, "error", err)
	case shared.IsConnectionError(err):
		slog.Warn("SQLite connection unusable", "op", op, "error", err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
}

func roomNotFound(id string) error {
	return fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(op+": begin", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("Transaction rollback failed", "op", op, "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable(op+": commit", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const roomColumns = `
	r.id, r.customer_name, r.application_id, r.agent_id, r.status,
	r.invite_token, r.is_customer_online, r.last_customer_activity,
	r.is_recording, r.notes, r.completed_at, r.created_at, r.updated_at,
	(SELECT COUNT(*) FROM recordings rec WHERE rec.room_id = r.id)`

// scanRoom scans roomColumns followed by any extra destinations.
func scanRoom(row rowScanner, extra ...any) (*domain.Room, error) {
	var room domain.Room
	var status string
	var inviteToken sql.NullString
	var lastActivity, completedAt sql.NullInt64
	var createdAt, updatedAt int64

	dest := []any{
		&room.ID, &room.CustomerName, &room.ApplicationID, &room.AgentID, &status,
		&inviteToken, &room.IsCustomerOnline, &lastActivity,
		&room.IsRecording, &room.Notes, &completedAt, &createdAt, &updatedAt,
		&room.RecordingCount,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	room.Status = domain.Status(status)
	room.InviteToken = inviteToken.String
	room.LastCustomerActivity = fromNullNanos(lastActivity)
	room.CompletedAt = fromNullNanos(completedAt)
	room.CreatedAt = fromNanos(createdAt)
	room.UpdatedAt = fromNanos(updatedAt)
	return &room, nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// CreateRoom inserts a new room row.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	query := `
	INSERT INTO rooms (
		id, customer_name, application_id, agent_id, status,
		is_customer_online, is_recording, notes, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		room.ID, room.CustomerName, room.ApplicationID, room.AgentID, string(room.Status),
		room.Notes, toNanos(room.CreatedAt), toNanos(room.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return domain.InvalidInput(fmt.Sprintf("unknown agent %q", room.AgentID))
		}
		return unavailable("insert room", err)
	}
	return nil
}

// GetRoom retrieves a room by id.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	return getRoom(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRoom(ctx context.Context, q queryer, id string) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms r WHERE r.id = ?`
	room, err := scanRoom(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, roomNotFound(id)
	}
	if err != nil {
		return nil, unavailable("scan room row", err)
	}
	return room, nil
}

// GetRoomByTokenHash retrieves a room by the digest of its invite token.
func (s *SQLiteStore) GetRoomByTokenHash(ctx context.Context, tokenHash string) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms r WHERE r.invite_token_hash = ?`
	room, err := scanRoom(s.db.QueryRowContext(ctx, query, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invite token: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("scan room row", err)
	}
	return room, nil
}

// ListRooms returns all rooms, newest first.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms r ORDER BY r.created_at DESC, r.id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, unavailable("query rooms", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close room rows", "error", closeErr)
		}
	}()

	rooms := make([]*domain.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, unavailable("scan room row", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate rooms", err)
	}
	return rooms, nil
}

// SetInviteToken replaces the invite token of a non-terminal room.
func (s *SQLiteStore) SetInviteToken(ctx context.Context, id, token, tokenHash string, at time.Time) error {
	query := `
	UPDATE rooms SET invite_token = ?, invite_token_hash = ?, updated_at = ?
	WHERE id = ? AND status IN ('PENDING', 'ACTIVE')`

	return s.withTx(ctx, "set invite token", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, token, tokenHash, toNanos(at), id)
		if err != nil {
			if shared.IsSQLiteUniqueError(err) {
				return fmt.Errorf("invite token collision: %w", domain.ErrConflict)
			}
			return unavailable("update invite token", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return unavailable("get rows affected", err)
		}
		if rows == 1 {
			return nil
		}
		room, err := getRoom(ctx, tx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("room %s is %s: %w", id, room.Status, domain.ErrInvalidState)
	})
}

// UpdateStatus applies a compare-and-set status change.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	var completedAt interface{}
	if u.To == domain.StatusCompleted {
		completedAt = toNanos(u.At)
	}

	query := `
	UPDATE rooms SET
		status = ?,
		completed_at = COALESCE(?, completed_at),
		is_recording = CASE WHEN ? THEN 0 ELSE is_recording END,
		updated_at = ?
	WHERE id = ? AND status = ?`

	return s.withTx(ctx, "update status", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			string(u.To), completedAt, u.To.IsTerminal(), toNanos(u.At),
			u.RoomID, string(u.From),
		)
		if err != nil {
			return unavailable("update status", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return unavailable("get rows affected", err)
		}
		if rows == 0 {
			room, err := getRoom(ctx, tx, u.RoomID)
			if err != nil {
				return err
			}
			return fmt.Errorf("room %s moved from %s to %s: %w", u.RoomID, u.From, room.Status, domain.ErrConflict)
		}

		if u.To.IsTerminal() {
			if _, err := tx.ExecContext(ctx,
				`UPDATE recordings SET ended_at = ? WHERE room_id = ? AND ended_at IS NULL`,
				toNanos(u.At), u.RoomID,
			); err != nil {
				return unavailable("close open recordings", err)
			}
		}
		return nil
	})
}

// UpdateCustomerPresence stores the customer presence flag, last write wins.
func (s *SQLiteStore) UpdateCustomerPresence(ctx context.Context, id string, online bool, at time.Time) (bool, error) {
	query := `
	UPDATE rooms SET is_customer_online = ?, last_customer_activity = ?, updated_at = ?
	WHERE id = ? AND (last_customer_activity IS NULL OR last_customer_activity <= ?)`

	applied := false
	err := s.withTx(ctx, "update presence", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, online, toNanos(at), toNanos(at), id, toNanos(at))
		if err != nil {
			return unavailable("update presence", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return unavailable("get rows affected", err)
		}
		if rows == 1 {
			applied = true
			return nil
		}
		// Either missing or a newer update already landed.
		_, err = getRoom(ctx, tx, id)
		return err
	})
	return applied, err
}

// UpdateNotes overwrites the room notes.
func (s *SQLiteStore) UpdateNotes(ctx context.Context, id, notes string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET notes = ?, updated_at = ? WHERE id = ?`,
		notes, toNanos(at), id,
	)
	if err != nil {
		return unavailable("update notes", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable("get rows affected", err)
	}
	if rows == 0 {
		return roomNotFound(id)
	}
	return nil
}

// StartRecording opens rec and marks its room as recording.
func (s *SQLiteStore) StartRecording(ctx context.Context, rec *domain.Recording) error {
	flip := `
	UPDATE rooms SET is_recording = 1, updated_at = ?
	WHERE id = ? AND is_recording = 0 AND status IN ('PENDING', 'ACTIVE')`

	return s.withTx(ctx, "start recording", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, flip, toNanos(rec.StartedAt), rec.RoomID)
		if err != nil {
			return unavailable("flag recording", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return unavailable("get rows affected", err)
		}
		if rows == 0 {
			room, err := getRoom(ctx, tx, rec.RoomID)
			if err != nil {
				return err
			}
			if room.Status.IsTerminal() {
				return fmt.Errorf("room %s is %s: %w", rec.RoomID, room.Status, domain.ErrInvalidState)
			}
			return fmt.Errorf("room %s is already recording: %w", rec.RoomID, domain.ErrConflict)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO recordings (id, room_id, file_url, started_at, ended_at) VALUES (?, ?, ?, ?, NULL)`,
			rec.ID, rec.RoomID, rec.FileURL, toNanos(rec.StartedAt),
		)
		if err != nil {
			if shared.IsSQLiteUniqueError(err) {
				return fmt.Errorf("room %s already has an open recording: %w", rec.RoomID, domain.ErrConflict)
			}
			return unavailable("insert recording", err)
		}
		return nil
	})
}

// StopRecording closes the room's open recording, if any.
func (s *SQLiteStore) StopRecording(ctx context.Context, roomID string, at time.Time) (*domain.Recording, error) {
	var stopped *domain.Recording
	err := s.withTx(ctx, "stop recording", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE rooms SET is_recording = 0, updated_at = ? WHERE id = ?`,
			toNanos(at), roomID,
		)
		if err != nil {
			return unavailable("clear recording flag", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return unavailable("get rows affected", err)
		}
		if rows == 0 {
			return roomNotFound(roomID)
		}

		rec, err := scanRecording(tx.QueryRowContext(ctx,
			`SELECT id, room_id, file_url, started_at, ended_at FROM recordings
			 WHERE room_id = ? AND ended_at IS NULL`, roomID))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return unavailable("scan open recording", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE recordings SET ended_at = ? WHERE id = ?`, toNanos(at), rec.ID,
		); err != nil {
			return unavailable("close recording", err)
		}
		ended := at.UTC()
		rec.EndedAt = &ended
		stopped = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stopped, nil
}

func scanRecording(row rowScanner) (*domain.Recording, error) {
	var rec domain.Recording
	var startedAt int64
	var endedAt sql.NullInt64
	if err := row.Scan(&rec.ID, &rec.RoomID, &rec.FileURL, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	rec.StartedAt = fromNanos(startedAt)
	rec.EndedAt = fromNullNanos(endedAt)
	return &rec, nil
}

// GetRoomWithRecordings reads a room and its recordings in one statement,
// so IsRecording always agrees with the open recording in Recordings.
func (s *SQLiteStore) GetRoomWithRecordings(ctx context.Context, id string) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + `,
		rc.id, rc.file_url, rc.started_at, rc.ended_at
	FROM rooms r LEFT JOIN recordings rc ON rc.room_id = r.id
	WHERE r.id = ?
	ORDER BY rc.started_at DESC, rc.id DESC`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, unavailable("query room with recordings", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close room rows", "error", closeErr)
		}
	}()

	var room *domain.Room
	recs := make([]*domain.Recording, 0)
	for rows.Next() {
		var recID, fileURL sql.NullString
		var startedAt, endedAt sql.NullInt64
		row, err := scanRoom(rows, &recID, &fileURL, &startedAt, &endedAt)
		if err != nil {
			return nil, unavailable("scan room row", err)
		}
		if room == nil {
			room = row
		}
		if recID.Valid {
			recs = append(recs, &domain.Recording{
				ID:        recID.String,
				RoomID:    id,
				FileURL:   fileURL.String,
				StartedAt: fromNanos(startedAt.Int64),
				EndedAt:   fromNullNanos(endedAt),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate room rows", err)
	}
	if room == nil {
		return nil, roomNotFound(id)
	}
	room.Recordings = recs
	return room, nil
}

// ListRecordings returns a room's recordings, newest first.
func (s *SQLiteStore) ListRecordings(ctx context.Context, roomID string) ([]*domain.Recording, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, file_url, started_at, ended_at FROM recordings
		 WHERE room_id = ? ORDER BY started_at DESC, id DESC`, roomID)
	if err != nil {
		return nil, unavailable("query recordings", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recording rows", "error", closeErr)
		}
	}()

	recs := make([]*domain.Recording, 0)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, unavailable("scan recording row", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate recordings", err)
	}
	return recs, nil
}

// DeleteRoom removes a room and its recordings.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) (int64, error) {
	var recordingsDeleted int64
	err := s.withTx(ctx, "delete room", func(tx *sql.Tx) error {
		recRes, err := tx.ExecContext(ctx, `DELETE FROM recordings WHERE room_id = ?`, id)
		if err != nil {
			return unavailable("delete recordings", err)
		}
		recordingsDeleted, err = recRes.RowsAffected()
		if err != nil {
			return unavailable("recordings rows affected", err)
		}

		roomRes, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
		if err != nil {
			return unavailable("delete room", err)
		}
		rows, err := roomRes.RowsAffected()
		if err != nil {
			return unavailable("room rows affected", err)
		}
		if rows == 0 {
			return roomNotFound(id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recordingsDeleted, nil
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var agent domain.Agent
	var createdAt int64
	if err := row.Scan(&agent.ID, &agent.Name, &agent.Email, &agent.Role, &createdAt); err != nil {
		return nil, err
	}
	agent.CreatedAt = fromNanos(createdAt)
	return &agent, nil
}

// GetAgent retrieves an agent by id.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	agent, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, created_at FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("scan agent row", err)
	}
	return agent, nil
}

// FindAgentByRole returns the earliest created agent with the given role.
func (s *SQLiteStore) FindAgentByRole(ctx context.Context, role string) (*domain.Agent, error) {
	agent, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, created_at FROM agents
		 WHERE role = ? ORDER BY created_at ASC, id ASC LIMIT 1`, role))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent with role %s: %w", role, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("scan agent row", err)
	}
	return agent, nil
}

// CreateAgent inserts an agent row.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, email, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		agent.ID, agent.Name, agent.Email, agent.Role, toNanos(agent.CreatedAt),
	)
	if err != nil {
		if shared.IsSQLiteUniqueError(err) {
			return fmt.Errorf("agent email %s already exists: %w", agent.Email, domain.ErrConflict)
		}
		return unavailable("insert agent", err)
	}
	return nil
}
