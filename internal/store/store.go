// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
)

// StatusUpdate describes a compare-and-set status change.
type StatusUpdate struct {
	RoomID string
	From   domain.Status
	To     domain.Status
	At     time.Time
}

// Repository defines the interface for persisting rooms, recordings and agents.
//
// Lookups return an error wrapping domain.ErrNotFound when the row is absent.
// Driver failures are wrapped with domain.ErrUnavailable.
type Repository interface {
	// CreateRoom inserts a new room row.
	CreateRoom(ctx context.Context, room *domain.Room) error

	// GetRoom retrieves a room by id, including its recording count.
	GetRoom(ctx context.Context, id string) (*domain.Room, error)

	// GetRoomByTokenHash retrieves the room whose invite token hashes to tokenHash.
	GetRoomByTokenHash(ctx context.Context, tokenHash string) (*domain.Room, error)

	// ListRooms returns all rooms, newest first.
	ListRooms(ctx context.Context) ([]*domain.Room, error)

	// SetInviteToken replaces the room's invite token. It fails with
	// domain.ErrInvalidState if the room is terminal.
	SetInviteToken(ctx context.Context, id, token, tokenHash string, at time.Time) error

	// UpdateStatus applies a status change only if the current status still
	// equals u.From. Entering a terminal status closes any open recording in
	// the same transaction.
	UpdateStatus(ctx context.Context, u StatusUpdate) error

	// UpdateCustomerPresence stores the presence flag if at is not older
	// than the last recorded activity. applied is false for stale updates.
	UpdateCustomerPresence(ctx context.Context, id string, online bool, at time.Time) (applied bool, err error)

	// UpdateNotes overwrites the room notes.
	UpdateNotes(ctx context.Context, id, notes string, at time.Time) error

	// StartRecording opens rec and flips the room's is_recording flag atomically.
	StartRecording(ctx context.Context, rec *domain.Recording) error

	// StopRecording closes the open recording, if any, and clears is_recording.
	// It returns nil when nothing was open.
	StopRecording(ctx context.Context, roomID string, at time.Time) (*domain.Recording, error)

	// ListRecordings returns a room's recordings, newest first.
	ListRecordings(ctx context.Context, roomID string) ([]*domain.Recording, error)

	// GetRoomWithRecordings retrieves a room and its recordings, newest
	// first, in a single read transaction.
	GetRoomWithRecordings(ctx context.Context, id string) (*domain.Room, error)

	// DeleteRoom removes a room and all of its recordings.
	DeleteRoom(ctx context.Context, id string) (recordingsDeleted int64, err error)

	// GetAgent retrieves an agent by id.
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)

	// FindAgentByRole returns the earliest created agent with the given role.
	FindAgentByRole(ctx context.Context, role string) (*domain.Agent, error)

	// CreateAgent inserts an agent row.
	CreateAgent(ctx context.Context, agent *domain.Agent) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
