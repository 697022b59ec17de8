// Package session implements the verification room lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"github.com/ashureev/vkyc-desk/internal/metrics"
	"github.com/ashureev/vkyc-desk/internal/store"
	"github.com/ashureev/vkyc-desk/internal/token"
	"github.com/google/uuid"
)

// inviteAttempts bounds retries when a freshly issued token collides with
// an existing one.
const inviteAttempts = 3

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithIssuer overrides the invite token issuer.
func WithIssuer(i token.Issuer) Option {
	return func(m *Manager) { m.issuer = i }
}

// WithPublisher sets the receiver of lifecycle events.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.events = p }
}

// Manager owns every mutation of a room. Mutations of the same room are
// serialized in process, and the store re-checks each precondition inside
// its transaction.
type Manager struct {
	repo      store.Repository
	clock     Clock
	issuer    token.Issuer
	events    Publisher
	locks     *keyedMutex
	ledger    *Ledger
	presence  *Presence
	directory *Directory
}

// NewManager creates a lifecycle manager over repo.
func NewManager(repo store.Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:   repo,
		clock:  RealClock(),
		issuer: token.RandomIssuer{},
		events: noopPublisher{},
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ledger = NewLedger(repo, m.clock)
	m.presence = NewPresence(repo)
	m.directory = NewDirectory(repo)
	return m
}

// Directory returns the read side of the manager.
func (m *Manager) Directory() *Directory { return m.directory }

// Ledger returns the recording ledger.
func (m *Manager) Ledger() *Ledger { return m.ledger }

// Create opens a new room in PENDING for the given agent.
func (m *Manager) Create(ctx context.Context, in domain.NewRoom) (*domain.Room, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.AgentID == "" {
		return nil, domain.InvalidInput("agent id is required")
	}

	now := m.clock.Now()
	room := &domain.Room{
		ID:            uuid.NewString(),
		CustomerName:  in.CustomerName,
		ApplicationID: in.ApplicationID,
		AgentID:       in.AgentID,
		Status:        domain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.repo.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	metrics.RoomsCreated.Inc()
	slog.Info("Room created", "room_id", room.ID, "application_id", room.ApplicationID, "agent_id", room.AgentID)
	m.publish(EventRoomCreated, room, nil, "")
	return room, nil
}

// GenerateInvite issues a fresh invite token for the room and replaces any
// previous one. Only the returned token resolves afterwards.
func (m *Manager) GenerateInvite(ctx context.Context, id string) (string, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	room, err := m.repo.GetRoom(ctx, id)
	if err != nil {
		return "", err
	}
	if room.Status.IsTerminal() {
		return "", fmt.Errorf("room %s is %s: %w", id, room.Status, domain.ErrInvalidState)
	}

	var tok string
	for attempt := 1; ; attempt++ {
		tok, err = m.issuer.Issue()
		if err != nil {
			return "", fmt.Errorf("issue invite token: %w", err)
		}
		err = m.repo.SetInviteToken(ctx, id, tok, token.Hash(tok), m.clock.Now())
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == inviteAttempts {
			return "", fmt.Errorf("generate invite: %w", err)
		}
		slog.Warn("Invite token collision, retrying", "room_id", id, "attempt", attempt)
	}

	metrics.InvitesGenerated.Inc()
	slog.Info("Invite generated", "room_id", id)
	if updated, err := m.repo.GetRoom(ctx, id); err == nil {
		room = updated
	}
	m.publish(EventInviteGenerated, room, nil, "")
	return tok, nil
}

// TransitionStatus moves the room to target if the lifecycle allows it.
// Entering a terminal status stops any running recording.
func (m *Manager) TransitionStatus(ctx context.Context, id string, target domain.Status) (*domain.Room, error) {
	if !target.Valid() {
		return nil, domain.InvalidInput(fmt.Sprintf("unknown status %q", target))
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	room, err := m.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	from := room.Status
	if !domain.CanTransition(from, target) {
		return nil, fmt.Errorf("room %s: %s -> %s: %w", id, from, target, domain.ErrInvalidTransition)
	}

	err = m.repo.UpdateStatus(ctx, store.StatusUpdate{RoomID: id, From: from, To: target, At: m.clock.Now()})
	if err != nil {
		return nil, fmt.Errorf("transition status: %w", err)
	}

	updated, err := m.directory.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.RecordStateTransition(string(from), string(target))
	slog.Info("Room status changed", "room_id", id, "from", from, "to", target)
	if room.IsRecording && target.IsTerminal() {
		metrics.RecordRecordingStopped("terminal")
		m.publish(EventRecordingStopped, updated, latest(updated.Recordings), "")
	}
	m.publish(EventStatusChanged, updated, nil, from)
	return updated, nil
}

// ToggleRecording starts or stops recording. Stopping when nothing is
// recording is a no-op; starting while already recording is a conflict.
func (m *Manager) ToggleRecording(ctx context.Context, id string, want bool) (*domain.Room, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	room, err := m.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if room.Status.IsTerminal() {
		return nil, fmt.Errorf("room %s is %s: %w", id, room.Status, domain.ErrInvalidState)
	}

	var (
		rec   *domain.Recording
		event EventType
	)
	if want {
		rec, err = m.ledger.Start(ctx, id)
		if err != nil {
			return nil, err
		}
		metrics.RecordingsStarted.Inc()
		slog.Info("Recording started", "room_id", id, "recording_id", rec.ID)
		event = EventRecordingStarted
	} else {
		rec, err = m.ledger.Stop(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			metrics.RecordRecordingStopped("agent")
			slog.Info("Recording stopped", "room_id", id, "recording_id", rec.ID)
			event = EventRecordingStopped
		}
	}

	updated, err := m.directory.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event != "" {
		m.publish(event, updated, rec, "")
	}
	return updated, nil
}

// Delete removes the room and its recordings.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	n, err := m.repo.DeleteRoom(ctx, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	metrics.RoomsDeleted.Inc()
	slog.Info("Room deleted", "room_id", id, "recordings_deleted", n)
	m.events.Publish(Event{Type: EventRoomDeleted, RoomID: id, At: m.clock.Now()})
	return nil
}

// UpdateNotes overwrites the agent's free-text notes.
func (m *Manager) UpdateNotes(ctx context.Context, id, notes string) (*domain.Room, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	if err := m.repo.UpdateNotes(ctx, id, notes, m.clock.Now()); err != nil {
		return nil, fmt.Errorf("update notes: %w", err)
	}
	room, err := m.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	m.publish(EventNotesUpdated, room, nil, "")
	return room, nil
}

// SetCustomerOnline records a presence signal observed at time at. A zero
// at means now.
func (m *Manager) SetCustomerOnline(ctx context.Context, id string, online bool, at time.Time) (*domain.Room, error) {
	if at.IsZero() {
		at = m.clock.Now()
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	applied, err := m.presence.SetOnline(ctx, id, online, at)
	if err != nil {
		return nil, err
	}
	room, err := m.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		slog.Debug("Stale presence signal ignored", "room_id", id, "online", online, "at", at)
		return room, nil
	}
	slog.Info("Customer presence changed", "room_id", id, "online", online)
	m.publish(EventCustomerPresence, room, nil, "")
	return room, nil
}

// CallEnded notifies listeners that the video call of the room ended. It
// changes no state.
func (m *Manager) CallEnded(ctx context.Context, id string) error {
	room, err := m.repo.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	slog.Info("Call ended", "room_id", id)
	m.publish(EventCallEnded, room, nil, "")
	return nil
}

func (m *Manager) publish(t EventType, room *domain.Room, rec *domain.Recording, from domain.Status) {
	m.events.Publish(Event{
		Type:      t,
		RoomID:    room.ID,
		At:        m.clock.Now(),
		Room:      redact(room),
		Recording: rec,
		From:      from,
	})
}

func latest(recs []*domain.Recording) *domain.Recording {
	if len(recs) == 0 {
		return nil
	}
	return recs[0]
}
