package session

import (
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
)

// EventType names a room lifecycle event.
type EventType string

const (
	EventRoomCreated      EventType = "room.created"
	EventStatusChanged    EventType = "room.status_changed"
	EventRecordingStarted EventType = "room.recording_started"
	EventRecordingStopped EventType = "room.recording_stopped"
	EventCustomerPresence EventType = "room.customer_presence"
	EventInviteGenerated  EventType = "room.invite_generated"
	EventNotesUpdated     EventType = "room.notes_updated"
	EventRoomDeleted      EventType = "room.deleted"
	EventCallEnded        EventType = "room.call_ended"
)

// Event is published after a lifecycle operation commits.
type Event struct {
	Type      EventType         `json:"type"`
	RoomID    string            `json:"room_id"`
	At        time.Time         `json:"at"`
	Room      *domain.Room      `json:"room,omitempty"`
	Recording *domain.Recording `json:"recording,omitempty"`
	From      domain.Status     `json:"from,omitempty"`
}

// Publisher receives committed lifecycle events. Implementations must not
// block the caller for long.
type Publisher interface {
	Publish(Event)
}

// Publishers fans one event out to several publishers in order.
type Publishers []Publisher

// Publish implements Publisher.
func (ps Publishers) Publish(e Event) {
	for _, p := range ps {
		if p != nil {
			p.Publish(e)
		}
	}
}

// PublisherFunc adapts a func to Publisher.
type PublisherFunc func(Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(e Event) { f(e) }

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// redact returns a copy of room without its invite secret.
func redact(room *domain.Room) *domain.Room {
	if room == nil {
		return nil
	}
	cp := *room
	cp.InviteToken = ""
	return &cp
}
