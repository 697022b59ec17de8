package stream

import (
	"container/list"
	"sync"

	"github.com/ashureev/vkyc-desk/internal/session"
)

// QueuedEvent is an event with its stream id.
type QueuedEvent struct {
	EventID int64
	Event   session.Event
}

// ReplayQueue keeps the most recent events so reconnecting clients can
// catch up from their Last-Event-ID.
type ReplayQueue struct {
	mu      sync.RWMutex
	events  *list.List
	maxSize int
}

// NewReplayQueue creates a bounded replay queue.
func NewReplayQueue(maxSize int) *ReplayQueue {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &ReplayQueue{events: list.New(), maxSize: maxSize}
}

// Enqueue appends an event and evicts the oldest beyond capacity.
func (q *ReplayQueue) Enqueue(eventID int64, e session.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events.PushBack(&QueuedEvent{EventID: eventID, Event: e})
	for q.events.Len() > q.maxSize {
		q.events.Remove(q.events.Front())
	}
}

// Since returns events after afterEventID, optionally limited to one room.
func (q *ReplayQueue) Since(afterEventID int64, roomID string) []*QueuedEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var missed []*QueuedEvent
	for e := q.events.Front(); e != nil; e = e.Next() {
		msg := e.Value.(*QueuedEvent)
		if msg.EventID <= afterEventID {
			continue
		}
		if roomID != "" && msg.Event.RoomID != roomID {
			continue
		}
		missed = append(missed, msg)
	}
	return missed
}

// Len returns the number of buffered events.
func (q *ReplayQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.events.Len()
}
