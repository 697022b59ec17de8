// Package presence tracks the customer side of a room over a websocket.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/vkyc-desk/internal/metrics"
	"github.com/ashureev/vkyc-desk/internal/session"
	"github.com/coder/websocket"
)

const notifyTimeout = 2 * time.Second

// Hub holds at most one customer connection per room.
//
// Register and Unregister stamp presence signals under the hub lock, and
// stamps never go backwards, so a socket that took over a room always
// carries a later timestamp than the one it replaced.
type Hub struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
	clock  session.Clock
	last   time.Time
}

var _ session.Publisher = (*Hub)(nil)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithClock sets the clock used to stamp presence signals.
func WithClock(c session.Clock) HubOption {
	return func(h *Hub) { h.clock = c }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		active: make(map[string]*websocket.Conn),
		clock:  session.RealClock(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// stamp returns a presence timestamp strictly after every earlier one.
// Callers hold h.mu.
func (h *Hub) stamp() time.Time {
	now := h.clock.Now()
	if !now.After(h.last) {
		now = h.last.Add(time.Nanosecond)
	}
	h.last = now
	return now
}

// Get returns the registered connection for a room.
func (h *Hub) Get(roomID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active[roomID]
}

// Len returns the number of connected customers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active)
}

// Register makes conn the customer connection of roomID, closing any
// connection it replaces. It returns the time to record the customer
// online at.
func (h *Hub) Register(roomID string, conn *websocket.Conn) time.Time {
	h.mu.Lock()
	existing, replaced := h.active[roomID]
	h.active[roomID] = conn
	at := h.stamp()
	metrics.PresenceConnections.Set(float64(len(h.active)))
	h.mu.Unlock()

	if replaced && existing != conn {
		// Close waits for the peer's close frame; don't hold up the new session.
		go func() { _ = existing.Close(websocket.StatusNormalClosure, "session replaced") }()
		slog.Info("Customer connection replaced", "room_id", roomID)
	}
	slog.Info("Customer connection registered", "room_id", roomID)
	return at
}

// Unregister removes conn if it is still the registered connection of
// roomID. It reports whether it was, and if so the time to record the
// customer offline at.
func (h *Hub) Unregister(roomID string, conn *websocket.Conn) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.active[roomID]
	if !ok || current != conn {
		return time.Time{}, false
	}
	delete(h.active, roomID)
	at := h.stamp()
	metrics.PresenceConnections.Set(float64(len(h.active)))
	slog.Info("Customer connection unregistered", "room_id", roomID)
	return at, true
}

// CloseRoom closes the customer connection of roomID. The connection's
// handler unregisters it and records the customer as offline.
func (h *Hub) CloseRoom(roomID, reason string) {
	conn := h.Get(roomID)
	if conn == nil {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, reason)
	slog.Info("Customer connection closed", "room_id", roomID, "reason", reason)
}

// Publish forwards lifecycle events to the customer. It returns
// immediately; socket writes happen on their own goroutine.
func (h *Hub) Publish(e session.Event) {
	switch e.Type {
	case session.EventRoomDeleted:
		go h.CloseRoom(e.RoomID, "room deleted")
	case session.EventInviteGenerated:
		// The customer joined with the token that was just replaced.
		go h.CloseRoom(e.RoomID, "invite revoked")
	case session.EventStatusChanged:
		conn := h.Get(e.RoomID)
		if conn == nil || e.Room == nil {
			return
		}
		view := e.Room.CustomerView()
		go func() {
			notify(conn, map[string]any{"type": "status", "room": view})
			if view.IsTerminal {
				h.CloseRoom(e.RoomID, "session "+string(view.Status))
			}
		}()
	case session.EventCallEnded:
		if conn := h.Get(e.RoomID); conn != nil {
			go notify(conn, map[string]string{"type": "call_ended"})
		}
	default:
	}
}

func notify(conn *websocket.Conn, v any) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := writeJSON(ctx, conn, v); err != nil {
		slog.Debug("Failed to notify customer", "error", err)
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
