package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const offlineTimeout = 5 * time.Second

// Resolver looks up a room by its customer invite token.
type Resolver interface {
	GetByToken(ctx context.Context, token string) (*domain.Room, error)
}

// Lifecycle is the part of the session manager the customer can drive.
type Lifecycle interface {
	SetCustomerOnline(ctx context.Context, id string, online bool, at time.Time) (*domain.Room, error)
	CallEnded(ctx context.Context, id string) error
}

// Handler upgrades customer invite links to presence websockets.
type Handler struct {
	rooms         Resolver
	lifecycle     Lifecycle
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a presence handler.
func NewHandler(rooms Resolver, lifecycle Lifecycle, hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		rooms:         rooms,
		lifecycle:     lifecycle,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

type wsMessage struct {
	Type string `json:"type"`
}

// RegisterRoutes registers the customer websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/invite/{token}", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for the websocket upgrade. Accepting
// marks the customer online; the connection closing marks them offline
// unless a newer connection has taken over the room.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	room, err := h.rooms.GetByToken(r.Context(), tok)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, `{"error": "invite not found"}`, http.StatusNotFound)
			return
		}
		slog.Error("Failed to resolve invite", "error", err)
		http.Error(w, `{"error": "internal error"}`, http.StatusServiceUnavailable)
		return
	}
	if room.Status.IsTerminal() {
		http.Error(w, `{"error": "session closed"}`, http.StatusGone)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, `{"error": "origin not allowed"}`, http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "room_id", room.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "room_id", room.ID)
		}
	}()

	joinedAt := h.hub.Register(room.ID, ws)
	defer h.disconnect(room.ID, ws)

	ctx := r.Context()
	online, err := h.lifecycle.SetCustomerOnline(ctx, room.ID, true, joinedAt)
	if err != nil {
		slog.Warn("Failed to mark customer online", "error", err, "room_id", room.ID)
		_ = writeJSON(ctx, ws, map[string]string{"type": "error", "error": "presence_unavailable"})
		return
	}
	if err := writeJSON(ctx, ws, map[string]any{"type": "joined", "room": online.CustomerView()}); err != nil {
		slog.Debug("Failed to send joined", "error", err)
		return
	}

	h.readLoop(ctx, ws, room.ID)
}

func (h *Handler) disconnect(roomID string, ws *websocket.Conn) {
	leftAt, ok := h.hub.Unregister(roomID, ws)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), offlineTimeout)
	defer cancel()
	if _, err := h.lifecycle.SetCustomerOnline(ctx, roomID, false, leftAt); err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("Failed to mark customer offline", "error", err, "room_id", roomID)
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, roomID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "room_id", roomID)
			} else {
				slog.Debug("WebSocket read ended", "error", err, "room_id", roomID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "call_ended":
			if err := h.lifecycle.CallEnded(ctx, roomID); err != nil {
				slog.Warn("Failed to signal call ended", "error", err, "room_id", roomID)
			}
		case "leave":
			slog.Info("Customer left", "room_id", roomID)
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
