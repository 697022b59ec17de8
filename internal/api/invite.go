package api

import (
	"net/http"

	"github.com/ashureev/vkyc-desk/internal/session"
	"github.com/go-chi/chi/v5"
)

// InviteHandler serves the customer-facing invite lookup.
type InviteHandler struct {
	rooms *session.Directory
}

// NewInviteHandler creates an invite handler.
func NewInviteHandler(rooms *session.Directory) *InviteHandler {
	return &InviteHandler{rooms: rooms}
}

// RegisterRoutes registers the invite route.
func (h *InviteHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/invite/{token}", h.Resolve)
}

// Resolve returns the customer view of the room behind an invite token.
func (h *InviteHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.GetByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, room.CustomerView())
}
