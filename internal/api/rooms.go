package api

import (
	"net/http"
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"github.com/ashureev/vkyc-desk/internal/identity"
	"github.com/ashureev/vkyc-desk/internal/session"
	"github.com/go-chi/chi/v5"
)

// RoomHandler serves the agent-facing room routes.
type RoomHandler struct {
	mgr       *session.Manager
	inviteURL func(token string) string
}

// NewRoomHandler creates a room handler. inviteURL builds the customer link
// returned with each new invite.
func NewRoomHandler(mgr *session.Manager, inviteURL func(token string) string) *RoomHandler {
	return &RoomHandler{mgr: mgr, inviteURL: inviteURL}
}

type createRoomRequest struct {
	CustomerName  string `json:"customer_name"`
	ApplicationID string `json:"application_id"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type recordingRequest struct {
	IsRecording *bool `json:"is_recording"`
}

type notesRequest struct {
	Notes *string `json:"notes"`
}

type customerStatusRequest struct {
	IsOnline *bool `json:"is_online"`
}

type inviteResponse struct {
	RoomID    string `json:"room_id"`
	Token     string `json:"token"`
	InviteURL string `json:"invite_url"`
}

// RegisterRoutes registers the room and dashboard routes. The caller is
// expected to install identity.Middleware on r.
func (h *RoomHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/rooms", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Patch("/status", h.UpdateStatus)
			r.Post("/recording", h.ToggleRecording)
			r.Get("/recordings", h.ListRecordings)
			r.Patch("/notes", h.UpdateNotes)
			r.Patch("/customer-status", h.UpdateCustomerStatus)
			r.Post("/invite", h.GenerateInvite)
			r.Post("/call-ended", h.CallEnded)
		})
	})
	r.Get("/api/dashboard", h.Dashboard)
}

// List returns every room, newest first.
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.mgr.Directory().List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []*domain.Room{}
	}
	JSON(w, http.StatusOK, rooms)
}

// Create opens a room for the acting agent.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	room, err := h.mgr.Create(r.Context(), domain.NewRoom{
		CustomerName:  req.CustomerName,
		ApplicationID: req.ApplicationID,
		AgentID:       identity.AgentIDFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, room)
}

// Get returns a room with its recordings.
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.mgr.Directory().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, room)
}

// Delete removes a room and its recordings.
func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateStatus moves a room through its lifecycle.
func (h *RoomHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	target, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	room, err := h.mgr.TransitionStatus(r.Context(), chi.URLParam(r, "id"), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, room)
}

// ToggleRecording starts or stops recording.
func (h *RoomHandler) ToggleRecording(w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IsRecording == nil {
		writeError(w, r, domain.InvalidInput("is_recording is required"))
		return
	}
	room, err := h.mgr.ToggleRecording(r.Context(), chi.URLParam(r, "id"), *req.IsRecording)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, room)
}

// ListRecordings returns a room's recordings, newest first.
func (h *RoomHandler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	room, err := h.mgr.Directory().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	recs := room.Recordings
	if recs == nil {
		recs = []*domain.Recording{}
	}
	JSON(w, http.StatusOK, recs)
}

// UpdateNotes overwrites the agent notes.
func (h *RoomHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Notes == nil {
		writeError(w, r, domain.InvalidInput("notes is required"))
		return
	}
	room, err := h.mgr.UpdateNotes(r.Context(), chi.URLParam(r, "id"), *req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, room)
}

// UpdateCustomerStatus records a presence signal relayed by the video
// client.
func (h *RoomHandler) UpdateCustomerStatus(w http.ResponseWriter, r *http.Request) {
	var req customerStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IsOnline == nil {
		writeError(w, r, domain.InvalidInput("is_online is required"))
		return
	}
	room, err := h.mgr.SetCustomerOnline(r.Context(), chi.URLParam(r, "id"), *req.IsOnline, time.Time{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, room)
}

// GenerateInvite issues a fresh customer invite, replacing the previous one.
func (h *RoomHandler) GenerateInvite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tok, err := h.mgr.GenerateInvite(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, inviteResponse{RoomID: id, Token: tok, InviteURL: h.inviteURL(tok)})
}

// CallEnded signals that the video call ended.
func (h *RoomHandler) CallEnded(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.CallEnded(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Dashboard returns the aggregate tiles.
func (h *RoomHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	counts, err := h.mgr.Directory().DashboardCounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, counts)
}
