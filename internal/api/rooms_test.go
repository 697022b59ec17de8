package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"github.com/ashureev/vkyc-desk/internal/identity"
	"github.com/ashureev/vkyc-desk/internal/session"
	"github.com/ashureev/vkyc-desk/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	srv     *httptest.Server
	repo    *store.SQLiteStore
	agentID string
}

func newAPIHarness(t *testing.T, inviteLimit int) *apiHarness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "vkyc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	agent, err := identity.EnsureDefaultAgent(context.Background(), repo, "Default Agent", "agent@example.com")
	require.NoError(t, err)

	mgr := session.NewManager(repo)
	limiter := NewRateLimiter(inviteLimit, time.Minute)
	t.Cleanup(limiter.Stop)

	r := chi.NewRouter()
	NewHealthHandler(repo, time.Second).RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, agent.ID))
		NewRoomHandler(mgr, func(tok string) string { return "https://kyc.example.com/invite/" + tok }).RegisterRoutes(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		NewInviteHandler(mgr.Directory()).RegisterRoutes(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &apiHarness{srv: srv, repo: repo, agentID: agent.ID}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (h *apiHarness) createRoom(t *testing.T, name, app string) domain.Room {
	t.Helper()
	var room domain.Room
	status := h.do(t, http.MethodPost, "/api/rooms", map[string]string{"customer_name": name, "application_id": app}, &room)
	require.Equal(t, http.StatusCreated, status)
	return room
}

func TestCreateAndGetRoom(t *testing.T) {
	h := newAPIHarness(t, 10)
	room := h.createRoom(t, "Alice", "APP1")
	assert.Equal(t, domain.StatusPending, room.Status)
	assert.Equal(t, h.agentID, room.AgentID)

	var got domain.Room
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/rooms/"+room.ID, nil, &got))
	assert.Equal(t, "Alice", got.CustomerName)

	var list []domain.Room
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/rooms", nil, &list))
	assert.Len(t, list, 1)
}

func TestCreateRoomValidation(t *testing.T) {
	h := newAPIHarness(t, 10)
	var body errorResponse

	status := h.do(t, http.MethodPost, "/api/rooms", map[string]string{"application_id": "APP1"}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", body.Code)

	status = h.do(t, http.MethodPost, "/api/rooms", map[string]any{"customer_name": "A", "application_id": "B", "extra": 1}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEmptyListIsArray(t *testing.T) {
	h := newAPIHarness(t, 10)
	resp, err := http.Get(h.srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw))
}

func TestStatusLifecycleOverHTTP(t *testing.T) {
	h := newAPIHarness(t, 10)
	room := h.createRoom(t, "Alice", "APP1")
	path := "/api/rooms/" + room.ID

	var got domain.Room
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPatch, path+"/status", map[string]string{"status": "active"}, &got))
	assert.Equal(t, domain.StatusActive, got.Status)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, path+"/recording", map[string]bool{"is_recording": true}, &got))
	assert.True(t, got.IsRecording)

	var body errorResponse
	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, path+"/recording", map[string]bool{"is_recording": true}, &body))
	assert.Equal(t, "conflict", body.Code)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPatch, path+"/status", map[string]string{"status": "COMPLETED"}, &got))
	assert.False(t, got.IsRecording)
	assert.NotNil(t, got.CompletedAt)

	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, path+"/recording", map[string]bool{"is_recording": true}, &body))
	assert.Equal(t, "invalid_state", body.Code)

	assert.Equal(t, http.StatusUnprocessableEntity, h.do(t, http.MethodPatch, path+"/status", map[string]string{"status": "ACTIVE"}, &body))
	assert.Equal(t, "invalid_transition", body.Code)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPatch, path+"/status", map[string]string{"status": "ARCHIVED"}, &body))

	var recs []domain.Recording
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, path+"/recordings", nil, &recs))
	require.Len(t, recs, 1)
	assert.NotNil(t, recs[0].EndedAt)
}

func TestRecordingRequiresFlag(t *testing.T) {
	h := newAPIHarness(t, 10)
	room := h.createRoom(t, "Alice", "APP1")
	var body errorResponse
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/recording", map[string]any{}, &body))
}

func TestInviteFlow(t *testing.T) {
	h := newAPIHarness(t, 10)
	room := h.createRoom(t, "Alice", "APP1")

	var first, second inviteResponse
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/invite", nil, &first))
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/invite", nil, &second))
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, "https://kyc.example.com/invite/"+second.Token, second.InviteURL)

	var body errorResponse
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/invite/"+first.Token, nil, &body))

	var view map[string]any
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/invite/"+second.Token, nil, &view))
	assert.Equal(t, room.ID, view["id"])
	assert.Equal(t, "Alice", view["customer_name"])
	assert.Equal(t, false, view["is_terminal"])
	assert.NotContains(t, view, "notes")
	assert.NotContains(t, view, "agent_id")
}

func TestInviteRateLimited(t *testing.T) {
	h := newAPIHarness(t, 2)
	var body errorResponse
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/invite/a", nil, &body))
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/invite/b", nil, &body))
	assert.Equal(t, http.StatusTooManyRequests, h.do(t, http.MethodGet, "/api/invite/c", nil, &body))
	assert.Equal(t, "rate_limited", body.Code)
}

func TestDeleteRoom(t *testing.T) {
	h := newAPIHarness(t, 10)
	room := h.createRoom(t, "Alice", "APP1")

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/rooms/"+room.ID, nil, nil))
	var body errorResponse
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/rooms/"+room.ID, nil, &body))
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/rooms/"+room.ID, nil, &body))
}

func TestNotesPresenceCallEndedAndDashboard(t *testing.T) {
	h := newAPIHarness(t, 10)
	room := h.createRoom(t, "Alice", "APP1")
	path := "/api/rooms/" + room.ID

	var got domain.Room
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPatch, path+"/notes", map[string]string{"notes": "ID verified"}, &got))
	assert.Equal(t, "ID verified", got.Notes)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPatch, path+"/customer-status", map[string]bool{"is_online": true}, &got))
	assert.True(t, got.IsCustomerOnline)

	var ok map[string]string
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, path+"/call-ended", nil, &ok))

	var counts domain.DashboardCounts
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/dashboard", nil, &counts))
	assert.Equal(t, domain.DashboardCounts{Pending: 1, WaitingCustomers: 1}, counts)
}

func TestUnknownAgentHeader(t *testing.T) {
	h := newAPIHarness(t, 10)
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/api/rooms", nil)
	require.NoError(t, err)
	req.Header.Set(identity.AgentHeaderName, "ghost")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t, 10)
	var body map[string]any
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health", nil, &body))
	assert.Equal(t, "healthy", body["status"])

	require.NoError(t, h.repo.Close())
	require.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/health", nil, &body))
	assert.Equal(t, "degraded", body["status"])
}
