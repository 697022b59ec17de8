package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"github.com/ashureev/vkyc-desk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "vkyc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestEnsureDefaultAgentIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	first, err := EnsureDefaultAgent(ctx, repo, "Default Agent", "agent@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Default Agent", first.Name)
	assert.Equal(t, domain.RoleAgent, first.Role)

	second, err := EnsureDefaultAgent(ctx, repo, "Other", "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestMiddleware(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateAgent(ctx, &domain.Agent{
		ID: "agent-2", Name: "Second", Email: "second@example.com", Role: domain.RoleAgent, CreatedAt: time.Now(),
	}))

	var seen string
	h := Middleware(repo, "agent-default")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AgentIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
		want   string
	}{
		{name: "default", status: http.StatusNoContent, want: "agent-default"},
		{name: "known header", header: "agent-2", status: http.StatusNoContent, want: "agent-2"},
		{name: "unknown header", header: "ghost", status: http.StatusUnauthorized},
		{name: "malformed header", header: "bad id!", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
			if tt.header != "" {
				req.Header.Set(AgentHeaderName, tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.want, seen)
		})
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5151"
	assert.Equal(t, "10.0.0.7", IPFromRequest(req))

	req.RemoteAddr = "10.0.0.7"
	assert.Equal(t, "10.0.0.7", IPFromRequest(req))
}
