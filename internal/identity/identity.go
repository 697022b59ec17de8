// Package identity resolves which agent a request acts for.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"github.com/ashureev/vkyc-desk/internal/store"
	"github.com/google/uuid"
)

// AgentHeaderName lets a request name the acting agent.
const AgentHeaderName = "X-VKYC-Agent-ID"

type contextKey int

const agentIDKey contextKey = iota

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// AgentIDFromContext extracts the acting agent ID from the request context.
func AgentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(agentIDKey).(string); ok {
		return v
	}
	return ""
}

// WithAgentID returns a context carrying agentID.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// EnsureDefaultAgent returns the first agent, creating one with the given
// name and email when the store has none.
func EnsureDefaultAgent(ctx context.Context, repo store.Repository, name, email string) (*domain.Agent, error) {
	agent, err := repo.FindAgentByRole(ctx, domain.RoleAgent)
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find default agent: %w", err)
	}

	agent = &domain.Agent{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Role:      domain.RoleAgent,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateAgent(ctx, agent); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another process created it first.
			return repo.FindAgentByRole(ctx, domain.RoleAgent)
		}
		return nil, fmt.Errorf("create default agent: %w", err)
	}
	slog.Info("Default agent created", "agent_id", agent.ID, "email", agent.Email)
	return agent, nil
}

func agentIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(AgentHeaderName))
}

// Middleware injects the acting agent ID. Requests without the agent header
// act as defaultAgentID; a header naming an unknown agent is rejected.
func Middleware(repo store.Repository, defaultAgentID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agentID := agentIDFromRequest(r)
			if agentID == "" {
				agentID = defaultAgentID
			} else {
				if !agentIDPattern.MatchString(agentID) {
					http.Error(w, `{"error":"invalid agent id","code":"invalid_input"}`, http.StatusBadRequest)
					return
				}
				if _, err := repo.GetAgent(r.Context(), agentID); err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						http.Error(w, `{"error":"unknown agent","code":"unauthorized"}`, http.StatusUnauthorized)
						return
					}
					http.Error(w, `{"error":"failed to resolve agent","code":"unavailable"}`, http.StatusServiceUnavailable)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithAgentID(r.Context(), agentID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting and tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
