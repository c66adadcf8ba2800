package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// AgentTokenMiddleware authenticates agent requests using the bearer token
// issued at registration. The authenticated agent is stored in the request
// context under "agent" and its ID under "agent_id".
func AgentTokenMiddleware(agentService *services.AgentService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			debug.Debug("Processing agent token authentication for %s %s", r.Method, r.URL.Path)

			token := bearerToken(r)
			if token == "" {
				debug.Warning("No agent token provided for %s %s", r.Method, r.URL.Path)
				sendAPIError(w, "Agent token required", "AUTH_MISSING_CREDENTIALS", http.StatusUnauthorized)
				return
			}

			agent, err := agentService.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, services.ErrInvalidToken) {
					debug.Warning("Rejected agent token for %s %s", r.Method, r.URL.Path)
					sendAPIError(w, "Invalid agent token", "AUTH_INVALID_CREDENTIALS", http.StatusUnauthorized)
					return
				}
				debug.Error("Agent authentication failed: %v", err)
				sendAPIError(w, "Authentication unavailable", "AUTH_UNAVAILABLE", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), "agent", agent)
			ctx = context.WithValue(ctx, "agent_id", agent.ID)
			r = r.WithContext(ctx)

			debug.Debug("Agent %d authenticated for %s %s", agent.ID, r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from the Authorization header. The X-Agent-Token
// header is accepted as a fallback for clients that cannot set Authorization.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.Header.Get("X-Agent-Token")
}

// sendAPIError sends a standardized JSON error response
func sendAPIError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":` + strconv.Quote(message) + `,"code":` + strconv.Quote(code) + `}`))
}
