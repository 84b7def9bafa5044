package http

import (
	"net/http"

	"fleet-safety/monitor/internal/auth"
)

const apiKeyHeader = "X-API-Key"

// AuthMiddleware rejects requests without a valid operator API key. The
// health probe is mounted outside the wrapped subrouter and stays open.
type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing "+apiKeyHeader+" header")
			return
		}
		if !m.auth.Validate(r.Context(), key) {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
