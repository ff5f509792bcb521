// Package middleware holds the request-scoped HTTP middleware that depends on
// gradebox services: user resolution and per-user rate limiting.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/gradebox/internal/api"
	"github.com/felixgeelhaar/gradebox/internal/auth"
	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// RequireUser resolves the learner with provider and stores it on the
// request context. Requests without a valid identity get 401.
func RequireUser(provider auth.SessionProvider) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := provider.UserID(r)
			if err != nil {
				msg := "user identity required"
				if errors.Is(err, domain.ErrUnauthorized) {
					msg = "invalid credentials"
				}
				slog.Debug("rejecting request without user", "path", r.URL.Path, "error", err)
				api.WriteError(w, r, http.StatusUnauthorized, api.NewAPIError("UNAUTHORIZED", msg).WithCause(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
		})
	}
}

// Chain applies middleware so the first one listed runs first.
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// ClientIP extracts the client IP address from the request
func ClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
