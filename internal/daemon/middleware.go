package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/gradebox/internal/api"
	"github.com/felixgeelhaar/gradebox/internal/auth"
)

// ContextKey is the type for context keys used in this package
type ContextKey string

const (
	// CorrelationIDKey is the context key for the correlation ID
	CorrelationIDKey ContextKey = "correlation_id"
	// CorrelationIDHeader is the HTTP header name for correlation ID
	CorrelationIDHeader = "X-Request-ID"
)

// GetCorrelationID extracts the correlation ID from a context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// correlationIDMiddleware adds or propagates a correlation ID for request tracing
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationIDHeader)
		if correlationID == "" || len(correlationID) > 128 {
			correlationID = uuid.NewString()
		}

		w.Header().Set(CorrelationIDHeader, correlationID)
		ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// userRecorder lets the logging middleware see the user the inner
// RequireUser middleware resolved.
type userRecorder struct {
	userID string
}

type userRecorderKey struct{}

// loggingMiddleware logs HTTP requests with timing and status. Client
// errors log at debug to keep rejected learner traffic out of the file log.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		rec := &userRecorder{}
		ctx := context.WithValue(r.Context(), userRecorderKey{}, rec)
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		attrs := []any{
			"correlation_id", GetCorrelationID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if rec.userID != "" {
			attrs = append(attrs, "user_id", rec.userID)
		}

		switch {
		case wrapped.statusCode >= 500:
			slog.Error("request", attrs...)
		case wrapped.statusCode == http.StatusTooManyRequests:
			slog.Warn("request", attrs...)
		case r.URL.Path == "/v1/health" || r.URL.Path == "/metrics":
			// polled constantly
		default:
			slog.Debug("request", attrs...)
		}
	})
}

// noteUser records the resolved user for the request log line.
func noteUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec, ok := r.Context().Value(userRecorderKey{}).(*userRecorder); ok {
			rec.userID, _ = auth.UserFrom(r.Context())
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware catches panics and logs them
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"correlation_id", GetCorrelationID(r.Context()),
					"error", err,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				)
				api.WriteJSON(w, http.StatusInternalServerError, api.ErrorResponse{
					Error: api.NewAPIError("INTERNAL_ERROR", "an unexpected error occurred"),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
