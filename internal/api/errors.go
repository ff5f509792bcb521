package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/progress"
	"github.com/felixgeelhaar/gradebox/internal/sandbox"
	"github.com/felixgeelhaar/gradebox/internal/session"
)

// APIError represents a structured API error
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// NewAPIError creates a new API error
func NewAPIError(code string, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WithDetails adds details to the error
func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// StatusFor maps a service error to an HTTP status and error body. The
// message of unexpected errors is not exposed.
func StatusFor(err error) (int, *APIError) {
	switch {
	case errors.Is(err, session.ErrExerciseNotFound),
		errors.Is(err, domain.ErrExerciseNotFound),
		errors.Is(err, domain.ErrExercisePackNotFound):
		return http.StatusNotFound, NewAPIError("NOT_FOUND", err.Error()).WithCause(err)
	case errors.Is(err, session.ErrNoMoreHints):
		return http.StatusNotFound, NewAPIError("NO_MORE_HINTS", err.Error()).WithCause(err)
	case errors.Is(err, domain.ErrInvalidExerciseID), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, NewAPIError("BAD_REQUEST", err.Error()).WithCause(err)
	case errors.Is(err, domain.ErrMissingUser), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, NewAPIError("UNAUTHORIZED", err.Error()).WithCause(err)
	case errors.Is(err, progress.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, NewAPIError("STORAGE_UNAVAILABLE", "progress storage is unavailable").WithCause(err)
	case errors.Is(err, sandbox.ErrMaxHosts):
		return http.StatusServiceUnavailable, NewAPIError("BUSY", "too many runs in progress, try again shortly").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, NewAPIError("TIMEOUT", "request timed out").WithCause(err)
	}
	return http.StatusInternalServerError, NewAPIError("INTERNAL_ERROR", "an unexpected error occurred").WithCause(err)
}

// ErrorResponse is the JSON structure for error responses
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *APIError) {
	logAttrs := []any{
		"code", apiErr.Code,
		"message", apiErr.Message,
		"status", statusCode,
		"method", r.Method,
		"path", r.URL.Path,
	}
	if apiErr.cause != nil {
		logAttrs = append(logAttrs, "cause", apiErr.cause.Error())
	}
	if requestID := w.Header().Get("X-Request-ID"); requestID != "" {
		logAttrs = append(logAttrs, "request_id", requestID)
	}

	if statusCode >= 500 {
		slog.Error("api error", logAttrs...)
	} else if statusCode >= 400 {
		slog.Debug("api error", logAttrs...)
	}

	WriteJSON(w, statusCode, ErrorResponse{Error: apiErr})
}

// WriteServiceError writes the response StatusFor picks for err.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := StatusFor(err)
	WriteError(w, r, status, apiErr)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// BadRequest writes a 400 with the given message.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusBadRequest, NewAPIError("BAD_REQUEST", message))
}

// NotFound writes a 404 for the named resource.
func NotFound(w http.ResponseWriter, r *http.Request, resource string) {
	WriteError(w, r, http.StatusNotFound, NewAPIError("NOT_FOUND", resource+" not found"))
}

// TooManyRequests writes a 429 with a Retry-After hint in seconds.
func TooManyRequests(w http.ResponseWriter, r *http.Request, retryAfter string) {
	w.Header().Set("Retry-After", retryAfter)
	WriteError(w, r, http.StatusTooManyRequests, NewAPIError("RATE_LIMITED", "too many runs, please wait before trying again"))
}
