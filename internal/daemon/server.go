package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/api"
	"github.com/felixgeelhaar/gradebox/internal/api/middleware"
	"github.com/felixgeelhaar/gradebox/internal/auth"
	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/metrics"
	"github.com/felixgeelhaar/gradebox/internal/progress"
	"github.com/felixgeelhaar/gradebox/internal/session"
	"github.com/felixgeelhaar/gradebox/internal/storage/sqlite"
)

// Version is reported by /v1/status. Set at build time.
var Version = "0.1.0"

// maxBodyBytes bounds request bodies carrying learner code.
const maxBodyBytes = 1 << 20

// Server represents the gradebox daemon HTTP server
type Server struct {
	app      *api.App
	provider auth.SessionProvider
	limiter  *middleware.RateLimiter
	router   *http.ServeMux
	server   *http.Server
	started  time.Time
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	App *api.App

	// Provider resolves learners. Defaults to the provider named by the
	// auth section of the app config.
	Provider auth.SessionProvider
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("daemon: app is required")
	}
	conf := cfg.App.Config

	provider := cfg.Provider
	if provider == nil {
		var err error
		provider, err = auth.NewProvider(conf.Auth.Mode, conf.Auth.Tokens)
		if err != nil {
			return nil, fmt.Errorf("create session provider: %w", err)
		}
	}

	s := &Server{
		app:      cfg.App,
		provider: provider,
		limiter: middleware.NewRateLimiter(middleware.RateLimitConfig{
			RunsPerMinute: conf.RateLimit.RunsPerMinute,
			Burst:         conf.RateLimit.Burst,
		}),
		router:  http.NewServeMux(),
		started: time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         conf.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: conf.Sandbox.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return correlationIDMiddleware(recoveryMiddleware(loggingMiddleware(s.router)))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	requireUser := middleware.RequireUser(s.provider)
	user := func(h http.Handler) http.Handler { return requireUser(noteUser(h)) }

	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)
	s.router.Handle("GET /metrics", metrics.Handler())

	// Exercises
	s.router.HandleFunc("GET /v1/exercises", s.handleListPacks)
	s.router.HandleFunc("GET /v1/exercises/{pack}", s.handleListPackExercises)
	s.router.HandleFunc("GET /v1/exercises/{pack}/{slug...}", s.handleGetExercise)

	// Learner routes
	s.router.Handle("GET /v1/progress/{pack}/{slug...}", user(http.HandlerFunc(s.handleGetProgress)))
	s.router.Handle("PUT /v1/code/{pack}/{slug...}", user(http.HandlerFunc(s.handleSaveCode)))
	s.router.Handle("POST /v1/runs/{pack}/{slug...}", middleware.Chain(http.HandlerFunc(s.handleRun), user, s.limiter.Handler))
	s.router.Handle("GET /v1/hints/{pack}/{slug...}", user(http.HandlerFunc(s.handleHint)))
	s.router.Handle("GET /v1/me/xp", user(http.HandlerFunc(s.handleUserXP)))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting gradebox daemon",
		"addr", s.server.Addr,
		"sandbox", s.app.Config.Sandbox.Backend,
		"storage", s.app.Config.Storage.Driver,
		"auth", s.app.Config.Auth.Mode,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server. The app is closed by its owner.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")
	if err := s.limiter.Close(); err != nil {
		slog.Warn("failed to close rate limiter", "error", err)
	}
	return s.server.Shutdown(ctx)
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "running",
		"version":   Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"storage":   s.app.Config.Storage.Driver,
		"sandbox":   s.app.Sandbox.Config().Backend,
		"hosts":     s.app.Sandbox.List(),
		"exercises": s.app.Exercises.Stats(),
		"ready":     s.app.Exercises.Loaded(),
	})
}

func (s *Server) handleListPacks(w http.ResponseWriter, r *http.Request) {
	if tag := r.URL.Query().Get("tag"); tag != "" {
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"tag":       tag,
			"exercises": exerciseSummaries(s.app.Exercises.GetExercisesByTag(tag)),
		})
		return
	}

	packs := s.app.Exercises.ListPacks()

	result := make([]map[string]any, 0, len(packs))
	for _, pack := range packs {
		result = append(result, map[string]any{
			"id":             pack.ID,
			"name":           pack.Name,
			"description":    pack.Description,
			"version":        pack.Version,
			"exercise_count": len(pack.ExerciseIDs),
		})
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"packs": result,
	})
}

func (s *Server) handleListPackExercises(w http.ResponseWriter, r *http.Request) {
	packID := r.PathValue("pack")

	exercises, err := s.app.Exercises.ListPackExercises(packID)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"pack_id":   packID,
		"exercises": exerciseSummaries(exercises),
	})
}

// exerciseView is the public form of a definition. Hints are served one at
// a time by the hint route.
type exerciseView struct {
	*domain.Exercise
	Hints     []string `json:"hints,omitempty"`
	HintCount int      `json:"hint_count"`
}

func exerciseSummaries(exercises []*domain.Exercise) []map[string]any {
	out := make([]map[string]any, 0, len(exercises))
	for _, ex := range exercises {
		out = append(out, map[string]any{
			"id":       ex.ID,
			"title":    ex.Title,
			"run_mode": ex.RunMode,
			"xp_award": ex.XPAward,
			"tags":     ex.Tags,
		})
	}
	return out
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	ex, err := s.app.Sessions.Exercise(exerciseID(r))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, exerciseView{Exercise: ex, HintCount: len(ex.Hints)})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())

	ws, err := s.app.Sessions.Open(r.Context(), userID, exerciseID(r))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}

	rec, progressErr := ws.Progress()
	resp := map[string]any{
		"exercise_id": ws.Exercise().ID,
		"progress":    rec,
		"code":        ws.Code(),
	}
	// The learner can keep working from the starter code.
	if progressErr != nil {
		resp["progress_error"] = "progress is temporarily unavailable"
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

type saveCodeRequest struct {
	Code      domain.Code `json:"code"`
	Immediate bool        `json:"immediate"`
}

func (s *Server) handleSaveCode(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())

	var req saveCodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		api.BadRequest(w, r, "invalid request body")
		return
	}

	ws, err := s.app.Sessions.Open(r.Context(), userID, exerciseID(r))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	// No Close: it would flush the debounced write this request schedules.
	if err := ws.Save(r.Context(), req.Code, req.Immediate); err != nil {
		api.WriteServiceError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if req.Immediate {
		status = http.StatusOK
		s.app.RecordEvent(r.Context(), sqlite.EventCodeSaved, userID, ws.Exercise().ID, nil)
	}
	api.WriteJSON(w, status, map[string]any{
		"saved":     true,
		"immediate": req.Immediate,
	})
}

type runRequest struct {
	Code domain.Code `json:"code"`
}

type runResponse struct {
	*session.Attempt
	NextExerciseID string `json:"next_exercise_id,omitempty"`
	SaveError      string `json:"save_error,omitempty"`
	PassError      string `json:"pass_error,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())

	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		api.BadRequest(w, r, "invalid request body")
		return
	}
	if req.Code.IsEmpty() {
		api.BadRequest(w, r, "code is required")
		return
	}

	id := exerciseID(r)
	attempt, err := s.app.Sessions.Grade(r.Context(), userID, id, req.Code)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}

	resp := runResponse{Attempt: attempt}
	if attempt.SaveErr != nil {
		resp.SaveError = "code could not be saved"
	}
	if attempt.PassErr != nil {
		resp.PassError = "progress could not be updated"
	}
	if attempt.Passed {
		if next, err := s.app.Exercises.GetNextExercise(attempt.ExerciseID); err == nil && next != nil {
			resp.NextExerciseID = next.ID
		}
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())

	n := 1
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			api.BadRequest(w, r, "n must be a positive integer")
			return
		}
		n = parsed
	}

	ws, err := s.app.Sessions.Open(r.Context(), userID, exerciseID(r))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	hint, err := ws.Hint(n)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}

	s.app.RecordEvent(r.Context(), sqlite.EventHintViewed, userID, ws.Exercise().ID, map[string]int{"n": n})
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"exercise_id": ws.Exercise().ID,
		"n":           n,
		"total":       len(ws.Exercise().Hints),
		"hint":        hint,
	})
}

func (s *Server) handleUserXP(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())

	xp, err := s.app.Ledger.UserXP(r.Context(), userID)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"xp_total": xp.XPTotal,
		"level":    xp.Level,
		"progress": progress.LevelProgressFor(xp.XPTotal),
	})
}

// exerciseID joins the pack and slug path values.
func exerciseID(r *http.Request) string {
	return r.PathValue("pack") + "/" + r.PathValue("slug")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
