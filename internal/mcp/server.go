// Package mcp exposes exercise listing, grading, progress and hints as MCP
// tools for editor integrations.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/exercise"
	"github.com/felixgeelhaar/gradebox/internal/progress"
	"github.com/felixgeelhaar/gradebox/internal/session"
)

// DefaultUserID is the learner used when the client does not name one.
const DefaultUserID = "local"

// Server wraps the MCP server with gradebox functionality
type Server struct {
	mcpServer *server.Server
	sessions  *session.Service
	exercises *exercise.Registry
	userID    string
}

// Config contains configuration for the MCP server
type Config struct {
	Sessions  *session.Service
	Exercises *exercise.Registry

	// UserID is the learner the tools act for.
	UserID string

	Version string
}

// NewServer creates a new MCP server for gradebox
func NewServer(cfg Config) *Server {
	s := &Server{
		sessions:  cfg.Sessions,
		exercises: cfg.Exercises,
		userID:    cfg.UserID,
	}
	if s.userID == "" {
		s.userID = DefaultUserID
	}
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "gradebox",
		Version: version,
	}, server.WithInstructions(`
gradebox runs exercise code in a sandbox, grades it against the exercise's
checks and awards XP once per exercise.

Available tools:
- gradebox_list: List packs, or the exercises of one pack
- gradebox_run: Run and grade code for an exercise
- gradebox_progress: Show saved code and state for an exercise
- gradebox_hint: Get the nth hint for an exercise

Exercise IDs look like pack/section/slug, for example js-basics/basics/hello-console.
`))

	s.registerTools()
	return s
}

// registerTools registers all gradebox MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("gradebox_list").
		Description("List exercise packs, or the exercises in one pack.").
		Handler(s.handleList)

	s.mcpServer.Tool("gradebox_run").
		Description("Run code for an exercise in the sandbox and grade it. A first pass awards XP.").
		Handler(s.handleRun)

	s.mcpServer.Tool("gradebox_progress").
		Description("Show the learner's state, saved code and XP for an exercise.").
		Handler(s.handleProgress)

	s.mcpServer.Tool("gradebox_hint").
		Description("Get the nth hint (1-based) for an exercise.").
		Handler(s.handleHint)
}

// Input/Output types for tools

type ListInput struct {
	PackID string `json:"pack_id,omitempty" jsonschema:"description=Pack to list exercises for; omit to list packs"`
}

type ExerciseSummary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	RunMode string `json:"run_mode"`
	XPAward int    `json:"xp_award"`
}

type PackSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ExerciseCount int    `json:"exercise_count"`
}

type ListOutput struct {
	Packs     []PackSummary     `json:"packs,omitempty"`
	Exercises []ExerciseSummary `json:"exercises,omitempty"`
}

type RunInput struct {
	ExerciseID string `json:"exercise_id" jsonschema:"description=Exercise ID in format pack/section/slug"`
	Code       string `json:"code,omitempty" jsonschema:"description=Script or full HTML document"`
	HTML       string `json:"html,omitempty" jsonschema:"description=HTML body for multi-file exercises"`
	CSS        string `json:"css,omitempty" jsonschema:"description=Stylesheet for multi-file exercises"`
	JS         string `json:"js,omitempty" jsonschema:"description=Script for multi-file exercises"`
}

type RunOutput struct {
	Passed       bool     `json:"passed"`
	PassedChecks int      `json:"passed_checks"`
	TotalChecks  int      `json:"total_checks"`
	Messages     []string `json:"messages"`
	Output       []string `json:"output"`
	ErrorCount   int      `json:"error_count"`
	TimedOut     bool     `json:"timed_out"`
	Award        string   `json:"award,omitempty"`
	Notification string   `json:"notification,omitempty"`
	Summary      string   `json:"summary"`
}

type ProgressInput struct {
	ExerciseID string `json:"exercise_id" jsonschema:"description=Exercise ID in format pack/section/slug"`
}

type ProgressOutput struct {
	ExerciseID string      `json:"exercise_id"`
	State      string      `json:"state"`
	XPAwarded  bool        `json:"xp_awarded"`
	Code       domain.Code `json:"code"`
	XPTotal    int         `json:"xp_total"`
	Level      int         `json:"level"`
	Warning    string      `json:"warning,omitempty"`
}

type HintInput struct {
	ExerciseID string `json:"exercise_id" jsonschema:"description=Exercise ID in format pack/section/slug"`
	N          int    `json:"n,omitempty" jsonschema:"description=Hint number starting at 1 (default 1)"`
}

type HintOutput struct {
	N     int    `json:"n"`
	Total int    `json:"total"`
	Hint  string `json:"hint"`
}

// Tool handlers

func (s *Server) handleList(ctx context.Context, input ListInput) (ListOutput, error) {
	if input.PackID == "" {
		var out ListOutput
		for _, pack := range s.exercises.ListPacks() {
			out.Packs = append(out.Packs, PackSummary{
				ID:            pack.ID,
				Name:          pack.Name,
				Description:   pack.Description,
				ExerciseCount: len(pack.ExerciseIDs),
			})
		}
		return out, nil
	}

	exercises, err := s.exercises.ListPackExercises(input.PackID)
	if err != nil {
		return ListOutput{}, err
	}
	var out ListOutput
	for _, ex := range exercises {
		out.Exercises = append(out.Exercises, ExerciseSummary{
			ID:      ex.ID,
			Title:   ex.Title,
			RunMode: string(ex.RunMode),
			XPAward: ex.XPAward,
		})
	}
	return out, nil
}

func (s *Server) handleRun(ctx context.Context, input RunInput) (RunOutput, error) {
	code := domain.Code{Document: input.Code, HTML: input.HTML, CSS: input.CSS, JS: input.JS}
	if code.IsEmpty() {
		return RunOutput{}, errors.New("code is required")
	}

	attempt, err := s.sessions.Grade(ctx, s.userID, input.ExerciseID, code)
	if err != nil {
		return RunOutput{}, err
	}

	out := RunOutput{
		Passed:       attempt.Passed,
		PassedChecks: attempt.Report.PassedChecks,
		TotalChecks:  attempt.Report.TotalChecks,
		Messages:     attempt.Report.Messages,
		ErrorCount:   attempt.Run.ErrorCount,
		TimedOut:     attempt.Run.TimedOut,
	}
	for _, line := range attempt.Run.Lines {
		text := line.Text
		if line.Kind == domain.OutputError {
			text = "[error] " + text
		}
		out.Output = append(out.Output, text)
	}
	if attempt.Outcome != nil {
		out.Award = string(attempt.Outcome.Award)
	}
	if n := attempt.Notification; n != nil {
		out.Notification = n.Message + " " + n.Description
	}

	if attempt.Passed {
		out.Summary = fmt.Sprintf("Passed %d/%d checks.", out.PassedChecks, out.TotalChecks)
	} else {
		out.Summary = fmt.Sprintf("Failed: %d/%d checks passed. %s", out.PassedChecks, out.TotalChecks,
			strings.Join(out.Messages, " "))
	}
	return out, nil
}

func (s *Server) handleProgress(ctx context.Context, input ProgressInput) (ProgressOutput, error) {
	ws, err := s.sessions.Open(ctx, s.userID, input.ExerciseID)
	if err != nil {
		return ProgressOutput{}, err
	}

	out := ProgressOutput{ExerciseID: ws.Exercise().ID, Code: ws.Code()}
	rec, progressErr := ws.Progress()
	if progressErr != nil {
		out.Warning = "progress is temporarily unavailable"
	} else {
		out.State = string(rec.State)
		out.XPAwarded = rec.XPAwarded
	}

	if xp, err := s.sessions.Ledger().UserXP(ctx, s.userID); err == nil {
		out.XPTotal = xp.XPTotal
		out.Level = progress.CalculateLevel(xp.XPTotal)
	}
	return out, nil
}

func (s *Server) handleHint(ctx context.Context, input HintInput) (HintOutput, error) {
	n := input.N
	if n == 0 {
		n = 1
	}

	ws, err := s.sessions.Open(ctx, s.userID, input.ExerciseID)
	if err != nil {
		return HintOutput{}, err
	}
	hint, err := ws.Hint(n)
	if err != nil {
		return HintOutput{}, err
	}
	return HintOutput{N: n, Total: len(ws.Exercise().Hints), Hint: hint}, nil
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
