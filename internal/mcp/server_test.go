package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/felixgeelhaar/gradebox/internal/exercise"
	"github.com/felixgeelhaar/gradebox/internal/progress"
	"github.com/felixgeelhaar/gradebox/internal/sandbox"
	"github.com/felixgeelhaar/gradebox/internal/session"
)

const helloID = "js-basics/basics/hello-console"

// setupTestServer creates an MCP server over the repository exercises with
// an in-memory ledger and the in-process sandbox.
func setupTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	registry := exercise.NewRegistry(exercise.NewLoader("../../exercises"))
	if err := registry.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	manager := sandbox.NewManager(sandbox.NewGojaBackend(nil), sandbox.DefaultConfig(), nil)
	t.Cleanup(func() { manager.Close() })
	ledger := progress.NewLedger(progress.NewMemoryStore(), progress.Options{})
	t.Cleanup(func() { ledger.Close(ctx) })

	return NewServer(Config{
		Sessions:  session.NewService(registry, ledger, manager, session.DefaultOptions()),
		Exercises: registry,
	})
}

func TestNewServer(t *testing.T) {
	s := setupTestServer(t)
	if s.GetMCPServer() == nil {
		t.Fatal("expected non-nil MCP server")
	}
	if s.userID != DefaultUserID {
		t.Errorf("userID = %q; want %q", s.userID, DefaultUserID)
	}
}

func TestHandleList(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	out, err := s.handleList(ctx, ListInput{})
	if err != nil {
		t.Fatalf("handleList() error = %v", err)
	}
	if len(out.Packs) != 2 {
		t.Errorf("len(Packs) = %d; want 2", len(out.Packs))
	}

	out, err = s.handleList(ctx, ListInput{PackID: "web-basics"})
	if err != nil {
		t.Fatalf("handleList(web-basics) error = %v", err)
	}
	if len(out.Exercises) == 0 || out.Exercises[0].RunMode != "web" {
		t.Errorf("Exercises = %+v; want web exercises", out.Exercises)
	}

	if _, err := s.handleList(ctx, ListInput{PackID: "nope"}); err == nil {
		t.Error("handleList(nope) error = nil; want error")
	}
}

func TestHandleRun(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	out, err := s.handleRun(ctx, RunInput{ExerciseID: helloID, Code: `console.log("Hello World")`})
	if err != nil {
		t.Fatalf("handleRun() error = %v", err)
	}
	if !out.Passed {
		t.Fatalf("Passed = false; summary %q", out.Summary)
	}
	if out.Award != "granted" {
		t.Errorf("Award = %q; want granted", out.Award)
	}
	if out.Notification != "+50 XP earned! You're now Level 0" {
		t.Errorf("Notification = %q", out.Notification)
	}
	if len(out.Output) != 1 || out.Output[0] != "Hello World" {
		t.Errorf("Output = %v; want [Hello World]", out.Output)
	}

	out, err = s.handleRun(ctx, RunInput{ExerciseID: helloID, Code: `throw new Error("nope")`})
	if err != nil {
		t.Fatalf("handleRun() error = %v", err)
	}
	if out.Passed || out.ErrorCount == 0 {
		t.Errorf("out = %+v; want a failing run with errors", out)
	}
	if !strings.HasPrefix(out.Summary, "Failed:") {
		t.Errorf("Summary = %q; want Failed prefix", out.Summary)
	}

	if _, err := s.handleRun(ctx, RunInput{ExerciseID: helloID}); err == nil {
		t.Error("handleRun(no code) error = nil; want error")
	}
	if _, err := s.handleRun(ctx, RunInput{ExerciseID: "nope/x", Code: "1"}); !errors.Is(err, session.ErrExerciseNotFound) {
		t.Errorf("handleRun(unknown) error = %v; want ErrExerciseNotFound", err)
	}
}

func TestHandleProgress(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	out, err := s.handleProgress(ctx, ProgressInput{ExerciseID: helloID})
	if err != nil {
		t.Fatalf("handleProgress() error = %v", err)
	}
	if out.State != "in_progress" || out.XPAwarded {
		t.Errorf("out = %+v; want in_progress without XP", out)
	}

	if _, err := s.handleRun(ctx, RunInput{ExerciseID: helloID, Code: `console.log("Hello World")`}); err != nil {
		t.Fatalf("handleRun() error = %v", err)
	}

	out, err = s.handleProgress(ctx, ProgressInput{ExerciseID: helloID})
	if err != nil {
		t.Fatalf("handleProgress() error = %v", err)
	}
	if out.State != "passed" || !out.XPAwarded || out.XPTotal != 50 {
		t.Errorf("out = %+v; want passed with 50 XP", out)
	}
	if out.Code.JS != `console.log("Hello World")` {
		t.Errorf("Code = %+v; want the graded code", out.Code)
	}
}

func TestHandleHint(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	out, err := s.handleHint(ctx, HintInput{ExerciseID: helloID})
	if err != nil {
		t.Fatalf("handleHint() error = %v", err)
	}
	if out.N != 1 || out.Total != 2 || out.Hint == "" {
		t.Errorf("out = %+v; want hint 1 of 2", out)
	}

	if _, err := s.handleHint(ctx, HintInput{ExerciseID: helloID, N: 5}); !errors.Is(err, session.ErrNoMoreHints) {
		t.Errorf("handleHint(5) error = %v; want ErrNoMoreHints", err)
	}
}
