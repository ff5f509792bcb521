// Package session composes the core modules into the exercise flow: load the
// definition, load and save progress, run, check, record and notify.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/progress"
)

var (
	ErrExerciseNotFound = errors.New("exercise not found")
	ErrNoMoreHints      = errors.New("no more hints")
	ErrWorkspaceClosed  = errors.New("workspace closed")
)

// DefaultMaxConcurrent bounds concurrent graded runs.
const DefaultMaxConcurrent = 4

// Options configures a Service.
type Options struct {
	// FailOnTimeout makes a timed-out run fail even when its checks pass.
	FailOnTimeout bool

	// MaxConcurrent bounds concurrent Grade calls. Callers over the limit
	// queue for QueueTimeout.
	MaxConcurrent int
	QueueTimeout  time.Duration

	Attempts AttemptRecorder
	Notifier Notifier
	Logger   *slog.Logger
}

// DefaultOptions returns the defaults used by the daemon.
func DefaultOptions() Options {
	return Options{
		FailOnTimeout: true,
		MaxConcurrent: DefaultMaxConcurrent,
		QueueTimeout:  30 * time.Second,
	}
}

// Service opens exercise workspaces and grades runs.
type Service struct {
	exercises ExerciseSource
	ledger    *progress.Ledger
	runner    Runner
	opts      Options
	logger    *slog.Logger
	bulkhead  bulkhead.Bulkhead[*Attempt]
}

// NewService creates a service over the given collaborators.
func NewService(exercises ExerciseSource, ledger *progress.Ledger, runner Runner, opts Options) *Service {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		exercises: exercises,
		ledger:    ledger,
		runner:    runner,
		opts:      opts,
		logger:    logger,
		bulkhead: bulkhead.New[*Attempt](bulkhead.Config{
			MaxConcurrent: opts.MaxConcurrent,
			MaxQueue:      opts.MaxConcurrent * 4,
			QueueTimeout:  opts.QueueTimeout,
		}),
	}
}

// Ledger returns the progress ledger the service writes to.
func (s *Service) Ledger() *progress.Ledger {
	return s.ledger
}

// Exercise looks up a definition.
func (s *Service) Exercise(id string) (*domain.Exercise, error) {
	ex, err := s.exercises.GetExercise(id)
	if err != nil {
		if errors.Is(err, domain.ErrExerciseNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExerciseNotFound, id)
		}
		return nil, fmt.Errorf("get exercise: %w", err)
	}
	return ex, nil
}

// Open loads the exercise and the learner's progress. A progress load
// failure does not prevent opening; it is kept on the workspace.
func (s *Service) Open(ctx context.Context, userID, exerciseID string) (*Workspace, error) {
	if userID == "" {
		return nil, domain.ErrMissingUser
	}
	ex, err := s.Exercise(exerciseID)
	if err != nil {
		return nil, err
	}

	w := &Workspace{svc: s, userID: userID, exercise: ex}
	rec, err := s.ledger.LoadProgress(ctx, userID, ex.ID)
	if err != nil {
		s.logger.Warn("open workspace without progress", "user_id", userID, "exercise_id", ex.ID, "error", err)
		w.progressErr = err
	} else {
		w.progress = rec
	}
	return w, nil
}

// Grade runs code for an exercise in a throwaway workspace. Concurrent
// calls are bounded by the service's bulkhead.
func (s *Service) Grade(ctx context.Context, userID, exerciseID string, code domain.Code) (*Attempt, error) {
	w, err := s.Open(ctx, userID, exerciseID)
	if err != nil {
		return nil, err
	}
	defer w.Close(ctx)

	attempt, err := s.bulkhead.Execute(ctx, func(ctx context.Context) (*Attempt, error) {
		return w.Run(ctx, code)
	})
	if err != nil {
		return nil, fmt.Errorf("grade %s: %w", exerciseID, err)
	}
	return attempt, nil
}

func (s *Service) record(ctx context.Context, a *domain.Attempt) {
	if s.opts.Attempts == nil {
		return
	}
	if err := s.opts.Attempts.Record(ctx, a); err != nil {
		s.logger.Warn("record attempt", "user_id", a.UserID, "exercise_id", a.ExerciseID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.opts.Notifier == nil {
		return
	}
	if err := s.opts.Notifier.NotifyXP(ctx, n); err != nil {
		s.logger.Warn("xp notification", "user_id", n.UserID, "exercise_id", n.ExerciseID, "error", err)
	}
}
