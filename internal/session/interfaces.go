package session

import (
	"context"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/sandbox"
)

// Runner executes learner code on a fresh isolated host and returns the
// captured run once it completes or times out.
type Runner interface {
	Execute(ctx context.Context, code domain.Code) (domain.RunContext, error)
}

// Ensure the sandbox manager satisfies Runner
var _ Runner = (*sandbox.Manager)(nil)

// ExerciseSource resolves exercise definitions by ID.
type ExerciseSource interface {
	GetExercise(id string) (*domain.Exercise, error)
}

// AttemptRecorder keeps the history of graded runs.
type AttemptRecorder interface {
	Record(ctx context.Context, a *domain.Attempt) error
}

// Notifier is told about XP awards.
type Notifier interface {
	NotifyXP(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) NotifyXP(ctx context.Context, n Notification) error { return f(ctx, n) }
