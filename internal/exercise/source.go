package exercise

import (
	"context"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// Source supplies exercise definitions. The YAML Loader and the Postgres
// interactive_blocks table both implement it.
type Source interface {
	Packs(ctx context.Context) ([]*domain.ExercisePack, error)
	Exercises(ctx context.Context, packID string) ([]*domain.Exercise, error)
}

var _ Source = (*Loader)(nil)
