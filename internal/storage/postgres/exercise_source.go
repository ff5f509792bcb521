package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/exercise"
)

// ExerciseSource reads exercise definitions from the interactive_blocks
// table. Each distinct pack_id is reported as one pack, ordered by id.
type ExerciseSource struct {
	pool *pgxpool.Pool
}

// NewExerciseSource creates a new PostgreSQL exercise source.
func NewExerciseSource(pool *pgxpool.Pool) *ExerciseSource {
	return &ExerciseSource{pool: pool}
}

func (s *ExerciseSource) Packs(ctx context.Context) ([]*domain.ExercisePack, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pack_id, array_agg(id ORDER BY created_at, id)
		FROM interactive_blocks GROUP BY pack_id ORDER BY pack_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list block packs: %w", err)
	}
	defer rows.Close()

	var packs []*domain.ExercisePack
	for rows.Next() {
		pack := &domain.ExercisePack{}
		if err := rows.Scan(&pack.ID, &pack.ExerciseIDs); err != nil {
			return nil, fmt.Errorf("scan block pack: %w", err)
		}
		pack.Name = pack.ID
		packs = append(packs, pack)
	}
	return packs, rows.Err()
}

func (s *ExerciseSource) Exercises(ctx context.Context, packID string) ([]*domain.Exercise, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pack_id, title, instructions, starter_code, run_mode, checks, hints, xp_award
		FROM interactive_blocks WHERE pack_id = $1 ORDER BY created_at, id
	`, packID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Exercise
	for rows.Next() {
		var ex domain.Exercise
		var starter, checks, hints []byte
		var runMode string
		if err := rows.Scan(&ex.ID, &ex.PackID, &ex.Title, &ex.Instructions,
			&starter, &runMode, &checks, &hints, &ex.XPAward); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}

		if starter != nil {
			if ex.StarterCode, err = domain.ParseStarterCode(starter); err != nil {
				return nil, fmt.Errorf("block %s starter_code: %w", ex.ID, err)
			}
		}
		if err := json.Unmarshal(checks, &ex.Checks); err != nil {
			return nil, fmt.Errorf("block %s checks: %w", ex.ID, err)
		}
		if err := json.Unmarshal(hints, &ex.Hints); err != nil {
			return nil, fmt.Errorf("block %s hints: %w", ex.ID, err)
		}
		ex.RunMode = domain.RunMode(runMode)
		if err := exercise.Validate(&ex); err != nil {
			return nil, err
		}
		out = append(out, &ex)
	}
	return out, rows.Err()
}

// PutExercise inserts or replaces a block definition.
func (s *ExerciseSource) PutExercise(ctx context.Context, ex *domain.Exercise) error {
	if err := exercise.Validate(ex); err != nil {
		return err
	}
	starter, err := codeParam(ex.StarterCode)
	if err != nil {
		return err
	}
	checks, err := jsonParam(ex.Checks, "[]")
	if err != nil {
		return err
	}
	hints, err := jsonParam(ex.Hints, "[]")
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO interactive_blocks (id, pack_id, title, instructions, starter_code, run_mode, checks, hints, xp_award)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			pack_id = EXCLUDED.pack_id, title = EXCLUDED.title, instructions = EXCLUDED.instructions,
			starter_code = EXCLUDED.starter_code, run_mode = EXCLUDED.run_mode,
			checks = EXCLUDED.checks, hints = EXCLUDED.hints, xp_award = EXCLUDED.xp_award
	`, ex.ID, ex.PackID, ex.Title, ex.Instructions, starter, string(ex.RunMode), checks, hints, ex.XPAward)
	if err != nil {
		return fmt.Errorf("upsert block: %w", err)
	}
	return nil
}

func jsonParam(v any, empty string) (pqtype.NullRawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal json column: %w", err)
	}
	if string(data) == "null" {
		data = []byte(empty)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

var _ exercise.Source = (*ExerciseSource)(nil)
