// Package postgres stores progress, XP and exercise definitions in
// PostgreSQL using a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/progress"
)

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// ProgressStore implements progress.Store using PostgreSQL.
type ProgressStore struct {
	pool *pgxpool.Pool
}

// NewProgressStore creates a new PostgreSQL progress store.
func NewProgressStore(pool *pgxpool.Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

func (s *ProgressStore) GetProgress(ctx context.Context, userID, exerciseID string) (*domain.ProgressRecord, error) {
	query := `
		SELECT user_id, exercise_id, tutorial_slug, progress_state, saved_code,
			xp_awarded, passed_at, updated_at
		FROM interactive_progress WHERE user_id = $1 AND exercise_id = $2
	`
	return scanProgress(s.pool.QueryRow(ctx, query, userID, exerciseID))
}

func (s *ProgressStore) SaveCode(ctx context.Context, userID, exerciseID string, code domain.Code, at time.Time) error {
	payload, err := codeParam(code)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO interactive_progress (user_id, exercise_id, progress_state, saved_code, updated_at)
		VALUES ($1, $2, 'in_progress', $3, $4)
		ON CONFLICT (user_id, exercise_id) DO UPDATE
			SET saved_code = EXCLUDED.saved_code, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, userID, exerciseID, payload, at); err != nil {
		return fmt.Errorf("upsert saved code: %w", err)
	}
	return nil
}

func (s *ProgressStore) MarkPassed(ctx context.Context, userID, exerciseID string, at time.Time) (*domain.ProgressRecord, error) {
	query := `
		INSERT INTO interactive_progress (user_id, exercise_id, progress_state, passed_at, updated_at)
		VALUES ($1, $2, 'passed', $3, $3)
		ON CONFLICT (user_id, exercise_id) DO UPDATE
			SET progress_state = 'passed',
				passed_at = COALESCE(interactive_progress.passed_at, EXCLUDED.passed_at),
				updated_at = EXCLUDED.updated_at
		RETURNING user_id, exercise_id, tutorial_slug, progress_state, saved_code,
			xp_awarded, passed_at, updated_at
	`
	rec, err := scanProgress(s.pool.QueryRow(ctx, query, userID, exerciseID, at))
	if err != nil {
		return nil, fmt.Errorf("upsert passed: %w", err)
	}
	return rec, nil
}

// AwardXPIfNotAwarded delegates to the award_xp_if_not_awarded database
// function, which runs in the statement's implicit transaction.
func (s *ProgressStore) AwardXPIfNotAwarded(ctx context.Context, userID, exerciseID string, amount int) (bool, error) {
	var granted bool
	err := s.pool.QueryRow(ctx, "SELECT award_xp_if_not_awarded($1, $2, $3)", userID, exerciseID, amount).Scan(&granted)
	if err != nil {
		return false, fmt.Errorf("award xp: %w", err)
	}
	return granted, nil
}

func (s *ProgressStore) GetUserXP(ctx context.Context, userID string) (*domain.UserXP, error) {
	xp := &domain.UserXP{UserID: userID}
	err := s.pool.QueryRow(ctx,
		"SELECT xp_total, level, updated_at FROM users WHERE id = $1", userID,
	).Scan(&xp.XPTotal, &xp.Level, &xp.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return xp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user xp: %w", err)
	}
	return xp, nil
}

func codeParam(code domain.Code) (pqtype.NullRawMessage, error) {
	if code.IsEmpty() {
		return pqtype.NullRawMessage{}, nil
	}
	data, err := json.Marshal(code)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal code: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

func scanProgress(row pgx.Row) (*domain.ProgressRecord, error) {
	var rec domain.ProgressRecord
	var state string
	var savedCode []byte

	err := row.Scan(
		&rec.UserID, &rec.ExerciseID, &rec.TutorialSlug, &state, &savedCode,
		&rec.XPAwarded, &rec.PassedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProgressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan progress: %w", err)
	}

	rec.State = domain.ProgressState(state)
	rec.Persisted = true
	if savedCode != nil {
		var code domain.Code
		if err := json.Unmarshal(savedCode, &code); err != nil {
			return nil, fmt.Errorf("unmarshal saved code: %w", err)
		}
		rec.SavedCode = &code
	}
	return &rec, nil
}

var _ progress.Store = (*ProgressStore)(nil)
