package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/progress"
)

// ProgressStore implements progress.Store backed by SQLite.
type ProgressStore struct {
	db *DB
}

// NewProgressStore creates a new SQLite-backed progress store.
func NewProgressStore(db *DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// GetProgress retrieves the record for a (user, exercise) pair.
func (s *ProgressStore) GetProgress(ctx context.Context, userID, exerciseID string) (*domain.ProgressRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, exercise_id, tutorial_slug, progress_state, saved_code,
			xp_awarded, passed_at, updated_at
		FROM interactive_progress WHERE user_id = ? AND exercise_id = ?`, userID, exerciseID)
	return scanProgress(row)
}

// SaveCode upserts saved code. The state of an existing row is untouched,
// so a passed exercise stays passed.
func (s *ProgressStore) SaveCode(ctx context.Context, userID, exerciseID string, code domain.Code, at time.Time) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactive_progress (user_id, exercise_id, progress_state, saved_code, updated_at)
		VALUES (?, ?, 'in_progress', ?, ?)
		ON CONFLICT(user_id, exercise_id) DO UPDATE SET
			saved_code=excluded.saved_code, updated_at=excluded.updated_at`,
		userID, exerciseID, string(payload), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert saved code: %w", err)
	}
	return nil
}

// MarkPassed sets the state to passed, keeping the first passed_at.
func (s *ProgressStore) MarkPassed(ctx context.Context, userID, exerciseID string, at time.Time) (*domain.ProgressRecord, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactive_progress (user_id, exercise_id, progress_state, passed_at, updated_at)
		VALUES (?, ?, 'passed', ?, ?)
		ON CONFLICT(user_id, exercise_id) DO UPDATE SET
			progress_state='passed',
			passed_at=COALESCE(interactive_progress.passed_at, excluded.passed_at),
			updated_at=excluded.updated_at`,
		userID, exerciseID, at.UTC(), at.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert passed: %w", err)
	}
	return s.GetProgress(ctx, userID, exerciseID)
}

// AwardXPIfNotAwarded credits amount once per (user, exercise). The flag
// flip, the event row and the user total commit together or not at all.
func (s *ProgressStore) AwardXPIfNotAwarded(ctx context.Context, userID, exerciseID string, amount int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin award tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE interactive_progress SET xp_awarded = 1
		WHERE user_id = ? AND exercise_id = ? AND xp_awarded = 0`, userID, exerciseID)
	if err != nil {
		return false, fmt.Errorf("flag award: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("flag award: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO xp_events (user_id, exercise_id, amount) VALUES (?, ?, ?)
		ON CONFLICT(user_id, exercise_id) DO NOTHING`, userID, exerciseID, amount)
	if err != nil {
		return false, fmt.Errorf("insert xp event: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// The flag was reset by hand but the event exists; never double-credit.
		return false, tx.Commit()
	}

	var total int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (id, xp_total, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			xp_total=users.xp_total + excluded.xp_total, updated_at=excluded.updated_at
		RETURNING xp_total`, userID, amount).Scan(&total)
	if err != nil {
		return false, fmt.Errorf("credit user xp: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE users SET level = ? WHERE id = ?",
		progress.CalculateLevel(total), userID); err != nil {
		return false, fmt.Errorf("update level: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit award: %w", err)
	}
	return true, nil
}

// GetUserXP returns the user's XP totals, zero if the user has none yet.
func (s *ProgressStore) GetUserXP(ctx context.Context, userID string) (*domain.UserXP, error) {
	xp := domain.UserXP{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		"SELECT xp_total, level, updated_at FROM users WHERE id = ?", userID,
	).Scan(&xp.XPTotal, &xp.Level, &xp.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &xp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user xp: %w", err)
	}
	return &xp, nil
}

func scanProgress(row *sql.Row) (*domain.ProgressRecord, error) {
	var rec domain.ProgressRecord
	var state string
	var savedCode sql.NullString
	var awarded int
	var passedAt sql.NullTime

	err := row.Scan(
		&rec.UserID, &rec.ExerciseID, &rec.TutorialSlug, &state, &savedCode,
		&awarded, &passedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProgressNotFound
		}
		return nil, fmt.Errorf("scan progress: %w", err)
	}

	rec.State = domain.ProgressState(state)
	rec.XPAwarded = awarded != 0
	rec.Persisted = true
	if passedAt.Valid {
		rec.PassedAt = &passedAt.Time
	}
	if savedCode.Valid {
		var code domain.Code
		if err := json.Unmarshal([]byte(savedCode.String), &code); err != nil {
			return nil, fmt.Errorf("unmarshal saved code: %w", err)
		}
		rec.SavedCode = &code
	}

	return &rec, nil
}

var _ progress.Store = (*ProgressStore)(nil)
