package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// AttemptStore records graded runs backed by SQLite.
type AttemptStore struct {
	db *DB
}

// NewAttemptStore creates a new SQLite-backed attempt store.
func NewAttemptStore(db *DB) *AttemptStore {
	return &AttemptStore{db: db}
}

// Record stores an attempt and sets its ID.
func (s *AttemptStore) Record(ctx context.Context, a *domain.Attempt) error {
	messages, err := json.Marshal(a.Messages)
	if err != nil {
		return fmt.Errorf("marshal attempt messages: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (user_id, exercise_id, passed, timed_out, error_count,
			passed_checks, total_checks, duration_ms, messages, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.ExerciseID, boolToInt(a.Passed), boolToInt(a.TimedOut), a.ErrorCount,
		a.PassedChecks, a.TotalChecks, a.DurationMS, string(messages), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	a.ID, _ = result.LastInsertId()
	return nil
}

// List returns the most recent attempts for a (user, exercise) pair, newest
// first. limit <= 0 means no limit.
func (s *AttemptStore) List(ctx context.Context, userID, exerciseID string, limit int) ([]domain.Attempt, error) {
	query := `SELECT id, user_id, exercise_id, passed, timed_out, error_count,
			passed_checks, total_checks, duration_ms, messages, created_at
		FROM attempts WHERE user_id = ? AND exercise_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{userID, exerciseID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var passed, timedOut int
		var messages string
		if err := rows.Scan(&a.ID, &a.UserID, &a.ExerciseID, &passed, &timedOut, &a.ErrorCount,
			&a.PassedChecks, &a.TotalChecks, &a.DurationMS, &messages, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Passed = passed != 0
		a.TimedOut = timedOut != 0
		if err := json.Unmarshal([]byte(messages), &a.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal attempt messages: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Count returns how many attempts a user made on an exercise.
func (s *AttemptStore) Count(ctx context.Context, userID, exerciseID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM attempts WHERE user_id = ? AND exercise_id = ?", userID, exerciseID,
	).Scan(&count)
	return count, err
}

// Prune deletes attempts older than the given duration.
func (s *AttemptStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, "DELETE FROM attempts WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}
	return result.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
