package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds recorded by the daemon.
const (
	EventHintViewed = "hint_viewed"
	EventCodeSaved  = "code_saved"
)

// Event is one recorded learner action.
type Event struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	UserID     string    `json:"user_id"`
	ExerciseID string    `json:"exercise_id,omitempty"`
	Data       string    `json:"data"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventStore records learner actions that are not graded runs.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new SQLite-backed event store.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Record stores an event. data is stored as JSON; nil becomes {}.
func (s *EventStore) Record(ctx context.Context, kind, userID, exerciseID string, data any) error {
	payload := []byte("{}")
	if data != nil {
		var err error
		if payload, err = json.Marshal(data); err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO learner_events (kind, user_id, exercise_id, data, created_at) VALUES (?, ?, ?, ?, ?)",
		kind, userID, exerciseID, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Query returns a user's events of one kind, newest first. A zero since
// returns everything.
func (s *EventStore) Query(ctx context.Context, kind, userID string, since time.Time) ([]Event, error) {
	query := "SELECT id, kind, user_id, exercise_id, data, created_at FROM learner_events WHERE kind = ? AND user_id = ?"
	args := []any{kind, userID}
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, since.UTC())
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.UserID, &e.ExerciseID, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns how many events of a kind a user has on an exercise.
func (s *EventStore) Count(ctx context.Context, kind, userID, exerciseID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM learner_events WHERE kind = ? AND user_id = ? AND exercise_id = ?",
		kind, userID, exerciseID,
	).Scan(&count)
	return count, err
}

// Prune deletes events older than the given duration.
func (s *EventStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, "DELETE FROM learner_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return result.RowsAffected()
}
