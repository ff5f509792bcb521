package domain

import "time"

// Attempt is one graded run, kept for history.
type Attempt struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	ExerciseID   string    `json:"exercise_id"`
	Passed       bool      `json:"passed"`
	TimedOut     bool      `json:"timed_out"`
	ErrorCount   int       `json:"error_count"`
	PassedChecks int       `json:"passed_checks"`
	TotalChecks  int       `json:"total_checks"`
	DurationMS   int64     `json:"duration_ms"`
	Messages     []string  `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
}
