package domain

import "time"

// ProgressState is the per-exercise learner state.
type ProgressState string

const (
	ProgressLocked     ProgressState = "locked"
	ProgressInProgress ProgressState = "in_progress"
	ProgressPassed     ProgressState = "passed"
)

// Valid reports whether s is a known state.
func (s ProgressState) Valid() bool {
	switch s {
	case ProgressLocked, ProgressInProgress, ProgressPassed:
		return true
	}
	return false
}

// ProgressRecord is the persisted state for one (user, exercise) pair.
type ProgressRecord struct {
	UserID       string        `json:"user_id"`
	ExerciseID   string        `json:"exercise_id"`
	TutorialSlug string        `json:"tutorial_slug,omitempty"`
	State        ProgressState `json:"progress_state"`
	SavedCode    *Code         `json:"saved_code"`
	XPAwarded    bool          `json:"xp_awarded"`
	PassedAt     *time.Time    `json:"passed_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	// Persisted is false for a synthesized default that was never written.
	Persisted bool `json:"persisted"`
}

// NewDefaultProgress returns the in-memory record used before first write.
func NewDefaultProgress(userID, exerciseID string, now time.Time) *ProgressRecord {
	return &ProgressRecord{
		UserID:     userID,
		ExerciseID: exerciseID,
		State:      ProgressInProgress,
		UpdatedAt:  now,
	}
}

// IsPassed reports whether the record reached the passed state.
func (p *ProgressRecord) IsPassed() bool {
	return p.State == ProgressPassed
}

// UserXP holds a learner's XP totals.
type UserXP struct {
	UserID  string    `json:"user_id"`
	XPTotal int       `json:"xp_total"`
	Level   int       `json:"level"`
	Updated time.Time `json:"updated_at"`
}
