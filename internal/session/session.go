package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/check"
	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/metrics"
	"github.com/felixgeelhaar/gradebox/internal/progress"
)

// TimedOutMessage is added to the report when a timed-out run is failed.
const TimedOutMessage = "Run timed out before finishing"

// Notification is the learner-facing XP award message.
type Notification struct {
	UserID      string `json:"user_id"`
	ExerciseID  string `json:"exercise_id"`
	XP          int    `json:"xp"`
	XPTotal     int    `json:"xp_total"`
	Level       int    `json:"level"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// NewNotification builds the award message for a granted pass.
func NewNotification(userID, exerciseID string, out *progress.PassOutcome) Notification {
	return Notification{
		UserID:      userID,
		ExerciseID:  exerciseID,
		XP:          out.XPAwarded,
		XPTotal:     out.XPTotal,
		Level:       out.Level,
		Message:     fmt.Sprintf("+%d XP earned!", out.XPAwarded),
		Description: fmt.Sprintf("You're now Level %d", out.Level),
	}
}

// Attempt is the result of one graded run.
type Attempt struct {
	ExerciseID string            `json:"exercise_id"`
	Run        domain.RunContext `json:"run"`
	Report     check.Report      `json:"report"`
	Passed     bool              `json:"passed"`
	Duration   time.Duration     `json:"duration"`

	// Set when Passed.
	Outcome *progress.PassOutcome `json:"outcome,omitempty"`

	// Set when the award was granted and the new totals are known.
	Notification *Notification `json:"notification,omitempty"`

	// Storage failures that did not stop the run.
	SaveErr error `json:"-"`
	PassErr error `json:"-"`
}

// Workspace is one learner's open exercise.
type Workspace struct {
	svc      *Service
	userID   string
	exercise *domain.Exercise

	mu          sync.Mutex
	progress    *domain.ProgressRecord
	progressErr error
	closed      bool
}

// UserID returns the learner the workspace belongs to.
func (w *Workspace) UserID() string { return w.userID }

// Exercise returns the definition.
func (w *Workspace) Exercise() *domain.Exercise { return w.exercise }

// Progress returns the last known record and the error that prevented
// loading it, if any.
func (w *Workspace) Progress() (*domain.ProgressRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress, w.progressErr
}

// Code returns the saved code, or the starter code when nothing was saved,
// in the shape the exercise's run mode uses.
func (w *Workspace) Code() domain.Code {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.progress != nil && w.progress.SavedCode != nil && !w.progress.SavedCode.IsEmpty() {
		return w.normalize(*w.progress.SavedCode)
	}
	return w.normalize(w.exercise.StarterCode)
}

// Save records code through the ledger's debounced autosave, or at once
// when immediate.
func (w *Workspace) Save(ctx context.Context, code domain.Code, immediate bool) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	code = w.normalize(code)
	if err := w.svc.ledger.SaveCode(ctx, w.userID, w.exercise.ID, code, immediate); err != nil {
		return err
	}

	w.mu.Lock()
	if w.progress != nil {
		w.progress.SavedCode = &code
	}
	w.mu.Unlock()
	return nil
}

// Run saves code, executes it on a fresh host, grades it and on a pass
// records progress and awards XP.
func (w *Workspace) Run(ctx context.Context, code domain.Code) (*Attempt, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	code = w.normalize(code)
	ex := w.exercise
	logger := w.svc.logger.With("user_id", w.userID, "exercise_id", ex.ID)

	attempt := &Attempt{ExerciseID: ex.ID}
	if err := w.Save(ctx, code, true); err != nil {
		logger.Warn("save before run", "error", err)
		attempt.SaveErr = err
	}

	start := time.Now()
	rc, err := w.svc.runner.Execute(ctx, code)
	attempt.Duration = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	attempt.Run = rc

	attempt.Report = check.EvaluateSpecs(ex.Checks, rc)
	for _, r := range attempt.Report.Results {
		metrics.CheckEvaluated(r.Check.Type, r.Result.Pass)
	}

	attempt.Passed = attempt.Report.Pass
	if rc.TimedOut && w.svc.opts.FailOnTimeout && attempt.Passed {
		attempt.Passed = false
		attempt.Report.Messages = append(attempt.Report.Messages, TimedOutMessage)
	}

	if attempt.Passed {
		w.markPassed(ctx, attempt)
	}

	w.svc.record(ctx, &domain.Attempt{
		UserID:       w.userID,
		ExerciseID:   ex.ID,
		Passed:       attempt.Passed,
		TimedOut:     rc.TimedOut,
		ErrorCount:   rc.ErrorCount,
		PassedChecks: attempt.Report.PassedChecks,
		TotalChecks:  attempt.Report.TotalChecks,
		DurationMS:   attempt.Duration.Milliseconds(),
		Messages:     attempt.Report.Messages,
	})

	logger.Info("run graded",
		"passed", attempt.Passed,
		"checks", fmt.Sprintf("%d/%d", attempt.Report.PassedChecks, attempt.Report.TotalChecks),
		"errors", rc.ErrorCount,
		"timed_out", rc.TimedOut,
		"duration", attempt.Duration)
	return attempt, nil
}

func (w *Workspace) markPassed(ctx context.Context, attempt *Attempt) {
	out, err := w.svc.ledger.MarkPassed(ctx, w.userID, w.exercise.ID, w.exercise.XPAward)
	if err != nil {
		attempt.PassErr = err
		return
	}
	attempt.Outcome = out

	w.mu.Lock()
	w.progress = out.Record
	w.progressErr = nil
	w.mu.Unlock()

	// XPTotal stays zero when the totals could not be re-read.
	if out.Award == progress.AwardGranted && out.XPTotal > 0 {
		n := NewNotification(w.userID, w.exercise.ID, out)
		attempt.Notification = &n
		w.svc.notify(ctx, n)
	}
}

// Hint returns the nth hint, counting from 1.
func (w *Workspace) Hint(n int) (string, error) {
	hint, ok := w.exercise.Hint(n)
	if !ok {
		return "", fmt.Errorf("%w: exercise %s has %d", ErrNoMoreHints, w.exercise.ID, len(w.exercise.Hints))
	}
	return hint, nil
}

// Close writes any pending autosave. Further saves and runs fail.
func (w *Workspace) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.svc.ledger.Flush(ctx)
}

func (w *Workspace) checkOpen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorkspaceClosed
	}
	return nil
}

// normalize maps a bare source string onto the exercise's run mode. In js
// mode a single blob is the script itself, not a page.
func (w *Workspace) normalize(code domain.Code) domain.Code {
	if w.exercise.RunMode == domain.RunModeJS && !code.IsMultiFile() {
		return domain.Code{JS: code.Document}
	}
	return code
}
