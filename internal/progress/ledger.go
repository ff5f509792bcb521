// Package progress is the per-learner progress and XP ledger. Code saves
// are debounced, passes are sticky, and XP is credited at most once per
// (user, exercise) pair no matter how many times a pass is reported.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/metrics"
)

// DefaultSaveDebounce is the quiet period before a code save is written.
const DefaultSaveDebounce = 300 * time.Millisecond

const writeTimeout = 5 * time.Second

// AwardStatus describes what happened to the XP award on a pass.
type AwardStatus string

const (
	AwardGranted        AwardStatus = "granted"
	AwardAlreadyGranted AwardStatus = "already_granted"
	AwardUndetermined   AwardStatus = "undetermined"
	AwardNotApplicable  AwardStatus = "not_applicable"
)

// PassOutcome is the result of MarkPassed.
type PassOutcome struct {
	Record *domain.ProgressRecord `json:"progress"`
	Award  AwardStatus            `json:"award"`

	// Set when Award is AwardGranted.
	XPAwarded int `json:"xp_awarded,omitempty"`
	XPTotal   int `json:"xp_total,omitempty"`
	Level     int `json:"level,omitempty"`

	// AwardErr is the store failure behind AwardUndetermined.
	AwardErr error `json:"-"`
}

// Options configures a Ledger.
type Options struct {
	SaveDebounce time.Duration

	// OnError receives failures the ledger cannot return to a caller, such
	// as a failed debounced write. It is also told about load failures.
	OnError func(error)

	// Now overrides the clock.
	Now func() time.Time
}

type pendingSave struct {
	userID     string
	exerciseID string
	code       domain.Code
	stamp      uint64 // call order within the ledger
}

// keyWriter serializes store writes for one (user, exercise) pair.
type keyWriter struct {
	mu      sync.Mutex
	written uint64
}

// Ledger coordinates progress writes for one client.
type Ledger struct {
	store    Store
	debounce time.Duration
	onError  func(error)
	now      func() time.Time

	mu      sync.Mutex
	pending *pendingSave
	timer   *time.Timer
	seq     uint64
	stamp   uint64
	closed  bool
	writers map[string]*keyWriter
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, opts Options) *Ledger {
	l := &Ledger{
		store:    store,
		debounce: opts.SaveDebounce,
		onError:  opts.OnError,
		now:      opts.Now,
		writers:  make(map[string]*keyWriter),
	}
	if l.debounce <= 0 {
		l.debounce = DefaultSaveDebounce
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// LoadProgress returns the stored record, or an unsaved default when none
// exists. A storage failure is returned wrapped in ErrStorageUnavailable so
// callers can tell "nothing saved yet" from "could not check".
func (l *Ledger) LoadProgress(ctx context.Context, userID, exerciseID string) (*domain.ProgressRecord, error) {
	rec, err := l.store.GetProgress(ctx, userID, exerciseID)
	if err == nil {
		return rec, nil
	}
	if isNotFound(err) {
		return domain.NewDefaultProgress(userID, exerciseID, l.now()), nil
	}

	err = fmt.Errorf("load progress: %w: %w", ErrStorageUnavailable, err)
	l.report(err, "user_id", userID, "exercise_id", exerciseID)
	return nil, err
}

// SaveCode records the learner's latest code. Unless immediate, the write
// happens after the debounce period, and each call within that period
// replaces the pending code and restarts the timer. A pending save for a
// different exercise is written before the new one is scheduled.
//
// Debounced write failures go to OnError; only immediate writes return them.
func (l *Ledger) SaveCode(ctx context.Context, userID, exerciseID string, code domain.Code, immediate bool) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLedgerClosed
	}

	var displaced *pendingSave
	if l.pending != nil && (l.pending.userID != userID || l.pending.exerciseID != exerciseID) {
		displaced = l.pending
	}
	l.cancelLocked()

	l.stamp++
	next := &pendingSave{userID: userID, exerciseID: exerciseID, code: code, stamp: l.stamp}
	if !immediate {
		l.pending = next
		seq := l.seq
		l.timer = time.AfterFunc(l.debounce, func() { l.fire(seq) })
	}
	l.mu.Unlock()

	if displaced != nil {
		if err := l.write(ctx, displaced); err != nil {
			l.report(err, "user_id", displaced.userID, "exercise_id", displaced.exerciseID)
		}
	}

	if immediate {
		if err := l.write(ctx, next); err != nil {
			l.report(err, "user_id", userID, "exercise_id", exerciseID)
			return err
		}
	}
	return nil
}

// Flush writes the pending save now, if there is one.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	p := l.pending
	l.cancelLocked()
	l.mu.Unlock()

	if p == nil {
		return nil
	}
	if err := l.write(ctx, p); err != nil {
		l.report(err, "user_id", p.userID, "exercise_id", p.exerciseID)
		return err
	}
	return nil
}

// Close flushes the pending save and rejects further saves.
func (l *Ledger) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.Flush(ctx)
}

// MarkPassed records a pass and awards xpAward XP if this pair has not been
// credited before. The only returned error is a failure to record the pass
// itself; award failures are reported through the outcome.
func (l *Ledger) MarkPassed(ctx context.Context, userID, exerciseID string, xpAward int) (*PassOutcome, error) {
	rec, err := l.store.MarkPassed(ctx, userID, exerciseID, l.now())
	if err != nil {
		err = fmt.Errorf("mark passed: %w: %w", ErrStorageUnavailable, err)
		l.report(err, "user_id", userID, "exercise_id", exerciseID)
		return nil, err
	}

	out := &PassOutcome{Record: rec}
	defer func() { metrics.XPAward(string(out.Award)) }()

	switch {
	case xpAward <= 0:
		out.Award = AwardNotApplicable
		return out, nil
	case rec.XPAwarded:
		out.Award = AwardAlreadyGranted
		return out, nil
	}

	granted, err := l.store.AwardXPIfNotAwarded(ctx, userID, exerciseID, xpAward)
	if err != nil {
		out.Award = AwardUndetermined
		out.AwardErr = fmt.Errorf("award xp: %w", err)
		l.report(out.AwardErr, "user_id", userID, "exercise_id", exerciseID)
		return out, nil
	}
	if !granted {
		out.Award = AwardAlreadyGranted
		rec.XPAwarded = true
		return out, nil
	}

	out.Award = AwardGranted
	out.XPAwarded = xpAward
	rec.XPAwarded = true

	xp, err := l.store.GetUserXP(ctx, userID)
	if err != nil {
		slog.Warn("refresh user xp after award", "user_id", userID, "error", err)
		return out, nil
	}
	out.XPTotal = xp.XPTotal
	out.Level = xp.Level
	slog.Info("xp awarded", "user_id", userID, "exercise_id", exerciseID, "xp", xpAward, "total", xp.XPTotal, "level", xp.Level)
	return out, nil
}

// UserXP returns the user's XP totals.
func (l *Ledger) UserXP(ctx context.Context, userID string) (*domain.UserXP, error) {
	xp, err := l.store.GetUserXP(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user xp: %w: %w", ErrStorageUnavailable, err)
	}
	return xp, nil
}

// cancelLocked drops the pending save and stops its timer. A timer that
// already fired sees a newer seq and does nothing.
func (l *Ledger) cancelLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.pending = nil
	l.seq++
}

func (l *Ledger) fire(seq uint64) {
	l.mu.Lock()
	if seq != l.seq || l.pending == nil {
		l.mu.Unlock()
		return
	}
	p := l.pending
	l.pending = nil
	l.timer = nil
	l.mu.Unlock()

	if err := l.write(context.Background(), p); err != nil {
		l.report(err, "user_id", p.userID, "exercise_id", p.exerciseID)
	}
}

// write stores p unless a later save for the same pair already landed.
// A debounced write that fired before a newer immediate save therefore
// cannot overwrite it.
func (l *Ledger) write(ctx context.Context, p *pendingSave) error {
	w := l.writerFor(p.userID, p.exerciseID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if p.stamp <= w.written {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := l.store.SaveCode(ctx, p.userID, p.exerciseID, p.code, l.now()); err != nil {
		return fmt.Errorf("save code: %w: %w", ErrStorageUnavailable, err)
	}
	w.written = p.stamp
	return nil
}

func (l *Ledger) writerFor(userID, exerciseID string) *keyWriter {
	key := userID + "\x00" + exerciseID
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.writers[key]
	if !ok {
		w = &keyWriter{}
		l.writers[key] = w
	}
	return w
}

func (l *Ledger) report(err error, args ...any) {
	slog.Error("progress ledger", append(args, "error", err)...)
	if l.onError != nil {
		l.onError(err)
	}
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, domain.ErrProgressNotFound)
}
