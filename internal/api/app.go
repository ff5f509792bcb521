// Package api wires the gradebox services from configuration and holds the
// HTTP error conventions shared by the daemon.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/config"
	"github.com/felixgeelhaar/gradebox/internal/exercise"
	"github.com/felixgeelhaar/gradebox/internal/progress"
	"github.com/felixgeelhaar/gradebox/internal/sandbox"
	"github.com/felixgeelhaar/gradebox/internal/session"
	"github.com/felixgeelhaar/gradebox/internal/storage/local"
	"github.com/felixgeelhaar/gradebox/internal/storage/postgres"
	"github.com/felixgeelhaar/gradebox/internal/storage/sqlite"
)

// cleanupInterval is how often abandoned sandbox hosts are reaped.
const cleanupInterval = time.Minute

// App holds all application dependencies
type App struct {
	Config    *config.LocalConfig
	Exercises *exercise.Registry
	Sandbox   *sandbox.Manager
	Ledger    *progress.Ledger
	Sessions  *session.Service

	// Set only with the sqlite driver.
	Attempts *sqlite.AttemptStore
	Events   *sqlite.EventStore

	logger  *slog.Logger
	cancel  context.CancelFunc
	closers []func() error
}

// Options holds the collaborators that are not built from configuration.
type Options struct {
	// Notifier receives XP award notifications, for example the queue
	// producer.
	Notifier session.Notifier
	Logger   *slog.Logger
}

// NewApp creates a new application instance with all dependencies wired
func NewApp(ctx context.Context, cfg *config.LocalConfig, opts Options) (app *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app = &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeResources()
		}
	}()

	store, pgSource, err := app.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	// Initialize exercise registry. Later sources win, so the database
	// overrides files with the same ID.
	var sources []exercise.Source
	for _, path := range cfg.Exercises.Paths {
		sources = append(sources, exercise.NewLoader(path))
	}
	if cfg.Exercises.FromDatabase && pgSource != nil {
		sources = append(sources, pgSource)
	}
	app.Exercises = exercise.NewRegistry(sources...)
	if err := app.Exercises.Load(ctx); err != nil {
		return nil, fmt.Errorf("load exercises: %w", err)
	}

	// Initialize sandbox
	sbCfg := SandboxConfig(cfg)
	backend, err := sandbox.NewBackend(ctx, sbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create sandbox backend: %w", err)
	}
	app.Sandbox = sandbox.NewManager(backend, sbCfg, logger)
	app.closers = append(app.closers, app.Sandbox.Close)

	loopCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	app.Sandbox.StartCleanupLoop(loopCtx, cleanupInterval)

	// Initialize ledger
	retryCfg := progress.DefaultRetryConfig()
	if cfg.Ledger.RetryMax > 0 {
		retryCfg.MaxAttempts = cfg.Ledger.RetryMax
	}
	app.Ledger = progress.NewLedger(progress.NewRetryingStore(store, retryCfg), progress.Options{
		SaveDebounce: cfg.Ledger.SaveDebounce,
		OnError: func(err error) {
			logger.Warn("progress ledger error", "error", err)
		},
	})

	// Initialize session service
	sessOpts := session.DefaultOptions()
	sessOpts.FailOnTimeout = cfg.Grading.FailOnTimeout
	if cfg.Grading.MaxConcurrent > 0 {
		sessOpts.MaxConcurrent = cfg.Grading.MaxConcurrent
	}
	if app.Attempts != nil {
		sessOpts.Attempts = app.Attempts
	}
	sessOpts.Notifier = opts.Notifier
	sessOpts.Logger = logger
	app.Sessions = session.NewService(app.Exercises, app.Ledger, app.Sandbox, sessOpts)

	stats := app.Exercises.Stats()
	logger.Info("gradebox app ready",
		"storage", cfg.Storage.Driver,
		"sandbox", sbCfg.Backend,
		"packs", stats.PackCount,
		"exercises", stats.ExerciseCount,
	)
	return app, nil
}

// openStorage opens the configured progress store. With postgres it also
// returns the exercise source backed by the same pool.
func (a *App) openStorage(ctx context.Context) (progress.Store, *postgres.ExerciseSource, error) {
	cfg := a.Config.Storage
	switch cfg.Driver {
	case "memory":
		return progress.NewMemoryStore(), nil, nil

	case "file":
		store, err := local.NewStore(cfg.FileDir)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	case "postgres":
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		return postgres.NewProgressStore(pool), postgres.NewExerciseSource(pool), nil

	case "", "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(); err != nil {
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		a.Attempts = sqlite.NewAttemptStore(db)
		a.Events = sqlite.NewEventStore(db)
		return sqlite.NewProgressStore(db), nil, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrInvalidConfig, cfg.Driver)
}

// SandboxConfig converts the sandbox section of the configuration.
func SandboxConfig(cfg *config.LocalConfig) sandbox.Config {
	return sandbox.Config{
		Backend:       sandbox.BackendKind(cfg.Sandbox.Backend),
		Timeout:       cfg.Sandbox.Timeout,
		Settle:        cfg.Sandbox.Settle,
		Image:         cfg.Sandbox.Docker.Image,
		MemoryMB:      cfg.Sandbox.Docker.MemoryMB,
		CPULimit:      cfg.Sandbox.Docker.CPULimit,
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
		IdleTTL:       cfg.Sandbox.IdleTTL,
	}
}

// RecordEvent stores a learner event when an event store is configured.
// Failures are logged.
func (a *App) RecordEvent(ctx context.Context, kind, userID, exerciseID string, data any) {
	if a.Events == nil {
		return
	}
	if err := a.Events.Record(ctx, kind, userID, exerciseID, data); err != nil {
		a.logger.Warn("failed to record event", "kind", kind, "user_id", userID, "error", err)
	}
}

// Close flushes pending saves and releases the sandbox and storage.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Ledger != nil {
		if err := a.Ledger.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	errs = append(errs, a.closeResources())
	return errors.Join(errs...)
}

// closeResources runs the closers in reverse order of opening.
func (a *App) closeResources() error {
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
