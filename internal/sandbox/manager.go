package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/metrics"
)

// HostInfo describes a live host for status output.
type HostInfo struct {
	ID       string    `json:"id"`
	Origin   string    `json:"origin"`
	Backend  string    `json:"backend"`
	Status   Status    `json:"status"`
	OpenedAt time.Time `json:"opened_at"`

	// ElapsedMS is the age of the current run, 0 before the first one.
	ElapsedMS int64 `json:"elapsed_ms"`
}

type hostEntry struct {
	host     *Host
	openedAt time.Time
}

// Manager hands out hosts, caps how many are live at once and reaps hosts
// that were never closed.
type Manager struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger

	mu     sync.Mutex
	hosts  map[string]*hostEntry
	closed bool
}

// NewBackend builds the backend named by cfg.Backend.
func NewBackend(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	switch cfg.withDefaults().Backend {
	case BackendGoja:
		return NewGojaBackend(logger), nil
	case BackendDocker:
		return NewDockerBackend(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
}

// NewManager creates a new host manager.
func NewManager(backend Backend, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend: backend,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		hosts:   make(map[string]*hostEntry),
	}
}

// Config returns the effective host configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Open creates a host. The caller must Close it.
func (m *Manager) Open() (*Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrHostClosed
	}
	if len(m.hosts) >= m.cfg.MaxConcurrent {
		return nil, ErrMaxHosts
	}

	h := NewHost(m.backend, m.cfg, m.logger)
	h.onClose = m.forget
	m.hosts[h.ID()] = &hostEntry{host: h, openedAt: time.Now()}

	m.logger.Debug("sandbox host opened", "host_id", h.ID(), "backend", m.backend.Name())
	return h, nil
}

// List returns the live hosts, oldest first.
func (m *Manager) List() []HostInfo {
	m.mu.Lock()
	entries := make([]*hostEntry, 0, len(m.hosts))
	for _, e := range m.hosts {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	infos := make([]HostInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, HostInfo{
			ID:        e.host.ID(),
			Origin:    e.host.Origin(),
			Backend:   e.host.Backend(),
			Status:    e.host.Status(),
			OpenedAt:  e.openedAt,
			ElapsedMS: e.host.Elapsed().Milliseconds(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].OpenedAt.Before(infos[j].OpenedAt) })
	return infos
}

// Execute runs code on a fresh host, waits for completion or timeout and
// returns the captured context. The host is closed before returning; the
// document it hands back no longer changes.
func (m *Manager) Execute(ctx context.Context, code domain.Code) (domain.RunContext, error) {
	h, err := m.Open()
	if err != nil {
		return domain.RunContext{}, err
	}
	defer h.Close()

	start := time.Now()
	if err := h.Run(ctx, code); err != nil {
		// A launch failure is already an error line in the run; the learner
		// sees it like any other runtime error.
		if errors.Is(err, ErrLaunchFailed) {
			m.logger.Warn("sandbox launch failed", "host_id", h.ID(), "error", err)
			metrics.RunFinished(m.backend.Name(), "launch_failed", time.Since(start))
			return h.Context(), nil
		}
		metrics.RunFinished(m.backend.Name(), "error", time.Since(start))
		return h.Context(), err
	}
	if err := h.Wait(ctx); err != nil {
		metrics.RunFinished(m.backend.Name(), "error", time.Since(start))
		return h.Context(), err
	}

	rc := h.Context()
	outcome := "completed"
	if rc.TimedOut {
		outcome = "timed_out"
	}
	metrics.RunFinished(m.backend.Name(), outcome, time.Since(start))
	return rc, nil
}

// Cleanup closes hosts that have been open longer than the idle TTL.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	var stale []*hostEntry
	for _, e := range m.hosts {
		if time.Since(e.openedAt) > m.cfg.IdleTTL {
			stale = append(stale, e)
		}
	}
	m.mu.Unlock()

	for _, e := range stale {
		m.logger.Warn("cleanup: closing leaked sandbox host",
			"host_id", e.host.ID(),
			"opened_at", e.openedAt,
		)
		if err := e.host.Close(); err != nil {
			m.logger.Warn("cleanup: close host", "host_id", e.host.ID(), "error", err)
		}
	}

	if len(stale) > 0 {
		m.logger.Info("sandbox cleanup complete", "cleaned", len(stale))
	}
	return len(stale)
}

// StartCleanupLoop starts a background goroutine that periodically reaps
// leaked hosts.
func (m *Manager) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cleanup()
			}
		}
	}()
}

// Close closes every live host and the backend, if it holds resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*hostEntry, 0, len(m.hosts))
	for _, e := range m.hosts {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		if err := e.host.Close(); err != nil {
			m.logger.Warn("failed to close host during shutdown", "host_id", e.host.ID(), "error", err)
		}
	}

	if c, ok := m.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hosts, id)
}
