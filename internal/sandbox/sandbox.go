package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

const (
	// DefaultTimeout is the wall-clock limit for one run.
	DefaultTimeout = 10 * time.Second
	// DefaultSettle is how long Run waits for output after injection.
	DefaultSettle = 100 * time.Millisecond
	// MaxConcurrentHosts limits the number of live hosts a Manager hands out.
	MaxConcurrentHosts = 10
	// DefaultIdleTTL is how long a host may stay open before the manager
	// reaps it.
	DefaultIdleTTL = 5 * time.Minute
)

// BackendKind names an isolate implementation.
type BackendKind string

const (
	BackendGoja   BackendKind = "goja"
	BackendDocker BackendKind = "docker"
)

// Status represents the lifecycle state of a host.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusClosed  Status = "closed"
)

// Config holds host and backend parameters.
type Config struct {
	Backend       BackendKind   `json:"backend"`
	Timeout       time.Duration `json:"timeout"`
	Settle        time.Duration `json:"settle"`
	Image         string        `json:"image"`
	MemoryMB      int           `json:"memory_mb"`
	CPULimit      float64       `json:"cpu_limit"`
	MaxConcurrent int           `json:"max_concurrent"`
	IdleTTL       time.Duration `json:"idle_ttl"`
}

// DefaultConfig returns the in-process backend with a 10s timeout.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendGoja,
		Timeout:       DefaultTimeout,
		Settle:        DefaultSettle,
		Image:         "node:20-alpine",
		MemoryMB:      128,
		CPULimit:      0.5,
		MaxConcurrent: MaxConcurrentHosts,
		IdleTTL:       DefaultIdleTTL,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Settle <= 0 {
		c.Settle = d.Settle
	}
	if c.Image == "" {
		c.Image = d.Image
	}
	if c.MemoryMB <= 0 {
		c.MemoryMB = d.MemoryMB
	}
	if c.CPULimit <= 0 {
		c.CPULimit = d.CPULimit
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = d.IdleTTL
	}
	return c
}

var (
	ErrHostClosed     = errors.New("sandbox host closed")
	ErrMaxHosts       = errors.New("maximum concurrent sandbox hosts reached")
	ErrUnknownBackend = errors.New("unknown sandbox backend")
	ErrLaunchFailed   = errors.New("launch isolate")
)

// TimeoutMessage is the synthetic error line appended when a run exceeds d.
func TimeoutMessage(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("Execution timeout: Code execution exceeded %d seconds", int(d/time.Second))
	}
	return fmt.Sprintf("Execution timeout: Code execution exceeded %s", d)
}

// Bridge is the only way an isolate talks to its host. Post mirrors
// window.parent.postMessage(payload, targetOrigin).
type Bridge interface {
	Post(targetOrigin string, payload any)
	// Complete signals that the isolate ran out of work.
	Complete()
}

// LaunchRequest describes one run handed to a backend.
type LaunchRequest struct {
	Document   string
	Origin     string
	Generation uint64
	Bridge     Bridge
}

// Isolate is a running execution surface.
type Isolate interface {
	// DOM returns the live document, or nil when the backend has none.
	DOM() domain.DocumentQuerier
	// Interrupt stops script execution. It must not block.
	Interrupt()
	Close() error
}

// Backend starts isolates. Launch must return once the document is
// injected; execution continues asynchronously.
type Backend interface {
	Name() string
	Launch(ctx context.Context, req LaunchRequest) (Isolate, error)
}
