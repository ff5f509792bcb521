package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/metrics"
)

const inboxSize = 256

type envelopeKind int

const (
	envelopeMessage envelopeKind = iota
	envelopeComplete
	envelopeTimeout
)

type envelope struct {
	kind envelopeKind
	gen  uint64
	msg  Message
}

// Host owns one isolated execution surface at a time and the run context
// it reports into. Run, Reset and Close are serialized; Context and Wait
// may be called from any goroutine.
type Host struct {
	id      string
	backend Backend
	cfg     Config
	channel *Channel
	logger  *slog.Logger

	runMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	rc      domain.RunContext
	isolate Isolate
	timer   *time.Timer
	done    chan struct{}
	closed  bool
	started time.Time

	inbox     chan envelope
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	onClose   func(id string)
}

// NewHost creates a host with a fresh origin and starts its listener. The
// caller must Close it.
func NewHost(backend Backend, cfg Config, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	origin := "gradebox://host/" + id

	h := &Host{
		id:      id,
		backend: backend,
		cfg:     cfg.withDefaults(),
		channel: NewChannel(origin, logger),
		logger:  logger.With("host_id", id),
		inbox:   make(chan envelope, inboxSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go h.listen()
	metrics.HostOpened()
	return h
}

// ID returns the host identifier.
func (h *Host) ID() string { return h.id }

// Origin returns the origin isolate messages must target.
func (h *Host) Origin() string { return h.channel.Origin() }

// Backend returns the backend name.
func (h *Host) Backend() string { return h.backend.Name() }

// Run clears any previous run, launches code in a fresh isolate and returns
// once the run completed or the settle window elapsed.
func (h *Host) Run(ctx context.Context, code domain.Code) error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHostClosed
	}
	old := h.resetLocked()
	gen := h.gen
	done := make(chan struct{})
	h.done = done
	h.started = time.Now()
	h.timer = time.AfterFunc(h.cfg.Timeout, func() {
		h.deliver(envelope{kind: envelopeTimeout, gen: gen})
	})
	h.mu.Unlock()

	h.release(old)

	iso, err := h.backend.Launch(ctx, LaunchRequest{
		Document:   Assemble(code, h.Origin()),
		Origin:     h.Origin(),
		Generation: gen,
		Bridge:     &bridge{host: h, gen: gen},
	})
	if err != nil {
		h.fail(gen, err)
		return fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	h.mu.Lock()
	h.isolate = iso
	timedOut := h.rc.TimedOut
	h.mu.Unlock()
	if timedOut {
		iso.Interrupt()
	}

	settle := time.NewTimer(h.cfg.Settle)
	defer settle.Stop()

	select {
	case <-done:
	case <-settle.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Wait blocks until the current run completed or timed out.
func (h *Host) Wait(ctx context.Context) error {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	return nil
}

// Reset discards the isolate and all captured state.
func (h *Host) Reset() {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	h.mu.Lock()
	old := h.resetLocked()
	h.mu.Unlock()

	h.release(old)
}

// Close stops the listener, cancels the pending timeout and closes the
// isolate. It is idempotent.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.runMu.Lock()
		defer h.runMu.Unlock()

		h.mu.Lock()
		h.closed = true
		old := h.resetLocked()
		h.mu.Unlock()

		if old != nil {
			old.Interrupt()
			err = old.Close()
		}

		close(h.stop)
		<-h.stopped
		metrics.HostClosed()

		if h.onClose != nil {
			h.onClose(h.id)
		}
	})
	return err
}

// Context returns a consistent snapshot of the captured run state.
func (h *Host) Context() domain.RunContext {
	h.mu.Lock()
	defer h.mu.Unlock()

	rc := h.rc
	rc.Lines = append([]domain.OutputLine(nil), h.rc.Lines...)
	if h.rc.Snapshot != nil {
		rc.Snapshot = maps.Clone(h.rc.Snapshot)
	}
	if h.isolate != nil {
		rc.Document = h.isolate.DOM()
	}
	return rc
}

// Status reports the lifecycle state of the host.
func (h *Host) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.closed:
		return StatusClosed
	case h.done == nil:
		return StatusIdle
	case h.rc.Completed || h.rc.TimedOut:
		return StatusDone
	}
	return StatusRunning
}

// Elapsed returns the time since the current run started.
func (h *Host) Elapsed() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started.IsZero() {
		return 0
	}
	return time.Since(h.started)
}

// resetLocked bumps the generation so late messages from the old isolate
// are fenced off, and returns the old isolate for release outside mu.
func (h *Host) resetLocked() Isolate {
	h.gen++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.done != nil {
		closeOnceChan(h.done)
		h.done = nil
	}
	old := h.isolate
	h.isolate = nil
	h.rc = domain.RunContext{Generation: h.gen}
	h.started = time.Time{}
	return old
}

func (h *Host) release(iso Isolate) {
	if iso == nil {
		return
	}
	iso.Interrupt()
	if err := iso.Close(); err != nil {
		h.logger.Warn("close isolate", "error", err)
	}
}

func (h *Host) fail(gen uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.rc.ErrorCount++
	h.rc.Lines = append(h.rc.Lines, domain.OutputLine{
		Text: "Error executing code: " + err.Error(),
		Kind: domain.OutputError,
	})
	h.rc.Completed = true
	closeOnceChan(h.done)
}

func (h *Host) deliver(env envelope) {
	select {
	case h.inbox <- env:
	case <-h.stop:
	}
}

func (h *Host) listen() {
	defer close(h.stopped)
	for {
		select {
		case env := <-h.inbox:
			h.handle(env)
		case <-h.stop:
			return
		}
	}
}

func (h *Host) handle(env envelope) {
	h.mu.Lock()

	switch env.kind {
	case envelopeMessage:
		h.channel.Apply(&h.rc, env.msg)
		h.mu.Unlock()
		return

	case envelopeComplete:
		if env.gen == h.gen && !h.rc.Completed && !h.rc.TimedOut {
			h.rc.Completed = true
			if h.timer != nil {
				h.timer.Stop()
				h.timer = nil
			}
			closeOnceChan(h.done)
		}
		h.mu.Unlock()
		return

	case envelopeTimeout:
		if env.gen != h.gen || h.rc.Completed || h.rc.TimedOut {
			h.mu.Unlock()
			return
		}
		h.rc.TimedOut = true
		h.rc.Lines = append(h.rc.Lines, domain.OutputLine{
			Text: TimeoutMessage(h.cfg.Timeout),
			Kind: domain.OutputError,
		})
		h.timer = nil
		closeOnceChan(h.done)
		iso := h.isolate
		h.mu.Unlock()

		h.logger.Info("run timed out", "timeout", h.cfg.Timeout)
		if iso != nil {
			iso.Interrupt()
		}
		return
	}
	h.mu.Unlock()
}

func closeOnceChan(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// bridge stamps every message with the generation of the run that
// launched its isolate.
type bridge struct {
	host *Host
	gen  uint64
}

func (b *bridge) Post(targetOrigin string, payload any) {
	b.host.deliver(envelope{
		kind: envelopeMessage,
		gen:  b.gen,
		msg:  Message{Origin: targetOrigin, Generation: b.gen, Payload: payload},
	})
}

func (b *bridge) Complete() {
	b.host.deliver(envelope{kind: envelopeComplete, gen: b.gen})
}
