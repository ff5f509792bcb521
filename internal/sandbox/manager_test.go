package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

func TestManager_OpenEnforcesLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	m := NewManager(&fakeBackend{}, cfg, nil)
	defer m.Close()

	a, err := m.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := m.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := m.Open(); !errors.Is(err, ErrMaxHosts) {
		t.Fatalf("Open() error = %v; want ErrMaxHosts", err)
	}

	a.Close()
	if _, err := m.Open(); err != nil {
		t.Errorf("Open() after Close error = %v", err)
	}
}

func TestManager_List(t *testing.T) {
	m := NewManager(&fakeBackend{}, testConfig(), nil)
	defer m.Close()

	h, _ := m.Open()
	infos := m.List()
	if len(infos) != 1 || infos[0].ID != h.ID() || infos[0].Origin != h.Origin() {
		t.Fatalf("List() = %+v; want the opened host", infos)
	}
	if infos[0].Status != StatusIdle || infos[0].ElapsedMS != 0 {
		t.Errorf("List()[0] = %+v; want idle with no elapsed time", infos[0])
	}

	// The fake isolate never completes, so the run stays live past settle.
	if err := h.Run(waitCtx(t), domain.Code{JS: "1"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	infos = m.List()
	if infos[0].Status != StatusRunning || infos[0].ElapsedMS < testConfig().Settle.Milliseconds() {
		t.Errorf("List()[0] = %+v; want running for at least the settle window", infos[0])
	}

	h.Close()
	if infos := m.List(); len(infos) != 0 {
		t.Errorf("List() after Close = %+v; want empty", infos)
	}
}

func TestManager_ExecuteLaunchFailureIsRunOutput(t *testing.T) {
	m := NewManager(&fakeBackend{err: errors.New("docker not reachable")}, testConfig(), nil)
	defer m.Close()

	rc, err := m.Execute(waitCtx(t), domain.Code{JS: "1"})
	if err != nil {
		t.Fatalf("Execute() error = %v; want the failure in the run", err)
	}
	if !rc.Completed || rc.ErrorCount != 1 {
		t.Errorf("rc = %+v; want a completed run with one error", rc)
	}
	if len(rc.Lines) != 1 || rc.Lines[0].Text != "Error executing code: docker not reachable" {
		t.Errorf("Lines = %+v; want the launch error line", rc.Lines)
	}
	if n := len(m.List()); n != 0 {
		t.Errorf("live hosts = %d; want 0", n)
	}
}

func TestManager_CleanupReapsLeakedHosts(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTTL = 10 * time.Millisecond
	m := NewManager(&fakeBackend{}, cfg, nil)
	defer m.Close()

	h, _ := m.Open()
	time.Sleep(20 * time.Millisecond)

	if n := m.Cleanup(); n != 1 {
		t.Errorf("Cleanup() = %d; want 1", n)
	}
	if h.Status() != StatusClosed {
		t.Errorf("Status() = %q; want %q", h.Status(), StatusClosed)
	}
	if len(m.List()) != 0 {
		t.Errorf("List() = %+v; want empty", m.List())
	}
}

func TestManager_CloseClosesHosts(t *testing.T) {
	m := NewManager(&fakeBackend{}, testConfig(), nil)
	h, _ := m.Open()

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if h.Status() != StatusClosed {
		t.Errorf("Status() = %q; want %q", h.Status(), StatusClosed)
	}
	if _, err := m.Open(); !errors.Is(err, ErrHostClosed) {
		t.Errorf("Open() after Close error = %v; want ErrHostClosed", err)
	}
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(context.Background(), Config{Backend: BackendGoja}, nil)
	if err != nil {
		t.Fatalf("NewBackend(goja) error = %v", err)
	}
	if b.Name() != "goja" {
		t.Errorf("Name() = %q; want %q", b.Name(), "goja")
	}

	if _, err := NewBackend(context.Background(), Config{Backend: "wasm"}, nil); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("NewBackend(wasm) error = %v; want ErrUnknownBackend", err)
	}
}
