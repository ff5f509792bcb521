package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

const exID = "js-basics/basics/hello-console"

func TestNewStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "subdir", "nested")

	if _, err := NewStore(dir); err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
}

func TestStore_GetProgress_NotFound(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	_, err := store.GetProgress(context.Background(), "alice", exID)
	if !errors.Is(err, domain.ErrProgressNotFound) {
		t.Errorf("GetProgress() error = %v, want ErrProgressNotFound", err)
	}
}

func TestStore_SaveCodeAndReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, _ := NewStore(dir)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	code := domain.Code{JS: `console.log("hi")`}
	if err := store.SaveCode(ctx, "alice@example.com", exID, code, at); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}

	// A second store over the same directory sees the write.
	reopened, _ := NewStore(dir)
	rec, err := reopened.GetProgress(ctx, "alice@example.com", exID)
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if rec.SavedCode == nil || rec.SavedCode.JS != code.JS {
		t.Errorf("SavedCode = %+v, want %+v", rec.SavedCode, code)
	}
	if rec.State != domain.ProgressInProgress {
		t.Errorf("State = %q, want in_progress", rec.State)
	}
	if !rec.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", rec.UpdatedAt, at)
	}
}

func TestStore_MarkPassed_KeepsFirstPassedAt(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	ctx := context.Background()

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.MarkPassed(ctx, "alice", exID, first); err != nil {
		t.Fatalf("MarkPassed() error = %v", err)
	}
	rec, err := store.MarkPassed(ctx, "alice", exID, first.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkPassed() error = %v", err)
	}
	if rec.PassedAt == nil || !rec.PassedAt.Equal(first) {
		t.Errorf("PassedAt = %v, want %v", rec.PassedAt, first)
	}

	// Saving code afterwards does not reset the state.
	if err := store.SaveCode(ctx, "alice", exID, domain.SingleDocument("x"), first.Add(2*time.Hour)); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}
	rec, _ = store.GetProgress(ctx, "alice", exID)
	if rec.State != domain.ProgressPassed {
		t.Errorf("State = %q, want passed", rec.State)
	}
}

func TestStore_AwardXPIfNotAwarded(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	ctx := context.Background()

	if ok, err := store.AwardXPIfNotAwarded(ctx, "alice", exID, 50); err != nil || ok {
		t.Errorf("AwardXPIfNotAwarded() without record = %v, %v; want false, nil", ok, err)
	}

	if _, err := store.MarkPassed(ctx, "alice", exID, time.Now()); err != nil {
		t.Fatalf("MarkPassed() error = %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.AwardXPIfNotAwarded(ctx, "alice", exID, 50)
			if err != nil {
				t.Errorf("AwardXPIfNotAwarded() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Errorf("granted = %d, want 1", granted)
	}

	xp, err := store.GetUserXP(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserXP() error = %v", err)
	}
	if xp.XPTotal != 50 || xp.Level != 0 {
		t.Errorf("UserXP = %+v, want 50 XP at level 0", xp)
	}
}

func TestStore_GetUserXP_Unknown(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	xp, err := store.GetUserXP(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetUserXP() error = %v", err)
	}
	if xp.UserID != "nobody" || xp.XPTotal != 0 {
		t.Errorf("UserXP = %+v, want zero totals", xp)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)

	if err := os.WriteFile(store.path("alice"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetProgress(context.Background(), "alice", exID); err == nil {
		t.Error("GetProgress() error = nil, want decode error")
	}
}
