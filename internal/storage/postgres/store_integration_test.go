//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/storage/postgres"
)

// setupPostgres starts a Postgres container and returns a migrated URL.
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "gradebox",
				"POSTGRES_PASSWORD": "gradebox",
				"POSTGRES_DB":       "gradebox",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	url := fmt.Sprintf("postgres://gradebox:gradebox@%s:%s/gradebox?sslmode=disable", host, port.Port())
	if err := postgres.Migrate(url); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := postgres.Migrate(url); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	return url
}

func TestIntegration_ProgressStore(t *testing.T) {
	url := setupPostgres(t)
	ctx := context.Background()

	pool, err := postgres.Connect(ctx, url)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer pool.Close()

	store := postgres.NewProgressStore(pool)

	if _, err := store.GetProgress(ctx, "u1", "js/hello"); err != domain.ErrProgressNotFound {
		t.Fatalf("GetProgress() error = %v; want ErrProgressNotFound", err)
	}

	code := domain.Code{HTML: "<p></p>", JS: "go()"}
	if err := store.SaveCode(ctx, "u1", "js/hello", code, time.Now()); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}

	first := time.Now().UTC().Truncate(time.Microsecond)
	rec, err := store.MarkPassed(ctx, "u1", "js/hello", first)
	if err != nil {
		t.Fatalf("MarkPassed() error = %v", err)
	}
	if !rec.IsPassed() || rec.SavedCode == nil || rec.SavedCode.JS != "go()" {
		t.Errorf("record = %+v", rec)
	}

	if err := store.SaveCode(ctx, "u1", "js/hello", domain.Code{Document: "edit"}, time.Now()); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}
	rec, err = store.MarkPassed(ctx, "u1", "js/hello", first.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkPassed() again error = %v", err)
	}
	if !rec.IsPassed() || !rec.PassedAt.Equal(first) {
		t.Errorf("State, PassedAt = %q, %v; want passed, %v", rec.State, rec.PassedAt, first)
	}

	var granted atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.AwardXPIfNotAwarded(ctx, "u1", "js/hello", 400)
			if err != nil {
				t.Errorf("AwardXPIfNotAwarded() error = %v", err)
				return
			}
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := granted.Load(); n != 1 {
		t.Errorf("granted = %d; want 1", n)
	}
	xp, err := store.GetUserXP(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserXP() error = %v", err)
	}
	if xp.XPTotal != 400 || xp.Level != 2 {
		t.Errorf("XPTotal, Level = %d, %d; want 400, 2", xp.XPTotal, xp.Level)
	}
}

func TestIntegration_ExerciseSource(t *testing.T) {
	url := setupPostgres(t)
	ctx := context.Background()

	pool, err := postgres.Connect(ctx, url)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer pool.Close()

	src := postgres.NewExerciseSource(pool)
	ex := &domain.Exercise{
		ID:          "db-pack/hello",
		PackID:      "db-pack",
		Title:       "Hello",
		StarterCode: domain.Code{Document: "console.log('x')"},
		RunMode:     domain.RunModeJS,
		Checks:      []domain.CheckSpec{{Type: "stdout_includes", Value: "x"}},
		Hints:       []string{"log it"},
		XPAward:     10,
	}
	if err := src.PutExercise(ctx, ex); err != nil {
		t.Fatalf("PutExercise() error = %v", err)
	}

	packs, err := src.Packs(ctx)
	if err != nil {
		t.Fatalf("Packs() error = %v", err)
	}
	if len(packs) != 1 || packs[0].ID != "db-pack" || len(packs[0].ExerciseIDs) != 1 {
		t.Fatalf("Packs() = %+v", packs)
	}

	list, err := src.Exercises(ctx, "db-pack")
	if err != nil {
		t.Fatalf("Exercises() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(Exercises()) = %d; want 1", len(list))
	}
	got := list[0]
	if got.StarterCode.Document != "console.log('x')" || got.Checks[0].Value != "x" || got.Hints[0] != "log it" {
		t.Errorf("exercise = %+v", got)
	}
}
