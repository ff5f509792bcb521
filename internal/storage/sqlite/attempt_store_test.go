package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

func TestAttemptStore_RecordList(t *testing.T) {
	store := NewAttemptStore(openTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, passed := range []bool{false, false, true} {
		a := &domain.Attempt{
			UserID:       "u1",
			ExerciseID:   "js/hello",
			Passed:       passed,
			PassedChecks: i,
			TotalChecks:  2,
			DurationMS:   12,
			Messages:     []string{"msg"},
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Record(ctx, a); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if a.ID == 0 {
			t.Error("Record() did not set ID")
		}
	}

	attempts, err := store.List(ctx, "u1", "js/hello", 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("len(List()) = %d; want 2", len(attempts))
	}
	if !attempts[0].Passed || attempts[0].PassedChecks != 2 {
		t.Errorf("newest attempt = %+v; want the passing one", attempts[0])
	}
	if len(attempts[0].Messages) != 1 || attempts[0].Messages[0] != "msg" {
		t.Errorf("Messages = %v; want [msg]", attempts[0].Messages)
	}

	n, err := store.Count(ctx, "u1", "js/hello")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d; want 3", n)
	}
}

func TestAttemptStore_Prune(t *testing.T) {
	store := NewAttemptStore(openTestDB(t))
	ctx := context.Background()

	old := &domain.Attempt{UserID: "u1", ExerciseID: "js/a", CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := &domain.Attempt{UserID: "u1", ExerciseID: "js/a"}
	for _, a := range []*domain.Attempt{old, fresh} {
		if err := store.Record(ctx, a); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	pruned, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("Prune() = %d; want 1", pruned)
	}
}
