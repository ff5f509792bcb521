package sqlite

import (
	"context"
	"testing"
	"time"
)

func TestEventStore_RecordQuery(t *testing.T) {
	store := NewEventStore(openTestDB(t))
	ctx := context.Background()

	if err := store.Record(ctx, EventHintViewed, "u1", "js/hello", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Record(ctx, EventHintViewed, "u1", "js/hello", nil); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Record(ctx, EventCodeSaved, "u1", "js/hello", nil); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Record(ctx, EventHintViewed, "u2", "js/hello", nil); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	events, err := store.Query(ctx, EventHintViewed, "u1", time.Time{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(Query()) = %d; want 2", len(events))
	}
	if events[0].Data != "{}" {
		t.Errorf("newest Data = %q; want {}", events[0].Data)
	}
	if events[1].Data != `{"n":1}` {
		t.Errorf("oldest Data = %q; want {\"n\":1}", events[1].Data)
	}

	n, err := store.Count(ctx, EventHintViewed, "u1", "js/hello")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d; want 2", n)
	}

	future, err := store.Query(ctx, EventHintViewed, "u1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(future) != 0 {
		t.Errorf("len(Query(future)) = %d; want 0", len(future))
	}
}

func TestEventStore_Prune(t *testing.T) {
	store := NewEventStore(openTestDB(t))
	ctx := context.Background()

	if err := store.Record(ctx, EventCodeSaved, "u1", "js/hello", nil); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	removed, err := store.Prune(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() = %d; want 1", removed)
	}
}
