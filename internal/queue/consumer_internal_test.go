package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

func TestConsumerConfig_WithDefaults(t *testing.T) {
	got := ConsumerConfig{}.withDefaults()
	if got.Workers != 2 || got.Prefetch != 1 {
		t.Errorf("withDefaults() = %+v; want 2 workers, prefetch 1", got)
	}

	custom := ConsumerConfig{Workers: 10, Prefetch: 5}.withDefaults()
	if custom.Workers != 10 || custom.Prefetch != 5 {
		t.Errorf("withDefaults() = %+v; want custom values kept", custom)
	}
}

func jobBody(t *testing.T, job GradeJob) []byte {
	t.Helper()
	body, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return body
}

func TestRunJob_Completed(t *testing.T) {
	job := GradeJob{ID: uuid.New(), UserID: "u1", ExerciseID: "js-basics/basics/hello-console", Code: domain.Code{JS: "console.log(1)"}}

	var seen *GradeJob
	handler := func(_ context.Context, j *GradeJob) (*GradeResult, error) {
		seen = j
		return &GradeResult{Passed: true, PassedChecks: 2, TotalChecks: 2}, nil
	}

	result, err := runJob(context.Background(), handler, jobBody(t, job))
	if err != nil {
		t.Fatalf("runJob() error = %v", err)
	}
	if seen == nil || seen.Code.JS != "console.log(1)" {
		t.Errorf("handler saw %+v; want the decoded job", seen)
	}
	if result.Status != StatusCompleted || !result.Passed {
		t.Errorf("result = %+v; want completed pass", result)
	}
	if result.JobID != job.ID || result.UserID != "u1" || result.ExerciseID != job.ExerciseID {
		t.Errorf("result identity = %v %q %q", result.JobID, result.UserID, result.ExerciseID)
	}
	if result.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
}

func TestRunJob_HandlerError(t *testing.T) {
	job := GradeJob{ID: uuid.New(), UserID: "u1", ExerciseID: "x/y"}
	handler := func(context.Context, *GradeJob) (*GradeResult, error) {
		return nil, errors.New("exercise not found")
	}

	result, err := runJob(context.Background(), handler, jobBody(t, job))
	if err != nil {
		t.Fatalf("runJob() error = %v", err)
	}
	if result.Status != StatusFailed || result.Error != "exercise not found" {
		t.Errorf("result = %+v; want failed with the handler error", result)
	}
	if result.JobID != job.ID {
		t.Errorf("JobID = %v; want %v", result.JobID, job.ID)
	}
}

func TestRunJob_Timeout(t *testing.T) {
	job := GradeJob{ID: uuid.New(), UserID: "u1", ExerciseID: "x/y", Timeout: 1}
	handler := func(ctx context.Context, _ *GradeJob) (*GradeResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	start := time.Now()
	result, err := runJob(context.Background(), handler, jobBody(t, job))
	if err != nil {
		t.Fatalf("runJob() error = %v", err)
	}
	if result.Status != StatusTimeout {
		t.Errorf("Status = %q; want %q", result.Status, StatusTimeout)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("runJob() took %v; want about 1s", elapsed)
	}
}

func TestRunJob_Malformed(t *testing.T) {
	handler := func(context.Context, *GradeJob) (*GradeResult, error) {
		t.Fatal("handler called for a malformed job")
		return nil, nil
	}

	for _, body := range []string{`not json`, `{"id":"` + uuid.NewString() + `"}`} {
		if _, err := runJob(context.Background(), handler, []byte(body)); err == nil {
			t.Errorf("runJob(%s) error = nil; want error", body)
		}
	}
}

func TestResultConsumer_Deliver(t *testing.T) {
	rc := NewResultConsumer(nil)
	id := uuid.New()
	ch := rc.Expect(id.String())

	if !rc.deliver(&GradeResult{JobID: id, Status: StatusCompleted}) {
		t.Fatal("deliver() = false; want a waiter")
	}
	if rc.deliver(&GradeResult{JobID: id, Status: StatusFailed}) {
		t.Error("second deliver() = true; want the waiter removed")
	}

	select {
	case got := <-ch:
		if got.Status != StatusCompleted {
			t.Errorf("Status = %q; want the first result", got.Status)
		}
	default:
		t.Fatal("no result delivered")
	}
}

func TestResultConsumer_Forget(t *testing.T) {
	rc := NewResultConsumer(nil)
	id := uuid.New()
	rc.Expect(id.String())
	rc.Forget(id.String())
	rc.Forget("never-registered")

	if rc.deliver(&GradeResult{JobID: id}) {
		t.Error("deliver() = true after Forget; want false")
	}
}

func TestResultConsumer_ConcurrentExpect(t *testing.T) {
	rc := NewResultConsumer(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			ch := rc.Expect(id.String())
			rc.deliver(&GradeResult{JobID: id})
			<-ch
		}()
	}
	wg.Wait()
	if len(rc.waiting) != 0 {
		t.Errorf("waiting = %d; want 0", len(rc.waiting))
	}
}

func TestStop_WithoutStart(t *testing.T) {
	NewResultConsumer(nil).Stop()
	(&Consumer{}).Stop()
}
