package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/session"
)

// Producer publishes grade jobs, results and XP events
type Producer struct {
	pub Publisher
}

// Ensure Producer can deliver XP notifications
var _ session.Notifier = (*Producer)(nil)

// NewProducer creates a new queue producer
func NewProducer(pub Publisher) *Producer {
	return &Producer{pub: pub}
}

// PublishGradeJob publishes a grade job to the queue
func (p *Producer) PublishGradeJob(ctx context.Context, job *GradeJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := p.pub.PublishJSON(ctx, GradeQueueName, job); err != nil {
		return fmt.Errorf("failed to publish grade job: %w", err)
	}

	slog.Info("published grade job",
		"job_id", job.ID,
		"user_id", job.UserID,
		"exercise_id", job.ExerciseID,
	)

	return nil
}

// PublishResult publishes a grade result to the results queue
func (p *Producer) PublishResult(ctx context.Context, result *GradeResult) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}

	if err := p.pub.PublishJSON(ctx, ResultQueueName, result); err != nil {
		return fmt.Errorf("failed to publish grade result: %w", err)
	}

	slog.Info("published grade result",
		"job_id", result.JobID,
		"status", result.Status,
		"passed", result.Passed,
		"duration", result.Duration,
	)

	return nil
}

// NotifyXP publishes an XP award to the XP queue
func (p *Producer) NotifyXP(ctx context.Context, n session.Notification) error {
	event := &XPEvent{
		UserID:      n.UserID,
		ExerciseID:  n.ExerciseID,
		XP:          n.XP,
		XPTotal:     n.XPTotal,
		Level:       n.Level,
		Message:     n.Message,
		Description: n.Description,
		AwardedAt:   time.Now(),
	}
	if err := p.pub.PublishJSON(ctx, XPQueueName, event); err != nil {
		return fmt.Errorf("failed to publish xp event: %w", err)
	}
	return nil
}

// CreateGradeJob creates a new grade job with the given parameters
func CreateGradeJob(userID, exerciseID string, code domain.Code, timeout time.Duration) *GradeJob {
	return &GradeJob{
		ID:         uuid.New(),
		UserID:     userID,
		ExerciseID: exerciseID,
		Code:       code,
		Timeout:    int(timeout / time.Second),
		CreatedAt:  time.Now(),
	}
}
