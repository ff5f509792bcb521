package queue

import (
	"context"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/session"
)

// Grader grades code for a user. session.Service implements it.
type Grader interface {
	Grade(ctx context.Context, userID, exerciseID string, code domain.Code) (*session.Attempt, error)
}

// GradeHandler returns a JobHandler that grades each job with g.
func GradeHandler(g Grader) JobHandler {
	return func(ctx context.Context, job *GradeJob) (*GradeResult, error) {
		attempt, err := g.Grade(ctx, job.UserID, job.ExerciseID, job.Code)
		if err != nil {
			return nil, err
		}
		return ResultFromAttempt(attempt), nil
	}
}

// ResultFromAttempt summarizes a graded attempt for the results queue.
func ResultFromAttempt(a *session.Attempt) *GradeResult {
	result := &GradeResult{
		ExerciseID:   a.ExerciseID,
		Status:       StatusCompleted,
		Passed:       a.Passed,
		PassedChecks: a.Report.PassedChecks,
		TotalChecks:  a.Report.TotalChecks,
		Messages:     a.Report.Messages,
		Lines:        a.Run.Lines,
		ErrorCount:   a.Run.ErrorCount,
		TimedOut:     a.Run.TimedOut,
	}
	if a.Run.TimedOut {
		result.Status = StatusTimeout
	}
	if a.Outcome != nil {
		result.Award = string(a.Outcome.Award)
	}
	return result
}
