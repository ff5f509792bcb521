package progress

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

var (
	// ErrStorageUnavailable wraps any failure to reach the progress store.
	ErrStorageUnavailable = errors.New("progress storage unavailable")
	ErrLedgerClosed       = errors.New("ledger closed")
)

// Store persists progress records and XP totals.
type Store interface {
	// GetProgress returns domain.ErrProgressNotFound when no record exists.
	GetProgress(ctx context.Context, userID, exerciseID string) (*domain.ProgressRecord, error)

	// SaveCode upserts saved code and updated_at. A passed record stays
	// passed.
	SaveCode(ctx context.Context, userID, exerciseID string, code domain.Code, at time.Time) error

	// MarkPassed upserts state passed. passed_at is set only the first time.
	// It returns the record as stored after the write.
	MarkPassed(ctx context.Context, userID, exerciseID string, at time.Time) (*domain.ProgressRecord, error)

	// AwardXPIfNotAwarded atomically flips xp_awarded and credits amount.
	// It returns false when the award had already been made.
	AwardXPIfNotAwarded(ctx context.Context, userID, exerciseID string, amount int) (bool, error)

	// GetUserXP returns the user's totals, zero when nothing was awarded.
	GetUserXP(ctx context.Context, userID string) (*domain.UserXP, error)
}
