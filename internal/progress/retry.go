package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// RetryConfig controls NewRetryingStore.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the retry policy used by the daemon.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
	}
}

// RetryingStore retries transient store failures with exponential backoff.
// Not-found and context errors are returned immediately.
type RetryingStore struct {
	next    Store
	record  retry.Retry[*domain.ProgressRecord]
	user    retry.Retry[*domain.UserXP]
	flag    retry.Retry[bool]
	nothing retry.Retry[struct{}]
}

// NewRetryingStore wraps next.
func NewRetryingStore(next Store, cfg RetryConfig) *RetryingStore {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	return &RetryingStore{
		next:    next,
		record:  retry.New[*domain.ProgressRecord](retryConfig(cfg)),
		user:    retry.New[*domain.UserXP](retryConfig(cfg)),
		flag:    retry.New[bool](retryConfig(cfg)),
		nothing: retry.New[struct{}](retryConfig(cfg)),
	}
}

func retryConfig(cfg RetryConfig) retry.Config {
	return retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable:   isTransient,
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrProgressNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	slog.Debug("retrying progress store call", "error", err)
	return true
}

func (s *RetryingStore) GetProgress(ctx context.Context, userID, exerciseID string) (*domain.ProgressRecord, error) {
	var missing bool
	rec, err := s.record.Do(ctx, func(ctx context.Context) (*domain.ProgressRecord, error) {
		rec, err := s.next.GetProgress(ctx, userID, exerciseID)
		if errors.Is(err, domain.ErrProgressNotFound) {
			missing = true
			return nil, nil
		}
		return rec, err
	})
	if missing {
		return nil, domain.ErrProgressNotFound
	}
	return rec, err
}

func (s *RetryingStore) SaveCode(ctx context.Context, userID, exerciseID string, code domain.Code, at time.Time) error {
	_, err := s.nothing.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.SaveCode(ctx, userID, exerciseID, code, at)
	})
	return err
}

func (s *RetryingStore) MarkPassed(ctx context.Context, userID, exerciseID string, at time.Time) (*domain.ProgressRecord, error) {
	return s.record.Do(ctx, func(ctx context.Context) (*domain.ProgressRecord, error) {
		return s.next.MarkPassed(ctx, userID, exerciseID, at)
	})
}

// AwardXPIfNotAwarded retries too: the store call is atomic, so a retry
// after an ambiguous failure reports false instead of crediting twice.
func (s *RetryingStore) AwardXPIfNotAwarded(ctx context.Context, userID, exerciseID string, amount int) (bool, error) {
	return s.flag.Do(ctx, func(ctx context.Context) (bool, error) {
		return s.next.AwardXPIfNotAwarded(ctx, userID, exerciseID, amount)
	})
}

func (s *RetryingStore) GetUserXP(ctx context.Context, userID string) (*domain.UserXP, error) {
	return s.user.Do(ctx, func(ctx context.Context) (*domain.UserXP, error) {
		return s.next.GetUserXP(ctx, userID)
	})
}

var _ Store = (*RetryingStore)(nil)
