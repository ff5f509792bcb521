package progress

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

type progressKey struct {
	userID     string
	exerciseID string
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	progress map[progressKey]domain.ProgressRecord
	users    map[string]domain.UserXP
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		progress: make(map[progressKey]domain.ProgressRecord),
		users:    make(map[string]domain.UserXP),
	}
}

func (s *MemoryStore) GetProgress(_ context.Context, userID, exerciseID string) (*domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.progress[progressKey{userID, exerciseID}]
	if !ok {
		return nil, domain.ErrProgressNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) SaveCode(_ context.Context, userID, exerciseID string, code domain.Code, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{userID, exerciseID}
	rec := s.recordLocked(key, at)
	rec.SavedCode = &code
	rec.UpdatedAt = at
	s.progress[key] = rec
	return nil
}

func (s *MemoryStore) MarkPassed(_ context.Context, userID, exerciseID string, at time.Time) (*domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{userID, exerciseID}
	rec := s.recordLocked(key, at)
	rec.State = domain.ProgressPassed
	if rec.PassedAt == nil {
		passed := at
		rec.PassedAt = &passed
	}
	rec.UpdatedAt = at
	s.progress[key] = rec
	return copyRecord(rec), nil
}

func (s *MemoryStore) AwardXPIfNotAwarded(_ context.Context, userID, exerciseID string, amount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{userID, exerciseID}
	rec, ok := s.progress[key]
	if !ok || rec.XPAwarded {
		return false, nil
	}
	rec.XPAwarded = true
	s.progress[key] = rec

	user := s.users[userID]
	user.UserID = userID
	user.XPTotal += amount
	user.Level = CalculateLevel(user.XPTotal)
	user.Updated = time.Now()
	s.users[userID] = user
	return true, nil
}

func (s *MemoryStore) GetUserXP(_ context.Context, userID string) (*domain.UserXP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return &domain.UserXP{UserID: userID}, nil
	}
	return &user, nil
}

func (s *MemoryStore) recordLocked(key progressKey, at time.Time) domain.ProgressRecord {
	rec, ok := s.progress[key]
	if !ok {
		rec = *domain.NewDefaultProgress(key.userID, key.exerciseID, at)
		rec.Persisted = true
	}
	return rec
}

func copyRecord(rec domain.ProgressRecord) *domain.ProgressRecord {
	if rec.SavedCode != nil {
		code := *rec.SavedCode
		rec.SavedCode = &code
	}
	if rec.PassedAt != nil {
		at := *rec.PassedAt
		rec.PassedAt = &at
	}
	return &rec
}

var _ Store = (*MemoryStore)(nil)
