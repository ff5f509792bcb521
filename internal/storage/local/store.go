// Package local keeps progress as JSON documents on disk, one file per
// learner, for single-user installs without a database.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/progress"
)

// userDoc is the on-disk form of one learner's progress.
type userDoc struct {
	UserID   string                           `json:"user_id"`
	XPTotal  int                              `json:"xp_total"`
	Updated  time.Time                        `json:"updated_at"`
	Progress map[string]domain.ProgressRecord `json:"progress"`
}

// Store provides thread-safe JSON file storage of progress records
type Store struct {
	basePath string
	mu       sync.Mutex
}

// NewStore creates a new local JSON store
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// path returns the document path for a user. User IDs may contain
// characters that are not safe in file names.
func (s *Store) path(userID string) string {
	return filepath.Join(s.basePath, url.QueryEscape(userID)+".json")
}

// load reads a user's document. A missing file is an empty document.
func (s *Store) load(userID string) (*userDoc, error) {
	doc := &userDoc{UserID: userID, Progress: map[string]domain.ProgressRecord{}}

	data, err := os.ReadFile(s.path(userID))
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", progress.ErrStorageUnavailable, userID, err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if doc.Progress == nil {
		doc.Progress = map[string]domain.ProgressRecord{}
	}
	return doc, nil
}

// save replaces the document through a temp file so a crash never leaves a
// half-written file.
func (s *Store) save(doc *userDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	tmp, err := os.CreateTemp(s.basePath, ".progress-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", progress.ErrStorageUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write: %v", progress.ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", progress.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), s.path(doc.UserID)); err != nil {
		return fmt.Errorf("%w: rename: %v", progress.ErrStorageUnavailable, err)
	}
	return nil
}

// update loads, mutates and saves a user's document under the store lock.
func (s *Store) update(userID string, fn func(doc *userDoc) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(userID)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

func record(doc *userDoc, exerciseID string, at time.Time) domain.ProgressRecord {
	rec, ok := doc.Progress[exerciseID]
	if !ok {
		rec = *domain.NewDefaultProgress(doc.UserID, exerciseID, at)
		rec.Persisted = true
	}
	return rec
}

func (s *Store) GetProgress(_ context.Context, userID, exerciseID string) (*domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	rec, ok := doc.Progress[exerciseID]
	if !ok {
		return nil, domain.ErrProgressNotFound
	}
	return &rec, nil
}

func (s *Store) SaveCode(_ context.Context, userID, exerciseID string, code domain.Code, at time.Time) error {
	return s.update(userID, func(doc *userDoc) error {
		rec := record(doc, exerciseID, at)
		rec.SavedCode = &code
		rec.UpdatedAt = at
		doc.Progress[exerciseID] = rec
		return nil
	})
}

func (s *Store) MarkPassed(_ context.Context, userID, exerciseID string, at time.Time) (*domain.ProgressRecord, error) {
	var out domain.ProgressRecord
	err := s.update(userID, func(doc *userDoc) error {
		rec := record(doc, exerciseID, at)
		rec.State = domain.ProgressPassed
		if rec.PassedAt == nil {
			passed := at
			rec.PassedAt = &passed
		}
		rec.UpdatedAt = at
		doc.Progress[exerciseID] = rec
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// errAlreadyAwarded aborts an update without writing.
var errAlreadyAwarded = errors.New("xp already awarded")

func (s *Store) AwardXPIfNotAwarded(_ context.Context, userID, exerciseID string, amount int) (bool, error) {
	err := s.update(userID, func(doc *userDoc) error {
		rec, ok := doc.Progress[exerciseID]
		if !ok || rec.XPAwarded {
			return errAlreadyAwarded
		}
		rec.XPAwarded = true
		doc.Progress[exerciseID] = rec
		doc.XPTotal += amount
		doc.Updated = time.Now()
		return nil
	})
	if errors.Is(err, errAlreadyAwarded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetUserXP(_ context.Context, userID string) (*domain.UserXP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	return &domain.UserXP{
		UserID:  userID,
		XPTotal: doc.XPTotal,
		Level:   progress.CalculateLevel(doc.XPTotal),
		Updated: doc.Updated,
	}, nil
}

var _ progress.Store = (*Store)(nil)
