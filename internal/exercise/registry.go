package exercise

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// Registry provides access to exercises and packs
type Registry struct {
	sources   []Source
	mu        sync.RWMutex
	packs     map[string]*domain.ExercisePack
	exercises map[string]*domain.Exercise
	loaded    bool
}

// NewRegistry creates a registry over one or more sources. A pack ID seen
// in a later source replaces the earlier one.
func NewRegistry(sources ...Source) *Registry {
	return &Registry{
		sources:   sources,
		packs:     make(map[string]*domain.ExercisePack),
		exercises: make(map[string]*domain.Exercise),
	}
}

// Load loads all packs and exercises into memory
func (r *Registry) Load(ctx context.Context) error {
	packs := make(map[string]*domain.ExercisePack)
	exercises := make(map[string]*domain.Exercise)

	for _, src := range r.sources {
		srcPacks, err := src.Packs(ctx)
		if err != nil {
			return fmt.Errorf("load packs: %w", err)
		}

		for _, pack := range srcPacks {
			packs[pack.ID] = pack

			list, err := src.Exercises(ctx, pack.ID)
			if err != nil {
				return fmt.Errorf("load exercises for pack %s: %w", pack.ID, err)
			}
			for _, ex := range list {
				exercises[ex.ID] = ex
			}
		}
	}

	r.mu.Lock()
	r.packs = packs
	r.exercises = exercises
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// Loaded reports whether Load has succeeded at least once.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// GetPack returns a pack by ID
func (r *Registry) GetPack(id string) (*domain.ExercisePack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pack, ok := r.packs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExercisePackNotFound, id)
	}
	return pack, nil
}

// GetExercise returns an exercise by ID
func (r *Registry) GetExercise(id string) (*domain.Exercise, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exercise, ok := r.exercises[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExerciseNotFound, id)
	}
	return exercise, nil
}

// ListPacks returns all packs ordered by ID.
func (r *Registry) ListPacks() []*domain.ExercisePack {
	r.mu.RLock()
	defer r.mu.RUnlock()

	packs := make([]*domain.ExercisePack, 0, len(r.packs))
	for _, pack := range r.packs {
		packs = append(packs, pack)
	}
	slices.SortFunc(packs, func(a, b *domain.ExercisePack) int {
		return strings.Compare(a.ID, b.ID)
	})
	return packs
}

// ListPackExercises returns a pack's exercises in pack order
func (r *Registry) ListPackExercises(packID string) ([]*domain.Exercise, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pack, ok := r.packs[packID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExercisePackNotFound, packID)
	}

	exercises := make([]*domain.Exercise, 0, len(pack.ExerciseIDs))
	for _, exID := range pack.ExerciseIDs {
		if ex, ok := r.exercises[exID]; ok {
			exercises = append(exercises, ex)
		}
	}
	return exercises, nil
}

// GetNextExercise returns the exercise after currentExerciseID in its pack,
// or nil when it is the last one.
func (r *Registry) GetNextExercise(currentExerciseID string) (*domain.Exercise, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cur, ok := r.exercises[currentExerciseID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExerciseNotFound, currentExerciseID)
	}
	pack, ok := r.packs[cur.PackID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExercisePackNotFound, cur.PackID)
	}

	i := slices.Index(pack.ExerciseIDs, currentExerciseID)
	if i < 0 || i+1 >= len(pack.ExerciseIDs) {
		return nil, nil
	}
	return r.exercises[pack.ExerciseIDs[i+1]], nil
}

// GetExercisesByTag returns the exercises carrying tag, ordered by ID.
func (r *Registry) GetExercisesByTag(tag string) []*domain.Exercise {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var exercises []*domain.Exercise
	for _, ex := range r.exercises {
		if slices.Contains(ex.Tags, tag) {
			exercises = append(exercises, ex)
		}
	}
	slices.SortFunc(exercises, func(a, b *domain.Exercise) int {
		return strings.Compare(a.ID, b.ID)
	})
	return exercises
}

// Stats returns statistics about loaded exercises
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		PackCount:     len(r.packs),
		ExerciseCount: len(r.exercises),
		ByRunMode:     make(map[string]int),
	}

	for _, ex := range r.exercises {
		stats.ByRunMode[string(ex.RunMode)]++
		stats.TotalXP += ex.XPAward
	}

	return stats
}

// RegistryStats holds statistics about the registry
type RegistryStats struct {
	PackCount     int            `json:"pack_count"`
	ExerciseCount int            `json:"exercise_count"`
	ByRunMode     map[string]int `json:"by_run_mode"`
	TotalXP       int            `json:"total_xp"`
}
