package exercise

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/gradebox/internal/check"
	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// PackFile represents the YAML structure for an exercise pack
type PackFile struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Exercises   []string `yaml:"exercises"`
}

// StarterFile is the YAML form of starter code. Exactly one of Document,
// the html/css/js fields, or Files is expected.
type StarterFile struct {
	Document string               `yaml:"document"`
	HTML     string               `yaml:"html"`
	CSS      string               `yaml:"css"`
	JS       string               `yaml:"js"`
	Files    []domain.StarterFile `yaml:"files"`
}

// ExerciseFile represents the YAML structure for an exercise
type ExerciseFile struct {
	ID           string             `yaml:"id"`
	Title        string             `yaml:"title"`
	Instructions string             `yaml:"instructions"`
	Tags         []string           `yaml:"tags"`
	RunMode      string             `yaml:"run_mode"`
	Starter      StarterFile        `yaml:"starter"`
	Checks       []domain.CheckSpec `yaml:"checks"`
	Hints        []string           `yaml:"hints"`
	XPAward      int                `yaml:"xp_award"`
}

// Loader handles loading exercises from YAML files
type Loader struct {
	basePath string
}

// NewLoader creates a new exercise loader
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// BasePath returns the directory exercises are read from.
func (l *Loader) BasePath() string {
	return l.basePath
}

// LoadPack loads an exercise pack from a directory
func (l *Loader) LoadPack(packID string) (*domain.ExercisePack, error) {
	packPath := filepath.Join(l.basePath, packID, "pack.yaml")

	data, err := os.ReadFile(packPath)
	if err != nil {
		return nil, fmt.Errorf("read pack file: %w", err)
	}

	var packFile PackFile
	if err := yaml.Unmarshal(data, &packFile); err != nil {
		return nil, fmt.Errorf("parse pack file: %w", err)
	}

	id := packFile.ID
	if id == "" {
		id = packID
	}
	pack := &domain.ExercisePack{
		ID:          id,
		Name:        packFile.Name,
		Version:     packFile.Version,
		Description: packFile.Description,
		ExerciseIDs: make([]string, len(packFile.Exercises)),
	}

	for i, ex := range packFile.Exercises {
		pack.ExerciseIDs[i] = fmt.Sprintf("%s/%s", packID, ex)
	}

	return pack, nil
}

// LoadExercise loads a single exercise from a YAML file
func (l *Loader) LoadExercise(packID, slug string) (*domain.Exercise, error) {
	if slug == "" || strings.Contains(slug, "..") || filepath.IsAbs(slug) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidExerciseID, slug)
	}

	exercisePath := filepath.Join(l.basePath, packID, slug+".yaml")

	data, err := os.ReadFile(exercisePath)
	if err != nil {
		return nil, fmt.Errorf("read exercise file: %w", err)
	}

	var exFile ExerciseFile
	if err := yaml.Unmarshal(data, &exFile); err != nil {
		return nil, fmt.Errorf("parse exercise file: %w", err)
	}

	exercise := &domain.Exercise{
		ID:           fmt.Sprintf("%s/%s", packID, slug),
		PackID:       packID,
		Title:        exFile.Title,
		Instructions: exFile.Instructions,
		StarterCode:  exFile.Starter.code(),
		Checks:       exFile.Checks,
		Hints:        exFile.Hints,
		XPAward:      exFile.XPAward,
		Tags:         exFile.Tags,
	}

	exercise.RunMode = domain.RunMode(exFile.RunMode)
	if exercise.RunMode == "" {
		exercise.RunMode = InferRunMode(exercise.StarterCode)
	}
	if err := Validate(exercise); err != nil {
		return nil, err
	}

	return exercise, nil
}

func (s StarterFile) code() domain.Code {
	if len(s.Files) > 0 {
		return domain.CodeFromFiles(s.Files)
	}
	return domain.Code{Document: s.Document, HTML: s.HTML, CSS: s.CSS, JS: s.JS}
}

// InferRunMode picks a run mode from the shape of the starter code.
func InferRunMode(c domain.Code) domain.RunMode {
	switch {
	case !c.IsMultiFile():
		if strings.HasPrefix(strings.TrimSpace(c.Document), "<") {
			return domain.RunModeHTML
		}
		return domain.RunModeJS
	case c.HTML != "" || c.CSS != "":
		return domain.RunModeWeb
	default:
		return domain.RunModeJS
	}
}

// Validate rejects definitions the runner cannot serve. Unknown check types
// are allowed but logged; they fail at grading time.
func Validate(ex *domain.Exercise) error {
	if !ex.RunMode.Valid() {
		return fmt.Errorf("%w: exercise %s: unknown run_mode %q", domain.ErrInvalidInput, ex.ID, ex.RunMode)
	}
	if ex.XPAward < 0 {
		return fmt.Errorf("%w: exercise %s: negative xp_award", domain.ErrInvalidInput, ex.ID)
	}
	for _, rule := range check.ParseAll(ex.Checks) {
		if _, unknown := rule.(check.Unknown); unknown {
			slog.Warn("exercise has unknown check type", "exercise_id", ex.ID, "type", rule.Type())
		}
	}
	return nil
}

// LoadAllPacks loads all exercise packs from the base directory
func (l *Loader) LoadAllPacks() ([]*domain.ExercisePack, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("read exercises directory: %w", err)
	}

	var packs []*domain.ExercisePack
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		packPath := filepath.Join(l.basePath, entry.Name(), "pack.yaml")
		if _, err := os.Stat(packPath); os.IsNotExist(err) {
			continue
		}

		pack, err := l.LoadPack(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("load pack %s: %w", entry.Name(), err)
		}
		packs = append(packs, pack)
	}

	return packs, nil
}

// LoadPackExercises loads all exercises for a pack
func (l *Loader) LoadPackExercises(packID string) ([]*domain.Exercise, error) {
	pack, err := l.LoadPack(packID)
	if err != nil {
		return nil, err
	}

	exercises := make([]*domain.Exercise, 0, len(pack.ExerciseIDs))
	for _, exID := range pack.ExerciseIDs {
		slug := strings.TrimPrefix(exID, packID+"/")

		exercise, err := l.LoadExercise(packID, slug)
		if err != nil {
			return nil, fmt.Errorf("load exercise %s: %w", exID, err)
		}
		exercises = append(exercises, exercise)
	}

	return exercises, nil
}

// Packs implements Source.
func (l *Loader) Packs(context.Context) ([]*domain.ExercisePack, error) {
	return l.LoadAllPacks()
}

// Exercises implements Source.
func (l *Loader) Exercises(_ context.Context, packID string) ([]*domain.Exercise, error) {
	return l.LoadPackExercises(packID)
}
