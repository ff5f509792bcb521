package domain

import "strings"

// Exercise is an immutable, author-owned interactive exercise definition.
type Exercise struct {
	ID           string      `json:"id"` // "web-v1/dom/counter"
	PackID       string      `json:"pack_id"`
	Title        string      `json:"title"`
	Instructions string      `json:"instructions,omitempty"`
	StarterCode  Code        `json:"starter_code"`
	RunMode      RunMode     `json:"run_mode"`
	Checks       []CheckSpec `json:"checks"`
	Hints        []string    `json:"hints,omitempty"`
	XPAward      int         `json:"xp_award"`
	Tags         []string    `json:"tags,omitempty"`
}

// RunMode selects how learner code is assembled before running.
type RunMode string

const (
	RunModeJS   RunMode = "js"   // js only, empty page
	RunModeHTML RunMode = "html" // single pre-assembled document
	RunModeWeb  RunMode = "web"  // html/css/js triple
)

// Valid reports whether m is a known run mode.
func (m RunMode) Valid() bool {
	switch m {
	case RunModeJS, RunModeHTML, RunModeWeb:
		return true
	}
	return false
}

// CheckSpec is the wire form of a check rule: {type, value, message?}.
// Selector and Text are the typed alternatives to the compound
// "selector|text" value of dom_text_includes.
type CheckSpec struct {
	Type     string `json:"type" yaml:"type"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
}

// ExercisePack represents a collection of related exercises
type ExercisePack struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	ExerciseIDs []string `json:"exercise_ids"` // ordered list of exercise ids
}

// Hint returns the nth hint (1-based) and whether it exists.
func (e *Exercise) Hint(n int) (string, bool) {
	if n < 1 || n > len(e.Hints) {
		return "", false
	}
	return e.Hints[n-1], true
}

// SplitExerciseID splits "pack/slug..." into its pack and slug parts.
func SplitExerciseID(id string) (pack, slug string, ok bool) {
	pack, slug, ok = strings.Cut(id, "/")
	if !ok || pack == "" || slug == "" {
		return "", "", false
	}
	return pack, slug, true
}
