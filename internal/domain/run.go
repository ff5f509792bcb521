package domain

import "strings"

// OutputKind distinguishes console output from error output.
type OutputKind string

const (
	OutputStdout OutputKind = "stdout"
	OutputError  OutputKind = "error"
)

// OutputLine is one captured line of run output.
type OutputLine struct {
	Text string     `json:"text"`
	Kind OutputKind `json:"kind"`
}

// DocumentQuerier is read access to an isolated document.
type DocumentQuerier interface {
	// QuerySelector returns the text content of the first match. found is
	// false when nothing matches; err is set for an invalid selector.
	QuerySelector(selector string) (text string, found bool, err error)
}

// DOMSnapshot is a serializable picture of the document taken after a run.
// The "html" key, when present, holds the serialized document.
type DOMSnapshot map[string]any

// HTML returns the serialized document held by the snapshot.
func (s DOMSnapshot) HTML() (string, bool) {
	html, ok := s["html"].(string)
	return html, ok
}

// RunContext is the captured state of one execution.
type RunContext struct {
	Generation uint64          `json:"generation"`
	Lines      []OutputLine    `json:"lines"`
	ErrorCount int             `json:"error_count"`
	Document   DocumentQuerier `json:"-"`
	Snapshot   DOMSnapshot     `json:"snapshot,omitempty"`
	Completed  bool            `json:"completed"`
	TimedOut   bool            `json:"timed_out"`
}

// Stdout joins stdout lines with newlines in arrival order.
func (rc RunContext) Stdout() string {
	var parts []string
	for _, line := range rc.Lines {
		if line.Kind == OutputStdout {
			parts = append(parts, line.Text)
		}
	}
	return strings.Join(parts, "\n")
}
