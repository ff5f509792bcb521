// Package check grades a completed run against declarative rules. Every
// function here is pure: no I/O and no mutation of the run context.
package check

import (
	"strings"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// Type names a rule kind on the wire.
type Type string

const (
	TypeStdoutIncludes  Type = "stdout_includes"
	TypeStdoutRegex     Type = "stdout_regex"
	TypeDOMExists       Type = "dom_exists"
	TypeDOMTextIncludes Type = "dom_text_includes"
	TypeNoRuntimeErrors Type = "no_runtime_errors"
)

// Rule is one grading rule. The concrete types below form a closed set.
type Rule interface {
	Type() Type
	Evaluate(rc domain.RunContext) Result
	// Spec returns the wire form the rule was built from.
	Spec() domain.CheckSpec
}

// StdoutIncludes passes when the joined stdout contains Substring.
type StdoutIncludes struct {
	Substring string
	Message   string
}

// StdoutRegex passes when Pattern matches the joined stdout, ignoring case.
type StdoutRegex struct {
	Pattern string
	Message string
}

// DOMExists passes when Selector matches an element.
type DOMExists struct {
	Selector string
	Message  string
}

// DOMTextIncludes passes when the element matched by Selector contains
// ExpectedText in its text content.
type DOMTextIncludes struct {
	Selector     string
	ExpectedText string
	Message      string
}

// NoRuntimeErrors passes when the run reported no errors.
type NoRuntimeErrors struct {
	Message string
}

// Unknown is a rule whose type is not recognised. It always fails.
type Unknown struct {
	Name    string
	Value   string
	Message string
}

func (StdoutIncludes) Type() Type  { return TypeStdoutIncludes }
func (StdoutRegex) Type() Type     { return TypeStdoutRegex }
func (DOMExists) Type() Type       { return TypeDOMExists }
func (DOMTextIncludes) Type() Type { return TypeDOMTextIncludes }
func (NoRuntimeErrors) Type() Type { return TypeNoRuntimeErrors }
func (u Unknown) Type() Type       { return Type(u.Name) }

func (r StdoutIncludes) Spec() domain.CheckSpec {
	return domain.CheckSpec{Type: string(TypeStdoutIncludes), Value: r.Substring, Message: r.Message}
}

func (r StdoutRegex) Spec() domain.CheckSpec {
	return domain.CheckSpec{Type: string(TypeStdoutRegex), Value: r.Pattern, Message: r.Message}
}

func (r DOMExists) Spec() domain.CheckSpec {
	return domain.CheckSpec{Type: string(TypeDOMExists), Value: r.Selector, Message: r.Message}
}

func (r DOMTextIncludes) Spec() domain.CheckSpec {
	return domain.CheckSpec{
		Type:     string(TypeDOMTextIncludes),
		Value:    r.Selector + "|" + r.ExpectedText,
		Message:  r.Message,
		Selector: r.Selector,
		Text:     r.ExpectedText,
	}
}

func (r NoRuntimeErrors) Spec() domain.CheckSpec {
	return domain.CheckSpec{Type: string(TypeNoRuntimeErrors), Message: r.Message}
}

func (u Unknown) Spec() domain.CheckSpec {
	return domain.CheckSpec{Type: u.Name, Value: u.Value, Message: u.Message}
}

// Parse converts a wire rule into its typed form. It never fails: an
// unrecognised type becomes Unknown, which fails at evaluation time.
func Parse(spec domain.CheckSpec) Rule {
	switch Type(spec.Type) {
	case TypeStdoutIncludes:
		return StdoutIncludes{Substring: spec.Value, Message: spec.Message}
	case TypeStdoutRegex:
		return StdoutRegex{Pattern: spec.Value, Message: spec.Message}
	case TypeDOMExists:
		sel := spec.Value
		if sel == "" {
			sel = spec.Selector
		}
		return DOMExists{Selector: sel, Message: spec.Message}
	case TypeDOMTextIncludes:
		if spec.Selector != "" {
			return DOMTextIncludes{Selector: spec.Selector, ExpectedText: spec.Text, Message: spec.Message}
		}
		sel, text := splitCompound(spec.Value)
		return DOMTextIncludes{Selector: sel, ExpectedText: text, Message: spec.Message}
	case TypeNoRuntimeErrors:
		return NoRuntimeErrors{Message: spec.Message}
	default:
		return Unknown{Name: spec.Type, Value: spec.Value, Message: spec.Message}
	}
}

// ParseAll converts rules preserving order.
func ParseAll(specs []domain.CheckSpec) []Rule {
	rules := make([]Rule, len(specs))
	for i, spec := range specs {
		rules[i] = Parse(spec)
	}
	return rules
}

// splitCompound splits "selector|text" on the first '|'. When the text
// half is missing or empty the whole value is the expected text.
func splitCompound(value string) (selector, text string) {
	selector, text, _ = strings.Cut(value, "|")
	if text == "" {
		text = value
	}
	return selector, text
}
