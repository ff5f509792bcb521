package check

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/felixgeelhaar/gradebox/internal/dom"
	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// regexTimeout bounds a single stdout_regex match against pathological
// patterns.
const regexTimeout = time.Second

// Result is the outcome of one rule.
type Result struct {
	Pass     bool           `json:"pass"`
	Messages []string       `json:"messages"`
	Details  map[string]any `json:"details,omitempty"`
}

// RuleResult pairs a rule's wire form with its result.
type RuleResult struct {
	Check  domain.CheckSpec `json:"check"`
	Result Result           `json:"result"`
}

// Report is the aggregate over a rule list.
type Report struct {
	Pass         bool           `json:"pass"`
	Messages     []string       `json:"messages"`
	TotalChecks  int            `json:"total_checks"`
	PassedChecks int            `json:"passed_checks"`
	Results      []RuleResult   `json:"results"`
	Details      map[string]any `json:"details,omitempty"`
}

// Evaluate runs every rule against rc. The report passes iff all rules
// pass; an empty rule list passes with a "No checks defined" note.
func Evaluate(rules []Rule, rc domain.RunContext) Report {
	if len(rules) == 0 {
		return Report{
			Pass:     true,
			Messages: []string{},
			Results:  []RuleResult{},
			Details:  map[string]any{"note": "No checks defined"},
		}
	}

	report := Report{
		Pass:        true,
		Messages:    []string{},
		TotalChecks: len(rules),
		Results:     make([]RuleResult, 0, len(rules)),
	}

	for _, rule := range rules {
		res := rule.Evaluate(rc)
		report.Results = append(report.Results, RuleResult{Check: rule.Spec(), Result: res})
		if res.Pass {
			report.PassedChecks++
			continue
		}
		report.Pass = false
		report.Messages = append(report.Messages, res.Messages...)
	}

	results := make([]Result, len(report.Results))
	for i, r := range report.Results {
		results[i] = r.Result
	}
	report.Details = map[string]any{
		"totalChecks":  report.TotalChecks,
		"passedChecks": report.PassedChecks,
		"results":      results,
	}
	return report
}

// EvaluateSpecs parses and evaluates wire rules.
func EvaluateSpecs(specs []domain.CheckSpec, rc domain.RunContext) Report {
	return Evaluate(ParseAll(specs), rc)
}

func pass(details map[string]any) Result {
	return Result{Pass: true, Messages: []string{}, Details: details}
}

// verdict builds a pass/fail result whose failure text is the rule's own
// message when it has one.
func verdict(ok bool, custom, fallback string, details map[string]any) Result {
	if ok {
		return pass(details)
	}
	msg := fallback
	if custom != "" {
		msg = custom
	}
	return Result{Pass: false, Messages: []string{msg}, Details: details}
}

// diagnostic is a failure caused by the rule or the run rather than the
// learner's output. Custom messages do not apply.
func diagnostic(msg string, details map[string]any) Result {
	return Result{Pass: false, Messages: []string{msg}, Details: details}
}

func (r StdoutIncludes) Evaluate(rc domain.RunContext) Result {
	out := rc.Stdout()
	return verdict(strings.Contains(out, r.Substring), r.Message,
		fmt.Sprintf("Output should include \"%s\"", r.Substring),
		map[string]any{"found": out, "expected": r.Substring})
}

func (r StdoutRegex) Evaluate(rc domain.RunContext) Result {
	re, err := regexp2.Compile(r.Pattern, regexp2.IgnoreCase|regexp2.ECMAScript)
	if err != nil {
		return diagnostic(fmt.Sprintf("Invalid regex pattern: %s", err), map[string]any{"error": err.Error()})
	}
	re.MatchTimeout = regexTimeout

	out := rc.Stdout()
	ok, err := re.MatchString(out)
	if err != nil {
		return diagnostic(fmt.Sprintf("Invalid regex pattern: %s", err), map[string]any{"error": err.Error()})
	}
	return verdict(ok, r.Message,
		fmt.Sprintf("Output should match pattern \"%s\"", r.Pattern),
		map[string]any{"found": out, "pattern": r.Pattern})
}

func (r DOMExists) Evaluate(rc domain.RunContext) Result {
	doc, err := documentFor(rc)
	if err != nil {
		return diagnostic(fmt.Sprintf("Invalid DOM snapshot: %s", err), map[string]any{"error": err.Error()})
	}
	fallback := fmt.Sprintf("Element with selector \"%s\" should exist", r.Selector)

	if doc != nil {
		_, found, err := doc.QuerySelector(r.Selector)
		if err != nil {
			return diagnostic(fmt.Sprintf("Invalid selector: %s", err), map[string]any{"error": err.Error()})
		}
		return verdict(found, r.Message, fallback, map[string]any{"selector": r.Selector, "found": found})
	}

	if rc.Snapshot != nil {
		_, found := rc.Snapshot[r.Selector]
		return verdict(found, r.Message, fallback, map[string]any{"selector": r.Selector, "found": found})
	}

	return noDOM()
}

func (r DOMTextIncludes) Evaluate(rc domain.RunContext) Result {
	doc, err := documentFor(rc)
	if err != nil {
		return diagnostic(fmt.Sprintf("Invalid DOM snapshot: %s", err), map[string]any{"error": err.Error()})
	}
	if doc == nil {
		return noDOM()
	}

	text, found, err := doc.QuerySelector(r.Selector)
	if err != nil {
		return diagnostic(fmt.Sprintf("Error checking DOM: %s", err), map[string]any{"error": err.Error()})
	}
	if !found {
		return verdict(false, r.Message,
			fmt.Sprintf("Element with selector \"%s\" not found", r.Selector),
			map[string]any{"selector": r.Selector, "found": false})
	}
	return verdict(strings.Contains(text, r.ExpectedText), r.Message,
		fmt.Sprintf("Element text should include \"%s\"", r.ExpectedText),
		map[string]any{"selector": r.Selector, "actualText": text, "expected": r.ExpectedText})
}

func (r NoRuntimeErrors) Evaluate(rc domain.RunContext) Result {
	return verdict(rc.ErrorCount == 0, r.Message,
		fmt.Sprintf("Expected no runtime errors, but found %d", rc.ErrorCount),
		map[string]any{"errorCount": rc.ErrorCount, "expected": 0})
}

func (u Unknown) Evaluate(domain.RunContext) Result {
	return diagnostic(fmt.Sprintf("Unknown check type: %s", u.Name), map[string]any{"type": u.Name})
}

func noDOM() Result {
	return diagnostic("DOM checks require iframe document or snapshot", map[string]any{"error": "No DOM access available"})
}

// documentFor returns the live document, or one parsed from an HTML
// snapshot. It returns nil when the run has no queryable DOM.
func documentFor(rc domain.RunContext) (domain.DocumentQuerier, error) {
	if rc.Document != nil {
		return rc.Document, nil
	}
	if html, ok := rc.Snapshot.HTML(); ok {
		doc, err := dom.Parse(html)
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
	return nil, nil
}
