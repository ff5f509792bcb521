package check

import (
	"testing"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		spec domain.CheckSpec
		want Rule
	}{
		{"stdout_includes", domain.CheckSpec{Type: "stdout_includes", Value: "hi"}, StdoutIncludes{Substring: "hi"}},
		{"stdout_regex", domain.CheckSpec{Type: "stdout_regex", Value: `\d`, Message: "m"}, StdoutRegex{Pattern: `\d`, Message: "m"}},
		{"dom_exists", domain.CheckSpec{Type: "dom_exists", Value: "#app"}, DOMExists{Selector: "#app"}},
		{"dom_text compound", domain.CheckSpec{Type: "dom_text_includes", Value: "#a|b|c"}, DOMTextIncludes{Selector: "#a", ExpectedText: "b|c"}},
		{"dom_text no separator", domain.CheckSpec{Type: "dom_text_includes", Value: "#a"}, DOMTextIncludes{Selector: "#a", ExpectedText: "#a"}},
		{"dom_text typed", domain.CheckSpec{Type: "dom_text_includes", Selector: "h1", Text: "Hi"}, DOMTextIncludes{Selector: "h1", ExpectedText: "Hi"}},
		{"no_runtime_errors", domain.CheckSpec{Type: "no_runtime_errors"}, NoRuntimeErrors{}},
		{"unknown", domain.CheckSpec{Type: "bogus", Value: "v"}, Unknown{Name: "bogus", Value: "v"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.spec); got != tt.want {
				t.Errorf("Parse() = %#v; want %#v", got, tt.want)
			}
		})
	}
}

func TestRule_TypeRoundTripsWireName(t *testing.T) {
	for _, name := range []string{"stdout_includes", "stdout_regex", "dom_exists", "dom_text_includes", "no_runtime_errors"} {
		rule := Parse(domain.CheckSpec{Type: name, Value: "x|y"})
		if string(rule.Type()) != name {
			t.Errorf("Parse(%q).Type() = %q", name, rule.Type())
		}
		if rule.Spec().Type != name {
			t.Errorf("Parse(%q).Spec().Type = %q", name, rule.Spec().Type)
		}
	}
}
