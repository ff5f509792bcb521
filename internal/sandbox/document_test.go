package sandbox

import (
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/dom"
	"github.com/felixgeelhaar/gradebox/internal/domain"
)

func TestBuildDocument(t *testing.T) {
	code := domain.Code{
		HTML: `<div id="app"></div>`,
		CSS:  `#app { color: red; }`,
		JS:   `console.log("hi")`,
	}
	doc := BuildDocument(code, "gradebox://host/abc")

	for _, want := range []string{
		`<style>#app { color: red; }</style>`,
		`<div id="app"></div>`,
		`var origin = 'gradebox://host/abc';`,
		`'WARN: '`,
		`'INFO: '`,
		`'Unhandled promise rejection: '`,
		`send('ready');`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("BuildDocument() missing %q", want)
		}
	}

	parsed, err := dom.Parse(doc)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	scripts := parsed.Scripts()
	if len(scripts) != 2 {
		t.Fatalf("Scripts() = %d scripts; want 2", len(scripts))
	}
	if scripts[0].Name != "harness.js" {
		t.Errorf("Scripts()[0].Name = %q; want %q", scripts[0].Name, "harness.js")
	}
	if scripts[1].Name != LearnerScriptName {
		t.Errorf("Scripts()[1].Name = %q; want %q", scripts[1].Name, LearnerScriptName)
	}
	if !strings.Contains(scripts[1].Source, `console.log("hi")`) {
		t.Errorf("learner script = %q; want it to hold the learner js", scripts[1].Source)
	}

	if _, found, _ := parsed.QuerySelector("#app"); !found {
		t.Error("learner html not in body")
	}
}

func TestBuildDocument_LearnerLineOffset(t *testing.T) {
	parsed, err := dom.Parse(BuildDocument(domain.Code{JS: "FIRST_LEARNER_LINE"}, "gradebox://host/x"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	scripts := parsed.Scripts()
	lines := strings.Split(scripts[len(scripts)-1].Source, "\n")
	if len(lines) <= learnerLineOffset || lines[learnerLineOffset] != "FIRST_LEARNER_LINE" {
		t.Errorf("learner script lines = %q; want learner code at index %d", lines, learnerLineOffset)
	}
}

func TestAssemble_SingleDocumentUsedAsIs(t *testing.T) {
	src := "<p>untouched</p>"
	if got := Assemble(domain.SingleDocument(src), "gradebox://host/x"); got != src {
		t.Errorf("Assemble() = %q; want %q", got, src)
	}
}

func TestTimeoutMessage(t *testing.T) {
	if got := TimeoutMessage(DefaultTimeout); got != "Execution timeout: Code execution exceeded 10 seconds" {
		t.Errorf("TimeoutMessage(10s) = %q", got)
	}
	if got := TimeoutMessage(250 * time.Millisecond); got != "Execution timeout: Code execution exceeded 250ms" {
		t.Errorf("TimeoutMessage(250ms) = %q", got)
	}
}
