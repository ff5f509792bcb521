package domain

import "testing"

func TestRunContext_Stdout(t *testing.T) {
	tests := []struct {
		name  string
		lines []OutputLine
		want  string
	}{
		{"empty", nil, ""},
		{"single", []OutputLine{{Text: "Hello", Kind: OutputStdout}}, "Hello"},
		{
			"joins in order",
			[]OutputLine{{Text: "Hello", Kind: OutputStdout}, {Text: "World", Kind: OutputStdout}},
			"Hello\nWorld",
		},
		{
			"skips errors",
			[]OutputLine{
				{Text: "a", Kind: OutputStdout},
				{Text: "boom", Kind: OutputError},
				{Text: "b", Kind: OutputStdout},
			},
			"a\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := RunContext{Lines: tt.lines}
			if got := rc.Stdout(); got != tt.want {
				t.Errorf("Stdout() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestDOMSnapshot_HTML(t *testing.T) {
	snap := DOMSnapshot{"html": "<p>hi</p>"}
	html, ok := snap.HTML()
	if !ok || html != "<p>hi</p>" {
		t.Errorf("HTML() = %q, %v; want %q, true", html, ok, "<p>hi</p>")
	}

	if _, ok := (DOMSnapshot{"#app": true}).HTML(); ok {
		t.Error("HTML() ok = true for keyed snapshot; want false")
	}
}
