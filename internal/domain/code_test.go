package domain

import (
	"encoding/json"
	"testing"
)

func TestCode_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Code
	}{
		{"bare string", `"<p>hi</p>"`, Code{Document: "<p>hi</p>"}},
		{"files object", `{"html":"<p></p>","css":"p{}","js":"1"}`, Code{HTML: "<p></p>", CSS: "p{}", JS: "1"}},
		{"null", `null`, Code{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Code
			if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Unmarshal() = %+v; want %+v", got, tt.want)
			}
		})
	}
}

func TestCode_MarshalJSON_SingleDocumentIsString(t *testing.T) {
	data, err := json.Marshal(SingleDocument("<html></html>"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	// encoding/json HTML-escapes marshaler output, so compare the decoded form.
	var doc string
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Marshal() = %s; want a JSON string (%v)", data, err)
	}
	if doc != "<html></html>" {
		t.Errorf("decoded = %q; want the document", doc)
	}
}

func TestCode_IsMultiFile(t *testing.T) {
	if SingleDocument("x").IsMultiFile() {
		t.Error("single document reported as multi-file")
	}
	if !(Code{JS: "1"}).IsMultiFile() {
		t.Error("js triple not reported as multi-file")
	}
	if !(Code{}).IsEmpty() {
		t.Error("zero Code not empty")
	}
}

func TestCodeFromFiles(t *testing.T) {
	got := CodeFromFiles([]StarterFile{
		{Name: "index.html", Content: "<div id=app></div>"},
		{Name: "style.css", Language: "css", Content: "div{}"},
		{Name: "main.js", Language: "javascript", Content: "go()"},
		{Name: "README.md", Content: "ignored"},
	})
	want := Code{HTML: "<div id=app></div>", CSS: "div{}", JS: "go()"}
	if got != want {
		t.Errorf("CodeFromFiles() = %+v; want %+v", got, want)
	}
}

func TestParseStarterCode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Code
	}{
		{"string", `"console.log(1)"`, Code{Document: "console.log(1)"}},
		{"files", `{"files":[{"name":"index.html","language":"html","content":"<p></p>"},{"name":"app.js","language":"javascript","content":"go()"}]}`, Code{HTML: "<p></p>", JS: "go()"}},
		{"triple", `{"html":"<b></b>","css":"b{}"}`, Code{HTML: "<b></b>", CSS: "b{}"}},
		{"null", `null`, Code{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStarterCode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseStarterCode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseStarterCode() = %+v; want %+v", got, tt.want)
			}
		})
	}
}
