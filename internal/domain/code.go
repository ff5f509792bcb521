package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code is learner source. It is either a single pre-assembled document
// (Document) or a multi-file html/css/js triple.
type Code struct {
	Document string `json:"document,omitempty" yaml:"document,omitempty"`
	HTML     string `json:"html,omitempty" yaml:"html,omitempty"`
	CSS      string `json:"css,omitempty" yaml:"css,omitempty"`
	JS       string `json:"js,omitempty" yaml:"js,omitempty"`
}

// SingleDocument wraps a pre-assembled document.
func SingleDocument(doc string) Code {
	return Code{Document: doc}
}

// IsMultiFile reports whether the code is an html/css/js triple.
func (c Code) IsMultiFile() bool {
	return c.Document == ""
}

// IsEmpty reports whether no source was supplied at all.
func (c Code) IsEmpty() bool {
	return c.Document == "" && c.HTML == "" && c.CSS == "" && c.JS == ""
}

// MarshalJSON encodes a single document as a bare JSON string and a
// triple as an object, matching the saved_code column format.
func (c Code) MarshalJSON() ([]byte, error) {
	if c.Document != "" {
		return json.Marshal(c.Document)
	}
	type triple Code
	return json.Marshal(triple(c))
}

// UnmarshalJSON accepts either a JSON string or an {html,css,js} object.
func (c *Code) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = Code{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var doc string
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode code document: %w", err)
		}
		*c = Code{Document: doc}
		return nil
	}
	type triple Code
	var t triple
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("decode code files: %w", err)
	}
	*c = Code(t)
	return nil
}

// StarterFile is one entry of a multi-file starter template.
type StarterFile struct {
	Name     string `json:"name" yaml:"name"`
	Language string `json:"language" yaml:"language"`
	Content  string `json:"content" yaml:"content"`
}

// CodeFromFiles folds starter files into a Code triple by language, falling
// back to the file extension.
func CodeFromFiles(files []StarterFile) Code {
	var c Code
	for _, f := range files {
		lang := strings.ToLower(f.Language)
		if lang == "" {
			if i := strings.LastIndex(f.Name, "."); i >= 0 {
				lang = strings.ToLower(f.Name[i+1:])
			}
		}
		switch lang {
		case "html", "htm":
			c.HTML += f.Content
		case "css":
			c.CSS += f.Content
		case "js", "javascript":
			c.JS += f.Content
		}
	}
	return c
}

// ParseStarterCode decodes a stored starter template: a bare string, a
// {"files": [...]} list, or an {html,css,js} object.
func ParseStarterCode(data []byte) (Code, error) {
	var withFiles struct {
		Files []StarterFile `json:"files"`
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &withFiles); err == nil && len(withFiles.Files) > 0 {
			return CodeFromFiles(withFiles.Files), nil
		}
	}
	var c Code
	if err := c.UnmarshalJSON(data); err != nil {
		return Code{}, err
	}
	return c, nil
}
