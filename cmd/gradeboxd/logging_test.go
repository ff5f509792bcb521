package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestTeeHandler(t *testing.T) {
	var file, console bytes.Buffer
	logger := slog.New(newTeeHandler(slog.LevelInfo, &file, &console)).With("component", "test")

	logger.Debug("hidden")
	logger.Info("graded", "exercise_id", "js-basics/basics/hello-console")

	var rec map[string]any
	if err := json.Unmarshal(file.Bytes(), &rec); err != nil {
		t.Fatalf("file output is not one JSON record: %v (%q)", err, file.String())
	}
	if rec["msg"] != "graded" || rec["component"] != "test" {
		t.Errorf("file record = %v", rec)
	}
	if !strings.Contains(console.String(), "exercise_id=js-basics/basics/hello-console") {
		t.Errorf("console = %q; want the text record", console.String())
	}
	if strings.Contains(file.String()+console.String(), "hidden") {
		t.Error("debug record written at info level")
	}
}
