package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestGradeboxDir(t *testing.T) {
	dir, err := GradeboxDir()
	if err != nil {
		t.Fatalf("GradeboxDir() error = %v", err)
	}
	if filepath.Base(dir) != ".gradebox" {
		t.Errorf("GradeboxDir() = %q, want ending with .gradebox", dir)
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("GradeboxDir() = %q, want absolute path", dir)
	}
}

func TestEnsureGradeboxDir(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	dir, err := EnsureGradeboxDir()
	if err != nil {
		t.Fatalf("EnsureGradeboxDir() error = %v", err)
	}
	if want := filepath.Join(tmpHome, ".gradebox"); dir != want {
		t.Errorf("EnsureGradeboxDir() = %q, want %q", dir, want)
	}
	for _, subdir := range []string{"logs", "exercises"} {
		if _, err := os.Stat(filepath.Join(dir, subdir)); err != nil {
			t.Errorf("EnsureGradeboxDir() should create %s: %v", subdir, err)
		}
	}
}

func TestDefaultLocalConfig(t *testing.T) {
	cfg := DefaultLocalConfig()

	if cfg.Daemon.Port != 7433 || cfg.Daemon.Bind != "127.0.0.1" || cfg.Daemon.LogLevel != "info" {
		t.Errorf("Daemon = %+v", cfg.Daemon)
	}
	if cfg.Sandbox.Backend != "goja" {
		t.Errorf("Sandbox.Backend = %q, want goja", cfg.Sandbox.Backend)
	}
	if cfg.Sandbox.Timeout != 10*time.Second {
		t.Errorf("Sandbox.Timeout = %v, want 10s", cfg.Sandbox.Timeout)
	}
	if cfg.Sandbox.Settle != 100*time.Millisecond {
		t.Errorf("Sandbox.Settle = %v, want 100ms", cfg.Sandbox.Settle)
	}
	if cfg.Ledger.SaveDebounce != 300*time.Millisecond {
		t.Errorf("Ledger.SaveDebounce = %v, want 300ms", cfg.Ledger.SaveDebounce)
	}
	if !cfg.Grading.FailOnTimeout {
		t.Error("Grading.FailOnTimeout = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadLocalConfigFrom(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
daemon:
  port: 9000
sandbox:
  backend: docker
  timeout: 5s
  docker:
    image: node:22-alpine
storage:
  sqlite_path: data/progress.db
`)
	writeFile(t, filepath.Join(dir, "secrets.yaml"), "tokens:\n  abc123: alice\n")

	cfg, err := LoadLocalConfigFrom(dir)
	if err != nil {
		t.Fatalf("LoadLocalConfigFrom() error = %v", err)
	}

	if cfg.Daemon.Port != 9000 {
		t.Errorf("Daemon.Port = %d, want 9000", cfg.Daemon.Port)
	}
	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Daemon.Bind = %q, want default kept", cfg.Daemon.Bind)
	}
	if cfg.Sandbox.Backend != "docker" || cfg.Sandbox.Timeout != 5*time.Second {
		t.Errorf("Sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Sandbox.Docker.Image != "node:22-alpine" || cfg.Sandbox.Docker.MemoryMB != 128 {
		t.Errorf("Sandbox.Docker = %+v", cfg.Sandbox.Docker)
	}
	if want := filepath.Join(dir, "data/progress.db"); cfg.Storage.SQLitePath != want {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, want)
	}
	if cfg.Auth.Tokens["abc123"] != "alice" {
		t.Errorf("Auth.Tokens = %v, want abc123 -> alice", cfg.Auth.Tokens)
	}
}

func TestLoadLocalConfigFrom_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadLocalConfigFrom(dir)
	if err != nil {
		t.Fatalf("LoadLocalConfigFrom() error = %v", err)
	}
	if cfg.Daemon.Port != DefaultLocalConfig().Daemon.Port {
		t.Errorf("Daemon.Port = %d, want default", cfg.Daemon.Port)
	}
}

func TestLoadLocalConfigFrom_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "daemon: [not, a, map")

	if _, err := LoadLocalConfigFrom(dir); err == nil {
		t.Error("LoadLocalConfigFrom() error = nil, want parse error")
	}
}

func TestSaveLocalConfig_OmitsTokens(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultLocalConfig()
	cfg.Auth.Tokens = map[string]string{"secret": "bob"}
	if err := SaveLocalConfig(cfg); err != nil {
		t.Fatalf("SaveLocalConfig() error = %v", err)
	}
	if err := SaveSecrets(cfg.Auth.Tokens); err != nil {
		t.Fatalf("SaveSecrets() error = %v", err)
	}

	dir, _ := GradeboxDir()
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if auth, _ := raw["auth"].(map[string]any); auth["tokens"] != nil {
		t.Errorf("config.yaml holds tokens: %v", auth)
	}

	info, err := os.Stat(filepath.Join(dir, "secrets.yaml"))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("secrets.yaml perm = %o, want 600", perm)
	}

	loaded, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if loaded.Auth.Tokens["secret"] != "bob" {
		t.Errorf("Auth.Tokens = %v after round trip", loaded.Auth.Tokens)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestResolveExercisePaths(t *testing.T) {
	dir := t.TempDir()
	existing := t.TempDir()

	cfg := DefaultLocalConfig()
	cfg.Exercises.Paths = []string{"no-such-exercises-dir", existing}
	cfg.ResolveExercisePaths(dir)

	if want := filepath.Join(dir, "no-such-exercises-dir"); cfg.Exercises.Paths[0] != want {
		t.Errorf("Paths[0] = %q, want %q", cfg.Exercises.Paths[0], want)
	}
	if cfg.Exercises.Paths[1] != existing {
		t.Errorf("Paths[1] = %q, want %q", cfg.Exercises.Paths[1], existing)
	}
}
