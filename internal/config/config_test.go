package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("GRADEBOX_DAEMON_PORT", "8181")
	t.Setenv("GRADEBOX_DAEMON_LOG_LEVEL", "debug")
	t.Setenv("GRADEBOX_SANDBOX_TIMEOUT", "3s")
	t.Setenv("GRADEBOX_SANDBOX_DOCKER_CPU_LIMIT", "1.5")
	t.Setenv("GRADEBOX_GRADING_FAIL_ON_TIMEOUT", "false")
	t.Setenv("GRADEBOX_RATE_LIMIT_RUNS_PER_MINUTE", "5")
	t.Setenv("GRADEBOX_AUTH_TOKENS", "t1:alice,t2:bob")

	cfg := DefaultLocalConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Daemon.Port != 8181 {
		t.Errorf("Daemon.Port = %d, want 8181", cfg.Daemon.Port)
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("Daemon.LogLevel = %q, want debug", cfg.Daemon.LogLevel)
	}
	if cfg.Sandbox.Timeout != 3*time.Second {
		t.Errorf("Sandbox.Timeout = %v, want 3s", cfg.Sandbox.Timeout)
	}
	if cfg.Sandbox.Docker.CPULimit != 1.5 {
		t.Errorf("Sandbox.Docker.CPULimit = %v, want 1.5", cfg.Sandbox.Docker.CPULimit)
	}
	if cfg.Grading.FailOnTimeout {
		t.Error("Grading.FailOnTimeout = true, want false")
	}
	if cfg.RateLimit.RunsPerMinute != 5 {
		t.Errorf("RateLimit.RunsPerMinute = %d, want 5", cfg.RateLimit.RunsPerMinute)
	}
	if cfg.Auth.Tokens["t2"] != "bob" {
		t.Errorf("Auth.Tokens = %v", cfg.Auth.Tokens)
	}

	// Untouched values keep their defaults.
	if cfg.Daemon.Bind != "127.0.0.1" || cfg.Sandbox.Settle != 100*time.Millisecond {
		t.Errorf("defaults overwritten: %+v %+v", cfg.Daemon, cfg.Sandbox)
	}
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	t.Setenv("GRADEBOX_DAEMON_PORT", "not-a-number")

	if err := ApplyEnv(DefaultLocalConfig()); err == nil {
		t.Error("ApplyEnv() error = nil, want parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LocalConfig)
		wantErr string
	}{
		{"defaults", func(*LocalConfig) {}, ""},
		{"bad log level", func(c *LocalConfig) { c.Daemon.LogLevel = "loud" }, "daemon.log_level"},
		{"bad port", func(c *LocalConfig) { c.Daemon.Port = 0 }, "daemon.port"},
		{"bad driver", func(c *LocalConfig) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres without url", func(c *LocalConfig) { c.Storage.Driver = "postgres" }, "database_url"},
		{"bad backend", func(c *LocalConfig) { c.Sandbox.Backend = "wasm" }, "sandbox.backend"},
		{"token mode without tokens", func(c *LocalConfig) { c.Auth.Mode = "token" }, "tokens"},
		{"token mode with tokens", func(c *LocalConfig) {
			c.Auth.Mode = "token"
			c.Auth.Tokens = map[string]string{"t": "u"}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultLocalConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "daemon:\n  port: 9100\n")
	t.Setenv("GRADEBOX_DAEMON_BIND", "0.0.0.0")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Addr(); got != "0.0.0.0:9100" {
		t.Errorf("Addr() = %q, want 0.0.0.0:9100", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	writeFile(t, envFile, "GRADEBOX_TEST_DOTENV=from-file\n")
	t.Cleanup(func() { os.Unsetenv("GRADEBOX_TEST_DOTENV") })

	if err := LoadDotEnv(envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("GRADEBOX_TEST_DOTENV"); got != "from-file" {
		t.Errorf("GRADEBOX_TEST_DOTENV = %q, want from-file", got)
	}
}
