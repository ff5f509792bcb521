package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. GRADEBOX_DAEMON_PORT.
const EnvPrefix = "GRADEBOX"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads .env (if present), the YAML config in dir and then the
// GRADEBOX_ environment overrides. An empty dir means ~/.gradebox.
func Load(dir string) (*LocalConfig, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	var (
		cfg *LocalConfig
		err error
	)
	if dir == "" {
		cfg, err = LoadLocalConfig()
	} else {
		cfg, err = LoadLocalConfigFrom(dir)
	}
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads ./.env into the process environment. A missing file is
// not an error; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with any GRADEBOX_ variables that are set.
// Unset variables leave the loaded values alone.
func ApplyEnv(cfg *LocalConfig) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("process env: %w", err)
	}
	return nil
}

// Validate checks the enumerated settings.
func (c *LocalConfig) Validate() error {
	var problems []string

	if !oneOf(c.Daemon.LogLevel, "debug", "info", "warn", "error") {
		problems = append(problems, fmt.Sprintf("daemon.log_level %q", c.Daemon.LogLevel))
	}
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		problems = append(problems, fmt.Sprintf("daemon.port %d", c.Daemon.Port))
	}
	if !oneOf(c.Storage.Driver, "sqlite", "postgres", "file", "memory") {
		problems = append(problems, fmt.Sprintf("storage.driver %q", c.Storage.Driver))
	}
	if c.Storage.Driver == "postgres" && c.Storage.DatabaseURL == "" {
		problems = append(problems, "storage.database_url required for postgres")
	}
	if c.Exercises.FromDatabase && c.Storage.DatabaseURL == "" {
		problems = append(problems, "storage.database_url required for exercises.from_database")
	}
	if !oneOf(c.Sandbox.Backend, "goja", "docker") {
		problems = append(problems, fmt.Sprintf("sandbox.backend %q", c.Sandbox.Backend))
	}
	if c.Sandbox.Timeout < 0 || c.Sandbox.Settle < 0 {
		problems = append(problems, "sandbox durations must not be negative")
	}
	if !oneOf(c.Auth.Mode, "header", "token") {
		problems = append(problems, fmt.Sprintf("auth.mode %q", c.Auth.Mode))
	}
	if c.Auth.Mode == "token" && len(c.Auth.Tokens) == 0 {
		problems = append(problems, "auth.mode token needs tokens in secrets.yaml")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Addr returns the daemon listen address.
func (c *LocalConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Daemon.Bind, c.Daemon.Port)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
