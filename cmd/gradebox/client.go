package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/user"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/api"
	"github.com/felixgeelhaar/gradebox/internal/auth"
	"github.com/felixgeelhaar/gradebox/internal/config"
	"github.com/felixgeelhaar/gradebox/internal/daemon"
)

// loadConfig loads ~/.gradebox/config.yaml with environment overrides.
func loadConfig() (*config.LocalConfig, string, error) {
	dir, err := config.EnsureGradeboxDir()
	if err != nil {
		return nil, "", fmt.Errorf("setup gradebox directory: %w", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	cfg.ResolveExercisePaths(dir)
	return cfg, dir, nil
}

func daemonURL(cfg *config.LocalConfig) string {
	return "http://" + cfg.Addr()
}

// isRunning checks if the daemon is running by calling the health endpoint
func isRunning(cfg *config.LocalConfig) bool {
	c := &http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(daemonURL(cfg) + "/v1/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// defaultUser is $GRADEBOX_USER, else the login name.
func defaultUser() string {
	if id := os.Getenv("GRADEBOX_USER"); id != "" {
		return id
	}
	if u, err := user.Current(); err == nil && auth.ValidUserID(u.Username) {
		return u.Username
	}
	return "local"
}

// client talks to the daemon, or to an in-process server when no daemon
// is running.
type client struct {
	baseURL string
	http    *http.Client
	userID  string
	token   string
	local   bool
	closeFn func() error
}

func newClient(userID string) (*client, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = defaultUser()
	}

	if isRunning(cfg) {
		return &client{
			baseURL: daemonURL(cfg),
			http:    &http.Client{Timeout: cfg.Sandbox.Timeout + 30*time.Second},
			userID:  userID,
			token:   os.Getenv("GRADEBOX_TOKEN"),
			closeFn: func() error { return nil },
		}, nil
	}

	// Warnings only, so command output stays readable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	app, err := api.NewApp(context.Background(), cfg, api.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	srv, err := daemon.NewServer(daemon.ServerConfig{App: app, Provider: auth.StaticProvider(userID)})
	if err != nil {
		app.Close(context.Background())
		return nil, err
	}

	return &client{
		baseURL: "http://gradebox.local",
		http:    &http.Client{Transport: handlerTransport{srv.Handler()}},
		userID:  userID,
		local:   true,
		closeFn: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
			return app.Close(ctx)
		},
	}, nil
}

func (c *client) Close() error {
	return c.closeFn()
}

// do sends a JSON request and decodes the response into out. Error bodies
// become Go errors carrying the API message.
func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.UserHeader, c.userID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == nil {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return apiErr.Error
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// handlerTransport serves requests with an in-process handler.
type handlerTransport struct {
	h http.Handler
}

func (t handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil {
		req = req.Clone(req.Context())
		req.Body = http.NoBody
	}
	rec := httptest.NewRecorder()
	t.h.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}
