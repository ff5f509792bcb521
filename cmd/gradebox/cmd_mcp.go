package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/api"
	mcpserver "github.com/felixgeelhaar/gradebox/internal/mcp"
)

// cmdMCP starts the MCP server for editor integration. It runs the
// services in-process; stdout carries the protocol, so logs go to stderr.
func cmdMCP(args []string) error {
	var httpAddr, userID string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--http", "--user":
			if i+1 >= len(args) {
				return fmt.Errorf("%s needs a value", args[i])
			}
			if args[i] == "--http" {
				httpAddr = args[i+1]
			} else {
				userID = args[i+1]
			}
			i++
		default:
			return fmt.Errorf("unknown mcp argument: %s", args[i])
		}
	}
	if userID == "" {
		userID = defaultUser()
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := api.NewApp(ctx, cfg, api.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Error("close app", "error", err)
		}
	}()

	srv := mcpserver.NewServer(mcpserver.Config{
		Sessions:  app.Sessions,
		Exercises: app.Exercises,
		UserID:    userID,
		Version:   Version,
	})

	if httpAddr != "" {
		err = srv.ServeHTTP(ctx, httpAddr)
	} else {
		err = srv.ServeStdio(ctx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
