package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/felixgeelhaar/gradebox/internal/api"
	"github.com/felixgeelhaar/gradebox/internal/config"
	"github.com/felixgeelhaar/gradebox/internal/daemon"
	"github.com/felixgeelhaar/gradebox/internal/queue"
	"github.com/felixgeelhaar/gradebox/internal/session"
)

const (
	pidFileName = "gradeboxd.pid"
	logFileName = "gradeboxd.log"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := config.EnsureGradeboxDir()
	if err != nil {
		return fmt.Errorf("ensure gradebox dir: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ResolveExercisePaths(dir)

	logFile, err := openLog(filepath.Join(dir, "logs", logFileName), parseLogLevel(cfg.Daemon.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	pidPath := filepath.Join(dir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := dialQueue(cfg)
	var notifier session.Notifier
	if conn != nil {
		defer conn.Close()
		notifier = queue.NewProducer(conn)
	}

	app, err := api.NewApp(ctx, cfg, api.Options{Notifier: notifier, Logger: slog.Default()})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			slog.Error("close app", "error", err)
		}
	}()

	if stopWorkers := startWorkers(ctx, conn, app, cfg.Queue.Workers); stopWorkers != nil {
		defer stopWorkers()
	}

	server, err := daemon.NewServer(daemon.ServerConfig{App: app})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("received signal, shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	slog.Info("daemon stopped")
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// dialQueue connects to the broker when workers are configured. Without
// one the daemon grades over HTTP only.
func dialQueue(cfg *config.LocalConfig) *queue.Connection {
	if cfg.Queue.Workers <= 0 || cfg.Queue.RabbitMQURL == "" {
		return nil
	}
	conn, err := queue.NewConnection(cfg.Queue.RabbitMQURL)
	if err != nil {
		slog.Warn("queue unavailable, worker disabled", "error", err)
		return nil
	}
	return conn
}

// startWorkers runs queue consumers over the app's sessions and returns
// the function that stops them, or nil when none started.
func startWorkers(ctx context.Context, conn *queue.Connection, app *api.App, workers int) func() {
	if conn == nil {
		return nil
	}
	consumer := queue.NewConsumer(conn, queue.GradeHandler(app.Sessions), queue.ConsumerConfig{Workers: workers})
	if err := consumer.Start(ctx); err != nil {
		slog.Warn("queue consumer not started", "error", err)
		return nil
	}
	return consumer.Stop
}
