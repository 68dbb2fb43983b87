package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/liveforge-dev/liveforge/internal/config"
	"github.com/liveforge-dev/liveforge/internal/database"
	"github.com/liveforge-dev/liveforge/internal/events"
	"github.com/liveforge-dev/liveforge/internal/filetree"
	"github.com/liveforge-dev/liveforge/internal/generation"
	"github.com/liveforge-dev/liveforge/internal/handler"
	"github.com/liveforge-dev/liveforge/internal/sandbox"
	"github.com/liveforge-dev/liveforge/internal/sandbox/docker"
	"github.com/liveforge-dev/liveforge/internal/store"
	"github.com/liveforge-dev/liveforge/internal/terminal"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	var pol atomic.Pointer[config.Policy]
	pol.Store(policy)

	db, err := database.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	st := store.NewSplit(db.DB, db.Reader())

	provider, err := docker.New(docker.Options{
		Image:       cfg.SandboxImage,
		PreviewPort: cfg.PreviewPort,
		ExecTimeout: policy.ExecTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("init sandbox provider: %w", err)
	}

	tree := filetree.New(provider)
	broker := events.NewBroker()
	executor := generation.NewExecutor(provider, tree,
		func() time.Duration { return pol.Load().ExecTimeout }, logger)
	manager := generation.NewManager(st, provider, executor, broker,
		func() int { return pol.Load().ActionQueueSize }, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Generations persisted as running cannot have survived a restart.
	// Reclassify them before accepting any new work.
	marked, err := manager.MarkStaleOnStartup(ctx)
	if err != nil {
		return fmt.Errorf("mark stale generations: %w", err)
	}
	if marked > 0 {
		logger.Info("marked stale generations from previous run", "count", marked)
	}

	reaper := sandbox.NewReaper(provider,
		func() time.Duration { return pol.Load().SandboxIdleTimeout }, logger)
	reaper.Start(ctx)

	bridge := terminal.NewBridge(provider, logger)

	watcher := config.NewWatcher(cfg.PolicyPath, logger, func(p *config.Policy) {
		pol.Store(p)
		logger.Info("policy reloaded",
			"exec_timeout", p.ExecTimeout,
			"sandbox_idle_timeout", p.SandboxIdleTimeout,
			"action_queue_size", p.ActionQueueSize)
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("policy watcher unavailable, live reload disabled", "error", err)
	}
	defer watcher.Stop()

	h := handler.New(cfg, st, manager, provider, tree, bridge, broker, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Error("generation manager shutdown", "error", err)
	}
	bridge.Close()
	if err := reaper.Shutdown(shutdownCtx); err != nil {
		logger.Error("reaper shutdown", "error", err)
	}
	broker.Close()

	logger.Info("shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
