// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/mlindqvist/cryovault/internal/api"
	"github.com/mlindqvist/cryovault/internal/auditindex"
	"github.com/mlindqvist/cryovault/internal/bridge"
	"github.com/mlindqvist/cryovault/internal/executor"
	"github.com/mlindqvist/cryovault/internal/mcpserver"
	"github.com/mlindqvist/cryovault/internal/sse"
	"github.com/mlindqvist/cryovault/internal/store"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize the inventory store.
	st, err := store.New(cfg.Store.Path, store.Options{
		BackupKeep:        cfg.Store.BackupKeep,
		TotalEmptyWarning: cfg.Store.TotalEmptyWarning,
		BoxEmptyWarning:   cfg.Store.BoxEmptyWarning,
		SizeWarningMB:     cfg.Store.SizeWarningMB,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	// Initialize the SQLite audit index.
	db, err := auditindex.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init audit index: %w", err)
	}
	defer db.Close()

	// Run initial sync.
	if err := auditindex.Sync(db, st, logger); err != nil {
		logger.Warn("initial audit sync failed", slog.String("error", err.Error()))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)

	// Build engine, plan runner, and router.
	eng := bridge.NewEngine(st, logger)
	runner := executor.NewRunner(st, logger)
	h := api.NewHandler(st, eng, runner, db)
	apiRouter := api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// SSE endpoint.
	r.Get("/api/events", broker.ServeHTTP)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start audit log watcher with SSE callback.
	g.Go(func() error {
		err := auditindex.Watch(gCtx, db, st, logger, func(indexed int) {
			rows, rErr := db.Recent(indexed)
			if rErr != nil {
				logger.Warn("failed to read new audit events", slog.String("error", rErr.Error()))
				return
			}
			// Recent returns newest first; publish in log order.
			for i := len(rows) - 1; i >= 0; i-- {
				broker.PublishAuditEvent(rows[i].Event)
			}
		})
		return err
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		broker.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP stdio server with the given options. Logs go
// to stderr so stdout stays clean for the MCP transport.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	st, err := store.New(cfg.Store.Path, store.Options{
		BackupKeep:        cfg.Store.BackupKeep,
		TotalEmptyWarning: cfg.Store.TotalEmptyWarning,
		BoxEmptyWarning:   cfg.Store.BoxEmptyWarning,
		SizeWarningMB:     cfg.Store.SizeWarningMB,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	db, err := auditindex.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init audit index: %w", err)
	}
	defer db.Close()

	if err := auditindex.Sync(db, st, logger); err != nil {
		logger.Warn("initial audit sync failed", slog.String("error", err.Error()))
	}

	eng := bridge.NewEngine(st, logger)
	runner := executor.NewRunner(st, logger)
	srv := mcpserver.New(st, eng, runner, db, logger)

	logger.Info("MCP server starting on stdio", slog.String("store_path", cfg.Store.Path))
	return srv.ServeStdio()
}
