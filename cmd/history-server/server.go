package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/history/internal/app"
	"github.com/ehr/history/internal/config"
	"github.com/ehr/history/internal/legacy"
	"github.com/ehr/history/internal/platform/clock"
	"github.com/ehr/history/internal/platform/db"
	"github.com/ehr/history/internal/platform/middleware"
	"github.com/ehr/history/internal/platform/store"
	"github.com/ehr/history/internal/platform/telemetry"
	"github.com/ehr/history/internal/platform/websocket"
)

const version = "0.1.0"

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// openStore opens the configured key-value store. health is non-nil for
// drivers with their own health check.
func openStore(ctx context.Context, cfg *config.Config) (s store.Store, health echo.HandlerFunc, err error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		s, err = store.OpenSQLite(ctx, cfg.SQLitePath)
		return s, nil, err
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate key-value store: %w", err)
		}
		return store.NewPostgres(pool, pool.Close), db.HealthHandler(pool), nil
	case config.StoreMemory:
		return store.NewMemory(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg, os.Stdout)
	ctx := context.Background()

	kv, health, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("key-value store ready")

	var opts []legacy.Option
	if cfg.LegacySessionCookie != "" {
		opts = append(opts, legacy.WithHeader("Cookie", cfg.LegacySessionCookie))
	}
	client := legacy.NewClient(cfg.LegacyBaseURL, cfg.LegacyTimeout, logger, opts...)

	policy := cfg.RetryPolicy()
	hub := websocket.NewHub(logger)
	a := app.New(ctx, app.Options{
		Store:             kv,
		Fetch:             client.Fetch,
		Hub:               hub,
		Metrics:           telemetry.New(),
		Logger:            logger,
		Scheduler:         clock.Real(),
		Policy:            &policy,
		Debounce:          cfg.FilterDebounce,
		AutoLoad:          cfg.AutoLoad,
		TimelineStartDate: cfg.TimelineStartDate,
	})
	defer a.Close()

	if cfg.AutomationRulesFile != "" {
		created, updated, err := a.Automation.ImportFile(ctx, cfg.AutomationRulesFile)
		if err != nil {
			return fmt.Errorf("import automation rules: %w", err)
		}
		logger.Info().Int("created", created).Int("updated", updated).Str("file", cfg.AutomationRulesFile).Msg("automation rules imported")
	}

	e := app.NewServer(a, app.ServerOptions{
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		BodyLimit:   "1M",
		RateLimit:   middleware.DefaultRateLimitConfig(),
		Health:      health,
		Version:     version,
	})

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
