// Package main is the entrypoint for the lexguard moderation-engine server.
package main

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

	"github.com/joho/godotenv"
	"github.com/wordsmithlab/lexguard/internal/api"
	"github.com/wordsmithlab/lexguard/internal/api/handler"
	mw "github.com/wordsmithlab/lexguard/internal/api/middleware"
	"github.com/wordsmithlab/lexguard/internal/api/response"
	"github.com/wordsmithlab/lexguard/internal/cache"
	"github.com/wordsmithlab/lexguard/internal/config"
	"github.com/wordsmithlab/lexguard/internal/engine"
	"github.com/wordsmithlab/lexguard/internal/invoke"
	"github.com/wordsmithlab/lexguard/internal/provider"
	"github.com/wordsmithlab/lexguard/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A local .env file is a convenience; its absence is not an error.
	_ = godotenv.Load()

	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env,
		"scheduler_enabled", cfg.Scheduler.Enabled,
		"max_chain_depth", cfg.Engine.MaxChainDepth)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create provider client and store
	providerClient := provider.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
	pgStore := store.NewPostgresStore(pool)

	// 6. Create the engine. The chain invoker posts back to this service's
	// own run endpoint; its client timeout must outlast a full invocation.
	invoker := invoke.NewHTTPInvoker(cfg.Engine.SelfURL, cfg.Engine.APIKey,
		cfg.Engine.InvocationTimeout+time.Minute)
	eng := engine.New(pgStore, providerClient, redisCache, invoker, cfg.Engine)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.RateLimit.PerMinute)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:    healthHandler(pgStore, redisCache),
		RunEngineHandler: handler.NewRunHandler(eng),
		GetJobHandler:    handler.NewGetJobHandler(pgStore, redisCache),
	}

	router := api.NewRouter(deps)

	// 8. Start the internal scheduler
	if cfg.Scheduler.Enabled {
		go runScheduler(ctx, eng, cfg.Scheduler.Interval)
	}

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Engine.InvocationTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runScheduler invokes the engine at a fixed interval until ctx is
// cancelled. Runs execute synchronously in the loop, so a long invocation
// simply delays the next tick instead of overlapping it — overlap is safe
// regardless, but there is no point racing the process against itself.
func runScheduler(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	slog.Info("scheduler started", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			report := eng.Run(ctx, 0)
			if len(report.Stats.PhaseErrors) > 0 {
				slog.Warn("scheduled run finished with phase errors",
					"errors", report.Stats.PhaseErrors)
			}
		}
	}
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
