// Package main is the entrypoint for the ocrflow API server.
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

	"github.com/robfig/cron/v3"

	"github.com/kiranshivaraju/ocrflow/internal/api"
	"github.com/kiranshivaraju/ocrflow/internal/api/handler"
	mw "github.com/kiranshivaraju/ocrflow/internal/api/middleware"
	"github.com/kiranshivaraju/ocrflow/internal/breaker"
	"github.com/kiranshivaraju/ocrflow/internal/cache"
	"github.com/kiranshivaraju/ocrflow/internal/config"
	"github.com/kiranshivaraju/ocrflow/internal/document"
	"github.com/kiranshivaraju/ocrflow/internal/orchestrator"
	"github.com/kiranshivaraju/ocrflow/internal/output"
	"github.com/kiranshivaraju/ocrflow/internal/provider/factory"
	"github.com/kiranshivaraju/ocrflow/internal/retry"
	"github.com/kiranshivaraju/ocrflow/internal/splitter"
	"github.com/kiranshivaraju/ocrflow/internal/store"
	"github.com/kiranshivaraju/ocrflow/internal/task"
)

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
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"database", cfg.Database.Driver,
		"cache", cfg.Cache.Backend,
		"correction", cfg.Pipeline.CorrectionProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the task store
	taskStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer taskStore.Close()
	slog.Info("database ready", "driver", cfg.Database.Driver)

	// 3. Open the page cache
	cacheStore, err := openCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	if cacheStore != nil {
		defer cacheStore.Close()
	}

	// 4. Build providers
	providers, err := factory.New(ctx, cfg.Providers, cfg.Pipeline)
	if err != nil {
		return fmt.Errorf("create providers: %w", err)
	}
	slog.Info("providers initialized", "ocr", providers.Names())

	breakers := breaker.NewRegistry(breakerConfig(cfg.Breaker))

	sink, err := output.NewFileSink(cfg.Storage.OutputDir)
	if err != nil {
		return fmt.Errorf("create output sink: %w", err)
	}
	converter := document.NewRouter(cfg.Storage.TempDir)

	// 5. Create the orchestrator and bring back persisted tasks
	orch := orchestrator.New(orchestratorConfig(cfg), orchestrator.Dependencies{
		Providers: providers,
		Breakers:  breakers,
		Retry:     retryPolicy(cfg.Retry),
		Cache:     cache.NewResolver(cacheStore),
		Converter: converter,
		Sink:      sink,
		Store:     taskStore,
	})
	restored, err := orch.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore tasks: %w", err)
	}
	slog.Info("tasks restored", "count", restored)

	// 6. Schedule cache eviction and task retention
	scheduler := cron.New()
	if cacheStore != nil {
		if err := cache.NewJanitor(cacheStore, evictPolicy(cfg.Cache)).Register(scheduler, cfg.Cache.Schedule); err != nil {
			return fmt.Errorf("schedule cache janitor: %w", err)
		}
	}
	if err := orch.RegisterReaper(scheduler, cfg.Pipeline.ReaperSchedule); err != nil {
		return fmt.Errorf("schedule task reaper: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// 7. Build router with dependencies
	deps := api.Dependencies{
		HealthHandler:    handler.NewHealthHandler(pingers(taskStore, cacheStore)),
		ProvidersHandler: handler.NewProvidersHandler(providers, breakers),
		UploadHandler: handler.NewUploadHandler(handler.UploadConfig{
			Dir:       cfg.Storage.UploadDir,
			MaxBytes:  cfg.Server.MaxUploadBytes,
			Supported: converter.Supported,
		}),
		AnalysisHandler:   handler.NewAnalysisHandler(orch),
		SubmitHandler:     handler.NewSubmitHandler(orch),
		ListTasksHandler:  handler.NewListTasksHandler(orch),
		GetTaskHandler:    handler.NewGetTaskHandler(orch),
		StreamHandler:     handler.NewStreamHandler(orch),
		CancelHandler:     handler.NewCancelHandler(orch),
		ResumeHandler:     handler.NewResumeHandler(orch),
		DeleteTaskHandler: handler.NewDeleteTaskHandler(orch),
		OutputHandler:     handler.NewOutputHandler(orch, sink),
	}
	if cacheStore != nil {
		deps.CacheStatsHandler = handler.NewCacheStatsHandler(cacheStore)
		deps.CacheCleanupHandler = handler.NewCacheCleanupHandler(cacheStore, evictPolicy(cfg.Cache))
		deps.CacheClearHandler = handler.NewCacheClearHandler(cacheStore)
	}
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter, err := cache.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
		defer limiter.Close()
		deps.RateLimit = mw.NewRateLimit(limiter, cfg.Server.RateLimitPerMinute)
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 60 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("orchestrator shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openCache returns the configured cache backend, or nil when caching is
// disabled.
func openCache(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "none":
		slog.Info("page cache disabled")
		return nil, nil
	case "redis":
		rs, err := cache.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, err
		}
		slog.Info("redis cache connected")
		return rs, nil
	default:
		bs, err := cache.OpenBadger(cfg.Cache.Dir)
		if err != nil {
			return nil, err
		}
		slog.Info("badger cache opened", "dir", cfg.Cache.Dir)
		return bs, nil
	}
}

func pingers(s store.Store, c cache.Store) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"database": s}
	if c != nil {
		checks["cache"] = c
	}
	return checks
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		Parallelism: cfg.Pipeline.Parallelism,
		DPI:         cfg.Pipeline.DPI,
		Language:    cfg.Pipeline.Language,
		CallTimeout: cfg.Pipeline.CallTimeout,
		Split: splitter.Constraints{
			MaxPagesPerChunk: cfg.Split.PagesPerChunk,
			MinPagesPerChunk: cfg.Split.MinPagesPerChunk,
			MaxChunkBytes:    cfg.Split.MaxChunkBytes,
			MaxMemoryBytes:   cfg.Split.MaxMemoryBytes,
		},
		TaskOptions: task.Options{
			LogCap:         cfg.Pipeline.LogCap,
			LogTrimTo:      cfg.Pipeline.LogTrimTo,
			PollLogEntries: cfg.Pipeline.PollLogEntries,
			Now:            time.Now,
		},
		SourceDir:      cfg.Storage.UploadDir,
		TerminologyDir: cfg.Storage.TerminologyDir,
		Retention:      cfg.Pipeline.Retention,
	}
}

func retryPolicy(rc config.RetryConfig) *retry.Policy {
	return &retry.Policy{
		MaxRetries:      rc.MaxRetries,
		BaseDelay:       rc.BaseDelay,
		MaxDelay:        rc.MaxDelay,
		Multiplier:      rc.Multiplier,
		JitterFraction:  rc.Jitter,
		RateLimitFactor: rc.RateLimitFactor,
	}
}

func breakerConfig(bc config.BreakerConfig) breaker.Config {
	return breaker.Config{
		FailureThreshold: bc.FailureThreshold,
		Cooldown:         bc.Cooldown,
		CooldownFactor:   bc.CooldownFactor,
		MaxCooldown:      bc.MaxCooldown,
	}
}

func evictPolicy(cc config.CacheConfig) cache.EvictPolicy {
	return cache.EvictPolicy{
		MaxAge:         cc.MaxAge,
		MaxSizeBytes:   cc.MaxSizeBytes,
		MaxEntries:     cc.MaxEntries,
		PreserveRecent: cc.PreserveRecent,
	}
}
