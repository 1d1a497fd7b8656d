package main

import (
	"context"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hegemony-server/internal/auth"
	"hegemony-server/internal/cache"
	"hegemony-server/internal/command"
	"hegemony-server/internal/edge"
	"hegemony-server/internal/engine"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	"hegemony-server/internal/middleware"
	"hegemony-server/internal/relation"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/seed"
	"hegemony-server/internal/server"
	"hegemony-server/internal/shared/config"
	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/logger"
	"hegemony-server/internal/shared/metrics"
	"hegemony-server/internal/shared/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logging, cfg.Server.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := slog.With("component", "main")
	logger.Info("Starting hegemony server",
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
	)

	if cfg.Metrics.Enabled {
		shutdownMetrics, err := metrics.InitProvider(cfg.Metrics.ServiceName)
		if err != nil {
			return errors.WrapInternal("failed to initialize metrics", err)
		}
		defer func() {
			if err := shutdownMetrics(context.Background()); err != nil {
				logger.Warn("Metrics shutdown failed", "error", err)
			}
		}()
	}
	m := metrics.Default()

	db, err := database.Connect(cfg)
	if err != nil {
		return errors.WrapExternal("failed to connect to database", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		return errors.WrapInternal("failed to run migrations", err)
	}

	shared, closeShared, err := sharedTier(cfg)
	if err != nil {
		return err
	}
	defer closeShared()

	c := cache.New(shared, cache.Options{LocalSize: cfg.Cache.LocalSize, LocalTTL: cfg.Cache.LocalTTL}, slog.Default())

	scenarios := scenario.NewRegistry(slog.Default())
	resources := scenario.NewResourceRegistry()
	loader := scenario.NewLoader(scenarios, resources, slog.Default())

	var source fs.FS = scenario.Builtin()
	if cfg.Scenario.Dir != "" {
		source = os.DirFS(cfg.Scenario.Dir)
	}
	if _, err := loader.LoadFS(source); err != nil {
		return err
	}

	entities := entity.NewRepository(db, slog.Default())
	edges := edge.NewRepository(db, slog.Default())
	documents := relation.NewRepository(db, scenarios, slog.Default())
	states := gamesystem.NewRepository(db, slog.Default())

	eng := engine.New(engine.Deps{
		Cache:     c,
		Scenarios: scenarios,
		Resources: resources,
		Entities:  entities,
		States:    states,
		Metrics:   m,
		Logger:    slog.Default(),
	})
	if err := command.Register(eng.Actions(), eng.Systems()); err != nil {
		return err
	}

	flusher := engine.NewFlusher(c, entities, states, cfg.Cache.FlushConcurrency, m, slog.Default())
	seeder := seed.NewService(db, entities, edges, documents, scenarios, slog.Default())

	for _, id := range scenarios.IDs() {
		if cfg.Scenario.SeedOnStart {
			if _, err := seeder.SeedIfEmpty(ctx, id); err != nil {
				return err
			}
		}
		if cfg.Scenario.WarmOnStart {
			if _, err := eng.Warm(ctx, id); err != nil {
				return err
			}
		}
	}

	if cfg.Scenario.Dir != "" && cfg.Scenario.WatchInterval > 0 {
		watcher := scenario.NewWatcher(cfg.Scenario.Dir, loader, slog.Default(),
			scenario.WithInterval(cfg.Scenario.WatchInterval),
			scenario.WithReloadHook(func(ids []string) {
				if !cfg.Scenario.WarmOnStart {
					return
				}
				for _, id := range ids {
					if _, err := eng.Warm(ctx, id); err != nil {
						logger.Warn("Warm after scenario reload failed", "scenario", id, "error", err)
					}
				}
			}),
		)
		defer watcher.Stop()
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return errors.WrapInternal("failed to configure tokens", err)
	}

	routes := server.NewRoutes(server.Deps{
		DB:            db,
		Cache:         shared,
		Engine:        eng,
		Flusher:       flusher,
		Entities:      entity.NewService(db, entities, edges, scenarios, slog.Default()),
		Scenarios:     scenarios,
		Resources:     resources,
		Loader:        loader,
		Edges:         edges,
		Relations:     relation.NewHelper(documents, scenarios, slog.Default()),
		Seeder:        seeder,
		Auth:          middleware.NewAuth(tokens),
		Source:        source,
		ExposeMetrics: cfg.Metrics.Enabled,
	})

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	defer rateLimiter.Stop()
	cors := middleware.NewCORS(cfg.Frontend)

	handler := metrics.Middleware(m)(cors.Middleware(rateLimiter.Middleware(routes.Setup())))

	flushCtx, cancelFlush := context.WithCancel(context.WithoutCancel(ctx))
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		flusher.Run(flushCtx, cfg.Cache.FlushInterval)
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Hegemony server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var result error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
			result = errors.WrapInternal("http server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}

	// Requests are drained; the flusher writes what is left dirty.
	cancelFlush()
	<-flushDone

	logger.Info("Hegemony server stopped")
	return result
}

// sharedTier picks Redis when it is enabled and the in-process tier
// otherwise.
func sharedTier(cfg *config.Config) (cache.Shared, func(), error) {
	client, err := redis.Connect(cfg.Redis)
	if err != nil {
		return nil, nil, errors.WrapExternal("failed to connect to redis", err)
	}
	if client == nil {
		return cache.NewMemoryShared(cfg.Cache.DirtyMarkerTTL), func() {}, nil
	}

	closeClient := func() {
		if err := client.Close(); err != nil {
			slog.Warn("Redis close failed", "component", "main", "error", err)
		}
	}
	return cache.NewRedisShared(client.Client, cfg.Cache.KeyPrefix, cfg.Cache.DirtyMarkerTTL), closeClient, nil
}
