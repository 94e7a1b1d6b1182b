// Package app wires the engine together: store, credential resolver,
// rate limiter, registries, scheduler and admin server.
package app

import (
	"context"
	"time"

	"area-engine/internal/actions"
	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/httpclient"
	"area-engine/internal/common/logging"
	"area-engine/internal/config"
	"area-engine/internal/credentials"
	"area-engine/internal/handlers"
	"area-engine/internal/ratelimit"
	"area-engine/internal/reactions"
	"area-engine/internal/scheduler"
	"area-engine/internal/server"
	"area-engine/internal/state"
	"area-engine/internal/store"
	"area-engine/internal/store/memory"
	"area-engine/internal/store/sqlite"
)

// App holds the assembled engine.
type App struct {
	cfg       *config.Config
	store     store.Store
	cache     *credentials.RedisCache
	scheduler *scheduler.Scheduler
	server    *server.Server
	logger    logging.Logger
}

// New assembles the engine from configuration.
func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	var st store.Store
	var err error
	switch cfg.DatabaseType {
	case "sqlite":
		st, err = sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
	default:
		st = memory.New()
	}
	logger.Info("store initialized", logging.String("type", cfg.DatabaseType))

	var cache *credentials.RedisCache
	var resolverCache credentials.Cache
	if cfg.RedisAddress != "" {
		cache, err = credentials.NewRedisCache(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		resolverCache = cache
		logger.Info("credential cache enabled", logging.String("address", cfg.RedisAddress))
	}

	providerClient := httpclient.New(httpclient.WithTimeout(cfg.ProviderTimeout)).
		WithBreaker(circuitbreaker.New("providers", circuitbreaker.ProviderConfig, logger))
	tokenClient := httpclient.New(httpclient.WithTimeout(cfg.ProviderTimeout)).
		WithBreaker(circuitbreaker.New("token-exchange", circuitbreaker.TokenConfig, logger))

	resolver := credentials.NewResolver(st, resolverCache, cfg.ProviderAuth, tokenClient, logger)
	limiter := ratelimit.New(cfg.RateBudgets, logger)
	tracker := state.NewTracker(st, logger)

	evaluators := actions.NewRegistry(actions.Deps{Client: providerClient, Logger: logger})
	dispatchers := reactions.NewRegistry(reactions.Deps{Client: providerClient, Logger: logger})

	sched := scheduler.New(st, tracker, resolver, limiter, evaluators, dispatchers, scheduler.Options{
		Cadence:             cfg.SchedulerCadence,
		Workers:             cfg.SchedulerWorkers,
		DrainGrace:          cfg.DrainGrace,
		RefreshFailureLimit: cfg.RefreshFailureLimit,
		ProviderTimeout:     cfg.ProviderTimeout,
	}, logger)

	handler := handlers.New(sched, st, logger)
	srv := server.New(cfg.Port, handler.Router(), logger)

	return &App{
		cfg:       cfg,
		store:     st,
		cache:     cache,
		scheduler: sched,
		server:    srv,
		logger:    logger,
	}, nil
}

// Start launches the scheduler and serves the admin API. It blocks
// until the server stops.
func (a *App) Start() error {
	if err := a.scheduler.Start(); err != nil {
		return err
	}
	return a.server.Start()
}

// Shutdown stops the scheduler, drains the admin server and releases
// resources.
func (a *App) Shutdown(ctx context.Context) {
	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("admin server shutdown failed", err)
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("credential cache close failed", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close failed", err)
	}

	a.logger.Info("engine stopped")
}
