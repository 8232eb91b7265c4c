// Package app wires the replenishment components from configuration. Both the HTTP
// server and the operator CLI build their object graph here.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andresuchdata/replenish/internal/cache"
	"github.com/andresuchdata/replenish/internal/config"
	"github.com/andresuchdata/replenish/internal/pipeline"
	"github.com/andresuchdata/replenish/internal/pipeline/replenishment"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/andresuchdata/replenish/internal/repository/memory"
	"github.com/andresuchdata/replenish/internal/repository/postgres"
	"github.com/andresuchdata/replenish/internal/service"
	"github.com/andresuchdata/replenish/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// App holds the wired components. Close releases every connection it opened.
type App struct {
	Config    *config.Config
	Clock     clockwork.Clock
	Feed      repository.InventoryFeed
	Activity  repository.ActivityPolicy
	Store     repository.MetricsStore
	Runs      repository.RunRecorder
	Ingest    repository.IngestRepository
	Scheduler *pipeline.RefreshScheduler
	Dashboard *service.DashboardService

	// MemoryFeed is set when running on the memory driver so callers can load CSV data.
	MemoryFeed *memory.Feed

	closers []func()
}

// Options tweak wiring for one-shot commands.
type Options struct {
	// DisableHooks skips cache invalidation and archive hooks.
	DisableHooks bool
}

// Build wires every component from cfg.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, Clock: clockwork.NewRealClock()}

	if err := a.buildStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var (
		hooks     []pipeline.PassHook
		lock      pipeline.PassLock
		pageCache = cache.NewNoopMetricsPageCache()
	)

	if cfg.Cache.Enabled || cfg.Refresh.LockEnabled {
		client, ttl, err := cache.NewRedisClient(ctx, cfg.Cache)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { closeRedis(client) })

		if cfg.Cache.Enabled {
			pageCache = cache.NewMetricsPageCache(client, ttl)
			hooks = append(hooks, cache.InvalidationHook{Cache: pageCache})
		}
		if cfg.Refresh.LockEnabled {
			lock = cache.NewRedisPassLock(client, max(2*cfg.Refresh.KeyTimeout(), cache.DefaultPassLockTTL))
		}
	}

	if cfg.Archive.Enabled {
		objects, err := storage.NewMinioClient(ctx, storage.MinioConfig{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("archive storage: %w", err)
		}
		hooks = append(hooks, storage.NewExportArchiver(a.Store, objects, cfg.Archive.Prefix))
	}

	if opts.DisableHooks {
		hooks = nil
	}

	calc := replenishment.NewVelocityCalculator(a.Feed, a.Clock, replenishment.VelocityConfig{
		WindowDays:          cfg.Replenish.WindowDays,
		MaxDaysWithoutSales: cfg.Replenish.MaxDaysWithoutSales,
	})
	engine, err := replenishment.NewEngine(EngineConfig(cfg.Replenish))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Scheduler, err = pipeline.NewRefreshScheduler(pipeline.SchedulerDeps{
		Feed:       a.Feed,
		Store:      a.Store,
		Calculator: calc,
		Engine:     engine,
		Clock:      a.Clock,
		Lock:       lock,
		Runs:       a.Runs,
		Hooks:      hooks,
	}, pipeline.SchedulerConfig{
		Interval:    cfg.Refresh.Interval(),
		WorkerCount: cfg.Refresh.Workers,
		KeyTimeout:  cfg.Refresh.KeyTimeout(),
		RunOnStart:  cfg.Refresh.RunOnStart,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Dashboard = service.NewDashboardService(service.DashboardDeps{
		Store:     a.Store,
		Activity:  a.Activity,
		Cache:     pageCache,
		Runs:      a.Runs,
		Scheduler: a.Scheduler,
		Clock:     a.Clock,
	}, cfg.Refresh.StaleAfter())

	return a, nil
}

func (a *App) buildStores(ctx context.Context) error {
	cfg := a.Config
	switch strings.ToLower(cfg.App.StoreDriver) {
	case StoreDriverMemory:
		feed := memory.NewFeed(a.Clock, cfg.Replenish.WindowDays)
		a.MemoryFeed = feed
		a.Feed = feed
		a.Activity = feed
		a.Ingest = feed
		a.Store = memory.NewMetricsStore(a.Clock)
		log.Warn().Msg("using in-memory store; metrics are lost on restart")
		return nil

	case StoreDriverPostgres, "":
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })

		pool, err := postgres.NewPool(ctx, cfg.Database, int32(cfg.Refresh.Workers)+4)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)

		a.Feed = postgres.NewFeedRepository(db.DB)
		a.Activity = postgres.NewActivityRepository(db.DB, a.Clock, cfg.Replenish.WindowDays)
		a.Runs = postgres.NewRunRepository(db.DB)
		a.Ingest = postgres.NewIngestRepository(db)
		a.Store = postgres.NewMetricsRepository(pool, a.Clock)
		return nil

	default:
		return fmt.Errorf("unknown store driver %q", cfg.App.StoreDriver)
	}
}

// EngineConfig converts the configured formula constants.
func EngineConfig(cfg config.ReplenishConfig) replenishment.EngineConfig {
	return replenishment.EngineConfig{
		SupplyHorizonDays: cfg.HorizonDays,
		CriticalBelow:     decimal.NewFromFloat(cfg.CriticalBelow),
		LowBelow:          decimal.NewFromFloat(cfg.LowBelow),
		NormalBelow:       decimal.NewFromFloat(cfg.NormalBelow),
	}
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		log.Warn().Err(err).Msg("failed to close redis client")
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
