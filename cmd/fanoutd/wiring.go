package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/kbukum/fanout/api"
	"github.com/kbukum/fanout/bootstrap"
	"github.com/kbukum/fanout/component"
	"github.com/kbukum/fanout/database"
	"github.com/kbukum/fanout/httpclient"
	"github.com/kbukum/fanout/kafka"
	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/observability"
	"github.com/kbukum/fanout/orchestrator"
	"github.com/kbukum/fanout/redis"
	"github.com/kbukum/fanout/resilience"
	runpkg "github.com/kbukum/fanout/run"
	"github.com/kbukum/fanout/server"
	"github.com/kbukum/fanout/server/endpoint"
	"github.com/kbukum/fanout/source"
	"github.com/kbukum/fanout/sse"
)

// service holds everything built during configuration.
type service struct {
	metrics      *observability.Metrics
	breaker      *resilience.CircuitBreaker
	callLimiter  *resilience.ConcurrencyLimiter
	taskLimiter  *resilience.ConcurrencyLimiter
	client       *httpclient.Client
	catalog      *source.Catalog
	store        runpkg.Store
	cache        *runpkg.CachedStore
	publisher    *kafka.Publisher
	orchestrator *orchestrator.Orchestrator
	reaper       *orchestrator.Reaper
	events       *sse.Component
	server       *server.Server
}

// newApp builds the application and registers the store components. The
// remaining graph is assembled once those are connected.
func newApp(cfg *Config, opts ...bootstrap.Option) (*bootstrap.App[*Config], *service, error) {
	app, err := bootstrap.NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	var (
		dbComp    *database.Component
		redisComp *redis.Component
	)
	switch cfg.Store.Driver {
	case StoreDatabase:
		dbComp = database.NewComponent(cfg.Database, app.Logger).WithAutoMigrate(database.Models()...)
		if err := app.RegisterComponent(dbComp); err != nil {
			return nil, nil, err
		}
	case StoreRedis:
		redisComp = redis.NewComponent(cfg.Redis, app.Logger)
		if err := app.RegisterComponent(redisComp); err != nil {
			return nil, nil, err
		}
	}

	svc := &service{}
	app.OnConfigure(func(ctx context.Context, app *bootstrap.App[*Config]) error {
		return svc.configure(ctx, app, dbComp, redisComp)
	})
	return app, svc, nil
}

func (s *service) configure(ctx context.Context, app *bootstrap.App[*Config], dbComp *database.Component, redisComp *redis.Component) error {
	cfg := app.Cfg
	log := app.Logger

	telemetry, err := observability.NewComponent(ctx, cfg.Observability, log)
	if err != nil {
		return err
	}
	if err := app.RegisterComponent(telemetry); err != nil {
		return err
	}
	if s.metrics, err = observability.NewMetrics(observability.Meter(cfg.Name)); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	breakerCfg := cfg.Resilience.CircuitBreaker
	breakerLog := log.WithComponent("circuit")
	breakerCfg.OnStateChange = func(key string, from, to resilience.State) {
		breakerLog.Warn("Circuit state changed", logger.Fields(
			"circuit_key", key,
			"from", from.String(),
			"to", to.String(),
		))
		s.metrics.RecordCircuitTransition(context.Background(), key, from.String(), to.String())
	}
	s.breaker = resilience.NewCircuitBreaker(breakerCfg)

	s.callLimiter = resilience.NewConcurrencyLimiter(resilience.LimiterConfig{
		Capacity:  cfg.Resilience.MaxConcurrentCalls,
		OnAcquire: func() { s.metrics.LimiterAcquired(context.Background()) },
		OnRelease: func() { s.metrics.LimiterReleased(context.Background()) },
	})
	s.taskLimiter = resilience.NewConcurrencyLimiter(resilience.LimiterConfig{
		Capacity: cfg.Orchestrator.MaxConcurrentTasks,
	})

	s.client, err = httpclient.New(cfg.HTTPClient, s.breaker, s.callLimiter,
		httpclient.WithLogger(log),
		httpclient.WithMetrics(s.metrics),
	)
	if err != nil {
		return fmt.Errorf("http client: %w", err)
	}
	if s.catalog, err = source.NewCatalog(s.client, cfg.Sources); err != nil {
		return err
	}
	if len(cfg.Sources) == 0 {
		log.Warn("No sources configured; every lookup will complete with zero outcomes")
	}

	if err := s.buildStore(cfg, dbComp, redisComp); err != nil {
		return err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(s.metrics),
	}
	if cfg.Kafka.Enabled {
		if s.publisher, err = kafka.NewPublisher(cfg.Kafka, cfg.Name, log); err != nil {
			return err
		}
		if err := app.RegisterComponent(kafka.NewComponent(cfg.Kafka, s.publisher, log)); err != nil {
			return err
		}
		orchOpts = append(orchOpts, orchestrator.WithPublisher(s.publisher))
	}
	if cfg.Server.Enabled {
		s.events = sse.NewComponent(log)
		orchOpts = append(orchOpts, orchestrator.WithObserver(sse.NewRunObserver(s.events.Hub())))
	}

	s.orchestrator, err = orchestrator.New(s.store, s.taskLimiter, cfg.Orchestrator, orchOpts...)
	if err != nil {
		return err
	}
	if err := app.RegisterComponent(&drainer{orch: s.orchestrator}); err != nil {
		return err
	}
	if cfg.Orchestrator.ReaperEnabled {
		s.reaper = orchestrator.NewReaper(s.orchestrator)
		if err := app.RegisterComponent(s.reaper); err != nil {
			return err
		}
	}

	if !cfg.Server.Enabled {
		return nil
	}
	s.server = server.New(cfg.Server, log)
	s.server.RegisterDefaultEndpoints(app.Name, app.Components.HealthAll, s.stats())
	api.NewHandler(s.orchestrator, s.catalog, log).
		WithEvents(s.events.Hub()).
		Register(s.server.Engine())
	if err := app.RegisterComponent(server.NewComponent(s.server)); err != nil {
		return err
	}
	// Registered last so open streams are closed before the server drains.
	return app.RegisterComponent(s.events)
}

func (s *service) buildStore(cfg *Config, dbComp *database.Component, redisComp *redis.Component) error {
	switch cfg.Store.Driver {
	case StoreDatabase:
		if dbComp == nil || dbComp.DB() == nil {
			return errors.New("database store selected but the database is not connected")
		}
		s.store = database.NewRunStore(dbComp.DB())
	case StoreRedis:
		if redisComp == nil || redisComp.Client() == nil {
			return errors.New("redis store selected but redis is not connected")
		}
		s.store = redis.NewRunStore(redisComp.Client(), cfg.Redis.KeyPrefix)
	default:
		s.store = runpkg.NewMemoryStore()
	}

	if cfg.Store.CacheSize > 0 {
		cache, err := runpkg.NewCachedStore(s.store, cfg.Store.CacheSize)
		if err != nil {
			return err
		}
		s.cache = cache
		s.store = cache
	}
	return nil
}

func (s *service) stats() map[string]endpoint.StatsFunc {
	limiterStats := func(l *resilience.ConcurrencyLimiter) endpoint.StatsFunc {
		return func() map[string]any {
			return map[string]any{
				"capacity":  l.Capacity(),
				"in_use":    l.InUse(),
				"available": l.Available(),
			}
		}
	}

	stats := map[string]endpoint.StatsFunc{
		"task_limiter": limiterStats(s.taskLimiter),
		"call_limiter": limiterStats(s.callLimiter),
		"circuits": func() map[string]any {
			out := make(map[string]any)
			for _, key := range s.breaker.Keys() {
				rec := s.breaker.Snapshot(key)
				out[key] = map[string]any{
					"state":    rec.State.String(),
					"failures": rec.ConsecutiveFailures,
				}
			}
			return out
		},
	}
	if s.publisher != nil {
		stats["kafka"] = func() map[string]any {
			m := s.publisher.Metrics()
			return map[string]any{
				"topic":     m.Topic,
				"published": m.Published,
				"failed":    m.Failed,
				"retries":   m.Retries,
			}
		}
	}
	if s.events != nil {
		stats["sse"] = func() map[string]any {
			hub := s.events.Hub()
			return map[string]any{"clients": hub.ClientCount(), "dropped": hub.Dropped()}
		}
	}
	if s.cache != nil {
		stats["run_cache"] = func() map[string]any {
			return map[string]any{"entries": s.cache.Len()}
		}
	}
	return stats
}

// drainer waits for background runs on shutdown. It is registered after the
// publisher and before the reaper and server, so it stops after them and
// before the publisher closes.
type drainer struct {
	orch *orchestrator.Orchestrator
}

var _ component.Component = (*drainer)(nil)

func (d *drainer) Name() string { return "orchestrator" }

func (d *drainer) Start(_ context.Context) error { return nil }

func (d *drainer) Stop(ctx context.Context) error {
	if err := d.orch.Wait(ctx); err != nil {
		return fmt.Errorf("draining runs: %w", err)
	}
	return nil
}

func (d *drainer) Health(_ context.Context) component.Health {
	return component.Health{Name: d.Name(), Status: component.StatusHealthy}
}
