package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"aggronation/internal/adapters"
	"aggronation/internal/adapters/feed"
	"aggronation/internal/events"
	"aggronation/internal/gateway"
	"aggronation/internal/handlers"
	"aggronation/internal/health"
	"aggronation/internal/metrics"
	"aggronation/internal/models"
	"aggronation/internal/orchestrator"
	"aggronation/internal/scheduler"
	"aggronation/internal/store"
	"aggronation/internal/trigger"
	"aggronation/pkg/cache"
	"aggronation/pkg/config"
	"aggronation/pkg/database"
	"aggronation/pkg/kafka"
	"aggronation/pkg/logging"
	"aggronation/pkg/monitoring"
	"aggronation/pkg/redis"
	"aggronation/pkg/server"
	"aggronation/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	cfg, err := loadServiceConfig()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)
	serviceMetrics := metrics.New(metricsCollector)

	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(
		map[string]string{"INGEST_TRIGGER_SECRET": cfg.TriggerSecret},
		map[string]string{"ADMIN_TOKEN": cfg.AdminToken},
	))

	st, closeStore := openStore(ctx, cfg, logger, healthChecker)
	defer closeStore()

	bus := events.NewBus(events.BusConfig{
		Capacity: cfg.EventBufferSize,
		Logger:   logger,
		OnEmit: func(evt events.Event) {
			serviceMetrics.IncEvent(evt.Type, evt.Action)
		},
		OnSubscribers: serviceMetrics.SetSubscribers,
	})

	readCache := cache.New(cache.Options{
		DefaultTTL:      cfg.CacheDefaultTTL,
		CleanupInterval: cfg.CacheCleanupInterval,
	}, serviceMetrics.CacheHooks())
	readCache.Start()
	defer readCache.Stop()

	sinks, closeSinks := openSinks(ctx, cfg, logger, healthChecker)
	defer closeSinks()
	forwarder := events.NewForwarder(events.ForwarderConfig{
		Bus:    bus,
		Sinks:  sinks,
		Logger: logger,
		OnDrop: func(evt events.Event) {
			serviceMetrics.IncRelayError("queue", "dropped")
		},
		OnSendError: func(sink string, err error) {
			serviceMetrics.IncRelayError(sink, "send_failed")
		},
	})
	forwarder.Start()
	defer forwarder.Stop()

	registry := adapters.NewRegistry()
	registry.Register(models.SourceTypeFeed, feed.New(feed.Config{
		Client:    &http.Client{Timeout: cfg.FetchTimeout},
		UserAgent: cfg.FeedUserAgent,
	}))

	tracker := health.NewTracker(health.Config{
		Store:          st,
		Logger:         logger,
		PersistTimeout: cfg.PersistTimeout,
	})
	orch := orchestrator.New(orchestrator.Config{
		Registry: registry,
		Gateway: gateway.New(gateway.Config{
			Store:          st,
			Logger:         logger,
			PersistTimeout: cfg.PersistTimeout,
		}),
		Health:       tracker,
		Bus:          bus,
		Sources:      st,
		Logger:       logger,
		Metrics:      serviceMetrics,
		FetchTimeout: cfg.FetchTimeout,
	})

	sched := scheduler.New(scheduler.Config{
		Sources:         st,
		Runner:          orch,
		Logger:          logger,
		Metrics:         serviceMetrics,
		SkipOverlapping: cfg.SkipOverlap,
	})
	if err := sched.Start(ctx); err != nil {
		// Stays stopped until POST /api/admin/scheduler/reschedule starts it.
		logger.WithError(err).Error("Scheduler did not start")
	}

	triggerService := trigger.NewService(trigger.Config{
		Secret:         cfg.TriggerSecret,
		Sources:        st,
		Runner:         orch,
		Logger:         logger,
		Metrics:        serviceMetrics,
		MaxConcurrency: cfg.TriggerMaxConcurrency,
		MinInterval:    cfg.TriggerMinInterval,
	})

	queries := handlers.NewQueryHandler(st, readCache, cfg.ReadCacheTTL, logger)
	invalidation := queries.SubscribeInvalidation(bus)
	defer bus.Unsubscribe(invalidation)

	app := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	handlers.RegisterRoutes(app, handlers.Routes{
		Trigger: handlers.NewTriggerHandler(triggerService, logger),
		Events:  handlers.NewEventsHandler(bus, cfg.StreamHeartbeat, logger),
		Queries: queries,
		Admin: handlers.NewAdminHandler(handlers.AdminConfig{
			Store:     st,
			Scheduler: sched,
			Queries:   queries,
			Health:    tracker,
			Adapters:  registry,
			Logger:    logger,
		}),
		AdminToken: cfg.AdminToken,
	})

	serverConfig := server.DefaultConfig(serviceName, cfg.Port)
	// Event streams are long-lived responses.
	serverConfig.WriteTimeout = 0

	logger.WithFields(logging.Fields{
		"version":      version.String(),
		"store":        cfg.StoreDriver,
		"relay_sinks":  len(sinks),
		"skip_overlap": cfg.SkipOverlap,
	}).Info("Ingestor starting")

	if err := server.Start(ctx, serverConfig, app, logger); err != nil {
		logger.WithError(err).Error("HTTP server stopped")
	}

	sched.Stop()
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Wait(waitCtx); err != nil {
		logger.WithError(err).Warn("Timed out waiting for in-flight fetch cycles")
	}
	logger.Info("Ingestor stopped")
}

func openStore(ctx context.Context, cfg serviceConfig, logger logging.Logger, hc *monitoring.HealthChecker) (store.Store, func()) {
	if cfg.StoreDriver == storeDriverMemory {
		logger.Warn("Using in-memory store; content and sources are lost on restart")
		return store.NewMemory(), func() {}
	}

	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db, err := database.Connect(ctx, dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	pg := store.NewPostgres(db, logger)
	if err := pg.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to apply schema")
	}
	hc.AddCheck("database", monitoring.DatabaseHealthCheck(db))

	return pg, func() { _ = db.Close() }
}

// openSinks connects the optional event relays. A relay that cannot be reached
// at startup is logged and skipped; ingestion does not depend on it.
func openSinks(ctx context.Context, cfg serviceConfig, logger logging.Logger, hc *monitoring.HealthChecker) ([]events.Sink, func()) {
	var (
		sinks   []events.Sink
		closers []func()
	)

	if len(cfg.RedisAddrs) > 0 {
		client, err := redis.Connect(ctx, redis.Config{
			Addrs:      cfg.RedisAddrs,
			MasterName: cfg.RedisMasterName,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
		})
		if err != nil {
			logger.WithError(err).Warn("Redis event relay disabled")
		} else {
			sinks = append(sinks, events.NewRedisSink(client, cfg.RedisEventsChannel, logger))
			hc.AddCheck("redis", monitoring.PingerHealthCheck("Redis", redisPinger(client)))
			closers = append(closers, func() { _ = client.Close() })
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, serviceName, logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka event relay disabled")
		} else {
			sinks = append(sinks, events.NewKafkaSink(producer, cfg.KafkaEventsTopic))
			hc.AddCheck("kafka", monitoring.PingerHealthCheck("Kafka", producer))
			closers = append(closers, func() { _ = producer.Close() })
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

func redisPinger(client goredis.UniversalClient) monitoring.PingFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
