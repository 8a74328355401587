package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/catalog-sync/api/controllers"
	"github.com/angelmondragon/catalog-sync/api/routes"
	"github.com/angelmondragon/catalog-sync/internal/audit"
	"github.com/angelmondragon/catalog-sync/internal/cache"
	"github.com/angelmondragon/catalog-sync/internal/consumer"
	"github.com/angelmondragon/catalog-sync/internal/deadletter"
	"github.com/angelmondragon/catalog-sync/internal/lifecycle"
	"github.com/angelmondragon/catalog-sync/pkg/auditlog"
	"github.com/angelmondragon/catalog-sync/pkg/bigquery"
	"github.com/angelmondragon/catalog-sync/pkg/cachepush"
	"github.com/angelmondragon/catalog-sync/pkg/config"
	"github.com/angelmondragon/catalog-sync/pkg/db"
	"github.com/angelmondragon/catalog-sync/pkg/instance"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
	"github.com/angelmondragon/catalog-sync/pkg/metrics"
	"github.com/angelmondragon/catalog-sync/pkg/migrate"
	"github.com/angelmondragon/catalog-sync/pkg/pubsub"
	"github.com/angelmondragon/catalog-sync/pkg/redis"
)

const serviceName = "sync-worker"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"instance":     instance.GetID(),
		"subscription": cfg.PubSub.Subscription,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, cfg.Consumer.AckWait, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()
	requireResource(ctx, logg, "pubsub topology", pubsubClient.EnsureTopology(ctx, cfg.Consumer.MaxDeliveries))
	logg.Info(logg.WithField(ctx, "subscription_resource", pubsubClient.SubscriptionName()), "pubsub topology ready")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	syncMetrics := metrics.NewSyncMetrics(registry)

	healthDeps := map[string]audit.HealthCheckable{
		"redis": controllers.PingCheck(redisClient),
	}

	// audit sinks
	sinks := []audit.Sink{}
	if cfg.Audit.URL != "" {
		auditClient, err := auditlog.NewClient(cfg.Audit.URL, auditlog.WithTimeout(cfg.Audit.Timeout))
		requireResource(ctx, logg, "audit log client", err)
		sink, err := audit.NewLogSink(auditClient)
		requireResource(ctx, logg, "audit log sink", err)
		sinks = append(sinks, sink)
	}
	if cfg.BigQuery.Enabled() {
		bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		requireResource(ctx, logg, "bigquery client", err)
		defer func() {
			if err := bqClient.Close(); err != nil {
				logg.Error(ctx, "failed to close bigquery client", err)
			}
		}()
		sink, err := audit.NewBigQuerySink(bqClient)
		requireResource(ctx, logg, "bigquery audit sink", err)
		sinks = append(sinks, sink)
		healthDeps["bigquery"] = controllers.PingCheck(bqClient)
	}
	if len(sinks) == 0 {
		logg.Warn(ctx, "no audit sinks configured, audit records are only counted")
	}

	sidecar, err := audit.NewSidecar(audit.SidecarParams{
		SourceSystem: cfg.Audit.SourceSystem,
		BufferSize:   cfg.Audit.BufferSize,
		SinkTimeout:  cfg.Audit.Timeout,
		Sinks:        sinks,
		Logger:       logg,
		Metrics:      syncMetrics,
	})
	requireResource(ctx, logg, "audit sidecar", err)

	var notifier lifecycle.Notifier
	var pubsubNotifier *audit.PubSubNotifier
	if cfg.PubSub.NotificationTopic != "" {
		pubsubNotifier, err = audit.NewPubSubNotifier(pubsubClient, cfg.PubSub.NotificationTopic, sidecar, logg)
		requireResource(ctx, logg, "notifier", err)
		notifier = pubsubNotifier
		healthDeps["notifier"] = pubsubNotifier
	}

	cacheRepo := cache.NewRepository(dbClient.DB(), cfg.Cache.StalenessThreshold)
	stores := []lifecycle.Store{cacheRepo}
	if cfg.Cache.RedisSnapshots {
		stores = append(stores, cache.NewRedisStore(redisClient, 0))
	}
	if cfg.Cache.PushURL != "" {
		pushClient, err := cachepush.NewClient(cfg.Cache.PushURL, cachepush.WithTimeout(cfg.Cache.PushTimeout))
		requireResource(ctx, logg, "cache push client", err)
		stores = append(stores, pushClient)
		healthDeps["cache_push"] = controllers.PingCheck(pushClient)
	}

	engine, err := lifecycle.NewEngine(lifecycle.EngineParams{
		Stores:   stores,
		Notifier: notifier,
		Logger:   logg,
		Metrics:  syncMetrics,
	})
	requireResource(ctx, logg, "sync engine", err)

	tracker, err := consumer.NewDeliveryTracker(redisClient, pubsubClient.SubscriptionName(), cfg.Consumer.DeliveryTTL, logg)
	requireResource(ctx, logg, "delivery tracker", err)

	deadLetters := deadletter.NewRepository(dbClient.DB())

	lifecycleConsumer, err := consumer.New(consumer.Params{
		Config:      cfg.Consumer,
		Broker:      pubsubClient,
		Engine:      engine,
		Deliveries:  tracker,
		DeadLetters: deadLetters,
		Auditor:     sidecar,
		Logger:      logg,
		Metrics:     syncMetrics,
	})
	requireResource(ctx, logg, "consumer", err)

	server := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			Consumer:     lifecycleConsumer,
			Cache:        cacheRepo,
			DeadLetters:  deadLetters,
			Dependencies: healthDeps,
			Gatherer:     registry,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	params := ServiceParams{
		Logger:   logg,
		Consumer: lifecycleConsumer,
		Sidecar:  sidecar,
		Server:   server,
		Dependencies: []namedPinger{
			{name: "database", ping: dbClient.Ping},
			{name: "redis", ping: redisClient.Ping},
			{name: "pubsub", ping: pubsubClient.Ping},
		},
	}
	if pubsubNotifier != nil {
		params.Notifier = pubsubNotifier
	}
	service, err := NewService(params)
	requireResource(ctx, logg, "sync worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		for err := range sidecar.Errors() {
			logg.Debug(runCtx, fmt.Sprintf("audit sink error: %v", err))
		}
	}()

	logg.Info(runCtx, "sync worker ready")
	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "sync worker failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
