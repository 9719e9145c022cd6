package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"ridedispatch/internal/app"
	"ridedispatch/internal/config"
	"ridedispatch/internal/domain"
	"ridedispatch/internal/eta"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/handler"
	"ridedispatch/internal/ingest"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/notify"
	internalRedis "ridedispatch/internal/redis"
	"ridedispatch/internal/repository"
	"ridedispatch/internal/repository/memory"
	"ridedispatch/internal/repository/postgres"
	"ridedispatch/internal/service"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := cfg.Dispatch.Validate(); err != nil {
		logger.Error("invalid dispatch configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", "error", err)
			nrApp = nil
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
			defer nrApp.Shutdown(5 * time.Second)
		}
	}

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		var err error
		redisClient, err = app.NewRedisClient(startCtx, cfg.Redis, nrApp)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	var db *sql.DB
	if cfg.Backends.Store == "postgres" {
		var err error
		db, err = app.NewDatabase(startCtx, cfg.Database, nrApp)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		logger.Info("connected to postgres", "db", cfg.Database.DBName)
	}

	d, err := wire(startCtx, cfg, db, redisClient, nrApp, logger)
	if err != nil {
		return err
	}
	defer d.close()

	if err := d.projector.Rebuild(startCtx); err != nil {
		return fmt.Errorf("rebuild geo index: %w", err)
	}

	d.coordinator.Start(ctx)
	defer d.coordinator.Stop()

	if d.consumer != nil {
		go func() {
			if err := d.consumer.Run(ctx); err != nil {
				logger.Error("location consumer stopped", "error", err)
			}
		}()
		logger.Info("consuming driver locations", "topic", cfg.Kafka.LocationsTopic)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      d.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port,
			"store", cfg.Backends.Store, "geo", cfg.Backends.Geo, "eta", cfg.ETA.Provider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Sessions are hijacked connections that Shutdown does not wait for.
	d.hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// dependencies is everything wire builds that main has to start or stop.
type dependencies struct {
	router      http.Handler
	coordinator *service.Coordinator
	projector   *service.IndexProjector
	hub         *notify.Hub
	consumer    *ingest.Consumer
	closers     []func() error
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

// wire builds stores, dispatch and transport from configuration.
func wire(ctx context.Context, cfg *config.Config, db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, logger *slog.Logger) (*dependencies, error) {
	d := &dependencies{}

	// Stores.
	var (
		drivers repository.DriverStore
		queue   repository.RequestQueue
		offers  repository.OfferStore
	)
	switch cfg.Backends.Store {
	case "postgres":
		drivers = postgres.NewDriverStore(db)
		queue = postgres.NewRequestQueue(db)
		offers = postgres.NewOfferStore(db)
	case "memory":
		drivers = memory.NewDriverStore()
		queue = memory.NewRequestQueue()
		offers = memory.NewOfferStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backends.Store)
	}

	var index geo.Index
	switch cfg.Backends.Geo {
	case "redis":
		index = internalRedis.NewGeoIndex(redisClient)
	case "grid":
		index = geo.NewGridIndex(cfg.Dispatch.GridCellDeg)
	default:
		return nil, fmt.Errorf("unknown geo backend %q", cfg.Backends.Geo)
	}

	estimator, err := newEstimator(cfg, redisClient, logger)
	if err != nil {
		return nil, err
	}

	// Notifications. The hub needs the coordinator and driver service, which
	// in turn need the notifier, so it binds to them late.
	var (
		coordinator *service.Coordinator
		driverSvc   *service.DriverService
	)
	d.hub = notify.NewHub(
		notify.OfferResponderFunc(func(ctx context.Context, offerID string, accept bool) (*domain.Offer, error) {
			return coordinator.RespondToOffer(ctx, offerID, accept)
		}),
		notify.DisconnectHandlerFunc(func(ctx context.Context, driverID string) error {
			return driverSvc.HandleDisconnect(ctx, driverID)
		}),
		logger,
	)
	notifiers := service.MultiNotifier{service.NewLogNotifier(logger), d.hub}

	if cfg.Kafka.NotifyEnabled {
		kn := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.Kafka.Brokers), cfg.Kafka.DriverOffersTopic, cfg.Kafka.RiderEventsTopic)
		notifiers = append(notifiers, kn)
		d.closers = append(d.closers, kn.Close)
	}
	if cfg.AMQP.Enabled {
		conn, err := notify.DialAMQP(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Attempts, logger)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		notifiers = append(notifiers, notify.NewAMQPNotifier(conn.Channel(), cfg.AMQP.Exchange))
		d.closers = append(d.closers, conn.Close)
	}

	// Dispatch core.
	d.projector = service.NewIndexProjector(drivers, index, logger)
	engine := service.NewMatchingEngine(index, estimator, service.MatchingConfig{
		MaxCandidates:      cfg.Dispatch.CandidateLimit,
		SearchRadiusMeters: cfg.Dispatch.SearchRadiusKm * 1000,
		AssumedSpeedMps:    service.DefaultAssumedSpeedMps,
		ETATimeout:         cfg.Dispatch.ETATimeout,
	}, logger)

	var lease service.LeaseStore
	if redisClient != nil {
		lease = internalRedis.NewLockStore(redisClient)
	}

	coordinator = service.NewCoordinator(service.DispatchConfig{
		Workers:        cfg.Dispatch.Workers,
		PollInterval:   cfg.Dispatch.PollInterval,
		ClaimLease:     cfg.Dispatch.ClaimLease,
		MaxQueueTime:   cfg.Dispatch.MaxQueueTime,
		BackoffInitial: cfg.Dispatch.BackoffInitial,
		BackoffMax:     cfg.Dispatch.BackoffMax,
		OfferTTL:       cfg.Dispatch.OfferTTL,
		SweepInterval:  cfg.Dispatch.SweepInterval,
		SweepBatch:     cfg.Dispatch.SweepBatch,
		NotifyTimeout:  cfg.Dispatch.NotifyTimeout,
	}, service.CoordinatorDeps{
		Drivers:   drivers,
		Queue:     queue,
		Offers:    offers,
		Matcher:   engine,
		Projector: d.projector,
		Notifier:  notifiers,
		Lease:     lease,
		NewRelic:  nrApp,
		Logger:    logger,
	})
	driverSvc = service.NewDriverService(drivers, d.projector, coordinator, logger)
	rideSvc := service.NewRideService(coordinator, queue, service.NewFareCalculator(index, queue, service.DefaultSurgeConfig()))

	if cfg.Kafka.IngestEnabled {
		reader := ingest.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.LocationsTopic, cfg.Kafka.GroupID)
		d.consumer = ingest.NewConsumer(reader, driverSvc, ingest.ConsumerConfig{}, logger)
		d.closers = append(d.closers, d.consumer.Close)
	}

	d.router = app.NewRouter(app.RouterDeps{
		RideHandler:   handler.NewRideHandler(rideSvc),
		DriverHandler: handler.NewDriverHandler(driverSvc, d.hub, logger),
		OfferHandler:  handler.NewOfferHandler(coordinator),
		RedisClient:   redisClient,
		NewRelicApp:   nrApp,
		Health:        healthCheck(db, redisClient),
	})
	return d, nil
}

// newEstimator builds the routing chain. "straight" returns nil so the
// matching engine uses great-circle ETAs.
func newEstimator(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (service.ETAEstimator, error) {
	var base eta.Estimator
	switch cfg.ETA.Provider {
	case "straight", "":
		return nil, nil
	case "osrm":
		base = eta.NewOSRMClient(cfg.ETA.OSRMEndpoint, cfg.ETA.Timeout)
	case "google":
		client, err := eta.NewGoogleMapsClient(cfg.ETA.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		base = client
	default:
		return nil, fmt.Errorf("unknown eta provider %q", cfg.ETA.Provider)
	}

	var cache eta.Cache = eta.NewMemoryCache(cfg.ETA.CacheEntries, cfg.ETA.CacheTTL)
	if cfg.ETA.CacheInRedis && redisClient != nil {
		cache = internalRedis.NewCacheStore(redisClient)
	}
	return eta.NewCachedEstimator(base, cache, cfg.ETA.CacheTTL, logger), nil
}

func healthCheck(db *sql.DB, redisClient *redis.Client) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
