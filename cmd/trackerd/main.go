// Command trackerd launches the shipment tracking service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/cargolink/tracker/config"
	"github.com/cargolink/tracker/internal/adapters"
	"github.com/cargolink/tracker/internal/adapters/feed"
	"github.com/cargolink/tracker/internal/adapters/manual"
	"github.com/cargolink/tracker/internal/adapters/stub"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/hub"
	"github.com/cargolink/tracker/internal/infra/cache"
	"github.com/cargolink/tracker/internal/infra/persistence/postgres"
	"github.com/cargolink/tracker/internal/notify"
	"github.com/cargolink/tracker/internal/observability"
	"github.com/cargolink/tracker/internal/pipeline"
	"github.com/cargolink/tracker/internal/scheduler"
	httpserver "github.com/cargolink/tracker/internal/server/http"
	"github.com/cargolink/tracker/lib/telemetry"
)

const (
	defaultConfigPath    = "config/tracker.yaml"
	loggerPrefix         = "trackerd "
	httpShutdownTimeout  = 5 * time.Second
	drainShutdownTimeout = 10 * time.Second
	poolShutdownTimeout  = 5 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(observability.NewStdLogger(logger, os.Getenv("TRACKER_DEBUG") != ""))

	cfg := config.Default()
	if loaded, err := config.LoadFile(cfg, *configPath); err == nil {
		cfg = loaded
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Printf("config file %s not used: %v", *configPath, err)
	}
	cfg = config.FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	logger.Printf("configuration initialised: env=%s listen=%s feed=%v",
		cfg.Environment, cfg.HTTP.ListenAddr, cfg.Feed.Enabled)

	_, telemetryShutdown, err := initTelemetry(ctx, cfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatalf("connect database: %v", err)
	}

	var snapshotCache *cache.Redis
	if cfg.Cache.Endpoint != "" {
		snapshotCache, err = cache.NewRedis(cfg.Cache.Endpoint, cfg.Cache.TTL)
		if err != nil {
			logger.Fatalf("initialise cache: %v", err)
		}
		if err := snapshotCache.Ping(ctx); err != nil {
			logger.Printf("cache unreachable, serving uncached until it recovers: %v", err)
		}
	}

	events := postgres.NewEventStore(pool)
	shipments := postgres.NewShipmentStore(pool)
	subscriptions := postgres.NewSubscriptionStore(pool)
	catalog := postgres.NewCatalogStore(pool)
	unitOfWork := postgres.NewUnitOfWork(pool)

	registry := adapters.NewRegistry()
	manualAdapter := manual.New()
	mustRegister(logger, registry, manualAdapter)
	mustRegister(logger, registry, stub.NewCarrier())
	mustRegister(logger, registry, stub.NewCustoms())
	if cfg.Feed.Enabled {
		feedAdapter, err := feed.New(feed.Options{
			Config: feed.Config{
				BaseURL:     cfg.Feed.BaseURL,
				APIKey:      cfg.Feed.APIKey,
				HTTPTimeout: cfg.Feed.HTTPTimeout,
			},
			Catalog: catalog,
		})
		if err != nil {
			logger.Fatalf("initialise feed adapter: %v", err)
		}
		mustRegister(logger, registry, feedAdapter)
	}

	authorizer := httpserver.NewTokenAuthorizer(tokenTable(cfg))

	pushHub, err := hub.New(hub.Options{
		Shipments:      shipments,
		Events:         events,
		Auth:           authorizer,
		QueueCapacity:  cfg.Hub.QueueCapacity,
		DropLimit:      cfg.Hub.DropLimit,
		SnapshotEvents: cfg.Hub.SnapshotEvents,
	})
	if err != nil {
		logger.Fatalf("initialise hub: %v", err)
	}

	dispatcher, err := notify.NewDispatcher(notify.Options{
		Subscriptions: subscriptions,
		Events:        events,
		Shipments:     shipments,
		Deliverers: []notify.Deliverer{
			notify.NewWebhookDeliverer(cfg.Notify.DeliverTimeout),
			notify.NewEmailDeliverer(),
			notify.NewSMSDeliverer(),
			notify.NewPushDeliverer(pushHub.PublishBulk),
		},
		QueueSize:         cfg.Notify.QueueSize,
		MethodConcurrency: cfg.Notify.MethodConcurrency,
		MaxAttempts:       cfg.Notify.MaxAttempts,
		RetryInitial:      cfg.Notify.RetryInitial,
		RetryMax:          cfg.Notify.RetryMax,
		DeliverTimeout:    cfg.Notify.DeliverTimeout,
		SweepInterval:     cfg.Notify.SweepInterval,
	})
	if err != nil {
		logger.Fatalf("initialise dispatcher: %v", err)
	}

	var publisher pipeline.Publisher = pushHub
	if snapshotCache != nil {
		publisher = invalidatingPublisher{hub: pushHub, cache: snapshotCache}
	}
	applier, err := pipeline.New(pipeline.Options{
		UnitOfWork:     unitOfWork,
		Catalog:        catalog,
		Publisher:      publisher,
		Notifier:       dispatcher,
		TransitWindow:  cfg.Pipeline.TransitWindow,
		ManualSourceID: manualAdapter.SourceID(),
	})
	if err != nil {
		logger.Fatalf("initialise pipeline: %v", err)
	}

	poller, err := scheduler.New(scheduler.Options{
		Shipments:         shipments,
		Registry:          registry,
		Apply:             applier.Apply,
		Interval:          cfg.Scheduler.Interval,
		BatchSize:         cfg.Scheduler.BatchSize,
		SourceConcurrency: cfg.Scheduler.SourceConcurrency,
		SourceRate:        rate.Limit(cfg.Scheduler.SourceRatePerSec),
		FetchTimeout:      cfg.Scheduler.FetchTimeout,
	})
	if err != nil {
		logger.Fatalf("initialise scheduler: %v", err)
	}

	serverOpts := httpserver.Options{
		Shipments:     shipments,
		Events:        events,
		Subscriptions: subscriptions,
		Pipeline:      applier,
		Refresher:     poller,
		Manual:        manualAdapter,
		Auth:          authorizer,
		Health: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
		Push: hub.NewWSHandler(pushHub),
	}
	if snapshotCache != nil {
		serverOpts.Cache = snapshotCache
	}
	handler, err := httpserver.NewHandler(serverOpts)
	if err != nil {
		logger.Fatalf("initialise http handler: %v", err)
	}

	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http server: %v", err)
		}
	})
	lifecycle.Go(func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("scheduler: %v", err)
		}
	})
	lifecycle.Go(func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("dispatcher: %v", err)
		}
	})

	logger.Print("tracker started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	shutdownStart := time.Now()

	step(shutdownCtx, logger, "stopping http listener", httpShutdownTimeout, server.Shutdown)
	cancel()
	step(shutdownCtx, logger, "draining workers", drainShutdownTimeout, func(stepCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			lifecycle.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return fmt.Errorf("timeout waiting for workers: %w", stepCtx.Err())
		}
	})
	pushHub.Shutdown("service restarting")
	step(shutdownCtx, logger, "closing database pool", poolShutdownTimeout, func(context.Context) error {
		pool.Close()
		return nil
	})
	if snapshotCache != nil {
		step(shutdownCtx, logger, "closing cache", poolShutdownTimeout, func(context.Context) error {
			return snapshotCache.Close()
		})
	}
	step(shutdownCtx, logger, "flushing telemetry", poolShutdownTimeout, telemetryShutdown)

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func step(ctx context.Context, logger *log.Logger, name string, timeout time.Duration, fn func(context.Context) error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	logger.Printf("shutdown: %s...", name)
	if err := fn(stepCtx); err != nil {
		logger.Printf("shutdown: %s failed: %v", name, err)
		return
	}
	logger.Printf("shutdown: %s completed", name)
}

func initTelemetry(ctx context.Context, cfg config.Settings) (telemetry.Providers, func(context.Context) error, error) {
	providers, shutdown, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  string(cfg.Environment),
	})
	if err != nil {
		return telemetry.Providers{}, nil, err
	}
	observability.SetMetrics(telemetry.NewMetricsBridge(providers.MeterProvider))
	return providers, shutdown, nil
}

// invalidatingPublisher drops the cached public snapshot for a shipment
// before fanning the event out, so cached reads never outlive an update
// by more than the in-flight request.
type invalidatingPublisher struct {
	hub   *hub.Hub
	cache *cache.Redis
}

func (p invalidatingPublisher) PublishEvent(shipment domain.Shipment, event domain.TrackingEvent, state domain.DerivedState) {
	p.cache.Invalidate(context.Background(), shipment.AWBNumber)
	p.hub.PublishEvent(shipment, event, state)
}

func mustRegister(logger *log.Logger, registry *adapters.Registry, src adapters.Source) {
	if err := registry.Register(src); err != nil {
		logger.Fatalf("register adapter %s: %v", src.SourceID(), err)
	}
}

// tokenTable seeds the development authorizer. The production identity
// provider replaces this table behind the same interface.
func tokenTable(cfg config.Settings) map[string]httpserver.Principal {
	if cfg.Auth.TokenSecret == "" {
		return nil
	}
	return map[string]httpserver.Principal{
		cfg.Auth.TokenSecret: {SubscriberID: "system", Role: httpserver.RoleAdmin},
	}
}
