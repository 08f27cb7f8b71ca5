// README: Entry point; loads config, wires stores and services, runs the HTTP server and the accept-timeout sweeper.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tripmatch/internal/config"
	httptransport "tripmatch/internal/http"
	"tripmatch/internal/http/handlers"
	"tripmatch/internal/infra"
	"tripmatch/internal/maps"
	"tripmatch/internal/metrics"
	"tripmatch/internal/modules/notify"
	"tripmatch/internal/modules/profile"
	"tripmatch/internal/modules/tracking"
	"tripmatch/internal/modules/trip"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := infra.NewLogger(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("tripmatch-api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	checks := map[string]handlers.Pinger{}
	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}

	var (
		tripStore    trip.Store
		profileStore profile.Store
	)
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, pool.Close)
		if cfg.DB.Migrate {
			results, err := infra.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			log.Info("migrations applied", zap.Int("count", len(results)))
		}
		tripStore = trip.NewPGStore(pool)
		profileStore = profile.NewPGStore(pool)
		checks["postgres"] = pool.Ping
	case config.StoreMongo:
		mc, err := infra.NewMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { _ = mc.Disconnect(context.Background()) })
		db := mc.Database(cfg.Mongo.Database)
		ms := trip.NewMongoStore(db)
		if err := ms.EnsureIndexes(ctx); err != nil {
			return err
		}
		tripStore = ms
		profileStore = profile.NewMongoStore(db)
		checks["mongo"] = func(ctx context.Context) error { return mc.Ping(ctx, nil) }
	default:
		log.Warn("using in-memory store; data is lost on restart")
		tripStore = trip.NewMemoryStore()
		profileStore = profile.NewMemoryStore()
	}

	// Subscribers need the same bus the service publishes to.
	var bus notify.Bus = notify.NewMemoryBus()
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		bus = notify.NewRedisBus(rdb, log)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	publishers := []notify.Publisher{bus}
	if cfg.AMQP.URL != "" {
		conn, err := infra.NewAMQP(cfg.AMQP.URL)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { _ = conn.Close() })
		pub, err := notify.NewAMQPPublisher(conn)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { _ = pub.Close() })
		publishers = append(publishers, pub)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collectorSet := metrics.New(reg)

	profiles := profile.NewService(profileStore)
	opts := trip.Options{
		Notifier:           notify.NewFanout(log, publishers...),
		Profiles:           profiles,
		Observer:           collectorSet,
		Logger:             log,
		MaxActivePerDriver: cfg.Trips.MaxActivePerDriver,
		PollInterval:       cfg.Trips.PollInterval,
		FeedRadiusKm:       cfg.Trips.FeedRadiusKm,
		Currency:           cfg.Trips.Currency,
	}
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			return err
		}
		geocoder, err := maps.NewGeocoder(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			return err
		}
		opts.Estimator = routes
		opts.Geocoder = geocoder
	}
	trips := trip.NewService(tripStore, opts)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Trips:    trips,
		Profiles: profiles,
		Watcher: &tracking.Watcher{
			Source:    trips,
			Bus:       bus,
			Heartbeat: cfg.HTTP.SSEHeartbeat,
			Resync:    cfg.Trips.PollInterval,
			Logger:    log,
		},
		Verifier: verifier,
		Metrics:  collectorSet,
		Gatherer: reg,
		Checks:   checks,
		Logger:   log,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	if cfg.Trips.AcceptTimeout > 0 {
		g.Go(func() error {
			trips.RunAcceptTimeoutSweeper(gctx, cfg.Trips.AcceptTimeout, cfg.Trips.SweepInterval)
			return nil
		})
	}
	log.Info("tripmatch-api started",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("store", cfg.Store),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Bool("amqp", cfg.AMQP.URL != ""),
		zap.Bool("maps", cfg.Maps.APIKey != ""),
	)
	return g.Wait()
}

func newVerifier(ctx context.Context, cfg config.Config) (infra.TokenVerifier, error) {
	if cfg.Auth.FirebaseProjectID != "" {
		v, err := infra.NewFirebaseVerifier(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredentials)
		if err != nil {
			return nil, fmt.Errorf("firebase init: %w", err)
		}
		return v, nil
	}
	return infra.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer), nil
}
