package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/deckvault/deckvault-core/internal/access"
	"github.com/deckvault/deckvault-core/internal/api"
	"github.com/deckvault/deckvault-core/internal/audit"
	"github.com/deckvault/deckvault-core/internal/auth"
	"github.com/deckvault/deckvault-core/internal/events"
	"github.com/deckvault/deckvault-core/internal/infrastructure/config"
	"github.com/deckvault/deckvault-core/internal/infrastructure/database"
	"github.com/deckvault/deckvault-core/internal/infrastructure/influxdb"
	"github.com/deckvault/deckvault-core/internal/infrastructure/logging"
	"github.com/deckvault/deckvault-core/internal/infrastructure/mqtt"
	"github.com/deckvault/deckvault-core/internal/ratelimit"
	"github.com/deckvault/deckvault-core/internal/session"
	"github.com/deckvault/deckvault-core/internal/settings"
)

// mongoDisconnectTimeout bounds the MongoDB disconnect on shutdown.
const mongoDisconnectTimeout = 5 * time.Second

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, log)
		},
	}
}

// run wires every component, serves until ctx is cancelled, then shuts
// down in reverse order.
func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	log.Info("starting Deckvault Core",
		"version", version,
		"commit", commit,
		"build_date", date,
		"multi_user", cfg.Auth.MultiUser,
	)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	users := auth.NewUserRepository(db.DB)
	if cfg.Auth.MultiUser {
		if _, seedErr := auth.SeedAdmin(ctx, users, auth.AdminSeed{
			Username: cfg.Auth.BootstrapAdmin.Username,
			Email:    cfg.Auth.BootstrapAdmin.Email,
			Password: cfg.Auth.BootstrapAdmin.Password,
		}, log.Logger); seedErr != nil {
			return fmt.Errorf("seeding admin: %w", seedErr)
		}
	} else {
		log.Warn("multi-user mode disabled, every request acts as the local admin")
	}

	sessions, closeSessions, err := openSessionStore(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	settingsStore := settings.NewSQLiteStore(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	sinks := []events.Sink{audit.NewSink(auditRepo)}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		sinks = append(sinks, events.NewMQTTSink(mqttClient))
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		sinks = append(sinks, events.NewInfluxSink(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	// Background workers stop, and the event queue drains, before any
	// sink or store above is closed.
	bgCtx, stopBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopBackground()
		wg.Wait()
	}()

	bus := events.NewBus(log.With("component", "events").Logger, events.DefaultBufferSize, sinks...)
	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Run(bgCtx)
	}()

	limiter, closeLimiter, err := openLimiter(bgCtx, cfg, log, &wg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	if cfg.Auth.SessionReapInterval > 0 {
		reaper := session.NewReaper(sessions, time.Duration(cfg.Auth.SessionReapInterval)*time.Minute,
			log.With("component", "session-reaper").Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reaper.Run(bgCtx)
		}()
	}

	tokens := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.Auth.JWT.Secret,
		Issuer:     cfg.Auth.JWT.Issuer,
		Audience:   cfg.Auth.JWT.Audience,
		AccessTTL:  cfg.AccessTokenTTL(),
		RefreshTTL: cfg.RefreshTokenTTL(),
	}, log.Logger)
	log.Info("access token revocation lag", "max", cfg.AccessTokenTTL())

	gate := access.NewGate(access.Options{MultiUser: cfg.Auth.MultiUser}, tokens, users, settingsStore,
		log.With("component", "access").Logger)

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Auth:     cfg.Auth,
		Logger:   log.With("component", "api"),
		DB:       db,
		Users:    users,
		Tokens:   tokens,
		Sessions: sessions,
		Gate:     gate,
		Limiter:  limiter,
		Settings: settingsStore,
		Audit:    auditRepo,
		Events:   bus,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// openSessionStore returns the configured session backend and its closer.
func openSessionStore(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (session.Store, func(), error) {
	if cfg.Sessions.Backend != "mongodb" {
		log.Info("session store ready", "backend", "sqlite")
		return session.NewSQLiteStore(db.DB), func() {}, nil
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	disconnect := func() {
		dctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancel()
		if err := client.Disconnect(dctx); err != nil {
			log.Error("error disconnecting from MongoDB", "error", err)
		}
	}
	if err := client.Ping(ctx, nil); err != nil {
		disconnect()
		return nil, nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	store := session.NewMongoStore(client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection))
	if err := store.EnsureIndexes(ctx); err != nil {
		disconnect()
		return nil, nil, fmt.Errorf("creating session indexes: %w", err)
	}

	log.Info("session store ready", "backend", "mongodb",
		"database", cfg.MongoDB.Database, "collection", cfg.MongoDB.Collection)
	return store, disconnect, nil
}

// openLimiter returns the configured rate limiter, or nil when rate
// limiting is off. The memory limiter's sweep loop joins wg.
func openLimiter(ctx context.Context, cfg *config.Config, log *logging.Logger, wg *sync.WaitGroup) (ratelimit.Limiter, func(), error) {
	if !cfg.RateLimit.Enabled {
		log.Info("rate limiting disabled")
		return nil, func() {}, nil
	}

	rlCfg := ratelimit.Config{
		Limit:  cfg.RateLimit.RequestsPerWindow,
		Window: cfg.RateLimitWindow(),
	}

	if cfg.RateLimit.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		log.Info("rate limiting enabled", "backend", "redis", "addr", cfg.Redis.Addr,
			"limit", rlCfg.Limit, "window", rlCfg.Window)
		closeFn := func() {
			if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				log.Error("error closing Redis", "error", err)
			}
		}
		return ratelimit.NewRedisLimiter(client, rlCfg, cfg.Redis.KeyPrefix), closeFn, nil
	}

	limiter := ratelimit.NewMemoryLimiter(rlCfg, nil)
	wg.Add(1)
	go func() {
		defer wg.Done()
		limiter.Run(ctx, time.Duration(cfg.RateLimit.SweepInterval)*time.Second)
	}()
	log.Info("rate limiting enabled", "backend", "memory", "limit", rlCfg.Limit, "window", rlCfg.Window)
	return limiter, func() {}, nil
}

// healthCheck verifies all connected services are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
