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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	adminhandler "lagerkoll/internal/admin/handler"
	adminservice "lagerkoll/internal/admin/service"
	invhandler "lagerkoll/internal/inventory/handler"
	invservice "lagerkoll/internal/inventory/service"
	invstore "lagerkoll/internal/inventory/store"
	jwttoken "lagerkoll/internal/jwt_token"
	"lagerkoll/internal/platform/config"
	"lagerkoll/internal/platform/httpserver"
	"lagerkoll/internal/platform/logger"
	"lagerkoll/internal/platform/metrics"
	"lagerkoll/internal/platform/postgres"
	platformredis "lagerkoll/internal/platform/redis"
	"lagerkoll/internal/realtime"
	"lagerkoll/internal/realtime/relay"
	httptransport "lagerkoll/internal/transport/http"
	usershandler "lagerkoll/internal/users/handler"
	userservice "lagerkoll/internal/users/service"
	userstore "lagerkoll/internal/users/store"
	"lagerkoll/pkg/platform/tx"
)

const (
	devSigningKey   = "dev-secret-key-change-in-production"
	shutdownTimeout = 10 * time.Second
	requestTimeout  = 30 * time.Second
)

// main wires high-level dependencies, exposes the HTTP router and keeps the
// server lifecycle small. Business logic lives in internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// stores bundles the persistence chosen by configuration.
type stores struct {
	users     userservice.UserStore
	inventory invservice.Store
	detacher  userservice.UserDetacher
	tx        tx.Runner
	health    httptransport.HealthCheck
	close     func() error
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	if cfg.IsProduction() && cfg.Auth.JWTSigningKey == devSigningKey {
		return errors.New("JWT_SIGNING_KEY must be set in production")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	st, err := openStores(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Warn("closing store failed", "error", err)
		}
	}()

	overflow, err := realtime.ParseOverflowPolicy(cfg.Realtime.Overflow)
	if err != nil {
		return err
	}
	hub := realtime.NewHub(
		realtime.WithLogger(log),
		realtime.WithMetrics(m),
		realtime.WithQueueSize(cfg.Realtime.QueueSize),
		realtime.WithOverflowPolicy(overflow),
		realtime.WithPingInterval(cfg.Realtime.PingInterval),
		realtime.WithMaxSessions(cfg.Realtime.MaxSessions),
	)

	health := map[string]httptransport.HealthCheck{"store": st.health}
	publisher, rel, err := openRelay(ctx, cfg, hub, m, log, health)
	if err != nil {
		return err
	}

	jwt := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	validator := jwttoken.NewMiddlewareAdapter(jwt)

	users := userservice.New(st.users, jwt,
		userservice.WithLogger(log),
		userservice.WithMetrics(m),
		userservice.WithPublisher(publisher),
		userservice.WithTx(st.tx),
		userservice.WithUserDetacher(st.detacher),
	)
	inventory := invservice.New(st.inventory,
		invservice.WithLogger(log),
		invservice.WithMetrics(m),
		invservice.WithPublisher(publisher),
		invservice.WithTx(st.tx),
	)
	admin := adminservice.New(users, inventory, adminservice.WithLogger(log))

	created, generated, err := users.EnsureBootstrapAdmin(ctx, cfg.Bootstrap.AdminUsername, cfg.Bootstrap.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created && generated != "" {
		log.Warn("created bootstrap admin with a generated password; change it after first login",
			"username", cfg.Bootstrap.AdminUsername, "password", generated)
	}

	wsOpts := []realtime.HandlerOption{
		realtime.WithHandlerLogger(log),
		realtime.WithAllowedOrigins(cfg.Realtime.AllowedOrigins),
		realtime.WithWriteTimeout(cfg.Realtime.WriteTimeout),
		realtime.WithPongWait(2 * cfg.Realtime.PingInterval),
	}
	if cfg.Realtime.RequireAuth {
		wsOpts = append(wsOpts, realtime.WithAuth(validator))
	}

	router := httptransport.NewRouter(httptransport.Config{
		Logger:         log,
		Metrics:        m,
		Gatherer:       prometheus.DefaultGatherer,
		RequestTimeout: requestTimeout,
		AdminToken:     cfg.Auth.AdminToken,
		Health:         health,
	},
		realtime.NewHandler(hub, wsOpts...),
		usershandler.New(users, validator, log),
		invhandler.New(inventory, validator, log),
		adminhandler.New(admin, validator, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting lagerkoll", "addr", cfg.Addr, "relay", cfg.Realtime.Relay, "overflow", overflow)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if rel != nil {
		g.Go(func() error {
			defer rel.Close()
			return rel.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// stop accepting requests first so no mutation publishes into a
		// closed hub
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown incomplete", "error", err)
		}
		return hub.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*stores, error) {
	if cfg.URL == "" {
		log.Warn("DATABASE_URL not set; using in-memory store, data is lost on restart")
		inventory := invstore.NewInMemory()
		return &stores{
			users:     userstore.NewInMemory(),
			inventory: inventory,
			detacher:  inventory,
			tx:        tx.NewMemoryRunner(),
			health:    func(context.Context) error { return nil },
			close:     func() error { return nil },
		}, nil
	}

	if cfg.RunMigrations {
		if err := postgres.Migrate(cfg); err != nil {
			return nil, err
		}
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	inventory := invstore.NewPostgres(db)
	return &stores{
		users:     userstore.NewPostgres(db),
		inventory: inventory,
		detacher:  inventory,
		tx:        tx.NewSQLRunner(db),
		health:    pinger(db),
		close:     db.Close,
	}, nil
}

func pinger(db *sql.DB) httptransport.HealthCheck {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}

// openRelay picks the cross-instance relay. With "none" the hub itself is the
// publisher.
func openRelay(ctx context.Context, cfg config.Server, hub *realtime.Hub, m *metrics.Metrics, log *slog.Logger,
	health map[string]httptransport.HealthCheck) (realtime.Publisher, relay.Relay, error) {
	opts := []relay.Option{relay.WithLogger(log), relay.WithMetrics(m)}

	switch cfg.Realtime.Relay {
	case "", "none":
		return hub, nil, nil
	case "redis":
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		if client == nil {
			return nil, nil, errors.New("REALTIME_RELAY=redis requires REDIS_URL")
		}
		health["redis"] = client.Health
		r := relay.NewRedis(client.Client, cfg.Redis.Channel, hub, opts...)
		return r, redisRelay{Redis: r, client: client}, nil
	case "kafka":
		k, err := relay.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, hub, opts...)
		if err != nil {
			return nil, nil, err
		}
		if err := k.EnsureTopic(ctx); err != nil {
			_ = k.Close()
			return nil, nil, err
		}
		return k, k, nil
	default:
		return nil, nil, fmt.Errorf("unknown REALTIME_RELAY %q", cfg.Realtime.Relay)
	}
}

// redisRelay closes the Redis client together with the relay.
type redisRelay struct {
	*relay.Redis
	client *platformredis.Client
}

func (r redisRelay) Close() error {
	return errors.Join(r.Redis.Close(), r.client.Close())
}
