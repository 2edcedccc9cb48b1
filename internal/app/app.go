package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/solarshop412/solar-shop-sub003/internal/config"
	"github.com/solarshop412/solar-shop-sub003/internal/event"
	handler "github.com/solarshop412/solar-shop-sub003/internal/handler/http"
	"github.com/solarshop412/solar-shop-sub003/internal/repository"
	"github.com/solarshop412/solar-shop-sub003/internal/repository/postgres"
	redisrepo "github.com/solarshop412/solar-shop-sub003/internal/repository/redis"
	"github.com/solarshop412/solar-shop-sub003/internal/repository/rest"
	"github.com/solarshop412/solar-shop-sub003/internal/service"
	"github.com/solarshop412/solar-shop-sub003/migrations"
	"github.com/solarshop412/solar-shop-sub003/pkg/database"
	"github.com/solarshop412/solar-shop-sub003/pkg/health"
	"github.com/solarshop412/solar-shop-sub003/pkg/httpclient"
	pkgkafka "github.com/solarshop412/solar-shop-sub003/pkg/kafka"
	"github.com/solarshop412/solar-shop-sub003/pkg/middleware"
	"github.com/solarshop412/solar-shop-sub003/pkg/tracing"
)

const serviceName = "pricing"

// App wires together all dependencies and runs the pricing service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	pricing        *service.PricingService
	registry       *handler.CartRegistry
	httpServer     *http.Server
	shutdownTracer func(context.Context) error
}

type providers struct {
	products repository.ProductProvider
	rules    repository.RuleProvider
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeClients()
		}
	}()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.shutdownTracer = shutdownTracer

	// Metrics registry shared by every component.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(middleware.Collectors()...)

	database.SetSlowQueryLogging(cfg.SlowQueryThreshold, logger)

	healthHandler := health.NewHandler()

	// Catalog and rule provider.
	var p providers
	switch cfg.Provider {
	case config.ProviderREST:
		p = a.restProviders(reg, healthHandler)
	default:
		p, err = a.postgresProviders(ctx, reg, healthHandler)
		if err != nil {
			return nil, err
		}
	}

	svcMetrics := service.NewMetrics()
	reg.MustRegister(svcMetrics.Collectors()...)
	opts := []service.Option{
		service.WithMetrics(svcMetrics),
		service.WithLookupTimeout(cfg.LookupTimeout),
	}
	var registryOpts []handler.RegistryOption

	// Redis mirror.
	if cfg.RedisEnabled {
		rdb, err := database.NewRedisClient(ctx, cfg.Redis(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))

		sink := redisrepo.NewCartSink(rdb, cfg.CartTTL)
		opts = append(opts, service.WithSink(sink))
		registryOpts = append(registryOpts, handler.WithStore(sink))
		healthHandler.RegisterOptional("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// Kafka events.
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.Brokers()), logger)
		reg.MustRegister(pkgkafka.Collectors()...)
		opts = append(opts, service.WithEvents(event.NewProducer(a.producer, logger)))
		healthHandler.RegisterOptional("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.Brokers()))
	}

	logger.Info("health checks registered", slog.Any("checks", healthHandler.Names()))

	a.pricing = service.NewPricingService(p.products, p.rules, logger, opts...)
	a.registry = handler.NewCartRegistry(cfg.CartIdleTimeout, logger, registryOpts...)

	router := handler.NewRouter(
		handler.NewPricingHandler(a.pricing, a.registry, logger),
		handler.RouterConfig{
			Health:         healthHandler,
			Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			CORS:           middleware.DefaultCORSConfig(cfg.CORSOrigins),
			RateLimit:      cfg.RateLimit(),
			RequestTimeout: cfg.RequestTimeout,
		},
		logger,
	)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ok = true
	return a, nil
}

func (a *App) postgresProviders(ctx context.Context, reg prometheus.Registerer, hh *health.Handler) (providers, error) {
	pgCfg := a.cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return providers{}, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)

	if err := database.RegisterPoolMetrics(reg, pool, serviceName); err != nil {
		return providers{}, fmt.Errorf("register pool metrics: %w", err)
	}

	if a.cfg.DBRunMigrations {
		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return providers{}, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrations completed")
	}

	hh.Register("postgres", pool.Ping)
	return providers{
		products: postgres.NewProductRepository(pool),
		rules:    postgres.NewRuleRepository(pool),
	}, nil
}

func (a *App) restProviders(reg prometheus.Registerer, hh *health.Handler) providers {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = a.cfg.BaaSTimeout
	if a.cfg.BaaSAPIKey != "" {
		httpCfg.Header = http.Header{}
		httpCfg.Header.Set("apikey", a.cfg.BaaSAPIKey)
		httpCfg.Header.Set("Authorization", "Bearer "+a.cfg.BaaSAPIKey)
	}

	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpCfg),
		httpclient.DefaultCircuitBreakerConfig("baas"),
		a.logger,
	)
	reg.MustRegister(httpclient.Collectors()...)
	hh.Register("baas", func(context.Context) error {
		if breaker.State() == gobreaker.StateOpen {
			return errors.New("circuit breaker open")
		}
		return nil
	})

	a.logger.Info("using BaaS REST provider", slog.String("url", a.cfg.BaaSURL))
	client := rest.NewClient(breaker, a.cfg.BaaSURL)
	return providers{
		products: rest.NewProductRepository(client),
		rules:    rest.NewRuleRepository(client),
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.registry.Run(sweepCtx, sweepInterval(a.cfg.CartIdleTimeout))

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.Shutdown()
		return err
	}

	a.Shutdown()
	return nil
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() {
	a.logger.Info("shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	// Let in-flight usage recordings and lookups finish before closing clients.
	if err := a.pricing.Close(ctx); err != nil {
		a.logger.Warn("background work still running at shutdown", slog.String("error", err.Error()))
	}

	a.closeClients()

	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("application shutdown complete")
}

func (a *App) closeClients() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func sweepInterval(idle time.Duration) time.Duration {
	return max(idle/4, time.Second)
}
