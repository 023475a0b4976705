// Package app builds the clients and services shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/backend-5elm/internal/cart"
	"github.com/noah-isme/backend-5elm/internal/catalog"
	"github.com/noah-isme/backend-5elm/internal/config"
	"github.com/noah-isme/backend-5elm/internal/coupon"
	"github.com/noah-isme/backend-5elm/internal/db"
	"github.com/noah-isme/backend-5elm/internal/lock"
	"github.com/noah-isme/backend-5elm/internal/obs"
	"github.com/noah-isme/backend-5elm/internal/pricing"
	"github.com/noah-isme/backend-5elm/internal/resilience"
)

// Dependencies holds the process-wide clients.
type Dependencies struct {
	Config   *config.Config
	Logger   zerolog.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *obs.DomainMetrics
	Breakers *prometheus.GaugeVec
	Meter    metric.Meter

	shutdownTracer func(context.Context) error
}

// New connects Postgres and Redis and installs tracing and metrics for service.
func New(ctx context.Context, cfg *config.Config, service string) (*Dependencies, error) {
	logger := obs.NewLogger(cfg.Log.Format, cfg.Log.Level, service, nil).
		With().Str("env", cfg.AppEnv).Logger()

	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: service,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Environment: cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		shutdown = func(context.Context) error { return nil }
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.Connect(connectCtx, cfg.DatabaseURL, service)
	if err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Metrics.Enabled {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := rdb.Ping(connectCtx).Err(); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *obs.DomainMetrics
	if cfg.Metrics.Enabled {
		metrics = obs.NewDomainMetrics(cfg.Metrics.Namespace, reg)
	}

	return &Dependencies{
		Config:         cfg,
		Logger:         logger,
		DB:             pool,
		Redis:          rdb,
		Registry:       reg,
		Metrics:        metrics,
		Breakers:       resilience.NewStateGauge(cfg.Metrics.Namespace, reg),
		Meter:          otel.Meter("github.com/noah-isme/backend-5elm"),
		shutdownTracer: shutdown,
	}, nil
}

// Close releases every client. It is safe to call once at shutdown.
func (d *Dependencies) Close(ctx context.Context) {
	if err := d.shutdownTracer(ctx); err != nil {
		d.Logger.Error().Err(err).Msg("shutdown tracer")
	}
	if err := d.Redis.Close(); err != nil {
		d.Logger.Error().Err(err).Msg("close redis")
	}
	d.DB.Close()
}

// RedisConnOpt returns the asynq connection options for the configured Redis.
func (d *Dependencies) RedisConnOpt() (asynq.RedisConnOpt, error) {
	return asynq.ParseRedisURI(d.Config.RedisURL)
}

// NewLimiterStore wires a ulule rate limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	if rdb == nil {
		return nil, errors.New("app: redis client required for limiter store")
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// Services bundles the domain services built on top of Dependencies.
type Services struct {
	Calculator *pricing.Calculator
	Catalog    *catalog.Service
	Coupons    *coupon.Service
	Carts      *cart.Service
}

// Services builds the pricing, catalog, coupon and cart services.
func (d *Dependencies) Services() (*Services, error) {
	cfg := d.Config
	calc, err := pricing.NewCalculator(cfg.Pricing.Calculator())
	if err != nil {
		return nil, err
	}

	breaker := resilience.NewBreaker(resilience.Options{
		Name:         "catalog_search",
		MinRequests:  cfg.Catalog.BreakerMinRequests,
		FailureRatio: cfg.Catalog.BreakerFailureRatio,
		OpenFor:      cfg.Catalog.BreakerOpenFor,
		Logger:       d.Logger.With().Str("component", "breaker").Logger(),
		State:        d.Breakers,
	})
	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Store:   catalog.PgStore{DB: d.DB},
		Cache:   catalog.NewCache(d.Redis, "catalog:", cfg.Catalog.CacheTTL),
		Breaker: breaker,
		Metrics: d.Metrics,
		Logger:  d.Logger.With().Str("component", "catalog").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise catalog service: %w", err)
	}

	couponSvc := &coupon.Service{
		Store:               coupon.PgStore{DB: d.DB},
		DefaultPerUserLimit: cfg.Coupon.DefaultPerUserLimit,
		Metrics:             d.Metrics,
		Logger:              d.Logger.With().Str("component", "coupon").Logger(),
	}

	cartSvc, err := cart.NewService(cart.ServiceConfig{
		Store:   cart.PgStore{DB: d.DB},
		Prices:  catalogSvc,
		Calc:    calc,
		Coupons: couponSvc,
		Locker:  lock.Locker{R: d.Redis, Prefix: "lock", Wait: cfg.Cart.LockTTL},
		TTL:     cfg.Cart.TTL,
		LockTTL: cfg.Cart.LockTTL,
		Logger:  d.Logger.With().Str("component", "cart").Logger(),
		Metrics: d.Metrics,
		Meter:   d.Meter,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise cart service: %w", err)
	}

	return &Services{Calculator: calc, Catalog: catalogSvc, Coupons: couponSvc, Carts: cartSvc}, nil
}
