package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-5elm/internal/pricing"
)

// defaults are loaded first; any matching environment variable overrides them.
var defaults = map[string]any{
	"APP_ENV":          "development",
	"PORT":             "8080",
	"SHUTDOWN_TIMEOUT": "15s",

	"JWT_ISSUER":   "5elm",
	"JWT_AUDIENCE": "5elm-storefront",

	"OBS_LOG_FORMAT":        "json",
	"OBS_LOG_LEVEL":         "info",
	"OBS_METRICS_ENABLED":   "true",
	"OBS_METRICS_NAMESPACE": "fiveelm",
	"OBS_TRACING_ENABLED":   "false",
	"OBS_SERVICE_NAME":      "5elm-cart",
	"OTEL_SAMPLER_RATIO":    "0.1",

	"PRICING_TAX_RATE":                "0.18",
	"PRICING_FREE_SHIPPING_THRESHOLD": "2000",
	"SHIPPING_FEE_STANDARD":           "100",
	"SHIPPING_FEE_EXPRESS":            "250",
	"SHIPPING_FEE_OVERNIGHT":          "500",
	"CURRENCY_CODE":                   "INR",

	"CART_TTL":       "168h",
	"CART_LOCK_TTL":  "5s",
	"STALE_CART_AGE": "6h",

	"COUPON_PER_USER_LIMIT_DEFAULT": "1",
	"COUPON_ATTEMPT_LIMIT":          "10",
	"COUPON_ATTEMPT_WINDOW":         "10m",

	"CATALOG_CACHE_TTL":            "60s",
	"SEARCH_BREAKER_MIN_REQUESTS":  "10",
	"SEARCH_BREAKER_FAILURE_RATIO": "0.5",
	"SEARCH_BREAKER_OPEN_FOR":      "30s",

	"RATE_LIMIT_REQUESTS": "120",
	"RATE_LIMIT_WINDOW":   "1m",
	"IDEMPOTENCY_TTL":     "24h",
	"BODY_LIMIT_BYTES":    "1048576",

	"WORKER_CONCURRENCY": "5",
	"SWEEP_SCHEDULE":     "@every 15m",
	"SWEEP_BATCH_SIZE":   "200",
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	ShutdownTimeout    time.Duration
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	JWT       JWTConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
	Pricing   PricingConfig
	Cart      CartConfig
	Coupon    CouponConfig
	Catalog   CatalogConfig
	RateLimit RateLimitConfig
	Worker    WorkerConfig
	IdemTTL   time.Duration
	BodyLimit int64
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type LogConfig struct {
	Format string
	Level  string
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

// PricingConfig carries the storefront pricing knobs as decimals.
type PricingConfig struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	ShippingFees          map[pricing.ShippingMethod]decimal.Decimal
	Currency              string
}

// Calculator converts the pricing section into a calculator config.
func (p PricingConfig) Calculator() pricing.Config {
	fees := make(map[pricing.ShippingMethod]decimal.Decimal, len(p.ShippingFees))
	for k, v := range p.ShippingFees {
		fees[k] = v
	}
	return pricing.Config{
		TaxRate:               p.TaxRate,
		FreeShippingThreshold: p.FreeShippingThreshold,
		ShippingFees:          fees,
	}
}

type CartConfig struct {
	TTL      time.Duration
	LockTTL  time.Duration
	StaleAge time.Duration
}

type CouponConfig struct {
	DefaultPerUserLimit int
	AttemptLimit        int
	AttemptWindow       time.Duration
}

type CatalogConfig struct {
	CacheTTL            time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
}

type RateLimitConfig struct {
	Requests int64
	Window   time.Duration
}

type WorkerConfig struct {
	Concurrency   int
	SweepSchedule string
	SweepBatch    int
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var errs []error
	dec := func(key string) decimal.Decimal {
		d, err := decimal.NewFromString(strings.TrimSpace(k.String(key)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	num := func(key string) int {
		n, err := strconv.Atoi(strings.TrimSpace(k.String(key)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}
	dur := func(key string) time.Duration {
		d, err := time.ParseDuration(strings.TrimSpace(k.String(key)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	ratio := func(key string) float64 {
		f, err := strconv.ParseFloat(strings.TrimSpace(k.String(key)), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return f
	}

	cfg := &Config{
		AppEnv:             k.String("APP_ENV"),
		Port:               k.String("PORT"),
		ShutdownTimeout:    dur("SHUTDOWN_TIMEOUT"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		JWT: JWTConfig{
			Secret:   k.String("JWT_SECRET"),
			Issuer:   k.String("JWT_ISSUER"),
			Audience: k.String("JWT_AUDIENCE"),
		},
		Log: LogConfig{
			Format: k.String("OBS_LOG_FORMAT"),
			Level:  k.String("OBS_LOG_LEVEL"),
		},
		Metrics: MetricsConfig{
			Enabled:   parseBool(k.String("OBS_METRICS_ENABLED")),
			Namespace: k.String("OBS_METRICS_NAMESPACE"),
		},
		Tracing: TracingConfig{
			Enabled:     parseBool(k.String("OBS_TRACING_ENABLED")),
			Endpoint:    k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName: k.String("OBS_SERVICE_NAME"),
			SampleRatio: ratio("OTEL_SAMPLER_RATIO"),
		},
		Pricing: PricingConfig{
			TaxRate:               dec("PRICING_TAX_RATE"),
			FreeShippingThreshold: dec("PRICING_FREE_SHIPPING_THRESHOLD"),
			ShippingFees: map[pricing.ShippingMethod]decimal.Decimal{
				pricing.ShippingStandard:  dec("SHIPPING_FEE_STANDARD"),
				pricing.ShippingExpress:   dec("SHIPPING_FEE_EXPRESS"),
				pricing.ShippingOvernight: dec("SHIPPING_FEE_OVERNIGHT"),
			},
			Currency: strings.ToUpper(k.String("CURRENCY_CODE")),
		},
		Cart: CartConfig{
			TTL:      dur("CART_TTL"),
			LockTTL:  dur("CART_LOCK_TTL"),
			StaleAge: dur("STALE_CART_AGE"),
		},
		Coupon: CouponConfig{
			DefaultPerUserLimit: num("COUPON_PER_USER_LIMIT_DEFAULT"),
			AttemptLimit:        num("COUPON_ATTEMPT_LIMIT"),
			AttemptWindow:       dur("COUPON_ATTEMPT_WINDOW"),
		},
		Catalog: CatalogConfig{
			CacheTTL:            dur("CATALOG_CACHE_TTL"),
			BreakerMinRequests:  num("SEARCH_BREAKER_MIN_REQUESTS"),
			BreakerFailureRatio: ratio("SEARCH_BREAKER_FAILURE_RATIO"),
			BreakerOpenFor:      dur("SEARCH_BREAKER_OPEN_FOR"),
		},
		RateLimit: RateLimitConfig{
			Requests: int64(num("RATE_LIMIT_REQUESTS")),
			Window:   dur("RATE_LIMIT_WINDOW"),
		},
		Worker: WorkerConfig{
			Concurrency:   num("WORKER_CONCURRENCY"),
			SweepSchedule: k.String("SWEEP_SCHEDULE"),
			SweepBatch:    num("SWEEP_BATCH_SIZE"),
		},
		IdemTTL:   dur("IDEMPOTENCY_TTL"),
		BodyLimit: int64(num("BODY_LIMIT_BYTES")),
	}

	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if cfg.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if cfg.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if _, err := pricing.NewCalculator(cfg.Pricing.Calculator()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests overrides environment variables for the duration of one Load call.
// An empty value unsets the variable.
func LoadForTests(vars map[string]string) (*Config, error) {
	original := make(map[string]*string, len(vars))
	for key, value := range vars {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, value); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	for key, prev := range original {
		if prev == nil {
			_ = os.Unsetenv(key)
			continue
		}
		_ = os.Setenv(key, *prev)
	}
	return cfg, err
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}
