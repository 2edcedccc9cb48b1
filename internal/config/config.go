package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/solarshop412/solar-shop-sub003/pkg/config"
	"github.com/solarshop412/solar-shop-sub003/pkg/database"
	"github.com/solarshop412/solar-shop-sub003/pkg/middleware"
	"github.com/solarshop412/solar-shop-sub003/pkg/tracing"
)

// Catalog providers.
const (
	ProviderPostgres = "postgres"
	ProviderREST     = "rest"
)

// Config holds all configuration for the pricing service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"PRICING_HTTP_PORT" envDefault:"8010"`
	RequestTimeout  time.Duration `env:"PRICING_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"PRICING_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSOrigins     []string      `env:"PRICING_CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// Per-client request rate on the cart API; zero disables limiting.
	RateLimitRPS   float64 `env:"PRICING_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"PRICING_RATE_LIMIT_BURST" envDefault:"100"`

	// Where products and discount rules come from: postgres or rest.
	Provider      string        `env:"PRICING_PROVIDER" envDefault:"postgres"`
	LookupTimeout time.Duration `env:"PRICING_LOOKUP_TIMEOUT" envDefault:"10s"`

	// Carts idle for longer than CartIdleTimeout leave memory; the Redis
	// mirror keeps them for CartTTL.
	CartIdleTimeout time.Duration `env:"PRICING_CART_IDLE_TIMEOUT" envDefault:"30m"`
	CartTTL         time.Duration `env:"PRICING_CART_TTL" envDefault:"168h"`

	// PostgreSQL
	DBHost          string `env:"DB_HOST" envDefault:"localhost"`
	DBPort          int    `env:"DB_PORT" envDefault:"5432"`
	DBUser          string `env:"DB_USER" envDefault:"pricing"`
	DBPassword      string `env:"DB_PASSWORD" envDefault:"pricing"`
	DBName          string `env:"DB_NAME" envDefault:"pricing"`
	DBSSLMode       string `env:"DB_SSLMODE" envDefault:"disable"`
	DBMaxConns      int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBRunMigrations bool   `env:"DB_RUN_MIGRATIONS" envDefault:"true"`

	// Postgres queries and Redis commands slower than this are logged; zero disables.
	SlowQueryThreshold time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// BaaS REST provider
	BaaSURL     string        `env:"BAAS_URL"`
	BaaSAPIKey  string        `env:"BAAS_API_KEY"`
	BaaSTimeout time.Duration `env:"BAAS_TIMEOUT" envDefault:"5s"`

	// Redis mirror
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	Tracing tracing.Config
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load pricing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.Provider {
	case ProviderPostgres:
		if c.DBMaxConns < 1 {
			return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
		}
	case ProviderREST:
		u, err := url.Parse(c.BaaSURL)
		if c.BaaSURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("BAAS_URL must be an absolute URL when PRICING_PROVIDER=rest")
		}
	default:
		return fmt.Errorf("PRICING_PROVIDER must be %q or %q, got %q", ProviderPostgres, ProviderREST, c.Provider)
	}

	if c.RateLimitRPS < 0 {
		return fmt.Errorf("PRICING_RATE_LIMIT_RPS must not be negative, got %v", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("PRICING_RATE_LIMIT_BURST must be positive when rate limiting is on, got %d", c.RateLimitBurst)
	}
	if c.SlowQueryThreshold < 0 {
		return fmt.Errorf("DB_SLOW_QUERY_THRESHOLD must not be negative")
	}
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("PRICING_LOOKUP_TIMEOUT must be positive")
	}
	if c.CartIdleTimeout <= 0 {
		return fmt.Errorf("PRICING_CART_IDLE_TIMEOUT must be positive")
	}
	if c.RedisEnabled && c.CartTTL < c.CartIdleTimeout {
		return fmt.Errorf("PRICING_CART_TTL (%s) must not be shorter than PRICING_CART_IDLE_TIMEOUT (%s)", c.CartTTL, c.CartIdleTimeout)
	}
	if c.KafkaEnabled && len(nonEmpty(c.KafkaBrokers)) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %v", c.Tracing.SampleRate)
	}
	return nil
}

// Postgres returns the pool configuration.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.DBHost
	pg.Port = c.DBPort
	pg.User = c.DBUser
	pg.Password = c.DBPassword
	pg.DBName = c.DBName
	pg.SSLMode = c.DBSSLMode
	pg.MaxConns = c.DBMaxConns
	if pg.MinConns > pg.MaxConns {
		pg.MinConns = pg.MaxConns
	}
	return pg
}

// Redis returns the Redis client configuration.
func (c *Config) Redis() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Host = c.RedisHost
	rc.Port = c.RedisPort
	rc.Password = c.RedisPassword
	rc.DB = c.RedisDB
	return rc
}

// RateLimit returns the per-client limiter settings for the cart API.
func (c *Config) RateLimit() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{RPS: c.RateLimitRPS, Burst: c.RateLimitBurst}
}

// Brokers returns the configured Kafka brokers without blanks.
func (c *Config) Brokers() []string {
	return nonEmpty(c.KafkaBrokers)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
