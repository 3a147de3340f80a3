// Package config loads the server configuration from defaults, an optional
// YAML file, an optional .env file and the process environment, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Hot tier backends
const (
	HotNone      = "none"
	HotMemory    = "memory"
	HotRedis     = "redis"
	HotFirestore = "firestore"
)

type Config struct {
	App     AppConfig     `koanf:"app"`
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	HotTier HotTierConfig `koanf:"hot_tier"`
	Ledger  LedgerConfig  `koanf:"ledger"`
	Auth    AuthConfig    `koanf:"auth"`
	Stripe  StripeConfig  `koanf:"stripe"`
	Log     LogConfig     `koanf:"log"`
	Otel    OtelConfig    `koanf:"otel"`
	Metrics MetricsConfig `koanf:"metrics"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver          string        `koanf:"driver"`
	DatabaseURL     string        `koanf:"database_url"`
	SQLitePath      string        `koanf:"sqlite_path"`
	MaxConns        int32         `koanf:"max_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type HotTierConfig struct {
	Backend             string        `koanf:"backend"`
	RedisURL            string        `koanf:"redis_url"`
	FirestoreProject    string        `koanf:"firestore_project"`
	FirestoreCollection string        `koanf:"firestore_collection"`
	TTL                 time.Duration `koanf:"ttl"`
	AsyncSync           bool          `koanf:"async_sync"`
}

type LedgerConfig struct {
	CacheEnabled     bool          `koanf:"cache_enabled"`
	CacheTTL         time.Duration `koanf:"cache_ttl"`
	CacheSize        int           `koanf:"cache_size"`
	BreakerEnabled   bool          `koanf:"breaker_enabled"`
	BreakerThreshold int           `koanf:"breaker_threshold"`
	BreakerReset     time.Duration `koanf:"breaker_reset"`
}

type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	TokenTTL   time.Duration `koanf:"token_ttl"`
	BcryptCost int           `koanf:"bcrypt_cost"`
}

type StripeConfig struct {
	SecretKey       string        `koanf:"secret_key"`
	WebhookSecret   string        `koanf:"webhook_secret"`
	ClientURL       string        `koanf:"client_url"`
	CheckoutTimeout time.Duration `koanf:"checkout_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
	Path      string `koanf:"path"`
}

// Load reads the configuration. configPath and envFile are optional; a
// missing envFile is not an error.
func Load(configPath, envFile string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if envFile != "" {
		// godotenv never overrides variables already set in the environment
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "secondchance",
		"app.version":     "1.0.0",
		"app.environment": "development",

		"server.host":             "0.0.0.0",
		"server.port":             3001,
		"server.read_timeout":     "15s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "15s",

		"storage.driver":            DriverMemory,
		"storage.sqlite_path":       "secondchance.db",
		"storage.max_conns":         10,
		"storage.max_conn_lifetime": "1h",
		"storage.auto_migrate":      true,

		"hot_tier.backend":              HotNone,
		"hot_tier.firestore_collection": "entitlements",
		"hot_tier.ttl":                  "24h",
		"hot_tier.async_sync":           false,

		"ledger.cache_enabled":     true,
		"ledger.cache_ttl":         "30s",
		"ledger.cache_size":        1000,
		"ledger.breaker_enabled":   true,
		"ledger.breaker_threshold": 5,
		"ledger.breaker_reset":     "30s",

		"auth.token_ttl":   "24h",
		"auth.bcrypt_cost": 10,

		"stripe.client_url":       "http://localhost:3000",
		"stripe.checkout_timeout": "10s",

		"log.level":  "info",
		"log.format": "json",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "secondchance",

		"metrics.enabled":   true,
		"metrics.namespace": "secondchance",
		"metrics.path":      "/metrics",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"ENVIRONMENT":                 "app.environment",
	"HOST":                        "server.host",
	"PORT":                        "server.port",
	"STORAGE_DRIVER":              "storage.driver",
	"DATABASE_URL":                "storage.database_url",
	"SQLITE_PATH":                 "storage.sqlite_path",
	"AUTO_MIGRATE":                "storage.auto_migrate",
	"HOT_TIER":                    "hot_tier.backend",
	"REDIS_URL":                   "hot_tier.redis_url",
	"FIRESTORE_PROJECT":           "hot_tier.firestore_project",
	"FIRESTORE_COLLECTION":        "hot_tier.firestore_collection",
	"HOT_TIER_ASYNC":              "hot_tier.async_sync",
	"LEDGER_CACHE_ENABLED":        "ledger.cache_enabled",
	"LEDGER_CACHE_TTL":            "ledger.cache_ttl",
	"JWT_SECRET":                  "auth.jwt_secret",
	"TOKEN_TTL":                   "auth.token_ttl",
	"BCRYPT_COST":                 "auth.bcrypt_cost",
	"STRIPE_SECRET_KEY":           "stripe.secret_key",
	"STRIPE_WEBHOOK_SECRET":       "stripe.webhook_secret",
	"CLIENT_URL":                  "stripe.client_url",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"OTEL_ENDPOINT":               "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
	"METRICS_ENABLED":             "metrics.enabled",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.Stripe.ClientURL == "" {
		return fmt.Errorf("CLIENT_URL is required")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.HotTier.Backend {
	case HotNone, HotMemory:
	case HotRedis:
		if c.HotTier.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis hot tier")
		}
	case HotFirestore:
		if c.HotTier.FirestoreProject == "" {
			return fmt.Errorf("FIRESTORE_PROJECT is required for the firestore hot tier")
		}
	default:
		return fmt.Errorf("unknown hot tier backend %q", c.HotTier.Backend)
	}

	if c.IsProduction() {
		if c.Storage.Driver == DriverMemory {
			return fmt.Errorf("the memory storage driver cannot be used in production")
		}
		if c.Otel.Enabled && c.Otel.Insecure {
			return fmt.Errorf("OTEL_INSECURE must be false in production")
		}
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SuccessURL is where the hosted checkout redirects after payment
func (s *StripeConfig) SuccessURL() string {
	return strings.TrimRight(s.ClientURL, "/") + "/success"
}

// CancelURL is where the hosted checkout redirects when the buyer backs out
func (s *StripeConfig) CancelURL() string {
	return strings.TrimRight(s.ClientURL, "/") + "/cancel"
}
