package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, HotNone, cfg.HotTier.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, 10*time.Second, cfg.Stripe.CheckoutTimeout)
	assert.Equal(t, "jwt-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "http://localhost:3000/success", cfg.Stripe.SuccessURL())
	assert.Equal(t, "http://localhost:3000/cancel", cfg.Stripe.CancelURL())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FileThenEnv(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
storage:
  driver: sqlite
  sqlite_path: /tmp/app.db
hot_tier:
  backend: redis
  redis_url: redis://localhost:6379/0
log:
  level: debug
`), 0o600))

	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("CLIENT_URL", "https://secondchances.example/")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/app.db", cfg.Storage.SQLitePath)
	assert.Equal(t, HotRedis, cfg.HotTier.Backend)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "https://secondchances.example/success", cfg.Stripe.SuccessURL())
}

func TestLoad_DotEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-process")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=from-file\nSTRIPE_WEBHOOK_SECRET=whsec_file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("STRIPE_WEBHOOK_SECRET") })

	cfg, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, "from-process", cfg.Auth.JWTSecret)
	assert.Equal(t, "whsec_file", cfg.Stripe.WebhookSecret)
}

func TestLoad_MissingDotEnvIgnored(t *testing.T) {
	setRequired(t)
	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:     AppConfig{Environment: "development"},
			Server:  ServerConfig{ReadTimeout: time.Second, WriteTimeout: time.Second},
			Storage: StorageConfig{Driver: DriverMemory},
			HotTier: HotTierConfig{Backend: HotNone},
			Auth:    AuthConfig{JWTSecret: "s", TokenTTL: time.Hour},
			Stripe:  StripeConfig{SecretKey: "sk", WebhookSecret: "wh", ClientURL: "http://localhost"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, true},
		{"missing stripe key", func(c *Config) { c.Stripe.SecretKey = "" }, true},
		{"missing webhook secret", func(c *Config) { c.Stripe.WebhookSecret = "" }, true},
		{"missing client url", func(c *Config) { c.Stripe.ClientURL = "" }, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, true},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }, true},
		{"postgres with url", func(c *Config) {
			c.Storage.Driver = DriverPostgres
			c.Storage.DatabaseURL = "postgres://localhost/db"
		}, false},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = DriverSQLite }, true},
		{"unknown hot tier", func(c *Config) { c.HotTier.Backend = "memcached" }, true},
		{"redis without url", func(c *Config) { c.HotTier.Backend = HotRedis }, true},
		{"firestore without project", func(c *Config) { c.HotTier.Backend = HotFirestore }, true},
		{"memory in production", func(c *Config) { c.App.Environment = "production" }, true},
		{"insecure otel in production", func(c *Config) {
			c.App.Environment = "production"
			c.Storage = StorageConfig{Driver: DriverPostgres, DatabaseURL: "postgres://db"}
			c.Otel = OtelConfig{Enabled: true, Insecure: true}
		}, true},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, true},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := validate(c)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerAddress(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 3001}
	assert.Equal(t, "127.0.0.1:3001", s.Address())
}
