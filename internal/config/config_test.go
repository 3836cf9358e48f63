package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadRequiresDatabaseAndSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/flowers")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	t.Setenv("JWT_SECRET", "short")
	_, err = Load("")
	require.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://file/flowers
jwt_secret: `+testSecret+`
session_ttl: 2h
otp:
  ttl: 3m
  max_requests: 4
store:
  driver: memory
`), 0o600))

	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("OTP_RATE_LIMIT_MAX", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://file/flowers", cfg.DatabaseURL)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 3*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 7, cfg.OTP.MaxRequests)
	assert.Equal(t, time.Minute, cfg.OTP.Window)
	assert.Equal(t, 5, cfg.OTP.MaxAttempts)
}

func TestValidateClampsSessionTTL(t *testing.T) {
	cfg := Defaults()
	cfg.DatabaseURL = "postgres://localhost/flowers"
	cfg.JWTSecret = testSecret

	cfg.SessionTTL = time.Minute
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)

	cfg.SessionTTL = 72 * time.Hour
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := Defaults()
	cfg.DatabaseURL = "postgres://localhost/flowers"
	cfg.JWTSecret = testSecret

	cfg.Store.Driver = "redis"
	require.Error(t, cfg.Validate())

	cfg.Store.RedisURL = "redis://localhost:6379/0"
	require.NoError(t, cfg.Validate())

	cfg.Store.Driver = "memcached"
	require.Error(t, cfg.Validate())
}

func TestCORSOriginsFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/flowers")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://admin.example.com, https://shop.example.com ,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://admin.example.com", "https://shop.example.com"}, cfg.CORSOrigins)
}

func TestProductionRequiresSharedStore(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/flowers")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("REDIS_URL", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER=redis")

	t.Setenv("STORE_DRIVER", "memory")
	_, err = Load("")
	require.Error(t, err)

	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.True(t, cfg.IsProduction())
}

func TestTrustProxyHeadersFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/flowers")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("APP_ENV", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("TRUST_PROXY_HEADERS", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.TrustProxyHeaders)

	t.Setenv("TRUST_PROXY_HEADERS", "true")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.True(t, cfg.TrustProxyHeaders)
}
