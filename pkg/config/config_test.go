package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api", cfg.APIPrefix)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, AuthModeGateway, cfg.Auth.Mode)
	assert.True(t, cfg.Consistency.Strict())
	assert.Equal(t, 4, cfg.CapacitySync.Workers)
	assert.Equal(t, 3, cfg.CapacitySync.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.Catalog.Timeout)
	assert.Equal(t, 5, cfg.Identity.FailureThreshold)
	assert.Equal(t, "/courses/%s", cfg.Catalog.PathTemplate)
	assert.Empty(t, cfg.CORS.AllowedOrigins)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_DRIVER", "MEMORY")
	t.Setenv("CONSISTENCY_MODE", "parity")
	t.Setenv("CATALOG_SERVICE_URL", "http://catalog:8082/api/")
	t.Setenv("CATALOG_TIMEOUT", "750ms")
	t.Setenv("BREAKER_COOLDOWN", "not-a-duration")
	t.Setenv("CAPACITY_SYNC_WORKERS", "8")
	t.Setenv("ALLOWED_ORIGINS", "https://portal.example.edu, ,http://localhost:5173")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.False(t, cfg.Consistency.Strict())
	assert.Equal(t, "http://catalog:8082/api", cfg.Catalog.BaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.Catalog.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Catalog.Cooldown)
	assert.Equal(t, 8, cfg.CapacitySync.Workers)
	assert.Equal(t, []string{"https://portal.example.edu", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)
}

func TestLoadRejectsUnknownModes(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("CONSISTENCY_MODE", "eventual")
	_, err := Load()
	assert.ErrorContains(t, err, "CONSISTENCY_MODE")

	t.Setenv("CONSISTENCY_MODE", "strict")
	t.Setenv("AUTH_MODE", "jwt")
	_, err = Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "secret")
	_, err = Load()
	assert.NoError(t, err)
}
