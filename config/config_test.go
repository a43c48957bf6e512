package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "REDIS_ADDR", "JWT_SECRET", "HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT", "PLATFORM_ADMIN", "RELAY_INTERVAL", "LOCK_EXPIRY", "DB_MAX_CONNS"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, time.Second, cfg.RelayInterval)
	assert.Equal(t, 10*time.Second, cfg.LockExpiry)
	assert.Zero(t, cfg.MaxConnections)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=from-file\nHTTP_ADDR=:9090\nPLATFORM_ADMIN=GADMIN\n"), 0o600))
	t.Setenv("HTTP_ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, "GADMIN", cfg.PlatformAdmin)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	missing := filepath.Join(t.TempDir(), "missing.env")

	_, err := Load(missing)
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOG_FORMAT", "xml")
	_, err = Load(missing)
	assert.ErrorContains(t, err, "LOG_FORMAT")

	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("RELAY_INTERVAL", "soon")
	_, err = Load(missing)
	assert.ErrorContains(t, err, "RELAY_INTERVAL")
}
