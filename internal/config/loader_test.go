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

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VOXMED_AUTH_TOKEN_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, ":8080", cfg.HTTP.Addr())
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "voxmed.db", cfg.Storage.SQLiteDSN)
	assert.Equal(t, int32(10), cfg.Storage.MaxConns)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, time.UTC, cfg.Clinic.Location())
	assert.Equal(t, 512, cfg.Availability.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.Availability.CacheTTL)
	assert.Equal(t, []string{"log"}, cfg.Events.SinkNames())
	assert.Equal(t, 256, cfg.Events.Buffer)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VOXMED_AUTH_TOKEN_SECRET", testSecret)
	t.Setenv("VOXMED_HTTP_PORT", "9090")
	t.Setenv("VOXMED_AUTH_TOKEN_TTL", "30m")
	t.Setenv("VOXMED_STORAGE_DRIVER", "Postgres")
	t.Setenv("VOXMED_STORAGE_POSTGRES_URL", "postgres://voxmed@localhost/voxmed")
	t.Setenv("VOXMED_CLINIC_TIMEZONE", "America/Sao_Paulo")
	t.Setenv("VOXMED_EVENTS_SINKS", "log, redis")
	t.Setenv("VOXMED_EVENTS_REDIS_ADDR", "localhost:6379")
	t.Setenv("VOXMED_LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "America/Sao_Paulo", cfg.Clinic.Location().String())
	assert.Equal(t, []string{"log", "redis"}, cfg.Events.SinkNames())
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	content := `
http:
  port: 7070
storage:
  driver: memory
auth:
  token_secret: "` + testSecret + `"
availability:
  cache_ttl: 1m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "voxmed.yaml"), []byte(content), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, time.Minute, cfg.Availability.CacheTTL)

	t.Setenv("VOXMED_HTTP_PORT", "6060")
	cfg, err = LoadFile(filepath.Join(dir, "voxmed.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.HTTP.Port)

	_, err = LoadFile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_CollectsEveryProblem(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VOXMED_AUTH_TOKEN_SECRET", "")
	t.Setenv("VOXMED_HTTP_PORT", "0")
	t.Setenv("VOXMED_STORAGE_DRIVER", "postgres")
	t.Setenv("VOXMED_CLINIC_TIMEZONE", "Mars/Olympus")
	t.Setenv("VOXMED_EVENTS_SINKS", "amqp,kafka")
	t.Setenv("VOXMED_LOG_LEVEL", "loud")

	_, err := Load()
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)

	assert.Equal(t, []string{"auth.token_secret", "events.amqp_url", "storage.postgres_url"}, cfgErr.Missing)
	assert.Contains(t, cfgErr.Invalid, "http.port")
	assert.Contains(t, cfgErr.Invalid, "clinic.timezone")
	assert.Contains(t, cfgErr.Invalid, "events.sinks")
	assert.Contains(t, cfgErr.Invalid, "log.level")
	assert.Contains(t, err.Error(), "missing required keys: auth.token_secret, events.amqp_url, storage.postgres_url")
}

func TestLoad_ShortTokenSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VOXMED_AUTH_TOKEN_SECRET", "short")

	_, err := Load()
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, cfgErr.Missing)
	assert.Contains(t, cfgErr.Invalid, "auth.token_secret")
}
