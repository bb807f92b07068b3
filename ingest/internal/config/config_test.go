package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, int64(1048576), cfg.Ingestion.MaxBodySize)
	assert.Equal(t, 5*time.Second, cfg.Ingestion.PublishTimeout)
	assert.True(t, cfg.Ingestion.RateLimitEnabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "jetstream", cfg.Log.Backend)
	assert.Equal(t, "EVENTS", cfg.Log.Stream)
	assert.Equal(t, "events.collect", cfg.Log.SubjectPrefix)
	assert.Equal(t, 8, cfg.Log.Partitions)
	assert.Equal(t, 2*time.Minute, cfg.Log.DuplicateWindow)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.yaml")
	content := `
server:
  port: 9999
log:
  partitions: 4
  backend: memory
cors:
  allowed_origins:
    - https://shop.example.com
redis:
  enabled: true
  url: redis://cache:6379/1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Log.Partitions)
	assert.Equal(t, "memory", cfg.Log.Backend)
	assert.Equal(t, []string{"https://shop.example.com"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, "EVENTS", cfg.Log.Stream, "unset keys keep defaults")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("INGEST_NATS_URL", "nats://broker:4222")
	t.Setenv("INGEST_LOG_PARTITIONS", "16")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 16, cfg.Log.Partitions)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad partitions", func(t *testing.T) {
		t.Setenv("INGEST_LOG_PARTITIONS", "0")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("bad backend", func(t *testing.T) {
		t.Setenv("INGEST_LOG_BACKEND", "kafka")
		_, err := Load("")
		assert.Error(t, err)
	})
}
