package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 10*time.Second, cfg.Lock.WaitTimeout)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samplecore.yaml")
	content := `
storage:
  driver: postgres
  postgres_dsn: postgres://localhost/samples
lock:
  driver: postgres
  wait_timeout: 2s
blob:
  driver: s3
  bucket: attachments
  path_style: true
metrics:
  driver: prometheus
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/samples", cfg.Storage.PostgresDSN)
	assert.Equal(t, 2*time.Second, cfg.Lock.WaitTimeout)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL, "unset keys keep defaults")
	assert.Equal(t, "attachments", cfg.Blob.Bucket)
	assert.True(t, cfg.Blob.PathStyle)
	assert.Equal(t, "prometheus", cfg.Metrics.Driver)
	assert.Equal(t, "samplecore", cfg.Metrics.Namespace)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("SAMPLECORE_LOCK_DRIVER", "redis")
	t.Setenv("SAMPLECORE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SAMPLECORE_LOCK_RETRY_INTERVAL", "5ms")
	t.Setenv("SAMPLECORE_STORAGE_SQLITE_PATH", "/tmp/env.db")

	cfg, err := LoadBytes([]byte("lock:\n  driver: memory\n  retry_interval: 1s\n"))
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Lock.Driver)
	assert.Equal(t, 5*time.Millisecond, cfg.Lock.RetryInterval)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestEnvKeyMapping(t *testing.T) {
	cases := map[string]string{
		"SAMPLECORE_STORAGE_SQLITE_PATH": "storage.sqlite_path",
		"SAMPLECORE_LOG_LEVEL":           "log.level",
		"SAMPLECORE_DEBUG":               "debug",
	}
	for in, want := range cases {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown storage", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.postgres_dsn"},
		{"s3 without bucket", func(c *Config) { c.Blob.Driver = "s3" }, "blob.bucket"},
		{"fs without root", func(c *Config) { c.Blob.Driver = "fs" }, "blob.fs_root"},
		{"redis lock without url", func(c *Config) { c.Lock.Driver = "redis" }, "redis lock"},
		{"redis progress without url", func(c *Config) { c.Progress.Driver = "redis" }, "redis progress"},
		{"advisory lock on sqlite", func(c *Config) { c.Lock.Driver = "postgres" }, "requires storage.driver postgres"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero wait", func(c *Config) { c.Lock.WaitTimeout = 0 }, "wait_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadReportsParseAndFileErrors(t *testing.T) {
	_, err := LoadBytes([]byte("storage: [unclosed"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadBytes([]byte("metrics:\n  driver: statsd\n"))
	require.ErrorContains(t, err, "metrics.driver")
}
