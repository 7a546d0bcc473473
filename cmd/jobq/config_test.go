package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Queue.Concurrency)
	assert.Equal(t, []string{"default"}, cfg.Queue.Queues)
	assert.Equal(t, time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Queue.EffectiveLockDuration())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: text
store:
  backend: redis
  url: redis://localhost:6379/0
queue:
  concurrency: 4
  queues: [emails, reports]
  poll_interval: 250ms
  limiter:
    max: 100
    duration: 1m
  retention:
    keep_completed: 1000
`), 0o600))

	t.Setenv("JOBQ_QUEUE_CONCURRENCY", "16")
	t.Setenv("JOBQ_RELAY_ENABLED", "true")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 16, cfg.Queue.Concurrency, "env overrides file")
	assert.Equal(t, []string{"emails", "reports"}, cfg.Queue.Queues)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.PollInterval)
	assert.Equal(t, 100, cfg.Queue.Limiter.Max)
	assert.Equal(t, time.Minute, cfg.Queue.Limiter.Duration)
	assert.Equal(t, 1000, cfg.Queue.Retention.KeepCompleted)
	assert.True(t, cfg.Relay.Enabled)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"backend":        {"JOBQ_STORE_BACKEND": "sqlite"},
		"url required":   {"JOBQ_STORE_BACKEND": "postgres"},
		"log level":      {"JOBQ_LOG_LEVEL": "loud"},
		"concurrency":    {"JOBQ_QUEUE_CONCURRENCY": "0"},
		"relay backend":  {"JOBQ_RELAY_ENABLED": "true"},
		"lock heartbeat": {"JOBQ_QUEUE_LOCK_DURATION": "1s", "JOBQ_QUEUE_HEARTBEAT_INTERVAL": "2s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := loadConfig("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LogConfig{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"jobq"`)
}

func TestOpenBackendMemory(t *testing.T) {
	b, err := openBackend(context.Background(), StoreConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Ping(context.Background()))
	assert.NoError(t, b.Close())
}
