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
	cfg := LoadDefaults()
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Execution.Timeout)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 1000, cfg.Cache.Size)
	assert.GreaterOrEqual(t, cfg.Execution.MaxWorkers, 1)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rdgql.yaml")
	data := `
storage:
  backend: badger
  data_dir: /tmp/rdgql
execution:
  timeout: 2s
  parallel: true
  max_workers: 3
cache:
  size: 10
  ttl: 1m
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/rdgql", cfg.Storage.DataDir)
	assert.Equal(t, 2*time.Second, cfg.Execution.Timeout)
	assert.True(t, cfg.Execution.Parallel)
	assert.Equal(t, 3, cfg.Execution.MaxWorkers)
	assert.Equal(t, 10, cfg.Cache.Size)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.Enabled, "unset keys keep their defaults")
	assert.Equal(t, "json", cfg.Logging.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, LoadDefaults().Storage, cfg.Storage)
}

func TestLoadFromInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed"), 0o644))
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rdgql.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: badger\n"), 0o644))

	t.Setenv("RDGQL_STORAGE_BACKEND", "sqlite")
	t.Setenv("RDGQL_TIMEOUT", "5")
	t.Setenv("RDGQL_PARALLEL", "yes")
	t.Setenv("RDGQL_CACHE_SIZE", "42")
	t.Setenv("RDGQL_LOG_LEVEL", "warn")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 5*time.Second, cfg.Execution.Timeout)
	assert.True(t, cfg.Execution.Parallel)
	assert.Equal(t, 42, cfg.Cache.Size)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "cassandra" }},
		{"missing data dir", func(c *Config) { c.Storage.Backend = "badger"; c.Storage.DataDir = "" }},
		{"negative timeout", func(c *Config) { c.Execution.Timeout = -time.Second }},
		{"no workers", func(c *Config) { c.Execution.MaxWorkers = 0 }},
		{"empty cache", func(c *Config) { c.Cache.Size = 0 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadDefaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestString(t *testing.T) {
	s := LoadDefaults().String()
	assert.Contains(t, s, "Backend: memory")
	assert.Contains(t, s, "Timeout: 30s")
}
