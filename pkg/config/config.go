// Package config loads rdgql settings from defaults, a YAML file and the
// environment, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete rdgql configuration
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Execution ExecutionConfig `yaml:"execution"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects the storage backend
type StorageConfig struct {
	Name       string `yaml:"name"`
	Backend    string `yaml:"backend"` // memory, badger, sqlite
	DataDir    string `yaml:"data_dir"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// ExecutionConfig controls statement execution
type ExecutionConfig struct {
	// Timeout per statement; zero disables it
	Timeout   time.Duration `yaml:"timeout"`
	Profiling bool          `yaml:"profiling"`

	// Parallel enables concurrent prefetch of union branches
	Parallel   bool `yaml:"parallel"`
	MaxWorkers int  `yaml:"max_workers"`
}

// CacheConfig controls the execution-plan cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoggingConfig controls the process logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// LoadDefaults returns the built-in defaults
func LoadDefaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Name:    "rdgql",
			Backend: "memory",
			DataDir: "./data",
		},
		Execution: ExecutionConfig{
			Timeout:    30 * time.Second,
			Parallel:   false,
			MaxWorkers: runtime.NumCPU(),
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    1000,
			TTL:     5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads defaults, overlays the YAML file if it exists, then
// applies environment variables
func LoadFromFile(configPath string) (*Config, error) {
	config := LoadDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err):
			// defaults + env only
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvVars(config)
	return config, nil
}

// LoadFromEnv returns defaults with environment overrides applied
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnvVars(config)
	return config
}

func applyEnvVars(config *Config) {
	config.Storage.Name = getEnv("RDGQL_DATABASE", config.Storage.Name)
	config.Storage.Backend = getEnv("RDGQL_STORAGE_BACKEND", config.Storage.Backend)
	config.Storage.DataDir = getEnv("RDGQL_DATA_DIR", config.Storage.DataDir)
	config.Storage.InMemory = getEnvBool("RDGQL_IN_MEMORY", config.Storage.InMemory)

	config.Execution.Timeout = getEnvDuration("RDGQL_TIMEOUT", config.Execution.Timeout)
	config.Execution.Profiling = getEnvBool("RDGQL_PROFILING", config.Execution.Profiling)
	config.Execution.Parallel = getEnvBool("RDGQL_PARALLEL", config.Execution.Parallel)
	config.Execution.MaxWorkers = getEnvInt("RDGQL_MAX_WORKERS", config.Execution.MaxWorkers)

	config.Cache.Enabled = getEnvBool("RDGQL_CACHE_ENABLED", config.Cache.Enabled)
	config.Cache.Size = getEnvInt("RDGQL_CACHE_SIZE", config.Cache.Size)
	config.Cache.TTL = getEnvDuration("RDGQL_CACHE_TTL", config.Cache.TTL)

	config.Logging.Level = getEnv("RDGQL_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("RDGQL_LOG_FORMAT", config.Logging.Format)
	config.Logging.Output = getEnv("RDGQL_LOG_OUTPUT", config.Logging.Output)
}

// Validate checks the configuration for inconsistent values
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "badger", "sqlite":
	default:
		return fmt.Errorf("invalid storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && !c.Storage.InMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("storage backend %s requires a data directory", c.Storage.Backend)
	}
	if c.Execution.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %s", c.Execution.Timeout)
	}
	if c.Execution.MaxWorkers < 1 {
		return fmt.Errorf("invalid max workers: %d", c.Execution.MaxWorkers)
	}
	if c.Cache.Enabled && c.Cache.Size < 1 {
		return fmt.Errorf("invalid cache size: %d", c.Cache.Size)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}
	return nil
}

// String returns a human-readable summary
func (c *Config) String() string {
	return fmt.Sprintf("Config{Backend: %s, DataDir: %s, Timeout: %s, Parallel: %v, Cache: %v/%d/%s, Log: %s/%s}",
		c.Storage.Backend, c.Storage.DataDir, c.Execution.Timeout, c.Execution.Parallel,
		c.Cache.Enabled, c.Cache.Size, c.Cache.TTL, c.Logging.Level, c.Logging.Format)
}

// FindConfigFile returns the first existing config file from the standard
// locations, or "" when there is none
func FindConfigFile() string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".rdgql", "config.yaml"))
	}
	candidates = append(candidates, "rdgql.yaml", "config.yaml")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "rdgql", "config.yaml"))
	}

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
