// Package config loads engine configuration from environment variables
// and optional YAML files, with fsnotify-based hot reload feeding the
// orchestrator's configuration update path.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quorumsec/warden/pkg/observability"
	"github.com/quorumsec/warden/pkg/validation"
)

// Config holds all engine configuration
type Config struct {
	// Engine is the validation engine configuration
	Engine *validation.Configuration `yaml:"engine"`

	// Policy holds the business-rule knobs
	Policy *validation.Policy `yaml:"policy"`

	// Cache selects and configures the cache backend
	Cache CacheConfig `yaml:"cache"`

	// Gateway selects and configures the persistence gateway
	Gateway GatewayConfig `yaml:"gateway"`

	// Observability holds logging, metrics and tracing settings
	Observability ObservabilityConfig `yaml:"observability"`

	// BulkConcurrency bounds bulk validation fan-out
	BulkConcurrency int `yaml:"bulk_concurrency"`

	// SweepSchedule is the cron expression for system invariant sweeps
	SweepSchedule string `yaml:"sweep_schedule"`
}

// CacheConfig selects the validation cache backend
type CacheConfig struct {
	// Backend is "memory" or "redis"
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// GatewayConfig selects the persistence gateway backend
type GatewayConfig struct {
	// Backend is "memory", "postgres" or "sqlite"
	Backend     string `yaml:"backend"`
	PostgresURL string `yaml:"postgres_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Engine:          loadEngineConfig(),
		Policy:          validation.DefaultPolicy(),
		Cache:           loadCacheConfig(),
		Gateway:         loadGatewayConfig(),
		Observability:   loadObservabilityConfig(),
		BulkConcurrency: getEnvInt("WARDEN_BULK_CONCURRENCY", validation.DefaultBulkConcurrency),
		SweepSchedule:   getEnv("WARDEN_SWEEP_SCHEDULE", "@every 5m"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from a YAML file, layered over defaults
func LoadFile(path string) (*Config, error) {
	cfg := &Config{
		Engine:          validation.DefaultConfiguration(),
		Policy:          validation.DefaultPolicy(),
		Cache:           CacheConfig{Backend: "memory"},
		Gateway:         GatewayConfig{Backend: "memory"},
		BulkConcurrency: validation.DefaultBulkConcurrency,
		SweepSchedule:   "@every 5m",
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	cfg.Observability.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevelName)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis cache backend requires an address")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	switch c.Gateway.Backend {
	case "", "memory":
	case "postgres":
		if c.Gateway.PostgresURL == "" {
			return fmt.Errorf("postgres gateway requires a connection URL")
		}
	case "sqlite":
		if c.Gateway.SQLitePath == "" {
			return fmt.Errorf("sqlite gateway requires a database path")
		}
	default:
		return fmt.Errorf("unknown gateway backend %q", c.Gateway.Backend)
	}

	if c.Engine != nil && c.Engine.MaxValidationDepth < 0 {
		return fmt.Errorf("max validation depth must not be negative")
	}
	return nil
}

func loadEngineConfig() *validation.Configuration {
	cfg := validation.DefaultConfiguration()
	cfg.StrictMode = getEnvBool("WARDEN_STRICT_MODE", false)
	cfg.MaxValidationDepth = getEnvInt("WARDEN_MAX_VALIDATION_DEPTH", validation.DefaultMaxValidationDepth)
	cfg.EnableCaching = getEnvBool("WARDEN_ENABLE_CACHING", true)
	cfg.CacheTTL = getEnvDuration("WARDEN_CACHE_TTL", 5*time.Minute)
	return cfg
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       getEnv("WARDEN_CACHE_BACKEND", "memory"),
		RedisAddr:     getEnv("WARDEN_REDIS_ADDR", ""),
		RedisPassword: getEnv("WARDEN_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("WARDEN_REDIS_DB", 0),
	}
}

func loadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Backend:     getEnv("WARDEN_GATEWAY_BACKEND", "memory"),
		PostgresURL: getEnv("WARDEN_POSTGRES_URL", ""),
		SQLitePath:  getEnv("WARDEN_SQLITE_PATH", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	levelName := getEnv("WARDEN_LOG_LEVEL", "info")
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(levelName),
		LogLevelName:       levelName,
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
	}
}

// Environment helpers

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
