// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Providers ProvidersConfig `yaml:"providers"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig contains connection settings for the cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig contains cache and single-flight tuning.
type CacheConfig struct {
	PositiveTTL    time.Duration `yaml:"positive_ttl"`
	NegativeTTL    time.Duration `yaml:"negative_ttl"`
	JitterFraction float64       `yaml:"jitter_fraction"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxPending     int           `yaml:"max_pending"`
	Lock           LockConfig    `yaml:"lock"`
}

// LockConfig enables the cross-process fill lock.
type LockConfig struct {
	Enabled   bool          `yaml:"enabled"`
	TTL       time.Duration `yaml:"ttl"`
	MaxWait   time.Duration `yaml:"max_wait"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// ProvidersConfig lists upstream providers in failover order.
type ProvidersConfig struct {
	Address   []ProviderConfig `yaml:"address"`
	Geocoding []ProviderConfig `yaml:"geocoding"`
}

// ProviderConfig defines a single upstream provider.
type ProviderConfig struct {
	Name       string        `yaml:"name"`
	Type       string        `yaml:"type"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// RateLimitConfig defines per-provider outbound rate limits.
type RateLimitConfig struct {
	Enabled           bool                     `yaml:"enabled"`
	RequestsPerMinute int                      `yaml:"requests_per_minute"`
	BurstSize         int                      `yaml:"burst_size"`
	PerProvider       map[string]ProviderLimit `yaml:"per_provider"`
}

// ProviderLimit overrides the default limit for one provider.
type ProviderLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			PositiveTTL:    time.Hour,
			NegativeTTL:    time.Minute,
			JitterFraction: 0.05,
			FetchTimeout:   5 * time.Second,
			WriteTimeout:   2 * time.Second,
			MaxPending:     100,
			Lock: LockConfig{
				Enabled:   false,
				TTL:       10 * time.Second,
				MaxWait:   3 * time.Second,
				Heartbeat: 500 * time.Millisecond,
			},
		},
		Providers: ProvidersConfig{
			Address: []ProviderConfig{
				{Name: "viacep", Type: "viacep"},
				{Name: "brasilapi", Type: "brasilapi"},
			},
			Geocoding: []ProviderConfig{
				{Name: "nominatim", Type: "nominatim"},
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "geomux",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if c.Cache.JitterFraction < 0 || c.Cache.JitterFraction >= 1 {
		return fmt.Errorf("cache.jitter_fraction must be in [0, 1): %v", c.Cache.JitterFraction)
	}
	if c.Cache.FetchTimeout <= 0 {
		return fmt.Errorf("cache.fetch_timeout must be positive")
	}
	if c.Cache.MaxPending <= 0 {
		return fmt.Errorf("cache.max_pending must be positive")
	}

	if len(c.Providers.Address) == 0 {
		return fmt.Errorf("at least one address provider must be configured")
	}
	if err := validateProviders("providers.address", c.Providers.Address); err != nil {
		return err
	}
	if err := validateProviders("providers.geocoding", c.Providers.Geocoding); err != nil {
		return err
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive when enabled")
	}

	return nil
}

func validateProviders(section string, providers []ProviderConfig) error {
	seen := make(map[string]bool, len(providers))
	for i, p := range providers {
		if p.Name == "" {
			return fmt.Errorf("%s[%d]: name is required", section, i)
		}
		if p.Type == "" {
			return fmt.Errorf("%s[%d] %q: type is required", section, i, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%s[%d]: duplicate provider name %q", section, i, p.Name)
		}
		seen[p.Name] = true
		if p.Timeout < 0 {
			return fmt.Errorf("%s[%d] %q: timeout cannot be negative", section, i, p.Name)
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("%s[%d] %q: max_retries cannot be negative", section, i, p.Name)
		}
	}
	return nil
}
