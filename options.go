package geomux

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope prefixes for the two cache namespaces.
const (
	cepScope       = "cache:cep:"
	geocodingScope = "cache:geocoding:"
)

// RateLimit describes one provider's outbound quota.
type RateLimit struct {
	// RequestsPerMinute is the sustained quota. Zero means unlimited.
	RequestsPerMinute int

	// Burst is the bucket capacity. Defaults to RequestsPerMinute.
	Burst int
}

// LockConfig tunes the optional cross-process fill lock.
type LockConfig struct {
	// TTL is the lock expiry. Must outlive one fill attempt.
	TTL time.Duration

	// MaxWait bounds how long a non-holder waits for the release.
	MaxWait time.Duration

	// Heartbeat is the liveness poll interval backing up the wait.
	Heartbeat time.Duration
}

// ClientConfig holds all configuration for the geomux client.
type ClientConfig struct {
	// Redis is the backing store handle. One of Redis or RedisAddr is
	// required; a client passed here is not closed by Close.
	Redis     redis.UniversalClient
	RedisAddr string

	// Provider chains in failover order.
	AddressProviders   []AddressProvider
	GeocodingProviders []GeocodingProvider

	// Cache tuning.
	FetchTimeout   time.Duration
	WriteTimeout   time.Duration
	MaxPending     int
	PositiveTTL    time.Duration
	NegativeTTL    time.Duration
	JitterFraction float64

	// DistributedLock enables the cross-process fill lock.
	DistributedLock bool
	Lock            LockConfig

	// Rate limiting for outbound provider calls.
	RateLimitEnabled bool
	RateLimit        RateLimit
	ProviderLimits   map[string]RateLimit

	// Logging
	Logger *slog.Logger
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

// defaultConfig returns sensible defaults.
func defaultConfig() *ClientConfig {
	return &ClientConfig{
		FetchTimeout:   5 * time.Second,
		WriteTimeout:   2 * time.Second,
		MaxPending:     100,
		PositiveTTL:    time.Hour,
		NegativeTTL:    time.Minute,
		JitterFraction: 0.05,
		Logger:         slog.Default(),
	}
}

// WithRedis sets an externally owned Redis client.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(c *ClientConfig) { c.Redis = rdb }
}

// WithRedisAddr makes the client own a Redis connection to the given address.
func WithRedisAddr(addr string) Option {
	return func(c *ClientConfig) { c.RedisAddr = addr }
}

// WithAddressProviders sets the CEP failover chain in order.
func WithAddressProviders(providers ...AddressProvider) Option {
	return func(c *ClientConfig) {
		c.AddressProviders = append(c.AddressProviders, providers...)
	}
}

// WithGeocodingProviders sets the geocoding failover chain in order.
func WithGeocodingProviders(providers ...GeocodingProvider) Option {
	return func(c *ClientConfig) {
		c.GeocodingProviders = append(c.GeocodingProviders, providers...)
	}
}

// WithFetchTimeout bounds one cache fill end to end, failover included.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *ClientConfig) { c.FetchTimeout = d }
}

// WithWriteTimeout bounds the best-effort cache write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *ClientConfig) { c.WriteTimeout = d }
}

// WithMaxPending caps concurrently filling keys per cache scope.
func WithMaxPending(n int) Option {
	return func(c *ClientConfig) { c.MaxPending = n }
}

// WithTTL sets the base TTLs for positive and negative cache entries.
// A non-positive positive TTL disables caching of successes; a non-positive
// negative TTL disables negative caching.
func WithTTL(positive, negative time.Duration) Option {
	return func(c *ClientConfig) {
		c.PositiveTTL = positive
		c.NegativeTTL = negative
	}
}

// WithTTLJitter sets the symmetric TTL jitter fraction, in [0, 1).
func WithTTLJitter(fraction float64) Option {
	return func(c *ClientConfig) { c.JitterFraction = fraction }
}

// WithDistributedLock enables the cross-process fill lock. Zero fields in
// cfg keep their defaults.
func WithDistributedLock(cfg LockConfig) Option {
	return func(c *ClientConfig) {
		c.DistributedLock = true
		c.Lock = cfg
	}
}

// WithRateLimit enables outbound rate limiting with a default per-provider
// quota.
func WithRateLimit(limit RateLimit) Option {
	return func(c *ClientConfig) {
		c.RateLimitEnabled = true
		c.RateLimit = limit
	}
}

// WithProviderRateLimit overrides the quota for one provider by name.
func WithProviderRateLimit(name string, limit RateLimit) Option {
	return func(c *ClientConfig) {
		c.RateLimitEnabled = true
		if c.ProviderLimits == nil {
			c.ProviderLimits = make(map[string]RateLimit)
		}
		c.ProviderLimits[name] = limit
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}
