package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Limit describes one provider's quota as a token bucket.
type Limit struct {
	// Rate is the sustained number of requests per Period. Zero or negative
	// means unlimited.
	Rate int

	// Burst is the bucket capacity. Defaults to Rate when unset.
	Burst int

	// Period is the refill window. Defaults to one second.
	Period time.Duration
}

func (l Limit) normalized() Limit {
	if l.Burst <= 0 {
		l.Burst = l.Rate
	}
	if l.Period <= 0 {
		l.Period = time.Second
	}
	return l
}

// LimiterConfig configures the provider limiter.
type LimiterConfig struct {
	// Default applies to providers without an explicit entry.
	Default Limit

	// PerProvider overrides the default per provider name.
	PerProvider map[string]Limit

	// KeyPrefix namespaces limiter keys in Redis. Defaults to "ratelimit:".
	KeyPrefix string
}

// ProviderLimiter is a token-bucket consumer keyed by provider name. With a
// Redis client it enforces a fleet-wide GCRA bucket; without one it falls
// back to in-process buckets. Backing-store errors fail open: an unavailable
// limiter must never take the lookup path down with it.
type ProviderLimiter struct {
	distributed *redis_rate.Limiter
	config      LimiterConfig
	logger      *slog.Logger

	mu    sync.Mutex
	local map[string]*TokenBucket
}

// NewProviderLimiter creates a limiter. rdb may be nil for local-only mode.
func NewProviderLimiter(rdb redis.UniversalClient, cfg LimiterConfig, logger *slog.Logger) *ProviderLimiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &ProviderLimiter{
		config: cfg,
		logger: logger,
		local:  make(map[string]*TokenBucket),
	}
	if rdb != nil {
		l.distributed = redis_rate.NewLimiter(rdb)
	}
	return l
}

// Allow reports whether one request for the given provider may proceed.
func (l *ProviderLimiter) Allow(ctx context.Context, provider string) bool {
	limit := l.limitFor(provider)
	if limit.Rate <= 0 {
		return true
	}

	if l.distributed != nil {
		res, err := l.distributed.Allow(ctx, l.config.KeyPrefix+provider, redis_rate.Limit{
			Rate:   limit.Rate,
			Burst:  limit.Burst,
			Period: limit.Period,
		})
		if err != nil {
			l.logger.WarnContext(ctx, "rate limiter backend failed, allowing request",
				"provider", provider, "error", err)
			return true
		}
		return res.Allowed > 0
	}

	return l.bucketFor(provider, limit).Allow()
}

func (l *ProviderLimiter) limitFor(provider string) Limit {
	if limit, ok := l.config.PerProvider[provider]; ok {
		return limit.normalized()
	}
	return l.config.Default.normalized()
}

func (l *ProviderLimiter) bucketFor(provider string, limit Limit) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.local[provider]
	if !ok {
		perSecond := float64(limit.Rate) / limit.Period.Seconds()
		b = NewTokenBucket(perSecond, limit.Burst)
		l.local[provider] = b
	}
	return b
}
