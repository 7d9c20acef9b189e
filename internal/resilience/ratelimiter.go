// Package resilience provides the per-provider rate limiting used to keep
// upstream lookups inside their quotas.
package resilience

import (
	"sync"
	"time"
)

// TokenBucket is an in-process token bucket. It backs the provider limiter
// when no Redis client is configured, trading fleet-wide accuracy for
// zero-dependency operation.
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int     // bucket capacity
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return &TokenBucket{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	return b.AllowN(1)
}

// AllowN consumes n tokens if available.
func (b *TokenBucket) AllowN(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// Tokens returns the currently available tokens.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.rate
	if b.tokens > float64(b.burst) {
		b.tokens = float64(b.burst)
	}
}
