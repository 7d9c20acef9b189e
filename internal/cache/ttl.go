package cache

import (
	"math/rand/v2"
	"time"
)

// TTLConfig holds the base TTLs for positive and negative entries plus the
// jitter fraction applied to both.
type TTLConfig struct {
	// Positive is the base TTL for success envelopes.
	Positive time.Duration

	// Negative is the base TTL for failure envelopes. Zero or negative
	// disables negative caching entirely.
	Negative time.Duration

	// JitterFraction is the symmetric jitter applied to the base TTL,
	// e.g. 0.05 spreads expiries across ±5%.
	JitterFraction float64
}

// DefaultTTLConfig mirrors the production defaults: one hour positive,
// one minute negative, ±5% jitter.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Positive:       time.Hour,
		Negative:       time.Minute,
		JitterFraction: 0.05,
	}
}

// pickTTL chooses the TTL for a cache write. It returns 0 when the write
// should be skipped. Jitter breaks synchronized expiry storms across keys
// that share a base TTL.
func pickTTL(negative bool, cfg TTLConfig) time.Duration {
	base := cfg.Positive
	if negative {
		base = cfg.Negative
	}
	if base <= 0 {
		return 0
	}

	baseSec := int64(base / time.Second)
	if baseSec < 1 {
		baseSec = 1
	}

	jitter := int64(float64(baseSec) * cfg.JitterFraction)
	if jitter > 0 {
		baseSec += rand.Int64N(2*jitter+1) - jitter
	}
	if baseSec < 1 {
		baseSec = 1
	}
	return time.Duration(baseSec) * time.Second
}
