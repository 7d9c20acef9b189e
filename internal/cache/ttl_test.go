package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPickTTL(t *testing.T) {
	t.Run("jitter stays within bounds", func(t *testing.T) {
		cfg := TTLConfig{Positive: 60 * time.Second, Negative: 30 * time.Second, JitterFraction: 0.1}
		for range 200 {
			ttl := pickTTL(false, cfg)
			assert.GreaterOrEqual(t, ttl, 54*time.Second)
			assert.LessOrEqual(t, ttl, 66*time.Second)
		}
		for range 200 {
			ttl := pickTTL(true, cfg)
			assert.GreaterOrEqual(t, ttl, 27*time.Second)
			assert.LessOrEqual(t, ttl, 33*time.Second)
		}
	})

	t.Run("zero negative TTL disables the write", func(t *testing.T) {
		cfg := TTLConfig{Positive: time.Hour, Negative: 0, JitterFraction: 0.05}
		assert.Equal(t, time.Duration(0), pickTTL(true, cfg))
		assert.Positive(t, pickTTL(false, cfg))
	})

	t.Run("floor of one second", func(t *testing.T) {
		cfg := TTLConfig{Positive: time.Second, JitterFraction: 0.9}
		for range 100 {
			assert.GreaterOrEqual(t, pickTTL(false, cfg), time.Second)
		}
	})

	t.Run("no jitter is exact", func(t *testing.T) {
		cfg := TTLConfig{Positive: 90 * time.Second}
		assert.Equal(t, 90*time.Second, pickTTL(false, cfg))
	})
}
