package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const releaseMessage = "released"

// releaseScript atomically checks lock ownership, deletes the lock, and
// publishes the release notification, so lock state and notification never
// diverge. Returns 1 on release, 0 when the lock expired or was taken over.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("PUBLISH", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// lockState is the outcome of an acquire attempt.
type lockState int

const (
	lockAcquired lockState = iota
	lockBusy
	lockFailOpen
)

// FillLockConfig configures the distributed fill lock.
type FillLockConfig struct {
	// TTL is the lock expiry (SET PX). Must outlive one fill attempt.
	TTL time.Duration

	// MaxWait bounds how long a non-acquirer waits for the release before
	// falling back to a degraded fill.
	MaxWait time.Duration

	// Heartbeat is the EXISTS poll interval backing up the Pub/Sub wait.
	Heartbeat time.Duration
}

// DefaultFillLockConfig returns production defaults: the lock outlives the
// default fetch timeout, waiters poll twice a second.
func DefaultFillLockConfig() FillLockConfig {
	return FillLockConfig{
		TTL:       10 * time.Second,
		MaxWait:   3 * time.Second,
		Heartbeat: 500 * time.Millisecond,
	}
}

// FillLock prevents concurrent fills for the same key across processes. All
// Redis failures are fail-open: a Redis outage degrades to unlocked fills
// instead of breaking availability.
type FillLock struct {
	rdb    redis.UniversalClient
	config FillLockConfig
	logger *slog.Logger
}

// NewFillLock creates a FillLock over an initialized Redis client.
func NewFillLock(rdb redis.UniversalClient, cfg FillLockConfig, logger *slog.Logger) *FillLock {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultFillLockConfig().TTL
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultFillLockConfig().MaxWait
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultFillLockConfig().Heartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FillLock{rdb: rdb, config: cfg, logger: logger}
}

func lockKey(key string) string     { return key + ":lock" }
func releaseChan(key string) string { return key + ":lock:released" }

// acquire attempts SET NX PX with a random token. Redis errors log a warning
// and fail open so the fill proceeds unlocked.
func (l *FillLock) acquire(ctx context.Context, key string) (string, lockState) {
	token := newLockToken()
	ok, err := l.rdb.SetNX(ctx, lockKey(key), token, l.config.TTL).Result()
	if err != nil {
		l.logger.WarnContext(ctx, "fill lock acquire failed, proceeding without lock",
			"key", key, "error", err)
		return "", lockFailOpen
	}
	if !ok {
		return "", lockBusy
	}
	return token, lockAcquired
}

// release runs the check-del-publish script. Only the token holder releases;
// an expired or stolen lock is logged and otherwise ignored.
func (l *FillLock) release(ctx context.Context, key, token string) {
	res, err := releaseScript.Run(ctx, l.rdb,
		[]string{lockKey(key), releaseChan(key)}, token, releaseMessage).Int64()
	if err != nil {
		l.logger.WarnContext(ctx, "fill lock release failed", "key", key, "error", err)
		return
	}
	if res == 0 {
		l.logger.DebugContext(ctx, "fill lock expired before release", "key", key)
	}
}

// waitForRelease blocks until the holder publishes the release, the lock key
// disappears (heartbeat poll), the bounded wait elapses, or ctx fires. It
// returns true when the cache is worth re-reading.
func (l *FillLock) waitForRelease(ctx context.Context, key string) bool {
	sub := l.rdb.Subscribe(ctx, releaseChan(key))
	defer sub.Close()

	// Confirm the subscription before racing the release message; otherwise
	// a fast holder could publish before we listen and we would only have
	// the heartbeat poll.
	if _, err := sub.Receive(ctx); err != nil {
		l.logger.WarnContext(ctx, "fill lock subscribe failed, degrading to fetch",
			"key", key, "error", err)
		return false
	}

	deadline := time.NewTimer(l.config.MaxWait)
	defer deadline.Stop()
	heartbeat := time.NewTicker(l.config.Heartbeat)
	defer heartbeat.Stop()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case _, ok := <-msgs:
			if !ok {
				return false
			}
			return true
		case <-heartbeat.C:
			exists, err := l.rdb.Exists(ctx, lockKey(key)).Result()
			if err != nil {
				l.logger.WarnContext(ctx, "fill lock heartbeat failed",
					"key", key, "error", err)
				continue
			}
			if exists == 0 {
				return true
			}
		}
	}
}

// newLockToken returns a 16-byte random hex token identifying the holder.
func newLockToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand essentially never fails; a time-derived token keeps
		// the lock usable if it somehow does.
		return hex.EncodeToString([]byte(time.Now().String()))[:32]
	}
	return hex.EncodeToString(b)
}
