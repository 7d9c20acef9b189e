// Package cache implements the Redis-backed read-through cache with
// in-process single-flight, bounded admission, fetch-timeout coordination,
// success/failure envelopes with TTL jitter, and an optional distributed
// fill lock.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	gerrors "github.com/geomux/geomux/pkg/errors"
)

// FetchFunc produces the raw JSON value for a key on a cache miss. It must
// honor ctx and return a cancellation error when ctx fires.
type FetchFunc func(ctx context.Context) ([]byte, error)

// ErrorMapper classifies a fetch error. Returning non-nil metadata marks the
// failure as a cacheable business failure; returning nil leaves it as a
// system error that is surfaced without writing.
type ErrorMapper func(err error) *FailureMeta

// ErrFetchPanic wraps a panic raised by a fetch function so one bad fetcher
// cannot take the process down through a shared single-flight result.
var ErrFetchPanic = errors.New("cache: fetch function panicked")

// inflight is one single-flight entry. Joiners block on done and then read
// value/err, which are written exactly once before done is closed.
type inflight struct {
	done  chan struct{}
	value []byte
	err   error
}

// ResilientCache is a read-through cache over Redis with per-key
// single-flight coalescing and bounded admission.
//
// ResilientCache is safe for concurrent use by multiple goroutines. The
// single-flight table is the only shared mutable state it owns; Redis is
// treated as an externally owned thread-safe handle.
type ResilientCache struct {
	rdb     redis.UniversalClient
	options *Options

	mu      sync.Mutex
	pending map[string]*inflight

	hits         atomic.Int64
	misses       atomic.Int64
	negativeHits atomic.Int64
	joins        atomic.Int64
	fills        atomic.Int64
	overloads    atomic.Int64
	readErrors   atomic.Int64
	writeErrors  atomic.Int64
}

// New creates a ResilientCache on top of an initialized Redis client.
func New(rdb redis.UniversalClient, opts ...Option) (*ResilientCache, error) {
	if rdb == nil {
		return nil, errors.New("cache: nil redis client")
	}
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	return &ResilientCache{
		rdb:     rdb,
		options: options,
		pending: make(map[string]*inflight),
	}, nil
}

// GetOrFetch returns the cached value for key, or runs fetch to fill it.
//
// At most one fetch runs concurrently per key within the process; concurrent
// callers for the same key join the in-flight result. When the single-flight
// table already holds MaxPending distinct keys, calls for new keys are
// rejected synchronously with a service-overload error before any I/O.
//
// On a hit the envelope is decoded: a success returns its value, a recorded
// failure is replayed as a cached-failure error, and a success envelope with
// no value surfaces a corrupted-cache error without invoking fetch.
func (c *ResilientCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc, mapErr ErrorMapper) ([]byte, error) {
	if key == "" {
		return nil, errors.New("cache: empty key")
	}
	if fetch == nil {
		return nil, errors.New("cache: nil fetch function")
	}

	// Admission and the dedup fast path share one critical section. Joining
	// an existing entry adds no fetcher, so it passes admission regardless
	// of table size; only calls that would install a new entry are gated.
	c.mu.Lock()
	if fl, ok := c.pending[key]; ok {
		c.mu.Unlock()
		c.joins.Add(1)
		return c.join(ctx, fl)
	}
	if len(c.pending) >= c.options.MaxPending {
		c.mu.Unlock()
		c.overloads.Add(1)
		return nil, gerrors.NewServiceOverload(c.options.MaxPending)
	}
	c.mu.Unlock()

	if value, err, terminal := c.readEnvelope(ctx, key); terminal {
		return value, err
	}

	// Double-check: an entry may have appeared during the Redis read. The
	// check and the install must happen without releasing the table lock,
	// and admission is re-verified because other keys may have filled the
	// table while we were reading.
	c.mu.Lock()
	if fl, ok := c.pending[key]; ok {
		c.mu.Unlock()
		c.joins.Add(1)
		return c.join(ctx, fl)
	}
	if len(c.pending) >= c.options.MaxPending {
		c.mu.Unlock()
		c.overloads.Add(1)
		return nil, gerrors.NewServiceOverload(c.options.MaxPending)
	}
	fl := &inflight{done: make(chan struct{})}
	c.pending[key] = fl
	c.mu.Unlock()

	return c.fill(ctx, key, fl, fetch, mapErr)
}

// Delete removes a key. Used for manual invalidation; expiry is otherwise
// driven by the Redis TTL alone.
func (c *ResilientCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// PendingLen returns the current size of the single-flight table.
func (c *ResilientCache) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// join waits for an in-flight fill to settle and returns its outcome. The
// joiner's own context still applies while waiting.
func (c *ResilientCache) join(ctx context.Context, fl *inflight) ([]byte, error) {
	select {
	case <-fl.done:
		return fl.value, fl.err
	case <-ctx.Done():
		return nil, normalizeCancellation(ctx)
	}
}

// readEnvelope performs the Redis read path. terminal=false means the call
// continues to the fetch path (miss, malformed bytes, transport error);
// terminal=true means value/err is the final outcome.
func (c *ResilientCache) readEnvelope(ctx context.Context, key string) (value []byte, err error, terminal bool) {
	raw, rerr := c.rdb.Get(ctx, key).Bytes()
	if rerr != nil {
		if errors.Is(rerr, redis.Nil) {
			c.misses.Add(1)
			return nil, nil, false
		}
		c.readErrors.Add(1)
		c.options.Logger.WarnContext(ctx, "cache read failed, treating as miss",
			"key", key, "error", rerr)
		return nil, nil, false
	}

	env, derr := decodeEnvelope(raw)
	if derr != nil {
		c.options.Logger.WarnContext(ctx, "malformed cache envelope, treating as miss",
			"key", key, "error", derr)
		c.misses.Add(1)
		return nil, nil, false
	}

	switch {
	case env.missingValue():
		// A success without a value is a producer bug; surfacing it beats
		// silently refilling and hiding it.
		return nil, gerrors.NewCorruptedCache(key), true
	case env.Success:
		c.hits.Add(1)
		return env.Value, nil, true
	case env.discardable():
		c.options.Logger.WarnContext(ctx, "failure envelope without error type, discarding",
			"key", key)
		c.misses.Add(1)
		return nil, nil, false
	default:
		c.negativeHits.Add(1)
		return nil, gerrors.NewCachedFailure(env.Err.Type, env.Err.Message, env.Err.Data), true
	}
}

// fill executes the fetch and settles the single-flight entry. The entry is
// removed and the joiners released on every exit path, panics included.
func (c *ResilientCache) fill(ctx context.Context, key string, fl *inflight, fetch FetchFunc, mapErr ErrorMapper) (value []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("%w: %v", ErrFetchPanic, r)
		}
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		fl.value, fl.err = value, err
		close(fl.done)
	}()

	fetchCtx, cancel := context.WithTimeoutCause(ctx, c.options.FetchTimeout,
		gerrors.NewFetchTimeout("fetch timed out"))
	defer cancel()

	if fetchCtx.Err() != nil {
		return nil, normalizeCancellation(fetchCtx)
	}

	c.fills.Add(1)
	if c.options.FillLock != nil {
		return c.fillLocked(fetchCtx, key, fetch, mapErr)
	}
	return c.execute(fetchCtx, key, fetch, mapErr)
}

// fillLocked wraps execute with the distributed fill lock. It decorates the
// fill step only; admission and single-flight behave exactly as without it.
func (c *ResilientCache) fillLocked(ctx context.Context, key string, fetch FetchFunc, mapErr ErrorMapper) ([]byte, error) {
	token, state := c.options.FillLock.acquire(ctx, key)
	switch state {
	case lockAcquired:
		defer c.options.FillLock.release(context.WithoutCancel(ctx), key, token)
		return c.execute(ctx, key, fetch, mapErr)
	case lockBusy:
		if c.options.FillLock.waitForRelease(ctx, key) {
			if value, err, terminal := c.readEnvelope(ctx, key); terminal {
				return value, err
			}
		}
		// Bounded wait expired or the re-read still missed; run the fetch in
		// degraded mode rather than fail the caller.
		return c.execute(ctx, key, fetch, mapErr)
	default: // lockFailOpen
		return c.execute(ctx, key, fetch, mapErr)
	}
}

// execute runs the fetch under the effective cancellation context and
// handles the outcome: success writes a positive envelope, mapped failures
// write a negative envelope, system errors surface without a write.
func (c *ResilientCache) execute(fetchCtx context.Context, key string, fetch FetchFunc, mapErr ErrorMapper) ([]byte, error) {
	value, ferr := fetch(fetchCtx)

	// The fetcher is required to respect the context, but the re-check is
	// mandatory: a result that settles after the token fired is discarded
	// and never written.
	if fetchCtx.Err() != nil {
		return nil, normalizeCancellation(fetchCtx)
	}

	if ferr != nil {
		if mapErr != nil {
			if meta := mapErr(ferr); meta != nil {
				c.writeFailure(fetchCtx, key, *meta)
				return nil, gerrors.NewCachedFailure(meta.Type, meta.Message, meta.Data)
			}
		}
		return nil, ferr
	}

	c.writeSuccess(fetchCtx, key, value)
	return value, nil
}

// writeSuccess stores a positive envelope, best-effort. A write failure is
// logged and the computed value still returned.
func (c *ResilientCache) writeSuccess(ctx context.Context, key string, value []byte) {
	ttl := pickTTL(false, c.options.TTL)
	if ttl <= 0 {
		return
	}
	raw, err := encodeSuccess(value)
	if err != nil {
		c.writeErrors.Add(1)
		c.options.Logger.WarnContext(ctx, "cache envelope encode failed", "key", key, "error", err)
		return
	}
	c.set(ctx, key, raw, ttl)
}

// writeFailure stores a negative envelope, best-effort. Skipped entirely
// when negative caching is disabled.
func (c *ResilientCache) writeFailure(ctx context.Context, key string, meta FailureMeta) {
	ttl := pickTTL(true, c.options.TTL)
	if ttl <= 0 {
		return
	}
	raw, err := encodeFailure(meta)
	if err != nil {
		c.writeErrors.Add(1)
		c.options.Logger.WarnContext(ctx, "cache envelope encode failed", "key", key, "error", err)
		return
	}
	c.set(ctx, key, raw, ttl)
}

func (c *ResilientCache) set(ctx context.Context, key string, raw []byte, ttl time.Duration) {
	// The write must survive a fetch context that is about to expire.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.options.WriteTimeout)
	defer cancel()

	if err := c.rdb.Set(writeCtx, key, raw, ttl).Err(); err != nil {
		c.writeErrors.Add(1)
		c.options.Logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
}

// normalizeCancellation maps a fired context into the closed error set:
// already-typed fetch-timeout and operation-aborted errors pass through,
// deadline expiry becomes a fetch timeout, everything else a caller abort.
func normalizeCancellation(ctx context.Context) error {
	cause := context.Cause(ctx)
	if e := gerrors.AsError(cause); e != nil &&
		(e.Kind == gerrors.KindFetchTimeout || e.Kind == gerrors.KindOperationAborted) {
		return e
	}
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return gerrors.NewFetchTimeout("")
	}
	return gerrors.NewOperationAborted(cause)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	NegativeHits int64 `json:"negative_hits"`
	Joins        int64 `json:"joins"`
	Fills        int64 `json:"fills"`
	Overloads    int64 `json:"overloads"`
	ReadErrors   int64 `json:"read_errors"`
	WriteErrors  int64 `json:"write_errors"`
}

// Stats returns current counter values.
func (c *ResilientCache) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		NegativeHits: c.negativeHits.Load(),
		Joins:        c.joins.Load(),
		Fills:        c.fills.Load(),
		Overloads:    c.overloads.Load(),
		ReadErrors:   c.readErrors.Load(),
		WriteErrors:  c.writeErrors.Load(),
	}
}
