package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/geomux/geomux/pkg/errors"
)

func newTestCache(t *testing.T, opts ...Option) (*ResilientCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c, err := New(rdb, opts...)
	require.NoError(t, err)
	return c, s
}

func mapNotFound(err error) *FailureMeta {
	if gerrors.IsKind(err, gerrors.KindNotFound) {
		e := gerrors.AsError(err)
		return &FailureMeta{Type: e.ErrorType, Message: e.Message, Data: e.Data}
	}
	return nil
}

func TestGetOrFetch_ConcurrentColdFill(t *testing.T) {
	c, s := newTestCache(t, WithTTL(TTLConfig{Positive: 60 * time.Second, Negative: time.Minute, JitterFraction: 0.05}))

	var calls atomic.Int64
	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(150 * time.Millisecond)
		return []byte(`{"a":1}`), nil
	}

	const n = 100
	results := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(context.Background(), "k", fetch, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "fetch must run exactly once")
	for i := range n {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"a":1}`, string(results[i]))
	}

	// One positive envelope written with jittered TTL around 60s.
	raw, err := s.Get("k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":true,"v":{"a":1}}`, raw)
	ttl := s.TTL("k")
	assert.GreaterOrEqual(t, ttl, 57*time.Second)
	assert.LessOrEqual(t, ttl, 63*time.Second)

	assert.Zero(t, c.PendingLen())
}

func TestGetOrFetch_CachedBusinessFailure(t *testing.T) {
	c, s := newTestCache(t)
	s.Set("k", `{"s":false,"e":{"type":"InvalidCepError","message":"CEP not found","data":{"code":404}}}`)

	fetch := func(ctx context.Context) ([]byte, error) {
		t.Fatal("fetch must not run on a negative hit")
		return nil, nil
	}

	_, err := c.GetOrFetch(context.Background(), "k", fetch, nil)
	e := gerrors.AsError(err)
	require.NotNil(t, e)
	assert.Equal(t, gerrors.KindCachedFailure, e.Kind)
	assert.Equal(t, "InvalidCepError", e.ErrorType)
	assert.Equal(t, "CEP not found", e.Message)
	assert.Equal(t, float64(404), e.Data["code"])
}

func TestGetOrFetch_SystemErrorPassthrough(t *testing.T) {
	c, s := newTestCache(t)

	sysErr := errors.New("Network failure")
	_, err := c.GetOrFetch(context.Background(), "k",
		func(ctx context.Context) ([]byte, error) { return nil, sysErr },
		mapNotFound)

	require.ErrorIs(t, err, sysErr)
	assert.False(t, s.Exists("k"), "system errors must not be cached")
}

func TestGetOrFetch_CorruptedSuccessEnvelope(t *testing.T) {
	c, s := newTestCache(t)
	s.Set("k", `{"s":true}`)

	called := false
	_, err := c.GetOrFetch(context.Background(), "k",
		func(ctx context.Context) ([]byte, error) { called = true; return []byte(`{}`), nil },
		nil)

	assert.True(t, gerrors.IsKind(err, gerrors.KindCorruptedCache))
	assert.False(t, called, "fetch must not run for a corrupted success envelope")
}

func TestGetOrFetch_MalformedEnvelopeIsMiss(t *testing.T) {
	c, s := newTestCache(t)
	s.Set("k", "garbage")

	val, err := c.GetOrFetch(context.Background(), "k",
		func(ctx context.Context) ([]byte, error) { return []byte(`{"ok":true}`), nil },
		nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(val))

	// The refill replaced the garbage with a proper envelope.
	raw, err := s.Get("k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":true,"v":{"ok":true}}`, raw)
}

func TestGetOrFetch_FailureEnvelopeWithoutTypeIsMiss(t *testing.T) {
	c, s := newTestCache(t)
	s.Set("k", `{"s":false,"e":{"message":"typeless"}}`)

	val, err := c.GetOrFetch(context.Background(), "k",
		func(ctx context.Context) ([]byte, error) { return []byte(`1`), nil },
		nil)

	require.NoError(t, err)
	assert.Equal(t, "1", string(val))
}

func TestGetOrFetch_FetchTimeout(t *testing.T) {
	c, s := newTestCache(t, WithFetchTimeout(100*time.Millisecond))

	// The fetcher ignores the context entirely; the defensive post-check
	// must still discard its result.
	val, err := c.GetOrFetch(context.Background(), "k",
		func(ctx context.Context) ([]byte, error) {
			time.Sleep(300 * time.Millisecond)
			return []byte(`{"late":true}`), nil
		},
		nil)

	assert.Nil(t, val)
	assert.True(t, gerrors.IsFetchTimeout(err))
	assert.False(t, s.Exists("k"), "timed-out results must never be written")
	assert.Zero(t, c.PendingLen())
}

func TestGetOrFetch_CallerAbort(t *testing.T) {
	c, s := newTestCache(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.GetOrFetch(ctx, "k",
		func(ctx context.Context) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		nil)

	assert.True(t, gerrors.IsOperationAborted(err), "caller cancellation must normalize to an abort, got %v", err)
	assert.False(t, s.Exists("k"))
}

func TestGetOrFetch_NegativeCacheIdempotence(t *testing.T) {
	c, s := newTestCache(t, WithTTL(TTLConfig{Positive: time.Hour, Negative: time.Minute, JitterFraction: 0.05}))

	var calls atomic.Int64
	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, gerrors.NewInvalidCEP("00000000")
	}

	_, err := c.GetOrFetch(context.Background(), "k", fetch, mapNotFound)
	e := gerrors.AsError(err)
	require.NotNil(t, e)
	assert.Equal(t, gerrors.KindCachedFailure, e.Kind)
	assert.Equal(t, gerrors.TypeInvalidCEP, e.ErrorType)
	assert.True(t, s.Exists("k"))

	// Subsequent reads replay the failure without invoking the fetcher.
	for range 3 {
		_, err = c.GetOrFetch(context.Background(), "k", fetch, mapNotFound)
		e = gerrors.AsError(err)
		require.NotNil(t, e)
		assert.Equal(t, gerrors.KindCachedFailure, e.Kind)
		assert.Equal(t, gerrors.TypeInvalidCEP, e.ErrorType)
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestGetOrFetch_NegativeCachingDisabled(t *testing.T) {
	c, s := newTestCache(t, WithTTL(TTLConfig{Positive: time.Hour, Negative: 0, JitterFraction: 0.05}))

	var calls atomic.Int64
	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, gerrors.NewInvalidCEP("00000000")
	}

	_, err := c.GetOrFetch(context.Background(), "k", fetch, mapNotFound)
	assert.True(t, gerrors.IsKind(err, gerrors.KindCachedFailure))
	assert.False(t, s.Exists("k"), "negative TTL of zero must skip the write")

	_, _ = c.GetOrFetch(context.Background(), "k", fetch, mapNotFound)
	assert.Equal(t, int64(2), calls.Load(), "with negative caching off every call fetches")
}

func TestGetOrFetch_AdmissionBound(t *testing.T) {
	c, _ := newTestCache(t, WithMaxPending(2))

	release := make(chan struct{})
	started := make(chan string, 2)
	blockingFetch := func(key string) FetchFunc {
		return func(ctx context.Context) ([]byte, error) {
			started <- key
			<-release
			return []byte(`{}`), nil
		}
	}

	var wg sync.WaitGroup
	for _, key := range []string{"k1", "k2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrFetch(context.Background(), key, blockingFetch(key), nil)
		}()
	}
	<-started
	<-started

	// Third distinct key is rejected synchronously.
	_, err := c.GetOrFetch(context.Background(), "k3",
		func(ctx context.Context) ([]byte, error) { return nil, nil }, nil)
	assert.True(t, gerrors.IsServiceOverload(err))

	// Joining an in-flight key passes the gate even at capacity.
	joined := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(context.Background(), "k1", blockingFetch("k1"), nil)
		joined <- err
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	require.NoError(t, <-joined)
	assert.Zero(t, c.PendingLen())
}

func TestGetOrFetch_RedisDownFailsOpen(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c, err := New(rdb)
	require.NoError(t, err)

	s.Close()

	val, err := c.GetOrFetch(context.Background(), "k",
		func(ctx context.Context) ([]byte, error) { return []byte(`{"a":1}`), nil },
		nil)

	require.NoError(t, err, "a Redis outage must degrade to a plain fetch")
	assert.JSONEq(t, `{"a":1}`, string(val))
}

func TestGetOrFetch_FetchPanicIsContained(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.GetOrFetch(context.Background(), "k",
		func(ctx context.Context) ([]byte, error) { panic("boom") },
		nil)

	require.ErrorIs(t, err, ErrFetchPanic)
	assert.Zero(t, c.PendingLen())
}

func TestGetOrFetch_JoinersShareFailure(t *testing.T) {
	c, _ := newTestCache(t)

	sysErr := fmt.Errorf("upstream exploded")
	var calls atomic.Int64
	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return nil, sysErr
	}

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.GetOrFetch(context.Background(), "k", fetch, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for i := range n {
		assert.ErrorIs(t, errs[i], sysErr, "all joiners observe the same error identity")
	}
}

func TestGetOrFetch_Validation(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.GetOrFetch(context.Background(), "", func(ctx context.Context) ([]byte, error) { return nil, nil }, nil)
	assert.Error(t, err)

	_, err = c.GetOrFetch(context.Background(), "k", nil, nil)
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	_, err = New(rdb, WithMaxPending(0))
	assert.Error(t, err)

	_, err = New(rdb, WithFetchTimeout(0))
	assert.Error(t, err)

	_, err = New(rdb, WithTTL(TTLConfig{Positive: time.Hour, JitterFraction: 1.5}))
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	c, s := newTestCache(t)

	_, _ = c.GetOrFetch(context.Background(), "k",
		func(ctx context.Context) ([]byte, error) { return []byte(`1`), nil }, nil)
	_, _ = c.GetOrFetch(context.Background(), "k",
		func(ctx context.Context) ([]byte, error) { return []byte(`1`), nil }, nil)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Fills)
	assert.Equal(t, int64(1), st.Hits)

	s.Set("neg", `{"s":false,"e":{"type":"X","message":"m"}}`)
	_, _ = c.GetOrFetch(context.Background(), "neg",
		func(ctx context.Context) ([]byte, error) { return nil, nil }, nil)
	assert.Equal(t, int64(1), c.Stats().NegativeHits)
}
