package geomux

import (
	"context"
	"errors"
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

type stubAddressProvider struct {
	name  string
	calls atomic.Int32
	fetch func(ctx context.Context, cep string) (*AddressData, error)
}

func (p *stubAddressProvider) Name() string { return p.name }

func (p *stubAddressProvider) FetchAddress(ctx context.Context, cep string) (*AddressData, error) {
	p.calls.Add(1)
	return p.fetch(ctx, cep)
}

type stubGeocoder struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context) (*Coordinates, error)
}

func (p *stubGeocoder) Name() string { return p.name }

func (p *stubGeocoder) Search(ctx context.Context, query string) (*Coordinates, error) {
	p.calls.Add(1)
	return p.fn(ctx)
}

func (p *stubGeocoder) SearchStructured(ctx context.Context, q StructuredQuery) (*Coordinates, error) {
	p.calls.Add(1)
	return p.fn(ctx)
}

func paulista() *AddressData {
	return &AddressData{
		CEP:        "01310-100",
		Logradouro: "Avenida Paulista",
		Localidade: "São Paulo",
		UF:         "SP",
	}
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c, err := New(append([]Option{WithRedis(rdb)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New()
	assert.Error(t, err, "providers are required")

	p := &stubAddressProvider{name: "a"}
	_, err = New(WithAddressProviders(p))
	assert.Error(t, err, "redis is required")
}

func TestResolveAddress_CachesSuccess(t *testing.T) {
	p := &stubAddressProvider{name: "viacep", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		return paulista(), nil
	}}
	c := newTestClient(t, WithAddressProviders(p))
	ctx := context.Background()

	addr, err := c.ResolveAddress(ctx, "01310-100")
	require.NoError(t, err)
	assert.Equal(t, "São Paulo", addr.Localidade)

	addr, err = c.ResolveAddress(ctx, "01310100")
	require.NoError(t, err)
	assert.Equal(t, "Avenida Paulista", addr.Logradouro)

	assert.Equal(t, int32(1), p.calls.Load(), "formatted and bare input share one cache entry")

	address, _ := c.Stats()
	assert.Equal(t, int64(1), address.Hits)
	assert.Equal(t, int64(1), address.Fills)
}

func TestResolveAddress_MalformedInput(t *testing.T) {
	p := &stubAddressProvider{name: "viacep", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		return paulista(), nil
	}}
	c := newTestClient(t, WithAddressProviders(p))

	for _, input := range []string{"", "1234567", "123456789", "abcdefgh", "01310=100"} {
		_, err := c.ResolveAddress(context.Background(), input)
		e := gerrors.AsError(err)
		require.NotNil(t, e, "input %q", input)
		assert.Equal(t, gerrors.TypeInvalidCEP, e.ErrorType)
	}
	assert.Equal(t, int32(0), p.calls.Load(), "malformed input must not reach providers")
}

func TestResolveAddress_Failover(t *testing.T) {
	broken := &stubAddressProvider{name: "viacep", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		return nil, errors.New("upstream down")
	}}
	healthy := &stubAddressProvider{name: "brasilapi", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		return paulista(), nil
	}}
	c := newTestClient(t, WithAddressProviders(broken, healthy))

	addr, err := c.ResolveAddress(context.Background(), "01310100")
	require.NoError(t, err)
	assert.Equal(t, "SP", addr.UF)
	assert.Equal(t, int32(1), broken.calls.Load())
	assert.Equal(t, int32(1), healthy.calls.Load())
}

func TestResolveAddress_NegativeCaching(t *testing.T) {
	p := &stubAddressProvider{name: "viacep", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		return nil, nil
	}}
	c := newTestClient(t, WithAddressProviders(p))
	ctx := context.Background()

	_, err := c.ResolveAddress(ctx, "99999999")
	e := gerrors.AsError(err)
	require.NotNil(t, e)
	assert.Equal(t, gerrors.KindCachedFailure, e.Kind)
	assert.Equal(t, gerrors.TypeInvalidCEP, e.ErrorType)

	_, err = c.ResolveAddress(ctx, "99999999")
	e = gerrors.AsError(err)
	require.NotNil(t, e)
	assert.Equal(t, gerrors.KindCachedFailure, e.Kind)

	assert.Equal(t, int32(1), p.calls.Load(), "second miss must replay the negative entry")
}

func TestResolveAddress_SystemErrorNotCached(t *testing.T) {
	p := &stubAddressProvider{name: "viacep", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		return nil, errors.New("upstream down")
	}}
	c := newTestClient(t, WithAddressProviders(p))
	ctx := context.Background()

	for range 2 {
		_, err := c.ResolveAddress(ctx, "01310100")
		e := gerrors.AsError(err)
		require.NotNil(t, e)
		assert.Equal(t, gerrors.KindProviderFailure, e.Kind)
	}
	assert.Equal(t, int32(2), p.calls.Load(), "system failures must stay uncached")
}

func TestResolveAddress_Concurrent(t *testing.T) {
	release := make(chan struct{})
	p := &stubAddressProvider{name: "viacep", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		<-release
		return paulista(), nil
	}}
	c := newTestClient(t, WithAddressProviders(p))

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.ResolveAddress(context.Background(), "01310100")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), p.calls.Load(), "concurrent callers must share one fetch")
}

func TestGeocode(t *testing.T) {
	g := &stubGeocoder{name: "nominatim", fn: func(ctx context.Context) (*Coordinates, error) {
		return &Coordinates{Lat: -23.56, Lon: -46.65, Precision: PrecisionCity}, nil
	}}
	c := newTestClient(t, WithGeocodingProviders(g))
	ctx := context.Background()

	coords, err := c.Geocode(ctx, "Avenida Paulista, São Paulo")
	require.NoError(t, err)
	assert.Equal(t, PrecisionCity, coords.Precision)

	_, err = c.Geocode(ctx, "Avenida Paulista, São Paulo")
	require.NoError(t, err)
	assert.Equal(t, int32(1), g.calls.Load())

	_, err = c.Geocode(ctx, "  ")
	assert.Error(t, err)
}

func TestGeocode_NotFoundIsCached(t *testing.T) {
	g := &stubGeocoder{name: "nominatim", fn: func(ctx context.Context) (*Coordinates, error) {
		return nil, nil
	}}
	c := newTestClient(t, WithGeocodingProviders(g))
	ctx := context.Background()

	for range 2 {
		_, err := c.Geocode(ctx, "nowhere at all")
		e := gerrors.AsError(err)
		require.NotNil(t, e)
		assert.Equal(t, gerrors.TypeCoordinatesNotFound, e.ErrorType)
	}
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestGeocodeStructured(t *testing.T) {
	g := &stubGeocoder{name: "nominatim", fn: func(ctx context.Context) (*Coordinates, error) {
		return &Coordinates{Lat: -23.56, Lon: -46.65, Precision: PrecisionRooftop}, nil
	}}
	c := newTestClient(t, WithGeocodingProviders(g))
	ctx := context.Background()

	_, err := c.GeocodeStructured(ctx, StructuredQuery{City: "São Paulo"})
	assert.Error(t, err, "state is required")

	coords, err := c.GeocodeStructured(ctx, StructuredQuery{
		Street: "Avenida Paulista",
		City:   "São Paulo",
		State:  "SP",
	})
	require.NoError(t, err)
	assert.Equal(t, PrecisionRooftop, coords.Precision)

	// Same fields again come from cache.
	_, err = c.GeocodeStructured(ctx, StructuredQuery{
		Street: "Avenida Paulista",
		City:   "São Paulo",
		State:  "SP",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestGeocode_KeysAreShapeScoped(t *testing.T) {
	g := &stubGeocoder{name: "nominatim", fn: func(ctx context.Context) (*Coordinates, error) {
		return &Coordinates{Lat: 1, Lon: 2}, nil
	}}
	c := newTestClient(t, WithGeocodingProviders(g))
	ctx := context.Background()

	_, err := c.Geocode(ctx, "São Paulo")
	require.NoError(t, err)
	_, err = c.GeocodeStructured(ctx, StructuredQuery{City: "São Paulo", State: "SP"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), g.calls.Load(), "free-form and structured queries have distinct keys")
}

func TestRateLimit_DenialFailsOver(t *testing.T) {
	limited := &stubAddressProvider{name: "viacep", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		return paulista(), nil
	}}
	backup := &stubAddressProvider{name: "brasilapi", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		return paulista(), nil
	}}
	c := newTestClient(t,
		WithAddressProviders(limited, backup),
		WithTTL(0, 0), // disable caching so each call reaches the chain
		WithProviderRateLimit("viacep", RateLimit{RequestsPerMinute: 1, Burst: 1}),
	)
	ctx := context.Background()

	_, err := c.ResolveAddress(ctx, "01310100")
	require.NoError(t, err)
	_, err = c.ResolveAddress(ctx, "01310100")
	require.NoError(t, err)

	assert.Equal(t, int32(1), limited.calls.Load(), "second call must be limited")
	assert.Equal(t, int32(1), backup.calls.Load(), "denial fails over to the next provider")
}

func TestInvalidateAddress(t *testing.T) {
	p := &stubAddressProvider{name: "viacep", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		return paulista(), nil
	}}
	c := newTestClient(t, WithAddressProviders(p))
	ctx := context.Background()

	_, err := c.ResolveAddress(ctx, "01310100")
	require.NoError(t, err)
	require.NoError(t, c.InvalidateAddress(ctx, "01310-100"))

	_, err = c.ResolveAddress(ctx, "01310100")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load(), "invalidation forces a refetch")
}

func TestCollectors(t *testing.T) {
	p := &stubAddressProvider{name: "viacep", fetch: func(ctx context.Context, cep string) (*AddressData, error) {
		return paulista(), nil
	}}
	c := newTestClient(t, WithAddressProviders(p))
	assert.Len(t, c.Collectors(), 2)
}
