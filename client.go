package geomux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/geomux/geomux/internal/cache"
	"github.com/geomux/geomux/internal/metrics"
	"github.com/geomux/geomux/internal/resilience"
	"github.com/geomux/geomux/internal/strategy"
	gerrors "github.com/geomux/geomux/pkg/errors"
)

// Client is the high-level entry point for CEP resolution and geocoding.
// It owns one cache per lookup scope and is safe for concurrent use.
type Client struct {
	cfg    *ClientConfig
	logger *slog.Logger
	tracer trace.Tracer

	rdb       redis.UniversalClient
	ownsRedis bool

	addressCache *cache.ResilientCache
	geoCache     *cache.ResilientCache
	addressKeys  *cache.KeyGenerator
	geoKeys      *cache.KeyGenerator
	limiter      *resilience.ProviderLimiter
}

// New creates a geomux client from the given options.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.AddressProviders) == 0 && len(cfg.GeocodingProviders) == 0 {
		return nil, errors.New("geomux: at least one provider is required")
	}

	rdb := cfg.Redis
	ownsRedis := false
	if rdb == nil {
		if cfg.RedisAddr == "" {
			return nil, errors.New("geomux: a redis client or address is required")
		}
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ownsRedis = true
	}

	c := &Client{
		cfg:         cfg,
		logger:      cfg.Logger,
		tracer:      otel.Tracer("geomux"),
		rdb:         rdb,
		ownsRedis:   ownsRedis,
		addressKeys: cache.NewKeyGenerator(cepScope),
		geoKeys:     cache.NewKeyGenerator(geocodingScope),
	}

	cacheOpts := []cache.Option{
		cache.WithFetchTimeout(cfg.FetchTimeout),
		cache.WithWriteTimeout(cfg.WriteTimeout),
		cache.WithMaxPending(cfg.MaxPending),
		cache.WithTTL(cache.TTLConfig{
			Positive:       cfg.PositiveTTL,
			Negative:       cfg.NegativeTTL,
			JitterFraction: cfg.JitterFraction,
		}),
		cache.WithLogger(cfg.Logger),
	}
	if cfg.DistributedLock {
		lock := cache.NewFillLock(rdb, cache.FillLockConfig{
			TTL:       cfg.Lock.TTL,
			MaxWait:   cfg.Lock.MaxWait,
			Heartbeat: cfg.Lock.Heartbeat,
		}, cfg.Logger)
		cacheOpts = append(cacheOpts, cache.WithFillLock(lock))
	}

	var err error
	if c.addressCache, err = cache.New(rdb, cacheOpts...); err != nil {
		c.closeRedis()
		return nil, err
	}
	if c.geoCache, err = cache.New(rdb, cacheOpts...); err != nil {
		c.closeRedis()
		return nil, err
	}

	if cfg.RateLimitEnabled {
		limits := make(map[string]resilience.Limit, len(cfg.ProviderLimits))
		for name, l := range cfg.ProviderLimits {
			limits[name] = resilience.Limit{Rate: l.RequestsPerMinute, Burst: l.Burst, Period: time.Minute}
		}
		c.limiter = resilience.NewProviderLimiter(rdb, resilience.LimiterConfig{
			Default: resilience.Limit{
				Rate:   cfg.RateLimit.RequestsPerMinute,
				Burst:  cfg.RateLimit.Burst,
				Period: time.Minute,
			},
			PerProvider: limits,
		}, cfg.Logger)
	}

	return c, nil
}

// Close releases resources owned by the client. A Redis client supplied via
// WithRedis stays open.
func (c *Client) Close() error {
	c.closeRedis()
	return nil
}

func (c *Client) closeRedis() {
	if c.ownsRedis {
		_ = c.rdb.Close()
	}
}

// ResolveAddress resolves a CEP into an address, serving from cache when
// possible. The input may carry the usual "01310-100" formatting; anything
// that does not normalize to 8 digits resolves to a not-found without
// touching cache or providers.
func (c *Client) ResolveAddress(ctx context.Context, cep string) (*AddressData, error) {
	normalized, ok := normalizeCEP(cep)
	if !ok {
		return nil, gerrors.NewInvalidCEP(cep)
	}

	ctx, span := c.tracer.Start(ctx, "geomux.ResolveAddress",
		trace.WithAttributes(attribute.String("geomux.cep", normalized)))
	defer span.End()

	key := c.addressKeys.Generate(map[string]any{"cep": normalized})
	raw, err := c.addressCache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		start := time.Now()
		defer func() { metrics.RecordFill("cep", time.Since(start)) }()

		value, err := strategy.Execute(ctx, c.logger, c.addressChain(normalized), func() error {
			return gerrors.NewInvalidCEP(normalized)
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	}, mapNotFound)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var addr AddressData
	if err := json.Unmarshal(raw, &addr); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("geomux: decode cached address: %w", err)
	}
	return &addr, nil
}

// Geocode resolves a free-form query into coordinates, serving from cache
// when possible.
func (c *Client) Geocode(ctx context.Context, query string) (*Coordinates, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("geomux: empty geocoding query")
	}
	if len(c.cfg.GeocodingProviders) == 0 {
		return nil, errors.New("geomux: no geocoding providers configured")
	}

	ctx, span := c.tracer.Start(ctx, "geomux.Geocode",
		trace.WithAttributes(attribute.String("geomux.query", query)))
	defer span.End()

	key := c.geoKeys.Generate(map[string]any{"q": query})
	return c.geocode(ctx, span, key, query, func(p GeocodingProvider) strategy.Provider[Coordinates] {
		return strategy.Provider[Coordinates]{
			Name: p.Name(),
			Call: c.geocodingCall(p.Name(), func(ctx context.Context) (*Coordinates, error) {
				return p.Search(ctx, query)
			}),
		}
	})
}

// GeocodeStructured resolves a field-addressed query into coordinates.
// City and State are required.
func (c *Client) GeocodeStructured(ctx context.Context, q StructuredQuery) (*Coordinates, error) {
	if strings.TrimSpace(q.City) == "" || strings.TrimSpace(q.State) == "" {
		return nil, errors.New("geomux: structured query requires city and state")
	}
	if len(c.cfg.GeocodingProviders) == 0 {
		return nil, errors.New("geomux: no geocoding providers configured")
	}

	display := structuredDisplay(q)
	ctx, span := c.tracer.Start(ctx, "geomux.GeocodeStructured",
		trace.WithAttributes(attribute.String("geomux.query", display)))
	defer span.End()

	key := c.geoKeys.Generate(map[string]any{
		"street":  q.Street,
		"city":    q.City,
		"state":   q.State,
		"country": q.Country,
	})
	return c.geocode(ctx, span, key, display, func(p GeocodingProvider) strategy.Provider[Coordinates] {
		return strategy.Provider[Coordinates]{
			Name: p.Name(),
			Call: c.geocodingCall(p.Name(), func(ctx context.Context) (*Coordinates, error) {
				return p.SearchStructured(ctx, q)
			}),
		}
	})
}

// geocode runs the shared cache-then-failover path for both query shapes.
func (c *Client) geocode(ctx context.Context, span trace.Span, key, display string,
	bind func(GeocodingProvider) strategy.Provider[Coordinates]) (*Coordinates, error) {

	chain := make([]strategy.Provider[Coordinates], 0, len(c.cfg.GeocodingProviders))
	for _, p := range c.cfg.GeocodingProviders {
		chain = append(chain, bind(p))
	}

	raw, err := c.geoCache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		start := time.Now()
		defer func() { metrics.RecordFill("geocoding", time.Since(start)) }()

		value, err := strategy.Execute(ctx, c.logger, chain, func() error {
			return gerrors.NewCoordinatesNotFound(display)
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	}, mapNotFound)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var coords Coordinates
	if err := json.Unmarshal(raw, &coords); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("geomux: decode cached coordinates: %w", err)
	}
	return &coords, nil
}

// addressChain binds the configured address providers to one CEP, wrapping
// each call with rate limiting and metrics.
func (c *Client) addressChain(cep string) []strategy.Provider[AddressData] {
	chain := make([]strategy.Provider[AddressData], 0, len(c.cfg.AddressProviders))
	for _, p := range c.cfg.AddressProviders {
		name := p.Name()
		fetch := p.FetchAddress
		chain = append(chain, strategy.Provider[AddressData]{
			Name: name,
			Call: func(ctx context.Context) (*AddressData, error) {
				if !c.allow(ctx, name) {
					metrics.RecordProviderCall(name, metrics.OutcomeRateLimited, 0)
					return nil, fmt.Errorf("%s: rate limited", name)
				}
				start := time.Now()
				value, err := fetch(ctx, cep)
				metrics.RecordProviderCall(name, outcomeOf(value == nil, err), time.Since(start))
				return value, err
			},
		})
	}
	return chain
}

// geocodingCall wraps one geocoding invocation with rate limiting and
// metrics.
func (c *Client) geocodingCall(name string, call func(ctx context.Context) (*Coordinates, error)) func(ctx context.Context) (*Coordinates, error) {
	return func(ctx context.Context) (*Coordinates, error) {
		if !c.allow(ctx, name) {
			metrics.RecordProviderCall(name, metrics.OutcomeRateLimited, 0)
			return nil, fmt.Errorf("%s: rate limited", name)
		}
		start := time.Now()
		value, err := call(ctx)
		metrics.RecordProviderCall(name, outcomeOf(value == nil, err), time.Since(start))
		return value, err
	}
}

// allow consults the limiter. A denial is reported as a provider failure so
// the chain moves on to the next provider instead of caching a not-found.
func (c *Client) allow(ctx context.Context, name string) bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow(ctx, name)
}

func outcomeOf(nilValue bool, err error) string {
	switch {
	case err != nil && gerrors.IsKind(err, gerrors.KindNotFound):
		return metrics.OutcomeNotFound
	case err != nil:
		return metrics.OutcomeError
	case nilValue:
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeSuccess
	}
}

// mapNotFound classifies fetch errors for the cache: business not-founds
// become negative envelopes, everything else surfaces uncached.
func mapNotFound(err error) *cache.FailureMeta {
	if e := gerrors.AsError(err); e != nil && e.Kind == gerrors.KindNotFound {
		return &cache.FailureMeta{Type: e.ErrorType, Message: e.Message, Data: e.Data}
	}
	return nil
}

// normalizeCEP strips formatting and validates the canonical 8-digit form.
func normalizeCEP(cep string) (string, bool) {
	var b strings.Builder
	b.Grow(8)
	for _, r := range cep {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == ' ':
			// Formatting characters are tolerated.
		default:
			return "", false
		}
	}
	if b.Len() != 8 {
		return "", false
	}
	return b.String(), true
}

// InvalidateAddress removes one CEP entry from the cache.
func (c *Client) InvalidateAddress(ctx context.Context, cep string) error {
	normalized, ok := normalizeCEP(cep)
	if !ok {
		return gerrors.NewInvalidCEP(cep)
	}
	return c.addressCache.Delete(ctx, c.addressKeys.Generate(map[string]any{"cep": normalized}))
}

// CacheStats is a point-in-time snapshot of one cache scope's counters.
type CacheStats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	NegativeHits int64 `json:"negative_hits"`
	Joins        int64 `json:"joins"`
	Fills        int64 `json:"fills"`
	Overloads    int64 `json:"overloads"`
	ReadErrors   int64 `json:"read_errors"`
	WriteErrors  int64 `json:"write_errors"`
}

// Stats returns the counters of both cache scopes.
func (c *Client) Stats() (address, geocoding CacheStats) {
	return CacheStats(c.addressCache.Stats()), CacheStats(c.geoCache.Stats())
}

// Collectors returns Prometheus collectors exposing both cache scopes.
// Register them on the registry the /metrics endpoint serves.
func (c *Client) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		metrics.NewCacheStatsCollector("cep", c.addressCache),
		metrics.NewCacheStatsCollector("geocoding", c.geoCache),
	}
}

func structuredDisplay(q StructuredQuery) string {
	parts := make([]string, 0, 4)
	for _, s := range []string{q.Street, q.City, q.State, q.Country} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
