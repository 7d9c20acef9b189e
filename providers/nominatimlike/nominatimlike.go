// Package nominatimlike provides a shared base for geocoding providers that
// speak the Nominatim search API dialect (Nominatim itself, LocationIQ, and
// other compatible services). Concrete providers wrap it with their endpoint
// and authentication details.
package nominatimlike

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/goccy/go-json"

	"github.com/geomux/geomux/internal/httputil"
	"github.com/geomux/geomux/pkg/provider"
)

// Info describes one Nominatim-compatible service.
type Info struct {
	// Name is the provider identifier.
	Name string

	// DefaultBaseURL is the service endpoint up to (not including) /search.
	DefaultBaseURL string

	// APIKeyParam is the query parameter carrying the API key, empty when
	// the service is unauthenticated.
	APIKeyParam string

	// RequiresAPIKey makes construction fail without a key.
	RequiresAPIKey bool
}

// errNotFound marks the "Unable to geocode" answer some services return as
// HTTP 404 instead of an empty result set.
var errNotFound = errors.New("nominatimlike: no match")

// Provider implements the shared Nominatim-dialect adapter.
type Provider struct {
	info       Info
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	attempts   uint
}

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) Option {
	return func(p *Provider) {
		if n >= 0 {
			p.attempts = uint(n) + 1
		}
	}
}

// WithUserAgent sets the User-Agent header. Nominatim's usage policy makes
// an identifying agent mandatory.
func WithUserAgent(ua string) Option {
	return func(p *Provider) {
		if ua != "" {
			p.userAgent = ua
		}
	}
}

// New creates a provider for the given service info.
func New(info Info, opts ...Option) *Provider {
	p := &Provider{
		info:       info,
		baseURL:    info.DefaultBaseURL,
		userAgent:  "geomux",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		attempts:   3,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(info Info, cfg provider.Config) (provider.GeocodingProvider, error) {
	if info.RequiresAPIKey && cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", info.Name)
	}
	opts := []Option{
		WithBaseURL(cfg.BaseURL),
		WithAPIKey(cfg.APIKey),
		WithUserAgent(cfg.UserAgent),
		WithHTTPClient(cfg.HTTPClient),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.Timeout > 0 && cfg.HTTPClient == nil {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return New(info, opts...), nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.info.Name
}

// Search geocodes a free-form query.
func (p *Provider) Search(ctx context.Context, query string) (*provider.Coordinates, error) {
	params := url.Values{}
	params.Set("q", query)
	return p.search(ctx, params)
}

// SearchStructured geocodes a structured query.
func (p *Provider) SearchStructured(ctx context.Context, q provider.StructuredQuery) (*provider.Coordinates, error) {
	params := url.Values{}
	if q.Street != "" {
		params.Set("street", q.Street)
	}
	params.Set("city", q.City)
	params.Set("state", q.State)
	if q.Country != "" {
		params.Set("country", q.Country)
	}
	return p.search(ctx, params)
}

// searchResult mirrors one entry of the search response array. Lat and lon
// come back as strings in the Nominatim dialect.
type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Class       string `json:"class"`
	Type        string `json:"type"`
	AddressType string `json:"addresstype"`
}

func (p *Provider) search(ctx context.Context, params url.Values) (*provider.Coordinates, error) {
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	if p.info.APIKeyParam != "" && p.apiKey != "" {
		params.Set(p.info.APIKeyParam, p.apiKey)
	}

	body, err := p.get(ctx, p.baseURL+"/search?"+params.Encode())
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("%s: unmarshal response: %w", p.info.Name, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	first := results[0]
	lat, latErr := strconv.ParseFloat(first.Lat, 64)
	lon, lonErr := strconv.ParseFloat(first.Lon, 64)
	if latErr != nil || lonErr != nil {
		return nil, fmt.Errorf("%s: unparseable coordinates %q,%q", p.info.Name, first.Lat, first.Lon)
	}

	return &provider.Coordinates{
		Lat:       lat,
		Lon:       lon,
		Precision: mapPrecision(first),
	}, nil
}

// mapPrecision derives result precision from the OSM element classification.
func mapPrecision(r searchResult) provider.Precision {
	t := r.AddressType
	if t == "" {
		t = r.Type
	}
	switch t {
	case "building", "house", "residential_building", "apartments", "office":
		return provider.PrecisionRooftop
	case "road", "residential", "suburb", "neighbourhood", "quarter", "hamlet":
		return provider.PrecisionNeighborhood
	case "city", "town", "village", "municipality", "postcode":
		return provider.PrecisionCity
	default:
		return provider.PrecisionNoCertainty
	}
}

func (p *Provider) get(ctx context.Context, u string) ([]byte, error) {
	return retry.NewWithData[[]byte](
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.LastErrorOnly(true),
	).Do(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, retry.Unrecoverable(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", p.userAgent)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
		if err != nil {
			return nil, retry.Unrecoverable(fmt.Errorf("%s: read response: %w", p.info.Name, err))
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			// LocationIQ answers "Unable to geocode" with a 404.
			return nil, retry.Unrecoverable(errNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("%s: upstream status %d", p.info.Name, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, retry.Unrecoverable(fmt.Errorf("%s: unexpected status %d", p.info.Name, resp.StatusCode))
		}
		return body, nil
	})
}
