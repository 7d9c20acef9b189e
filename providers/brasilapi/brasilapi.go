// Package brasilapi provides the BrasilAPI CEP v2 address provider.
// API Reference: https://brasilapi.com.br/docs
package brasilapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/goccy/go-json"

	"github.com/geomux/geomux/internal/httputil"
	"github.com/geomux/geomux/pkg/provider"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "brasilapi"

	// DefaultBaseURL is the default BrasilAPI endpoint.
	DefaultBaseURL = "https://brasilapi.com.br/api"
)

// errNotFound is an internal marker for the 404 answer; FetchAddress
// converts it to the (nil, nil) not-found contract.
var errNotFound = fmt.Errorf("brasilapi: cep not found")

// Provider implements the BrasilAPI adapter.
type Provider struct {
	baseURL    string
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

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(p *Provider) {
		if ua != "" {
			p.userAgent = ua
		}
	}
}

// New creates a new BrasilAPI provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    DefaultBaseURL,
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
func NewFromConfig(cfg provider.Config) (provider.AddressProvider, error) {
	opts := []Option{
		WithBaseURL(cfg.BaseURL),
		WithUserAgent(cfg.UserAgent),
		WithHTTPClient(cfg.HTTPClient),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.Timeout > 0 && cfg.HTTPClient == nil {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return New(opts...), nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// cepResponse mirrors the CEP v2 payload. Coordinates are strings and may
// be absent entirely.
type cepResponse struct {
	Cep          string `json:"cep"`
	State        string `json:"state"`
	City         string `json:"city"`
	Neighborhood string `json:"neighborhood"`
	Street       string `json:"street"`
	Location     struct {
		Coordinates struct {
			Longitude string `json:"longitude"`
			Latitude  string `json:"latitude"`
		} `json:"coordinates"`
	} `json:"location"`
}

// FetchAddress resolves a normalized 8-digit CEP. BrasilAPI answers an
// unknown CEP with HTTP 404, which maps to (nil, nil).
func (p *Provider) FetchAddress(ctx context.Context, cep string) (*provider.AddressData, error) {
	url := fmt.Sprintf("%s/cep/v2/%s", p.baseURL, cep)

	body, err := p.get(ctx, url)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var resp cepResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("brasilapi: unmarshal response: %w", err)
	}
	if resp.City == "" || resp.State == "" {
		return nil, fmt.Errorf("brasilapi: incomplete response for cep %s", cep)
	}

	addr := &provider.AddressData{
		CEP:        resp.Cep,
		Logradouro: resp.Street,
		Bairro:     resp.Neighborhood,
		Localidade: resp.City,
		UF:         resp.State,
	}

	lat, latErr := strconv.ParseFloat(resp.Location.Coordinates.Latitude, 64)
	lon, lonErr := strconv.ParseFloat(resp.Location.Coordinates.Longitude, 64)
	if latErr == nil && lonErr == nil {
		addr.Lat = lat
		addr.Lon = lon
		addr.Precision = provider.PrecisionCity
	}
	return addr, nil
}

func (p *Provider) get(ctx context.Context, url string) ([]byte, error) {
	return retry.NewWithData[[]byte](
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.LastErrorOnly(true),
	).Do(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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
			return nil, retry.Unrecoverable(fmt.Errorf("brasilapi: read response: %w", err))
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, retry.Unrecoverable(errNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("brasilapi: upstream status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, retry.Unrecoverable(fmt.Errorf("brasilapi: unexpected status %d", resp.StatusCode))
		}
		return body, nil
	})
}
