// Package viacep provides the ViaCEP address provider.
// API Reference: https://viacep.com.br
package viacep

import (
	"context"
	"fmt"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/goccy/go-json"

	"github.com/geomux/geomux/internal/httputil"
	"github.com/geomux/geomux/pkg/provider"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "viacep"

	// DefaultBaseURL is the default ViaCEP API endpoint.
	DefaultBaseURL = "https://viacep.com.br/ws"
)

// Provider implements the ViaCEP adapter.
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

// New creates a new ViaCEP provider with the given options.
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

// viaCEPResponse mirrors the ViaCEP payload. An unknown CEP comes back as
// HTTP 200 with {"erro": true} ("true" as a string in older deployments).
type viaCEPResponse struct {
	Cep        string  `json:"cep"`
	Logradouro string  `json:"logradouro"`
	Bairro     string  `json:"bairro"`
	Localidade string  `json:"localidade"`
	Uf         string  `json:"uf"`
	Erro       boolish `json:"erro"`
}

// boolish accepts both true and "true".
type boolish bool

func (b *boolish) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", `"true"`:
		*b = true
	default:
		*b = false
	}
	return nil
}

// FetchAddress resolves a normalized 8-digit CEP. An unknown CEP returns
// (nil, nil); transport and server failures return an error.
func (p *Provider) FetchAddress(ctx context.Context, cep string) (*provider.AddressData, error) {
	url := fmt.Sprintf("%s/%s/json/", p.baseURL, cep)

	body, err := fetchJSON(ctx, p.httpClient, url, p.userAgent, p.attempts)
	if err != nil {
		return nil, err
	}

	var resp viaCEPResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("viacep: unmarshal response: %w", err)
	}
	if resp.Erro {
		return nil, nil
	}
	if resp.Localidade == "" || resp.Uf == "" {
		return nil, fmt.Errorf("viacep: incomplete response for cep %s", cep)
	}

	return &provider.AddressData{
		CEP:        resp.Cep,
		Logradouro: resp.Logradouro,
		Bairro:     resp.Bairro,
		Localidade: resp.Localidade,
		UF:         resp.Uf,
	}, nil
}

// fetchJSON performs a GET with backoff retry on retryable failures and
// returns the bounded response body.
func fetchJSON(ctx context.Context, client *http.Client, url, userAgent string, attempts uint) ([]byte, error) {
	return retry.NewWithData[[]byte](
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.LastErrorOnly(true),
	).Do(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, retry.Unrecoverable(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
		if err != nil {
			return nil, retry.Unrecoverable(fmt.Errorf("viacep: read response: %w", err))
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("viacep: upstream status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, retry.Unrecoverable(fmt.Errorf("viacep: unexpected status %d", resp.StatusCode))
		}
		return body, nil
	})
}
