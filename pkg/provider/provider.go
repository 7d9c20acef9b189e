// Package provider defines the public interfaces for upstream lookup
// adapters. Each provider (ViaCEP, BrasilAPI, Nominatim, LocationIQ, ...)
// implements one of these interfaces to handle request building, API
// communication, and error mapping.
package provider

import (
	"context"
	"net/http"
	"time"
)

// Precision describes how exact a geocoding result is.
type Precision string

const (
	PrecisionRooftop      Precision = "ROOFTOP"
	PrecisionNeighborhood Precision = "NEIGHBORHOOD"
	PrecisionCity         Precision = "CITY"
	PrecisionNoCertainty  Precision = "NO_CERTAINTY"
)

// AddressData is the unified address record returned by CEP lookups.
// Localidade and UF are always present on a successful lookup; the rest is
// provider-dependent.
type AddressData struct {
	CEP        string    `json:"cep"`
	Logradouro string    `json:"logradouro,omitempty"`
	Bairro     string    `json:"bairro,omitempty"`
	Localidade string    `json:"localidade"`
	UF         string    `json:"uf"`
	Lat        float64   `json:"lat,omitempty"`
	Lon        float64   `json:"lon,omitempty"`
	Precision  Precision `json:"precision,omitempty"`
}

// Coordinates is the unified geocoding result.
type Coordinates struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Precision Precision `json:"precision"`
}

// StructuredQuery is a field-addressed geocoding query. City and State are
// required; Street and Country are optional refinements.
type StructuredQuery struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country,omitempty"`
}

// AddressProvider resolves a normalized 8-digit CEP into an address.
// A (nil, nil) return means the provider answered authoritatively that the
// CEP does not exist; adapters may equivalently return a not-found error
// from the taxonomy. Any other error is a system failure.
type AddressProvider interface {
	// Name returns the provider identifier (e.g. "viacep", "brasilapi").
	Name() string

	// FetchAddress looks up a CEP. Implementations must honor ctx.
	FetchAddress(ctx context.Context, cep string) (*AddressData, error)
}

// GeocodingProvider resolves free-form or structured queries to coordinates.
// Not-found semantics match AddressProvider.
type GeocodingProvider interface {
	// Name returns the provider identifier (e.g. "nominatim", "locationiq").
	Name() string

	// Search geocodes a free-form query.
	Search(ctx context.Context, query string) (*Coordinates, error)

	// SearchStructured geocodes a structured query.
	SearchStructured(ctx context.Context, q StructuredQuery) (*Coordinates, error)
}

// Config contains provider-specific configuration.
type Config struct {
	Name       string
	Type       string
	APIKey     string
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// AddressFactory creates address provider instances from configuration.
type AddressFactory func(cfg Config) (AddressProvider, error)

// GeocodingFactory creates geocoding provider instances from configuration.
type GeocodingFactory func(cfg Config) (GeocodingProvider, error)
