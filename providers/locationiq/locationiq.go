// Package locationiq provides the LocationIQ geocoding provider, a hosted
// Nominatim-compatible service that requires an API key.
// API Reference: https://docs.locationiq.com
package locationiq

import (
	"github.com/geomux/geomux/pkg/provider"
	"github.com/geomux/geomux/providers/nominatimlike"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "locationiq"

	// DefaultBaseURL is the LocationIQ US endpoint.
	DefaultBaseURL = "https://us1.locationiq.com/v1"
)

var info = nominatimlike.Info{
	Name:           ProviderName,
	DefaultBaseURL: DefaultBaseURL,
	APIKeyParam:    "key",
	RequiresAPIKey: true,
}

// New creates a new LocationIQ provider with the given options.
func New(opts ...nominatimlike.Option) *nominatimlike.Provider {
	return nominatimlike.New(info, opts...)
}

// NewFromConfig creates a provider from a Config struct. An API key is
// required.
func NewFromConfig(cfg provider.Config) (provider.GeocodingProvider, error) {
	return nominatimlike.NewFromConfig(info, cfg)
}
