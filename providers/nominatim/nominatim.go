// Package nominatim provides the OpenStreetMap Nominatim geocoding provider.
// API Reference: https://nominatim.org/release-docs/latest/api/Search/
package nominatim

import (
	"github.com/geomux/geomux/pkg/provider"
	"github.com/geomux/geomux/providers/nominatimlike"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "nominatim"

	// DefaultBaseURL is the public Nominatim endpoint.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
)

var info = nominatimlike.Info{
	Name:           ProviderName,
	DefaultBaseURL: DefaultBaseURL,
}

// New creates a new Nominatim provider with the given options.
func New(opts ...nominatimlike.Option) *nominatimlike.Provider {
	return nominatimlike.New(info, opts...)
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.GeocodingProvider, error) {
	return nominatimlike.NewFromConfig(info, cfg)
}
