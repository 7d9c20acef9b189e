// Package geomux provides resilient Brazilian address lookup (CEP) and
// geocoding over cascading upstream providers, fronted by a Redis
// read-through cache with request deduplication.
//
// Lookups run through a per-key single-flight layer, so concurrent requests
// for the same CEP or geocoding query trigger a single upstream fetch.
// Providers are tried in declared order; business not-founds fall through to
// the next provider while system failures mark the chain degraded. Both
// positive results and confirmed not-founds are cached, the latter under a
// shorter TTL.
//
// Basic usage:
//
//	client, err := geomux.New(
//	    geomux.WithRedisAddr("localhost:6379"),
//	    geomux.WithAddressProviders(viacep.New(), brasilapi.New()),
//	    geomux.WithGeocodingProviders(nominatim.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	addr, err := client.ResolveAddress(ctx, "01310-100")
package geomux

import (
	"github.com/geomux/geomux/pkg/provider"
)

// Version is the current version of geomux.
const Version = "1.0.0"

// Re-export core provider types for convenience. Users can write
// geomux.AddressData instead of provider.AddressData.
type (
	// AddressData is a resolved CEP record.
	AddressData = provider.AddressData

	// Coordinates is a geocoding result.
	Coordinates = provider.Coordinates

	// StructuredQuery is a field-addressed geocoding query.
	StructuredQuery = provider.StructuredQuery

	// AddressProvider resolves CEPs against one upstream service.
	AddressProvider = provider.AddressProvider

	// GeocodingProvider resolves queries to coordinates.
	GeocodingProvider = provider.GeocodingProvider

	// ProviderConfig contains provider-specific configuration.
	ProviderConfig = provider.Config

	// Precision grades how exact a coordinate fix is.
	Precision = provider.Precision
)

// Re-export precision grades.
const (
	PrecisionRooftop      = provider.PrecisionRooftop
	PrecisionNeighborhood = provider.PrecisionNeighborhood
	PrecisionCity         = provider.PrecisionCity
	PrecisionNoCertainty  = provider.PrecisionNoCertainty
)
