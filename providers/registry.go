// Package providers provides a unified registry for all geomux provider
// implementations, allowing automatic provider creation from configuration.
package providers

import (
	"fmt"
	"sync"

	"github.com/geomux/geomux/pkg/provider"
	"github.com/geomux/geomux/providers/brasilapi"
	"github.com/geomux/geomux/providers/locationiq"
	"github.com/geomux/geomux/providers/nominatim"
	"github.com/geomux/geomux/providers/viacep"
)

var (
	registryMu        sync.RWMutex
	addressRegistry   = make(map[string]provider.AddressFactory)
	geocodingRegistry = make(map[string]provider.GeocodingFactory)
	builtinsOnce      sync.Once
)

func ensureBuiltins() {
	builtinsOnce.Do(func() {
		RegisterAddress(viacep.ProviderName, viacep.NewFromConfig)
		RegisterAddress(brasilapi.ProviderName, brasilapi.NewFromConfig)
		RegisterGeocoding(nominatim.ProviderName, nominatim.NewFromConfig)
		RegisterGeocoding(locationiq.ProviderName, locationiq.NewFromConfig)
	})
}

// RegisterAddress registers an address provider factory under a type name.
func RegisterAddress(providerType string, factory provider.AddressFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	addressRegistry[providerType] = factory
}

// RegisterGeocoding registers a geocoding provider factory under a type name.
func RegisterGeocoding(providerType string, factory provider.GeocodingFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	geocodingRegistry[providerType] = factory
}

// CreateAddress creates an address provider instance from configuration.
func CreateAddress(cfg provider.Config) (provider.AddressProvider, error) {
	ensureBuiltins()
	registryMu.RLock()
	factory, ok := addressRegistry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown address provider type: %s (available: %v)", cfg.Type, ListAddress())
	}
	return factory(cfg)
}

// CreateGeocoding creates a geocoding provider instance from configuration.
func CreateGeocoding(cfg provider.Config) (provider.GeocodingProvider, error) {
	ensureBuiltins()
	registryMu.RLock()
	factory, ok := geocodingRegistry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown geocoding provider type: %s (available: %v)", cfg.Type, ListGeocoding())
	}
	return factory(cfg)
}

// ListAddress returns all registered address provider type names.
func ListAddress() []string {
	ensureBuiltins()
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(addressRegistry))
	for name := range addressRegistry {
		names = append(names, name)
	}
	return names
}

// ListGeocoding returns all registered geocoding provider type names.
func ListGeocoding() []string {
	ensureBuiltins()
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(geocodingRegistry))
	for name := range geocodingRegistry {
		names = append(names, name)
	}
	return names
}
