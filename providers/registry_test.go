package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geomux/geomux/pkg/provider"
)

func TestCreateAddress(t *testing.T) {
	p, err := CreateAddress(provider.Config{Name: "primary", Type: "viacep"})
	require.NoError(t, err)
	assert.Equal(t, "viacep", p.Name())

	_, err = CreateAddress(provider.Config{Type: "bogus"})
	assert.Error(t, err)
}

func TestCreateGeocoding(t *testing.T) {
	p, err := CreateGeocoding(provider.Config{Type: "nominatim"})
	require.NoError(t, err)
	assert.Equal(t, "nominatim", p.Name())

	// locationiq refuses construction without a key.
	_, err = CreateGeocoding(provider.Config{Type: "locationiq"})
	assert.Error(t, err)

	p, err = CreateGeocoding(provider.Config{Type: "locationiq", APIKey: "sekrit"})
	require.NoError(t, err)
	assert.Equal(t, "locationiq", p.Name())
}

func TestList(t *testing.T) {
	assert.ElementsMatch(t, []string{"viacep", "brasilapi"}, ListAddress())
	assert.ElementsMatch(t, []string{"nominatim", "locationiq"}, ListGeocoding())
}
