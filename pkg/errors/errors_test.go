package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want int
	}{
		{"not found", NewInvalidCEP("00000000"), http.StatusNotFound},
		{"cached failure", NewCachedFailure(TypeInvalidCEP, "CEP not found", nil), http.StatusNotFound},
		{"overload", NewServiceOverload(100), http.StatusServiceUnavailable},
		{"provider failure", NewProviderFailure("viacep", fmt.Errorf("boom")), http.StatusServiceUnavailable},
		{"fetch timeout", NewFetchTimeout(""), http.StatusGatewayTimeout},
		{"corrupted cache", NewCorruptedCache("cache:cep:abc"), http.StatusInternalServerError},
		{"aborted", NewOperationAborted(nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatusCode())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := NewProviderFailure("nominatim", inner)

	require.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "nominatim")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKindPredicates(t *testing.T) {
	wrapped := fmt.Errorf("resolve: %w", NewFetchTimeout(""))

	assert.True(t, IsFetchTimeout(wrapped))
	assert.False(t, IsFetchTimeout(fmt.Errorf("plain")))

	assert.True(t, IsNotFound(NewCoordinatesNotFound("nowhere")))
	assert.True(t, IsNotFound(NewCachedFailure(TypeCoordinatesNotFound, "coordinates not found", nil)))
	assert.False(t, IsNotFound(NewServiceOverload(10)))

	assert.True(t, IsServiceOverload(NewServiceOverload(10)))
	assert.True(t, IsOperationAborted(NewOperationAborted(fmt.Errorf("client gone"))))
}

func TestAsError_NilForForeignErrors(t *testing.T) {
	assert.Nil(t, AsError(fmt.Errorf("not ours")))
	assert.Nil(t, AsError(nil))
}

func TestNewInvalidCEP_CarriesData(t *testing.T) {
	err := NewInvalidCEP("12345678")
	require.NotNil(t, err.Data)
	assert.Equal(t, "12345678", err.Data["cep"])
	assert.Equal(t, TypeInvalidCEP, err.ErrorType)
}
