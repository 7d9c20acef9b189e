// Package errors defines the unified error taxonomy for geomux operations.
// Every failure produced by the cache, the failover strategy, or a provider
// adapter is mapped into this closed set so callers can match on kind at the
// consumer boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates the closed error set.
type Kind string

const (
	// KindCachedFailure is a failure replayed from a negative cache envelope.
	KindCachedFailure Kind = "cached_failure"

	// KindFetchTimeout means the fetch-timeout fired before a result was accepted.
	KindFetchTimeout Kind = "fetch_timeout"

	// KindOperationAborted means the caller's context was cancelled.
	KindOperationAborted Kind = "operation_aborted"

	// KindServiceOverload means the admission gate rejected the call.
	KindServiceOverload Kind = "service_overload"

	// KindProviderFailure means every provider was tried and at least one
	// failed with a system error.
	KindProviderFailure Kind = "provider_failure"

	// KindNotFound is the business-level "no such entity" outcome.
	KindNotFound Kind = "not_found"

	// KindCorruptedCache means a success envelope was decoded without a value.
	KindCorruptedCache Kind = "corrupted_cache"
)

// Domain error type tags carried inside negative cache envelopes. Consumers
// re-raise a cached failure under its original tag, so these strings are part
// of the wire format and must stay stable.
const (
	TypeInvalidCEP          = "InvalidCepError"
	TypeCoordinatesNotFound = "CoordinatesNotFound"
)

// Error is the standardized geomux error. It carries everything needed for
// error handling, negative caching, logging, and the HTTP response.
type Error struct {
	Kind      Kind           `json:"kind"`
	ErrorType string         `json:"type,omitempty"`
	Message   string         `json:"message"`
	Provider  string         `json:"provider,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Inner     error          `json:"-"`
	Retryable bool           `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Provider != "" && e.Inner != nil:
		return fmt.Sprintf("[%s] %s (provider=%s): %v", e.Kind, e.Message, e.Provider, e.Inner)
	case e.Inner != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Inner)
	case e.Provider != "":
		return fmt.Sprintf("[%s] %s (provider=%s)", e.Kind, e.Message, e.Provider)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Inner
}

// HTTPStatusCode returns the status the gateway responds with.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindCachedFailure:
		// A cached failure replays its original domain error; every type we
		// cache today is a not-found shape.
		return http.StatusNotFound
	case KindServiceOverload, KindProviderFailure:
		return http.StatusServiceUnavailable
	case KindFetchTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts a *Error from err's chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	e := AsError(err)
	return e != nil && e.Kind == kind
}

// IsNotFound reports whether err is a business not-found, either fresh or
// replayed from the negative cache.
func IsNotFound(err error) bool {
	e := AsError(err)
	if e == nil {
		return false
	}
	return e.Kind == KindNotFound || e.Kind == KindCachedFailure
}

// IsFetchTimeout reports whether err is a fetch timeout.
func IsFetchTimeout(err error) bool { return IsKind(err, KindFetchTimeout) }

// IsOperationAborted reports whether err is a caller-initiated abort.
func IsOperationAborted(err error) bool { return IsKind(err, KindOperationAborted) }

// IsServiceOverload reports whether err is an admission rejection.
func IsServiceOverload(err error) bool { return IsKind(err, KindServiceOverload) }

// NewNotFound creates a business not-found error with a domain type tag.
func NewNotFound(errorType, message string) *Error {
	return &Error{
		Kind:      KindNotFound,
		ErrorType: errorType,
		Message:   message,
	}
}

// NewInvalidCEP creates the not-found error for an unknown or malformed CEP.
func NewInvalidCEP(cep string) *Error {
	return &Error{
		Kind:      KindNotFound,
		ErrorType: TypeInvalidCEP,
		Message:   "CEP not found",
		Data:      map[string]any{"cep": cep},
	}
}

// NewCoordinatesNotFound creates the not-found error for a geocoding query
// that matched nothing.
func NewCoordinatesNotFound(query string) *Error {
	return &Error{
		Kind:      KindNotFound,
		ErrorType: TypeCoordinatesNotFound,
		Message:   "coordinates not found",
		Data:      map[string]any{"query": query},
	}
}

// NewCachedFailure replays a failure recorded in a negative cache envelope.
func NewCachedFailure(errorType, message string, data map[string]any) *Error {
	return &Error{
		Kind:      KindCachedFailure,
		ErrorType: errorType,
		Message:   message,
		Data:      data,
	}
}

// NewFetchTimeout creates a fetch timeout error.
func NewFetchTimeout(message string) *Error {
	if message == "" {
		message = "fetch timed out"
	}
	return &Error{
		Kind:      KindFetchTimeout,
		Message:   message,
		Retryable: true,
	}
}

// NewOperationAborted creates a caller-abort error wrapping the reason.
func NewOperationAborted(reason error) *Error {
	msg := "operation aborted"
	if reason != nil {
		msg = fmt.Sprintf("operation aborted: %v", reason)
	}
	return &Error{
		Kind:    KindOperationAborted,
		Message: msg,
		Inner:   reason,
	}
}

// NewServiceOverload creates an admission rejection error.
func NewServiceOverload(maxPending int) *Error {
	return &Error{
		Kind:      KindServiceOverload,
		Message:   fmt.Sprintf("too many pending fetches (max %d)", maxPending),
		Retryable: true,
	}
}

// NewProviderFailure composes the terminal error when the provider set is
// degraded. inner is the last system error observed.
func NewProviderFailure(provider string, inner error) *Error {
	return &Error{
		Kind:      KindProviderFailure,
		Message:   "all providers failed",
		Provider:  provider,
		Inner:     inner,
		Retryable: true,
	}
}

// NewCorruptedCache signals a success envelope that decoded without a value.
// It is surfaced instead of silently refilling so the producer bug is visible.
func NewCorruptedCache(key string) *Error {
	return &Error{
		Kind:    KindCorruptedCache,
		Message: fmt.Sprintf("corrupted cache envelope for key %q", key),
	}
}
