// Package strategy implements the cascaded provider failover driver. It
// walks an ordered provider list, separates business not-founds from system
// failures, and decides which outcome the caller sees.
package strategy

import (
	"context"
	"errors"
	"log/slog"

	gerrors "github.com/geomux/geomux/pkg/errors"
)

// Provider is one entry in the failover chain: a name for logging and a
// closure binding the provider call to its input.
type Provider[T any] struct {
	Name string
	Call func(ctx context.Context) (*T, error)
}

// Execute invokes providers in declared order and classifies each outcome:
//
//   - a value returns immediately;
//   - a nil value or a not-found error counts as not-found and the next
//     provider is tried;
//   - a fetch timeout re-raises immediately, skipping remaining providers;
//   - any other error marks the provider set degraded and the next provider
//     is tried.
//
// After the loop, system errors dominate not-founds: while any provider is
// failing, another provider's "not found" may be a stale database or a
// silently timed-out lookup, and caching it would pin a wrong answer for the
// whole negative TTL. Only when every provider agreed on not-found does
// notFound() become the outcome — the one classification the cache is
// allowed to record as a failure envelope.
func Execute[T any](ctx context.Context, logger *slog.Logger, providers []Provider[T], notFound func() error) (*T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(providers) == 0 {
		return nil, errors.New("strategy: no providers configured")
	}

	var (
		notFoundCount  int
		hasSystemError bool
		lastErr        error
		lastProvider   string
	)

	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return nil, normalizeContext(ctx)
		}

		value, err := p.Call(ctx)
		switch {
		case err == nil && value != nil:
			return value, nil

		case err == nil:
			// Explicit nil result: the provider answered "no such entity".
			notFoundCount++

		case gerrors.IsKind(err, gerrors.KindNotFound):
			notFoundCount++

		case gerrors.IsFetchTimeout(err):
			return nil, err

		default:
			hasSystemError = true
			lastErr = err
			lastProvider = p.Name
			logger.WarnContext(ctx, "provider failed, trying next",
				"provider", p.Name, "error", err)
		}
	}

	switch {
	case hasSystemError:
		return nil, gerrors.NewProviderFailure(lastProvider, lastErr)
	case notFoundCount == len(providers):
		return nil, notFound()
	default:
		// Unreachable when providers follow the contract; kept as a safety
		// net so a misbehaving adapter cannot produce a silent nil result.
		return nil, gerrors.NewProviderFailure("", errors.New("strategy: no provider produced an outcome"))
	}
}

// normalizeContext maps a fired context into the taxonomy: deadline expiry
// is a fetch timeout, a cancel is a caller abort.
func normalizeContext(ctx context.Context) error {
	cause := context.Cause(ctx)
	if e := gerrors.AsError(cause); e != nil &&
		(e.Kind == gerrors.KindFetchTimeout || e.Kind == gerrors.KindOperationAborted) {
		return e
	}
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return gerrors.NewFetchTimeout("")
	}
	return gerrors.NewOperationAborted(cause)
}
