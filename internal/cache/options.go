package cache

import (
	"errors"
	"log/slog"
	"time"
)

const (
	// DefaultFetchTimeout bounds one fill attempt end to end.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds the best-effort envelope write.
	DefaultWriteTimeout = 2 * time.Second

	// DefaultMaxPending is the admission bound on concurrently filling keys.
	DefaultMaxPending = 100
)

// Options configures a ResilientCache.
type Options struct {
	// FetchTimeout is the per-fill timeout composed with the caller context.
	FetchTimeout time.Duration

	// WriteTimeout bounds envelope writes, which outlive the fetch context.
	WriteTimeout time.Duration

	// MaxPending caps the single-flight table size. The gate applies only to
	// calls that would start a new fetch; joiners always pass.
	MaxPending int

	// TTL selects base TTLs and jitter for envelope writes.
	TTL TTLConfig

	// FillLock, when set, serializes fills for the same key across processes.
	FillLock *FillLock

	// Logger receives warnings for degraded paths. Defaults to slog.Default().
	Logger *slog.Logger
}

// Option configures a ResilientCache.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		FetchTimeout: DefaultFetchTimeout,
		WriteTimeout: DefaultWriteTimeout,
		MaxPending:   DefaultMaxPending,
		TTL:          DefaultTTLConfig(),
		Logger:       slog.Default(),
	}
}

func (o *Options) validate() error {
	if o.FetchTimeout <= 0 {
		return errors.New("cache: fetch timeout must be positive")
	}
	if o.MaxPending <= 0 {
		return errors.New("cache: max pending must be positive")
	}
	if o.TTL.JitterFraction < 0 || o.TTL.JitterFraction >= 1 {
		return errors.New("cache: jitter fraction must be in [0, 1)")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// WithFetchTimeout sets the per-fill timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Options) { o.FetchTimeout = d }
}

// WithWriteTimeout sets the envelope write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) { o.WriteTimeout = d }
}

// WithMaxPending sets the admission bound.
func WithMaxPending(n int) Option {
	return func(o *Options) { o.MaxPending = n }
}

// WithTTL sets the TTL configuration.
func WithTTL(cfg TTLConfig) Option {
	return func(o *Options) { o.TTL = cfg }
}

// WithFillLock enables the distributed fill lock.
func WithFillLock(l *FillLock) Option {
	return func(o *Options) { o.FillLock = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}
