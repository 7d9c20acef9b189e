// Package main is the entry point for the geomux gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geomux/geomux"
	"github.com/geomux/geomux/internal/config"
	"github.com/geomux/geomux/internal/observability"
	"github.com/geomux/geomux/pkg/provider"
	"github.com/geomux/geomux/providers"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfgManager, err := config.NewManager(*configPath, slog.Default())
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := observability.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Info("starting geomux gateway", "version", geomux.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}
	cfgManager.OnChange(func(*config.Config) {
		// Server and cache wiring is fixed at startup; provider or cache
		// changes need a restart to take effect.
		logger.Info("configuration file changed, restart to apply provider changes")
	})

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	client, err := buildClient(cfg, rdb, logger)
	if err != nil {
		logger.Error("failed to build client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	handler, err := buildHandler(cfg, client, rdb, logger)
	if err != nil {
		logger.Error("failed to build routes", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	_ = cfgManager.Close()
	logger.Info("server stopped")
}

// buildClient assembles the geomux client from file configuration, creating
// providers through the registry.
func buildClient(cfg *config.Config, rdb redis.UniversalClient, logger *slog.Logger) (*geomux.Client, error) {
	opts := []geomux.Option{
		geomux.WithRedis(rdb),
		geomux.WithLogger(logger),
		geomux.WithFetchTimeout(cfg.Cache.FetchTimeout),
		geomux.WithWriteTimeout(cfg.Cache.WriteTimeout),
		geomux.WithMaxPending(cfg.Cache.MaxPending),
		geomux.WithTTL(cfg.Cache.PositiveTTL, cfg.Cache.NegativeTTL),
		geomux.WithTTLJitter(cfg.Cache.JitterFraction),
	}

	if cfg.Cache.Lock.Enabled {
		opts = append(opts, geomux.WithDistributedLock(geomux.LockConfig{
			TTL:       cfg.Cache.Lock.TTL,
			MaxWait:   cfg.Cache.Lock.MaxWait,
			Heartbeat: cfg.Cache.Lock.Heartbeat,
		}))
	}

	if cfg.RateLimit.Enabled {
		opts = append(opts, geomux.WithRateLimit(geomux.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.BurstSize,
		}))
		for name, l := range cfg.RateLimit.PerProvider {
			opts = append(opts, geomux.WithProviderRateLimit(name, geomux.RateLimit{
				RequestsPerMinute: l.RequestsPerMinute,
				Burst:             l.BurstSize,
			}))
		}
	}

	for _, pc := range cfg.Providers.Address {
		p, err := providers.CreateAddress(providerConfig(pc))
		if err != nil {
			return nil, fmt.Errorf("address provider %q: %w", pc.Name, err)
		}
		logger.Info("address provider registered", "name", pc.Name, "type", pc.Type)
		opts = append(opts, geomux.WithAddressProviders(p))
	}
	for _, pc := range cfg.Providers.Geocoding {
		p, err := providers.CreateGeocoding(providerConfig(pc))
		if err != nil {
			return nil, fmt.Errorf("geocoding provider %q: %w", pc.Name, err)
		}
		logger.Info("geocoding provider registered", "name", pc.Name, "type", pc.Type)
		opts = append(opts, geomux.WithGeocodingProviders(p))
	}

	return geomux.New(opts...)
}

func providerConfig(pc config.ProviderConfig) provider.Config {
	return provider.Config{
		Name:       pc.Name,
		Type:       pc.Type,
		APIKey:     pc.APIKey,
		BaseURL:    pc.BaseURL,
		UserAgent:  pc.UserAgent,
		Timeout:    pc.Timeout,
		MaxRetries: pc.MaxRetries,
	}
}
