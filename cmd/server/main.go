package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tenai/internal/access"
	"tenai/internal/cache"
	"tenai/internal/catalog"
	"tenai/internal/config"
	"tenai/internal/httpapi"
	"tenai/internal/keyring"
	"tenai/internal/metrics"
	"tenai/internal/providers"
	"tenai/internal/ratelimit"
	"tenai/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Bool("remote_store", cfg.DB.Enabled).
		Str("driver", cfg.DB.Driver).
		Str("default_model", cfg.Models.Default).
		Msg("starting tenai")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var store *storage.Store
	if cfg.DB.Enabled {
		store, err = storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize remote store")
		}
		defer store.Close()
	}

	local, err := cache.Open(ctx, cfg.Cache.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize local cache")
	}
	defer local.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	ring, err := keyring.New(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize keyring")
	}

	m := metrics.Global()

	cat := catalog.New(catalog.StaticModels(), cfg.Models.CatalogTTL)
	cat.SetRefreshHook(m.CatalogRefreshes.Inc)

	envKeys := make(map[providers.ID]string, len(cfg.Providers.EnvKeys))
	baseURLs := make(map[providers.ID]string, len(cfg.Providers.BaseURLs))
	for raw, key := range cfg.Providers.EnvKeys {
		if p, ok := providers.Parse(raw); ok {
			envKeys[p] = key
		}
	}
	for raw, u := range cfg.Providers.BaseURLs {
		if p, ok := providers.Parse(raw); ok {
			baseURLs[p] = u
		}
	}

	var keyStore access.KeyStore
	if store != nil {
		keyStore = store
	} else {
		keyStore = noKeyStore{}
	}
	resolver := access.NewResolver(cat, keyStore, ring, envKeys, cfg.Models.FreeModels, log.Logger)

	server := httpapi.NewServer(httpapi.Options{
		Remote:         store,
		Cache:          local,
		Catalog:        cat,
		Resolver:       resolver,
		Limiter:        ratelimit.New(rdb, cfg.Rate.MessagesPerHour),
		Keyring:        ring,
		CSRF:           httpapi.NewCSRF(cfg.CSRF.Secret, cfg.CSRF.CookieName, cfg.CSRF.HeaderName),
		DefaultModel:   cfg.Models.Default,
		BaseURLs:       baseURLs,
		HTTPClient:     &http.Client{Timeout: cfg.Providers.ClientTimeout},
		MaxRetries:     cfg.Providers.MaxRetries,
		BackoffBase:    cfg.Providers.BackoffBase,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		HealthPath:     cfg.HTTP.HealthPath,
		MetricsPath:    cfg.HTTP.MetricsPath,
		Log:            log.Logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

// noKeyStore backs the resolver when the remote store is disabled: no caller
// has personal keys, so everyone sees the environment-only view.
type noKeyStore struct{}

func (noKeyStore) UserKeyProviders(context.Context, string) ([]providers.ID, error) {
	return nil, nil
}

func (noKeyStore) GetUserKey(context.Context, string, providers.ID) (storage.UserKey, error) {
	return storage.UserKey{}, storage.ErrNotFound
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
