// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

// Package main is the entry point for the StreamPulse server.
//
// StreamPulse ingests webhook notifications from a live-streaming ingest
// platform, debounces and persists the resulting state transitions, and
// fans the changes out to subscribed clients over NDJSON streams and
// WebSockets.
//
// # Startup Order
//
//  1. Configuration: koanf v2 layering defaults, config.yaml, environment
//  2. Logging: zerolog, configured from the loaded settings
//  3. PostgreSQL: connection pool plus embedded migrations
//  4. Redis: shared client for the cache layer and the rate limiter
//  5. Cache: store, TTL policy, invalidator, optional warm-on-start
//  6. Fan-out registry and event pipeline
//  7. Supervisor tree: pipeline and HTTP server as supervised services
//
// # Configuration
//
// All settings can be supplied via config.yaml or environment variables
// with the STREAMPULSE_ prefix ("__" separates nesting levels):
//
//	export STREAMPULSE_DATABASE__URL=postgres://localhost/streampulse
//	export STREAMPULSE_REDIS__ADDR=localhost:6379
//	export STREAMPULSE_WEBHOOK__SECRET=$(openssl rand -hex 32)
//	./streampulse
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests within the configured timeout, the pipeline stops
// accepting tasks, and open subscriber connections are closed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/streampulse/streampulse/internal/api"
	"github.com/streampulse/streampulse/internal/cache"
	"github.com/streampulse/streampulse/internal/config"
	"github.com/streampulse/streampulse/internal/database"
	"github.com/streampulse/streampulse/internal/fanout"
	"github.com/streampulse/streampulse/internal/logging"
	"github.com/streampulse/streampulse/internal/pipeline"
	"github.com/streampulse/streampulse/internal/ratelimit"
	"github.com/streampulse/streampulse/internal/supervisor"
	"github.com/streampulse/streampulse/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("Starting StreamPulse")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			logging.Fatal().Err(err).Msg("Failed to run database migrations")
		}
	}
	streams := database.NewStreamStore(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing Redis client")
		}
	}()

	recorder := cache.NewRecorder()
	store := cache.NewStore(redisClient, recorder, cache.StoreConfig{
		KeyPrefix: cfg.Cache.KeyPrefix,
	})
	ttl := cache.NewTTLPolicy(cfg.Cache.TTLOverrides)
	invalidator := cache.NewInvalidator(store)
	warmer := cache.NewWarmer(store, ttl, streams)

	// Cache and rate limiting degrade gracefully without Redis, so a failed
	// ping is a warning rather than a startup failure.
	if err := store.Ping(ctx); err != nil {
		logging.Warn().Err(err).Msg("Redis unreachable at startup, continuing degraded")
	}

	if cfg.Cache.WarmOnStart {
		warmCaches(ctx, streams, warmer)
	}

	registry := fanout.NewRegistry(cfg.Fanout)
	pl := pipeline.New(cfg.Pipeline, streams, invalidator, registry)
	limiter := ratelimit.New(cfg.RateLimit, redisClient)

	handler := api.NewHandler(cfg, db, streams, store, recorder, ttl, invalidator, warmer, pl, registry)
	router := api.NewRouter(handler, limiter)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: subscriber connections are long-lived streams.
		IdleTimeout: 60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddEventService(pl)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("StreamPulse stopped")
}

// warmCaches primes cache entries for currently live streams so the first
// requests after a deploy do not all miss at once.
func warmCaches(ctx context.Context, streams *database.StreamStore, warmer *cache.Warmer) {
	live, err := streams.ListLive(ctx, "")
	if err != nil {
		logging.Warn().Err(err).Msg("Skipping cache warm, could not list live streams")
		return
	}
	ids := make([]string, 0, len(live))
	for _, s := range live {
		ids = append(ids, s.ID)
	}
	warmed := warmer.Warm(ctx, ids)
	logging.Info().Int("warmed", warmed).Int("live", len(live)).Msg("Cache warm complete")
}
