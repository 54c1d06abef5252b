// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

// Package api provides the HTTP surface: webhook ingestion, event
// subscriptions, cached stream reads, and operational endpoints, routed
// with chi.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streampulse/streampulse/internal/middleware"
	"github.com/streampulse/streampulse/internal/ratelimit"
)

// NewRouter assembles the full route tree.
//
// Rate limiting is layered: a cheap in-process per-IP cap guards the whole
// tree against floods, then Redis-backed policy limiters enforce the real
// per-endpoint-class budgets shared across instances.
func NewRouter(h *Handler, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "X-StreamPulse-Signature"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	if h.cfg.RateLimit.GlobalLimit > 0 {
		r.Use(httprate.LimitByIP(h.cfg.RateLimit.GlobalLimit, time.Minute))
	}

	// Liveness endpoints stay cheap and unthrottled for orchestrators.
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		r.With(limiter.Middleware(ratelimit.PolicyWebhook)).
			Post("/webhooks/ingest", h.Webhook)

		// Subscriptions hold connections open; no compression.
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware(ratelimit.PolicySubscribe))
			r.Get("/events", h.SubscribeEvents)
			r.Get("/events/streams/{streamID}", h.SubscribeStream)
			r.Get("/events/streams", h.SubscribeStreamList)
			r.Get("/events/firehose", h.SubscribeFirehose)
			r.Get("/events/ws", h.WebSocket)
		})

		if h.cfg.IsDevelopment() {
			r.With(limiter.Middleware(ratelimit.PolicyPublish)).
				Post("/events/publish", h.Publish)
		}

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware(ratelimit.PolicyDefault))
			r.Use(middleware.Compression)
			r.Get("/streams", h.ListStreams)
			r.Get("/streams/{streamID}", h.GetStream)
			r.Get("/users/{userID}/streams", h.ListUserStreams)
			r.Get("/pipeline/stats", h.PipelineStats)
			r.Get("/pipeline/failures", h.PipelineFailures)
		})

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware(ratelimit.PolicyCacheAdmin))
			r.Use(middleware.Compression)
			r.Get("/cache/metrics", h.CacheMetrics)
			r.Post("/cache/actions", h.CacheAction)
		})
	})

	return r
}
