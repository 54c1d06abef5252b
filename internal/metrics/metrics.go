// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

// Package metrics provides Prometheus instrumentation for StreamPulse:
// webhook ingestion, pipeline execution, cache efficiency, fan-out delivery,
// rate limiting, and API latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook ingestion metrics
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of accepted inbound webhook events",
		},
		[]string{"kind"},
	)

	WebhookRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_rejected_total",
			Help: "Total number of rejected inbound webhook requests",
		},
		[]string{"reason"}, // "signature", "payload", "kind"
	)

	// Pipeline metrics
	PipelineTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_total",
			Help: "Total number of executed pipeline tasks by outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "applied", "skipped", "failed"
	)

	PipelineRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_retries_total",
			Help: "Total number of pipeline step retries",
		},
	)

	PipelineCollapsedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_debounce_collapsed_total",
			Help: "Total number of events collapsed by the per-key debounce window",
		},
	)

	PipelineInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_tasks_in_flight",
			Help: "Current number of pipeline tasks being executed",
		},
	)

	PipelineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current number of tasks waiting across all correlation keys",
		},
	)

	// Cache metrics
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total number of cache operations by result",
		},
		[]string{"operation", "result"}, // result: "hit", "miss", "ok", "error"
	)

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Cache operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"operation"},
	)

	CacheBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_breaker_open",
			Help: "1 when the cache circuit breaker is open, 0 otherwise",
		},
	)

	// Fan-out metrics
	FanoutConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fanout_connections",
			Help: "Current number of registered push connections by target type",
		},
		[]string{"target"},
	)

	FanoutFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_frames_total",
			Help: "Total number of frames delivered to push connections",
		},
		[]string{"type"},
	)

	FanoutDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_dropped_total",
			Help: "Total number of connections dropped for slow or broken transports",
		},
	)

	// Rate limiter metrics
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"policy"},
	)

	RateLimitFailOpenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_fail_open_total",
			Help: "Total number of checks allowed because the limiter backend was unavailable",
		},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)

// RecordAPIRequest records count and latency for a completed API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the active request gauge.
func TrackActiveRequest(active bool) {
	if active {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordCacheOperation records a cache operation result and its latency.
func RecordCacheOperation(operation, result string, duration time.Duration) {
	CacheOperationsTotal.WithLabelValues(operation, result).Inc()
	CacheOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
