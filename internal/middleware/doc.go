// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

// Package middleware provides HTTP middleware shared across the API surface:
// request ID propagation for tracing, Prometheus request instrumentation,
// and gzip compression for JSON responses.
//
// All middleware use the standard func(http.Handler) http.Handler shape and
// compose with chi's Use/With. Compression is deliberately not applied to
// event subscription endpoints; buffering a long-lived NDJSON stream inside
// a gzip writer would delay frames indefinitely.
package middleware
