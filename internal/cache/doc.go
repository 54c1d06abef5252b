// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

// Package cache implements the multi-tier cache consistency layer:
//
//   - Store: a thin adapter over Redis with get/set/delete/pattern-delete and
//     TTL support. A circuit breaker guards the backend; when Redis is
//     unavailable every operation degrades to pass-through (miss on read,
//     no-op on write) so the system stays correct, just slower.
//   - TTLPolicy: per-key-class expiration windows with high/low-frequency and
//     age-dynamic transforms.
//   - Recorder: process-wide hit/miss/latency accounting with a bounded ring
//     of recent operations. Recording never fails the operation it describes.
//   - Invalidator: maps a state-change event to the minimal set of keys to
//     purge. Invalidation is idempotent; deleting an absent key is success.
//
// Keys are namespaced by domain class ("stream:<id>", "stream-list:<category>",
// "viewer-count:<id>", "user-streams:<uid>") so invalidation stays selective:
// a viewer-count change never evicts list or detail entries.
package cache
