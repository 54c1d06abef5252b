// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

// Package pipeline turns validated webhook events into database updates,
// cache invalidations, and fan-out publications.
//
// Events are keyed by (kind, stream) and debounced: a task waits a short
// window after its first event so bursts collapse into one execution.
// Viewer-delta tasks coalesce by summing deltas; status tasks keep only the
// most recent transition. Tasks for the same key execute one at a time, so
// a retrying task never races a newer one for the same stream.
//
// Execution runs three ordered steps per task: mutate the database,
// invalidate derived cache entries, publish the event to subscribers. Steps
// track completion individually, so a retry after a cache failure does not
// re-apply the database mutation.
package pipeline
