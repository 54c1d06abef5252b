// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package cache

import (
	"context"

	"github.com/streampulse/streampulse/internal/logging"
)

// Purger is the subset of Store used by the Invalidator.
type Purger interface {
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Invalidator maps a state-change event to the minimal set of cache keys to
// purge. Every method is idempotent and treats an already-absent key as
// success, so a retried invalidation is always safe.
type Invalidator struct {
	store Purger
}

// NewInvalidator creates an Invalidator over the given store.
func NewInvalidator(store Purger) *Invalidator {
	return &Invalidator{store: store}
}

// InvalidateViewerCount purges only the viewer-count key for a stream.
// List and detail caches do not embed the viewer count, so they are left
// untouched; purging them would trigger needless recomputation on every
// join/leave.
func (i *Invalidator) InvalidateViewerCount(ctx context.Context, streamID string) error {
	return i.store.Delete(ctx, ViewerCountKey(streamID))
}

// InvalidateStreamStatus purges everything keyed off live status: the stream
// detail, its viewer count, the owning user's stream snapshot, and the list
// caches whose membership and ordering change with a live/offline flip.
func (i *Invalidator) InvalidateStreamStatus(ctx context.Context, streamID, userID, category string, nowLive bool) error {
	keys := []string{
		StreamKey(streamID),
		ViewerCountKey(streamID),
		StreamListKey(""),
	}
	if userID != "" {
		keys = append(keys, UserStreamsKey(userID))
	}
	if category != "" {
		keys = append(keys, StreamListKey(category))
	}

	if err := i.store.Delete(ctx, keys...); err != nil {
		return err
	}

	logging.Debug().
		Str("component", "cache").
		Str("stream_id", streamID).
		Bool("now_live", nowLive).
		Int("keys", len(keys)).
		Msg("stream status caches invalidated")
	return nil
}

// ClearPattern is the administrative wildcard purge for operational recovery.
// It walks the keyspace and must never be called from a hot path.
func (i *Invalidator) ClearPattern(ctx context.Context, pattern string) (int, error) {
	return i.store.DeletePattern(ctx, pattern)
}
