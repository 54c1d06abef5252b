// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package cache

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/streampulse/streampulse/internal/logging"
	"github.com/streampulse/streampulse/internal/models"
)

// StreamLoader loads streams from the source of truth for warming.
type StreamLoader interface {
	GetByID(ctx context.Context, streamID string) (*models.Stream, error)
}

// Warmer primes detail and viewer-count entries for a configured set of
// streams. Used by the cache administration "warm" action after an
// operational purge; warming is read-through, so repeating it is harmless.
type Warmer struct {
	store  *Store
	policy *TTLPolicy
	loader StreamLoader
}

// NewWarmer creates a Warmer.
func NewWarmer(store *Store, policy *TTLPolicy, loader StreamLoader) *Warmer {
	return &Warmer{store: store, policy: policy, loader: loader}
}

// Warm primes cache entries for the given stream ids and returns the number
// of streams warmed. Streams that cannot be loaded are skipped, not fatal.
func (w *Warmer) Warm(ctx context.Context, streamIDs []string) int {
	warmed := 0
	for _, id := range streamIDs {
		stream, err := w.loader.GetByID(ctx, id)
		if err != nil {
			logging.Warn().Err(err).Str("stream_id", id).Msg("cache warm skipped stream")
			continue
		}

		detail, err := json.Marshal(stream)
		if err != nil {
			logging.Warn().Err(err).Str("stream_id", id).Msg("cache warm marshal failed")
			continue
		}
		w.store.Set(ctx, StreamKey(id), detail, w.policy.TTLFor(ClassStream))

		count, err := json.Marshal(models.ViewerCountData{ViewerCount: stream.ViewerCount})
		if err == nil {
			w.store.Set(ctx, ViewerCountKey(id), count, w.policy.TTLFor(ClassViewerCount))
		}
		warmed++
	}
	return warmed
}
