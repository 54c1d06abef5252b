// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/streampulse/streampulse/internal/cache"
	"github.com/streampulse/streampulse/internal/database"
	"github.com/streampulse/streampulse/internal/models"
)

// ListStreams returns currently live streams, cache-aside with the
// stream-list TTL. ?category= narrows the listing.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	category := r.URL.Query().Get("category")
	key := cache.StreamListKey(category)

	if data, ok := h.cache.Get(r.Context(), key); ok {
		var streams []*models.Stream
		if err := json.Unmarshal(data, &streams); err == nil {
			h.respondStreams(w, r, streams, start)
			return
		}
	}

	streams, err := h.streams.ListLive(r.Context(), category)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DATABASE_ERROR", "failed to list streams", err)
		return
	}

	if data, err := json.Marshal(streams); err == nil {
		h.cache.Set(r.Context(), key, data, h.ttl.TTLForKey(key))
	}
	h.respondStreams(w, r, streams, start)
}

// GetStream returns one stream by ID, cache-aside with the stream TTL.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	streamID := chi.URLParam(r, "streamID")
	key := cache.StreamKey(streamID)

	if data, ok := h.cache.Get(r.Context(), key); ok {
		var stream models.Stream
		if err := json.Unmarshal(data, &stream); err == nil {
			respondJSON(w, r, http.StatusOK, &models.APIResponse{
				Status:   "ok",
				Data:     &stream,
				Metadata: models.Metadata{QueryTimeMS: time.Since(start).Milliseconds()},
			})
			return
		}
	}

	stream, err := h.streams.GetByID(r.Context(), streamID)
	if errors.Is(err, database.ErrStreamNotFound) {
		respondError(w, r, http.StatusNotFound, "STREAM_NOT_FOUND", "no stream with that id", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load stream", err)
		return
	}

	if data, err := json.Marshal(stream); err == nil {
		h.cache.Set(r.Context(), key, data, h.ttl.TTLForKey(key))
	}
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status:   "ok",
		Data:     stream,
		Metadata: models.Metadata{QueryTimeMS: time.Since(start).Milliseconds()},
	})
}

// ListUserStreams returns a user's streams, cache-aside with the
// user-streams TTL.
func (h *Handler) ListUserStreams(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := chi.URLParam(r, "userID")
	key := cache.UserStreamsKey(userID)

	if data, ok := h.cache.Get(r.Context(), key); ok {
		var streams []*models.Stream
		if err := json.Unmarshal(data, &streams); err == nil {
			h.respondStreams(w, r, streams, start)
			return
		}
	}

	streams, err := h.streams.ListByUser(r.Context(), userID)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "DATABASE_ERROR", "failed to list user streams", err)
		return
	}

	if data, err := json.Marshal(streams); err == nil {
		h.cache.Set(r.Context(), key, data, h.ttl.TTLForKey(key))
	}
	h.respondStreams(w, r, streams, start)
}

func (h *Handler) respondStreams(w http.ResponseWriter, r *http.Request, streams []*models.Stream, start time.Time) {
	if streams == nil {
		streams = []*models.Stream{}
	}
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status:   "ok",
		Data:     streams,
		Metadata: models.Metadata{QueryTimeMS: time.Since(start).Milliseconds()},
	})
}
