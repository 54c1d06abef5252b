// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package api

import (
	"net/http"
	"time"

	"github.com/streampulse/streampulse/internal/logging"
	"github.com/streampulse/streampulse/internal/models"
)

// CacheMetrics reports cache hit/miss counters, recent operations, current
// TTL policy, and backend availability.
func (h *Handler) CacheMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := h.recorder.Snapshot()

	ttls := make(map[string]string)
	for class, ttl := range h.ttl.Snapshot() {
		ttls[class] = ttl.String()
	}

	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data: map[string]interface{}{
			"operations": snapshot,
			"ttl_policy": ttls,
			"available":  h.cache.Available(),
		},
	})
}

// CacheActionRequest selects one cache management action.
type CacheActionRequest struct {
	Action string `json:"action" validate:"required,oneof=reset-metrics warm update-ttl clear-pattern"`

	// update-ttl
	KeyClass string `json:"key_class,omitempty" validate:"omitempty,oneof=stream stream-list viewer-count user-streams category"`
	TTL      string `json:"ttl,omitempty"`

	// warm
	StreamIDs []string `json:"stream_ids,omitempty" validate:"omitempty,max=100"`

	// clear-pattern
	Pattern string `json:"pattern,omitempty" validate:"omitempty,max=128"`
}

// CacheAction executes a cache management action.
func (h *Handler) CacheAction(w http.ResponseWriter, r *http.Request) {
	var req CacheActionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	switch req.Action {
	case "reset-metrics":
		h.recorder.Reset()
		logging.Info().Msg("cache metrics reset")
		respondJSON(w, r, http.StatusOK, &models.APIResponse{
			Status: "ok",
			Data:   map[string]string{"result": "metrics reset"},
		})

	case "warm":
		if len(req.StreamIDs) == 0 {
			respondError(w, r, http.StatusBadRequest, "MISSING_STREAM_IDS", "warm requires stream_ids", nil)
			return
		}
		warmed := h.warmer.Warm(r.Context(), req.StreamIDs)
		respondJSON(w, r, http.StatusOK, &models.APIResponse{
			Status: "ok",
			Data:   map[string]int{"warmed": warmed},
		})

	case "update-ttl":
		if req.KeyClass == "" || req.TTL == "" {
			respondError(w, r, http.StatusBadRequest, "MISSING_TTL_FIELDS", "update-ttl requires key_class and ttl", nil)
			return
		}
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl < time.Second {
			respondError(w, r, http.StatusBadRequest, "INVALID_TTL", "ttl must be a duration of at least 1s", err)
			return
		}
		h.ttl.SetTTL(req.KeyClass, ttl)
		logging.Info().Str("key_class", req.KeyClass).Dur("ttl", ttl).Msg("cache ttl updated")
		respondJSON(w, r, http.StatusOK, &models.APIResponse{
			Status: "ok",
			Data:   map[string]string{"key_class": req.KeyClass, "ttl": ttl.String()},
		})

	case "clear-pattern":
		if req.Pattern == "" {
			respondError(w, r, http.StatusBadRequest, "MISSING_PATTERN", "clear-pattern requires pattern", nil)
			return
		}
		cleared, err := h.inval.ClearPattern(r.Context(), req.Pattern)
		if err != nil {
			respondError(w, r, http.StatusBadGateway, "CACHE_UNAVAILABLE", "failed to clear cache entries", err)
			return
		}
		logging.Info().Str("pattern", sanitizeLogValue(req.Pattern)).Int("cleared", cleared).Msg("cache entries cleared")
		respondJSON(w, r, http.StatusOK, &models.APIResponse{
			Status: "ok",
			Data:   map[string]int{"cleared": cleared},
		})
	}
}
