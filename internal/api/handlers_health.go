// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/streampulse/streampulse/internal/models"
)

// HealthLive reports process liveness. Always 200 while the server can
// answer requests at all.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data: map[string]interface{}{
			"uptime": time.Since(h.started).Round(time.Second).String(),
		},
	})
}

// HealthReady reports readiness to serve traffic. The database is required;
// the cache is reported but not required, because every cached read falls
// back to the database.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbHealthy := true
	if err := h.db.PingContext(ctx); err != nil {
		dbHealthy = false
	}
	cacheHealthy := h.cache.Ping(ctx) == nil

	status := http.StatusOK
	overall := "ok"
	if !dbHealthy {
		status = http.StatusServiceUnavailable
		overall = "error"
	}

	respondJSON(w, r, status, &models.APIResponse{
		Status: overall,
		Data: map[string]interface{}{
			"database":    componentStatus(dbHealthy),
			"cache":       componentStatus(cacheHealthy),
			"connections": h.registry.Counts(),
			"queue_depth": h.pipeline.Stats().QueueDepth,
		},
	})
}

func componentStatus(healthy bool) string {
	if healthy {
		return "up"
	}
	return "down"
}
