// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package api

import (
	"net/http"
	"time"

	"github.com/streampulse/streampulse/internal/models"
)

// PublishRequest is the body of the manual publish endpoint.
type PublishRequest struct {
	Type     string      `json:"type" validate:"required,oneof=stream.live stream.offline viewer.count"`
	StreamID string      `json:"stream_id" validate:"required"`
	Category string      `json:"category" validate:"omitempty,max=64"`
	Data     interface{} `json:"data"`
}

// Publish injects an event directly into the fan-out registry, bypassing
// the pipeline. Development-only: the router does not mount this route in
// production, and the handler double-checks.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.IsDevelopment() {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "endpoint not available", nil)
		return
	}

	var req PublishRequest
	if !decodeBody(w, r, &req) {
		return
	}

	delivered := h.registry.Publish(models.StreamEvent{
		Type:      req.Type,
		StreamID:  req.StreamID,
		Category:  req.Category,
		Data:      req.Data,
		Timestamp: time.Now().UTC(),
	})

	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data:   map[string]int{"delivered": delivered},
	})
}
