// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package api

import (
	"net/http"

	"github.com/streampulse/streampulse/internal/models"
	"github.com/streampulse/streampulse/internal/pipeline"
)

// PipelineStats reports pipeline throughput counters and queue depth.
func (h *Handler) PipelineStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data:   h.pipeline.Stats(),
	})
}

// PipelineFailures reports recently failed tasks, newest first, for
// operators chasing lost events.
func (h *Handler) PipelineFailures(w http.ResponseWriter, r *http.Request) {
	failures := h.pipeline.RecentFailures()
	if failures == nil {
		failures = []pipeline.FailedTask{}
	}
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data: map[string]interface{}{
			"count":    len(failures),
			"failures": failures,
		},
	})
}
