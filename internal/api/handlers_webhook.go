// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/streampulse/streampulse/internal/logging"
	"github.com/streampulse/streampulse/internal/metrics"
	"github.com/streampulse/streampulse/internal/models"
)

// signatureHeader carries the hex HMAC-SHA256 of the webhook body.
const signatureHeader = "X-StreamPulse-Signature"

// Webhook receives event notifications from the media ingest platform.
// The handler validates, enqueues, and returns; all processing is
// asynchronous so the ingest platform sees a fast acknowledgement even when
// the database or cache is struggling.
//
// Delivery is at-least-once: duplicates and reordering are handled by the
// pipeline, so any accepted payload gets a 200 regardless of what its task
// later does.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.Webhook.MaxBodySize+1))
	r.Body.Close()
	if err != nil {
		metrics.WebhookRejectedTotal.WithLabelValues("read_error").Inc()
		respondError(w, r, http.StatusBadRequest, "INVALID_BODY", "failed to read request body", err)
		return
	}
	if int64(len(body)) > h.cfg.Webhook.MaxBodySize {
		metrics.WebhookRejectedTotal.WithLabelValues("too_large").Inc()
		respondError(w, r, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds limit", nil)
		return
	}

	if h.cfg.Webhook.Secret != "" {
		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			metrics.WebhookRejectedTotal.WithLabelValues("missing_signature").Inc()
			respondError(w, r, http.StatusUnauthorized, "MISSING_SIGNATURE", signatureHeader+" header required", nil)
			return
		}
		if !verifySignature(body, signature, h.cfg.Webhook.Secret) {
			metrics.WebhookRejectedTotal.WithLabelValues("bad_signature").Inc()
			respondError(w, r, http.StatusUnauthorized, "INVALID_SIGNATURE", "webhook signature mismatch", nil)
			return
		}
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhookRejectedTotal.WithLabelValues("invalid_json").Inc()
		respondError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", err)
		return
	}

	if !models.KnownWebhookKind(payload.Kind) {
		// Unknown kinds are acknowledged, not errored: the ingest platform
		// adds event types over time and must not see failures for them.
		metrics.WebhookRejectedTotal.WithLabelValues("unknown_kind").Inc()
		logging.Debug().Str("kind", sanitizeLogValue(payload.Kind)).Msg("ignoring unknown webhook kind")
		respondJSON(w, r, http.StatusOK, &models.APIResponse{
			Status: "ok",
			Data:   map[string]string{"result": "ignored"},
		})
		return
	}

	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	} else if skew := time.Since(payload.OccurredAt); skew > h.cfg.Webhook.MaxSkew || skew < -h.cfg.Webhook.MaxSkew {
		metrics.WebhookRejectedTotal.WithLabelValues("stale_timestamp").Inc()
		respondError(w, r, http.StatusBadRequest, "STALE_TIMESTAMP", "occurred_at is outside the accepted window", nil)
		return
	}

	if payload.IngestID == "" && payload.StreamID == "" {
		metrics.WebhookRejectedTotal.WithLabelValues("missing_id").Inc()
		respondError(w, r, http.StatusBadRequest, "MISSING_IDENTIFIER", "ingest_id or stream_id is required", nil)
		return
	}

	if err := h.pipeline.Enqueue(payload); err != nil {
		metrics.WebhookRejectedTotal.WithLabelValues("enqueue_failed").Inc()
		respondError(w, r, http.StatusBadRequest, "ENQUEUE_FAILED", "event could not be queued", err)
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues(payload.Kind).Inc()
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status: "ok",
		Data:   map[string]string{"result": "queued"},
	})
}

// verifySignature checks the hex HMAC-SHA256 of body against signature in
// constant time.
func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
