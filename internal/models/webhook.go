// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package models

import "time"

// Inbound webhook event kinds emitted by the external ingest platform.
const (
	WebhookStreamStarted     = "stream.started"
	WebhookStreamEnded       = "stream.ended"
	WebhookParticipantJoined = "participant.joined"
	WebhookParticipantLeft   = "participant.left"
)

// WebhookPayload is the body of an inbound webhook notification.
//
// Stream lifecycle events (stream.started, stream.ended) are correlated by
// IngestID; participant events carry the StreamID directly. Delivery is
// at-least-once and possibly out of order, so the payload is only a trigger:
// the pipeline re-reads persisted state before every transition.
type WebhookPayload struct {
	Kind       string    `json:"kind"`
	IngestID   string    `json:"ingest_id,omitempty"`
	StreamID   string    `json:"stream_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// KnownWebhookKind reports whether kind is one of the recognized event kinds.
func KnownWebhookKind(kind string) bool {
	switch kind {
	case WebhookStreamStarted, WebhookStreamEnded, WebhookParticipantJoined, WebhookParticipantLeft:
		return true
	}
	return false
}
