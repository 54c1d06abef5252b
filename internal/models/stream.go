// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

// Package models defines the shared domain types for StreamPulse.
package models

import "time"

// Stream identifies a single broadcaster's channel.
//
// ViewerCount is never negative, and IsLive=false implies ViewerCount=0;
// both are enforced by the mutation path in the pipeline and database layer.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	IsLive      bool      `json:"is_live"`
	ViewerCount int       `json:"viewer_count"`
	IngestID    string    `json:"ingest_id,omitempty"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
