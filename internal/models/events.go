// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package models

import "time"

// Push frame types delivered to subscribed connections.
const (
	FrameConnected     = "connection.established"
	FrameKeepAlive     = "keepalive"
	FrameStreamLive    = "stream.live"
	FrameStreamOffline = "stream.offline"
	FrameViewerCount   = "viewer.count"
)

// StreamEvent is a single typed frame fanned out to push connections.
// StreamID and Category scope delivery: specific-stream subscribers of
// StreamID, stream-list subscribers whose category filter matches Category
// (or is unset), and "all" subscribers receive the event.
type StreamEvent struct {
	Type      string      `json:"type"`
	StreamID  string      `json:"stream_id,omitempty"`
	Category  string      `json:"category,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ViewerCountData is the payload of a viewer.count frame.
type ViewerCountData struct {
	ViewerCount int `json:"viewer_count"`
}

// StreamStatusData is the payload of a stream.live / stream.offline frame.
type StreamStatusData struct {
	IsLive      bool   `json:"is_live"`
	ViewerCount int    `json:"viewer_count"`
	Name        string `json:"name,omitempty"`
}
