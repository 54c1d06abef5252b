// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package fanout

import "fmt"

// Sink writes framed events to a single subscriber over some transport.
// Implementations are only ever called from the connection's writer
// goroutine, so they need not be safe for concurrent use.
type Sink interface {
	// WriteFrame delivers one JSON-encoded frame. A returned error is
	// fatal for the connection.
	WriteFrame(data []byte) error

	// Close releases the underlying transport. Safe to call more than once.
	Close() error
}

// TargetKind identifies what a connection subscribed to.
type TargetKind string

const (
	// TargetStream subscribes to events for a single stream.
	TargetStream TargetKind = "stream"

	// TargetStreamList subscribes to events affecting stream listings,
	// optionally narrowed to one category.
	TargetStreamList TargetKind = "stream-list"

	// TargetAll subscribes to every event (firehose).
	TargetAll TargetKind = "all"
)

// Target describes a subscription.
type Target struct {
	Kind     TargetKind
	StreamID string // set when Kind == TargetStream
	Category string // optional when Kind == TargetStreamList
}

// String renders the target for logs and the hello frame.
func (t Target) String() string {
	switch t.Kind {
	case TargetStream:
		return fmt.Sprintf("stream:%s", t.StreamID)
	case TargetStreamList:
		if t.Category != "" {
			return fmt.Sprintf("stream-list:%s", t.Category)
		}
		return "stream-list:all"
	default:
		return string(TargetAll)
	}
}
