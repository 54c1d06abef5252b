// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package fanout

import (
	"sync"
	"sync/atomic"
)

// connIDCounter assigns unique IDs to connections for logging.
var connIDCounter atomic.Uint64

// Connection is one subscriber attached to the registry. Frames queued on
// send are drained by a single writer goroutine, preserving publish order
// for this subscriber.
type Connection struct {
	id     uint64
	target Target
	sink   Sink

	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewConnection wraps a sink as a subscriber for target. sendBuffer is the
// outbound frame buffer; when it overflows the connection is dropped.
func NewConnection(target Target, sink Sink, sendBuffer int) *Connection {
	return &Connection{
		id:     connIDCounter.Add(1),
		target: target,
		sink:   sink,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() uint64 {
	return c.id
}

// Target returns what the connection subscribed to.
func (c *Connection) Target() Target {
	return c.target
}

// Done is closed when the connection is shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// close marks the connection finished. Idempotent; the registry calls this
// from Remove and transport read loops may call it on client disconnect.
func (c *Connection) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// offer enqueues a frame without blocking. Reports false when the buffer is
// full, which the registry treats as a dead subscriber.
func (c *Connection) offer(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
