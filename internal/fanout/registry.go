// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package fanout

import (
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/streampulse/streampulse/internal/config"
	"github.com/streampulse/streampulse/internal/logging"
	"github.com/streampulse/streampulse/internal/metrics"
	"github.com/streampulse/streampulse/internal/models"
)

// ErrTooManyConnections is returned by Add when the configured connection
// cap is reached.
var ErrTooManyConnections = errors.New("too many subscriber connections")

// listAllKey indexes stream-list subscribers without a category filter.
const listAllKey = ""

// helloFrame is the first frame a subscriber receives, confirming the
// subscription before any events arrive.
type helloFrame struct {
	ConnectionID uint64 `json:"connection_id"`
	Target       string `json:"target"`
	Connections  int    `json:"connections"`
}

// Registry tracks subscriber connections and routes published events to the
// ones whose target matches.
type Registry struct {
	cfg config.FanoutConfig

	mu       sync.RWMutex
	byStream map[string]map[*Connection]struct{}
	byList   map[string]map[*Connection]struct{}
	firehose map[*Connection]struct{}
	total    int
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.FanoutConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		byStream: make(map[string]map[*Connection]struct{}),
		byList:   make(map[string]map[*Connection]struct{}),
		firehose: make(map[*Connection]struct{}),
	}
}

// Add registers a connection and queues its hello frame.
func (r *Registry) Add(conn *Connection) error {
	r.mu.Lock()
	if r.cfg.MaxConnections > 0 && r.total >= r.cfg.MaxConnections {
		r.mu.Unlock()
		return ErrTooManyConnections
	}

	target := conn.Target()
	switch target.Kind {
	case TargetStream:
		addToIndex(r.byStream, target.StreamID, conn)
	case TargetStreamList:
		addToIndex(r.byList, target.Category, conn)
	default:
		r.firehose[conn] = struct{}{}
	}
	r.total++
	total := r.total
	r.mu.Unlock()

	metrics.FanoutConnections.WithLabelValues(string(target.Kind)).Inc()
	logging.Debug().
		Uint64("connection_id", conn.ID()).
		Str("target", target.String()).
		Msg("subscriber connected")

	frame, err := encodeFrame(models.FrameConnected, "", "", helloFrame{
		ConnectionID: conn.ID(),
		Target:       target.String(),
		Connections:  total,
	})
	if err != nil {
		return err
	}
	conn.offer(frame)
	return nil
}

// Remove unregisters a connection and marks it done. Idempotent: removing a
// connection twice, or one that was never added, is a no-op.
func (r *Registry) Remove(conn *Connection) {
	target := conn.Target()

	r.mu.Lock()
	var present bool
	switch target.Kind {
	case TargetStream:
		present = dropFromIndex(r.byStream, target.StreamID, conn)
	case TargetStreamList:
		present = dropFromIndex(r.byList, target.Category, conn)
	default:
		if _, present = r.firehose[conn]; present {
			delete(r.firehose, conn)
		}
	}
	if present {
		r.total--
	}
	r.mu.Unlock()

	if present {
		metrics.FanoutConnections.WithLabelValues(string(target.Kind)).Dec()
		logging.Debug().
			Uint64("connection_id", conn.ID()).
			Str("target", target.String()).
			Msg("subscriber disconnected")
	}
	conn.close()
}

// Publish routes an event to every matching subscriber and returns the
// number of connections the frame was queued on. Subscribers whose buffers
// are full are dropped; delivery to the rest proceeds regardless.
func (r *Registry) Publish(event models.StreamEvent) int {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error().Err(err).Str("type", event.Type).Msg("failed to encode event frame")
		return 0
	}

	r.mu.RLock()
	recipients := make([]*Connection, 0, 8)
	for conn := range r.byStream[event.StreamID] {
		recipients = append(recipients, conn)
	}
	for conn := range r.byList[listAllKey] {
		recipients = append(recipients, conn)
	}
	if event.Category != "" {
		for conn := range r.byList[event.Category] {
			recipients = append(recipients, conn)
		}
	}
	for conn := range r.firehose {
		recipients = append(recipients, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range recipients {
		if conn.offer(data) {
			delivered++
			continue
		}
		// Slow subscriber: cut it loose rather than stall publishing.
		metrics.FanoutDroppedTotal.Inc()
		logging.Warn().
			Uint64("connection_id", conn.ID()).
			Str("target", conn.Target().String()).
			Msg("dropping slow subscriber")
		r.Remove(conn)
	}

	if delivered > 0 {
		metrics.FanoutFramesTotal.WithLabelValues(event.Type).Add(float64(delivered))
	}
	return delivered
}

// Serve drains the connection's outbound queue into its sink, interleaving
// keep-alive frames when idle. Blocks until the connection is removed or the
// transport fails. The caller owns the sink and should close it afterwards.
func (r *Registry) Serve(conn *Connection) {
	ticker := time.NewTicker(r.cfg.KeepAliveInterval)
	defer ticker.Stop()
	defer r.Remove(conn)

	for {
		select {
		case <-conn.Done():
			return

		case data := <-conn.send:
			if err := conn.sink.WriteFrame(data); err != nil {
				logging.Debug().Err(err).Uint64("connection_id", conn.ID()).Msg("subscriber write failed")
				return
			}

		case <-ticker.C:
			frame, err := encodeFrame(models.FrameKeepAlive, "", "", nil)
			if err != nil {
				return
			}
			if err := conn.sink.WriteFrame(frame); err != nil {
				logging.Debug().Err(err).Uint64("connection_id", conn.ID()).Msg("subscriber keep-alive failed")
				return
			}
			metrics.FanoutFramesTotal.WithLabelValues(models.FrameKeepAlive).Inc()
		}
	}
}

// Counts summarizes registered connections for health and stats endpoints.
type Counts struct {
	Total       int `json:"total"`
	Streams     int `json:"streams"`
	StreamLists int `json:"stream_lists"`
	Firehose    int `json:"firehose"`
}

// Counts returns current connection counts.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := Counts{Total: r.total, Firehose: len(r.firehose)}
	for _, conns := range r.byStream {
		c.Streams += len(conns)
	}
	for _, conns := range r.byList {
		c.StreamLists += len(conns)
	}
	return c
}

// StreamConnectionCount returns the number of subscribers to a specific
// stream. O(1) in the number of unrelated connections.
func (r *Registry) StreamConnectionCount(streamID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byStream[streamID])
}

// StreamListConnectionCount returns the number of stream-list subscribers
// with the given category filter; an empty category counts the unfiltered
// list subscribers.
func (r *Registry) StreamListConnectionCount(category string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byList[category])
}

// encodeFrame builds a StreamEvent frame with the current timestamp.
func encodeFrame(frameType, streamID, category string, data any) ([]byte, error) {
	return json.Marshal(models.StreamEvent{
		Type:      frameType,
		StreamID:  streamID,
		Category:  category,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func addToIndex(index map[string]map[*Connection]struct{}, key string, conn *Connection) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Connection]struct{})
		index[key] = set
	}
	set[conn] = struct{}{}
}

func dropFromIndex(index map[string]map[*Connection]struct{}, key string, conn *Connection) bool {
	set, ok := index[key]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(index, key)
	}
	return true
}
