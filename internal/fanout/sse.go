// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package fanout

import (
	"errors"
	"net/http"
)

// StreamSink delivers frames as newline-delimited JSON over a chunked HTTP
// response. Each frame is one JSON object followed by '\n', flushed
// immediately so proxies and clients see events without buffering delay.
type StreamSink struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	committed bool
}

// NewStreamSink prepares w for long-lived NDJSON streaming. Returns an
// error when the ResponseWriter cannot flush, which would silently buffer
// the whole stream. The status line is not committed until the first frame,
// so the caller can still reject the subscription with an error response.
func NewStreamSink(w http.ResponseWriter) (*StreamSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	return &StreamSink{w: w, flusher: flusher}, nil
}

// WriteFrame writes one frame and flushes, committing the response headers
// on the first call.
func (s *StreamSink) WriteFrame(data []byte) error {
	if !s.committed {
		h := s.w.Header()
		h.Set("Content-Type", "application/x-ndjson")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.committed = true
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte{'\n'}); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close is a no-op; the HTTP server tears down the response when the
// handler returns.
func (s *StreamSink) Close() error {
	return nil
}
