// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/streampulse/streampulse/internal/fanout"
	"github.com/streampulse/streampulse/internal/logging"
)

// targetFromQuery maps subscription query parameters to a fan-out target:
//
//	?stream=<id>           events for one stream
//	?target=stream-list    stream list events, optionally ?category=<name>
//	(neither)              every event
func targetFromQuery(q url.Values) fanout.Target {
	switch {
	case q.Get("stream") != "":
		return fanout.Target{Kind: fanout.TargetStream, StreamID: q.Get("stream")}
	case q.Get("target") == "stream-list":
		return fanout.Target{Kind: fanout.TargetStreamList, Category: q.Get("category")}
	default:
		return fanout.Target{Kind: fanout.TargetAll}
	}
}

// SubscribeEvents opens an NDJSON event stream; the target is selected by
// query parameters, see targetFromQuery.
func (h *Handler) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	h.subscribe(w, r, targetFromQuery(r.URL.Query()))
}

// SubscribeStream opens an NDJSON event stream for a single stream.
func (h *Handler) SubscribeStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	if streamID == "" {
		respondError(w, r, http.StatusBadRequest, "MISSING_STREAM_ID", "stream id is required", nil)
		return
	}
	h.subscribe(w, r, fanout.Target{Kind: fanout.TargetStream, StreamID: streamID})
}

// SubscribeStreamList opens an NDJSON event stream for stream listing
// changes, optionally filtered to one category.
func (h *Handler) SubscribeStreamList(w http.ResponseWriter, r *http.Request) {
	h.subscribe(w, r, fanout.Target{
		Kind:     fanout.TargetStreamList,
		Category: r.URL.Query().Get("category"),
	})
}

// SubscribeFirehose opens an NDJSON event stream carrying every event.
func (h *Handler) SubscribeFirehose(w http.ResponseWriter, r *http.Request) {
	h.subscribe(w, r, fanout.Target{Kind: fanout.TargetAll})
}

// subscribe attaches an NDJSON connection to the registry and blocks until
// either side disconnects.
func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request, target fanout.Target) {
	sink, err := fanout.NewStreamSink(w)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "connection does not support streaming", err)
		return
	}

	conn := fanout.NewConnection(target, sink, h.cfg.Fanout.SendBuffer)
	if err := h.registry.Add(conn); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, "TOO_MANY_CONNECTIONS", "subscriber limit reached", err)
		return
	}

	// Client disconnect cancels the request context; unwind the connection
	// so Serve returns.
	go func() {
		<-r.Context().Done()
		h.registry.Remove(conn)
	}()

	h.registry.Serve(conn)
}

// WebSocket upgrades the request and attaches the connection to the
// registry. The target is selected with the same query parameters as
// SubscribeEvents.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	target := targetFromQuery(r.URL.Query())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sink := fanout.NewWebSocketSink(ws, h.cfg.Fanout.WriteTimeout)
	conn := fanout.NewConnection(target, sink, h.cfg.Fanout.SendBuffer)
	if err := h.registry.Add(conn); err != nil {
		_ = sink.Close()
		return
	}

	// Reader goroutine: discards inbound messages, surfaces client close.
	go func() {
		defer h.registry.Remove(conn)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.registry.Serve(conn)
	_ = sink.Close()
}

// checkOrigin applies the configured CORS origins to websocket upgrades.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
