// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

// Package fanout delivers stream events to subscriber connections.
//
// The Registry indexes connections by subscription target (a single stream,
// a stream list with optional category, or the firehose) so publishing an
// event touches only the connections that asked for it. Each connection owns
// a buffered outbound channel and a single writer goroutine, which gives
// per-connection FIFO ordering without global locks on the write path.
//
// Delivery is best-effort: a subscriber that cannot drain its buffer is
// disconnected rather than allowed to stall the publisher. Clients are
// expected to re-fetch current state on reconnect.
//
// The registry is process-local. Running multiple instances requires either
// sticky routing of a stream's subscribers to one instance or an external
// pub/sub relay in front of Publish.
package fanout
