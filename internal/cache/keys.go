// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package cache

import "strings"

// Key classes. The class is the namespace prefix before the first colon and
// selects the TTL window for the entry.
const (
	ClassStream      = "stream"
	ClassStreamList  = "stream-list"
	ClassViewerCount = "viewer-count"
	ClassUserStreams = "user-streams"
	ClassCategory    = "category"
)

// StreamKey returns the detail key for a single stream.
func StreamKey(streamID string) string {
	return ClassStream + ":" + streamID
}

// StreamListKey returns the list key for a category. An empty category is the
// unfiltered "all streams" list.
func StreamListKey(category string) string {
	if category == "" {
		return ClassStreamList + ":all"
	}
	return ClassStreamList + ":" + category
}

// ViewerCountKey returns the viewer-count key for a stream.
func ViewerCountKey(streamID string) string {
	return ClassViewerCount + ":" + streamID
}

// UserStreamsKey returns the key holding a user's stream snapshot.
func UserStreamsKey(userID string) string {
	return ClassUserStreams + ":" + userID
}

// ClassOf extracts the key class from a namespaced key. Keys without a
// namespace separator are their own class.
func ClassOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
