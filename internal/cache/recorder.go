// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package cache

import (
	"sync"
	"time"
)

// historySize bounds the ring buffer of recent operations.
const historySize = 1000

// Cache operation names recorded by the Recorder.
const (
	OpGet           = "get"
	OpSet           = "set"
	OpDelete        = "delete"
	OpDeletePattern = "delete-pattern"
)

// Operation is a single recorded cache operation.
type Operation struct {
	Operation string        `json:"operation"`
	Key       string        `json:"key"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Hit       bool          `json:"hit,omitempty"`
	At        time.Time     `json:"at"`
}

// Snapshot is a point-in-time view of the accumulated counters.
type Snapshot struct {
	Hits             int64         `json:"hits"`
	Misses           int64         `json:"misses"`
	Sets             int64         `json:"sets"`
	Deletes          int64         `json:"deletes"`
	Errors           int64         `json:"errors"`
	HitRate          float64       `json:"hit_rate"`
	AvgLatency       time.Duration `json:"avg_latency"`
	RecentOperations []Operation   `json:"recent_operations"`
}

// Recorder accumulates process-wide cache counters and a bounded history of
// recent operations. It is purely in-memory and never returns an error, so a
// recording can never affect the cache operation it describes. Reset only by
// explicit operator action.
type Recorder struct {
	mu      sync.Mutex
	hits    int64
	misses  int64
	sets    int64
	deletes int64
	errors  int64

	totalLatency time.Duration
	opCount      int64

	history []Operation
	next    int
	full    bool
}

// NewRecorder creates an empty metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{history: make([]Operation, historySize)}
}

// Record accounts for one cache operation.
func (r *Recorder) Record(op Operation) {
	if op.At.IsZero() {
		op.At = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case !op.Success:
		r.errors++
	case op.Operation == OpGet && op.Hit:
		r.hits++
	case op.Operation == OpGet:
		r.misses++
	case op.Operation == OpSet:
		r.sets++
	case op.Operation == OpDelete, op.Operation == OpDeletePattern:
		r.deletes++
	}

	r.totalLatency += op.Duration
	r.opCount++

	r.history[r.next] = op
	r.next++
	if r.next == len(r.history) {
		r.next = 0
		r.full = true
	}
}

// Snapshot returns the current counters and the recent-operation history,
// oldest first.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Hits:    r.hits,
		Misses:  r.misses,
		Sets:    r.sets,
		Deletes: r.deletes,
		Errors:  r.errors,
	}
	if total := r.hits + r.misses; total > 0 {
		s.HitRate = float64(r.hits) / float64(total)
	}
	if r.opCount > 0 {
		s.AvgLatency = r.totalLatency / time.Duration(r.opCount)
	}

	if r.full {
		s.RecentOperations = make([]Operation, 0, len(r.history))
		s.RecentOperations = append(s.RecentOperations, r.history[r.next:]...)
		s.RecentOperations = append(s.RecentOperations, r.history[:r.next]...)
	} else {
		s.RecentOperations = append([]Operation(nil), r.history[:r.next]...)
	}
	return s
}

// Reset clears all counters and the operation history.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits, r.misses, r.sets, r.deletes, r.errors = 0, 0, 0, 0, 0
	r.totalLatency = 0
	r.opCount = 0
	r.history = make([]Operation, historySize)
	r.next = 0
	r.full = false
}
