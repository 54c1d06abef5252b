// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package pipeline

import (
	"sync"
	"time"
)

// FailedTask describes a task that exhausted its retry budget.
type FailedTask struct {
	Key        string    `json:"key"`
	Kind       TaskKind  `json:"kind"`
	StreamID   string    `json:"stream_id,omitempty"`
	IngestID   string    `json:"ingest_id,omitempty"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	OccurredAt time.Time `json:"occurred_at"`
	FailedAt   time.Time `json:"failed_at"`
}

// failureLog retains the most recent permanently failed tasks in a fixed
// size ring for the diagnostics endpoint.
type failureLog struct {
	mu      sync.Mutex
	entries []FailedTask
	next    int
	full    bool
}

func newFailureLog(size int) *failureLog {
	if size < 1 {
		size = 1
	}
	return &failureLog{entries: make([]FailedTask, size)}
}

func (l *failureLog) add(f FailedTask) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = f
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// recent returns retained failures, newest first.
func (l *failureLog) recent() []FailedTask {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.next
	if l.full {
		count = len(l.entries)
	}
	out := make([]FailedTask, 0, count)
	for i := 0; i < count; i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

// Stats summarizes pipeline activity since startup.
type Stats struct {
	Enqueued   uint64 `json:"enqueued"`
	Collapsed  uint64 `json:"collapsed"`
	Executed   uint64 `json:"executed"`
	Skipped    uint64 `json:"skipped"`
	Retried    uint64 `json:"retried"`
	Failed     uint64 `json:"failed"`
	QueueDepth int    `json:"queue_depth"`
}
