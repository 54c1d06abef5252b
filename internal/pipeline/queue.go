// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package pipeline

import (
	"sync"
	"time"

	"github.com/streampulse/streampulse/internal/metrics"
)

// readyCapacity bounds the dispatch channel. Debouncing keeps at most one
// pending task per key, so this only overflows with that many hot keys.
const readyCapacity = 4096

// debounceQueue holds tasks for a debounce window, coalescing events that
// share a key, and dispatches at most one task per key at a time.
//
// Lifecycle of a key:
//
//	Enqueue -> pending (timer running, later events merge in)
//	timer fires -> ready channel (or parked, if the key is executing)
//	worker calls Complete -> parked task (if any) dispatches immediately
//
// The debounce window is measured from the FIRST event of a task, not
// reset on merge, so a steady event flow cannot starve execution.
type debounceQueue struct {
	window time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingTask
	inflight map[string]struct{}
	parked   map[string]*Task
	stopped  bool

	ready chan *Task
}

type pendingTask struct {
	task  *Task
	timer *time.Timer
}

func newDebounceQueue(window time.Duration) *debounceQueue {
	return &debounceQueue{
		window:   window,
		pending:  make(map[string]*pendingTask),
		inflight: make(map[string]struct{}),
		parked:   make(map[string]*Task),
		ready:    make(chan *Task, readyCapacity),
	}
}

// Enqueue adds a task, merging it into any pending or parked task for the
// same key. Reports whether the task was merged rather than newly queued.
func (q *debounceQueue) Enqueue(task *Task) bool {
	key := task.Key()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}

	if p, ok := q.pending[key]; ok {
		p.task.merge(task)
		metrics.PipelineCollapsedTotal.Inc()
		return true
	}
	if parked, ok := q.parked[key]; ok {
		parked.merge(task)
		metrics.PipelineCollapsedTotal.Inc()
		return true
	}

	p := &pendingTask{task: task}
	p.timer = time.AfterFunc(q.window, func() { q.fire(key) })
	q.pending[key] = p
	q.updateDepth()
	return false
}

// Ready returns the dispatch channel workers consume from.
func (q *debounceQueue) Ready() <-chan *Task {
	return q.ready
}

// Complete releases a key after its task finished. A task parked behind the
// key dispatches immediately without a fresh debounce window - its window
// already elapsed.
func (q *debounceQueue) Complete(key string) {
	q.mu.Lock()
	task, ok := q.parked[key]
	if ok {
		delete(q.parked, key)
	} else {
		delete(q.inflight, key)
	}
	q.updateDepth()
	q.mu.Unlock()

	if ok {
		q.ready <- task
	}
}

// Depth reports tasks waiting anywhere in the queue.
func (q *debounceQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.parked) + len(q.ready)
}

// Stop cancels all pending timers and drops undispatched tasks. Events
// arriving after Stop are ignored.
func (q *debounceQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	for key, p := range q.pending {
		p.timer.Stop()
		delete(q.pending, key)
	}
	for key := range q.parked {
		delete(q.parked, key)
	}
	q.updateDepth()
}

// fire moves a pending task to the ready channel, or parks it when its key
// is still executing.
func (q *debounceQueue) fire(key string) {
	q.mu.Lock()
	p, ok := q.pending[key]
	if !ok || q.stopped {
		q.mu.Unlock()
		return
	}
	delete(q.pending, key)

	if _, busy := q.inflight[key]; busy {
		q.parked[key] = p.task
		q.updateDepth()
		q.mu.Unlock()
		return
	}

	q.inflight[key] = struct{}{}
	q.updateDepth()
	q.mu.Unlock()

	q.ready <- p.task
}

// updateDepth publishes queue depth; callers hold q.mu.
func (q *debounceQueue) updateDepth() {
	metrics.PipelineQueueDepth.Set(float64(len(q.pending) + len(q.parked) + len(q.ready)))
}
