// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package pipeline

import (
	"io"
	"testing"
	"time"

	"github.com/streampulse/streampulse/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func receiveTask(t *testing.T, q *debounceQueue) *Task {
	t.Helper()
	select {
	case task := <-q.Ready():
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task")
		return nil
	}
}

func TestQueueCoalescesViewerDeltas(t *testing.T) {
	q := newDebounceQueue(30 * time.Millisecond)
	defer q.Stop()

	for i := 0; i < 5; i++ {
		q.Enqueue(&Task{Kind: KindViewerDelta, StreamID: "s1", Delta: 1})
	}
	q.Enqueue(&Task{Kind: KindViewerDelta, StreamID: "s1", Delta: -1})

	task := receiveTask(t, q)
	if task.Delta != 4 {
		t.Errorf("expected coalesced delta 4, got %d", task.Delta)
	}
	if task.Collapsed != 5 {
		t.Errorf("expected 5 collapsed events, got %d", task.Collapsed)
	}
}

func TestQueueStatusLastWriterWins(t *testing.T) {
	q := newDebounceQueue(30 * time.Millisecond)
	defer q.Stop()

	base := time.Now()
	q.Enqueue(&Task{Kind: KindStatusChange, IngestID: "ing-1", Live: true, OccurredAt: base})
	q.Enqueue(&Task{Kind: KindStatusChange, IngestID: "ing-1", Live: false, OccurredAt: base.Add(time.Second)})

	task := receiveTask(t, q)
	if task.Live {
		t.Error("expected last status (offline) to win")
	}
	if !task.OccurredAt.Equal(base.Add(time.Second)) {
		t.Errorf("expected newest occurrence time, got %s", task.OccurredAt)
	}
}

func TestQueueKindsStayIndependent(t *testing.T) {
	q := newDebounceQueue(30 * time.Millisecond)
	defer q.Stop()

	q.Enqueue(&Task{Kind: KindViewerDelta, StreamID: "s1", Delta: 1})
	q.Enqueue(&Task{Kind: KindStatusChange, StreamID: "s1", Live: true})

	first := receiveTask(t, q)
	q.Complete(first.Key())
	second := receiveTask(t, q)
	q.Complete(second.Key())

	if first.Kind == second.Kind {
		t.Errorf("expected two distinct task kinds, got %s twice", first.Kind)
	}
}

func TestQueueParksWhileKeyExecuting(t *testing.T) {
	q := newDebounceQueue(10 * time.Millisecond)
	defer q.Stop()

	q.Enqueue(&Task{Kind: KindViewerDelta, StreamID: "s1", Delta: 1})
	task := receiveTask(t, q) // key now in flight

	// New events during execution debounce and then park.
	q.Enqueue(&Task{Kind: KindViewerDelta, StreamID: "s1", Delta: 1})
	q.Enqueue(&Task{Kind: KindViewerDelta, StreamID: "s1", Delta: 1})

	// The parked task must not dispatch while the first is running.
	time.Sleep(50 * time.Millisecond)
	select {
	case early := <-q.Ready():
		t.Fatalf("task dispatched while key in flight: %+v", early)
	default:
	}

	q.Complete(task.Key())
	parked := receiveTask(t, q)
	if parked.Delta != 2 {
		t.Errorf("expected parked task with coalesced delta 2, got %d", parked.Delta)
	}
}

func TestQueueStopDropsPending(t *testing.T) {
	q := newDebounceQueue(time.Hour)
	q.Enqueue(&Task{Kind: KindViewerDelta, StreamID: "s1", Delta: 1})
	q.Stop()

	if depth := q.Depth(); depth != 0 {
		t.Errorf("expected empty queue after Stop, depth %d", depth)
	}
	if merged := q.Enqueue(&Task{Kind: KindViewerDelta, StreamID: "s2", Delta: 1}); merged {
		t.Error("enqueue after Stop should not merge")
	}
	if depth := q.Depth(); depth != 0 {
		t.Errorf("enqueue after Stop should be ignored, depth %d", depth)
	}
}
