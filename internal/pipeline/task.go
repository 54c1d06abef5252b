// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package pipeline

import (
	"fmt"
	"time"

	"github.com/streampulse/streampulse/internal/models"
)

// TaskKind classifies what a task does to a stream.
type TaskKind string

const (
	// KindViewerDelta adjusts a stream's viewer count.
	KindViewerDelta TaskKind = "viewer-delta"

	// KindStatusChange transitions a stream between live and offline.
	KindStatusChange TaskKind = "status-change"
)

// Task is one unit of pipeline work. Tasks with the same Key() coalesce
// while debouncing and execute serially.
type Task struct {
	Kind TaskKind

	// StreamID is the stream's primary key, set when the source event
	// carried it (participant events do).
	StreamID string

	// IngestID identifies the stream as the media ingest system knows it,
	// set for stream lifecycle events. Resolved to a row at execution.
	IngestID string

	// Delta is the viewer count adjustment for KindViewerDelta tasks.
	// Coalescing sums deltas, so a join and a leave cancel out.
	Delta int

	// Live is the target status for KindStatusChange tasks. Coalescing
	// keeps the value from the most recent event.
	Live bool

	// OccurredAt is the occurrence time of the newest event folded into
	// this task, used for the staleness check on status transitions.
	OccurredAt time.Time

	// Collapsed counts events merged into this task beyond the first.
	Collapsed int

	// Attempts counts executions so far, including the current one.
	Attempts int

	// Step completion markers. A retry resumes at the first incomplete
	// step so a cache failure cannot re-apply a database mutation.
	mutated     bool
	invalidated bool

	// stream is the row produced by the mutation step, carried across
	// retries of the later steps.
	stream *models.Stream

	// changed records whether the mutation step altered stored state.
	// When it did not, invalidation and publication are skipped.
	changed bool
}

// Key returns the coalescing key. Kind is part of the key so viewer deltas
// and status changes for the same stream stay independent tasks.
func (t *Task) Key() string {
	if t.StreamID != "" {
		return fmt.Sprintf("%s:%s", t.Kind, t.StreamID)
	}
	return fmt.Sprintf("%s:ingest:%s", t.Kind, t.IngestID)
}

// merge folds other (a newer task for the same key) into t.
func (t *Task) merge(other *Task) {
	switch t.Kind {
	case KindViewerDelta:
		t.Delta += other.Delta
	case KindStatusChange:
		t.Live = other.Live
	}
	if other.OccurredAt.After(t.OccurredAt) {
		t.OccurredAt = other.OccurredAt
	}
	t.Collapsed += other.Collapsed + 1
}

// TaskFromWebhook maps a validated webhook payload to a pipeline task.
// Returns an error for webhook kinds the pipeline does not process.
func TaskFromWebhook(p models.WebhookPayload) (*Task, error) {
	switch p.Kind {
	case models.WebhookStreamStarted:
		return &Task{Kind: KindStatusChange, IngestID: p.IngestID, Live: true, OccurredAt: p.OccurredAt}, nil
	case models.WebhookStreamEnded:
		return &Task{Kind: KindStatusChange, IngestID: p.IngestID, Live: false, OccurredAt: p.OccurredAt}, nil
	case models.WebhookParticipantJoined:
		return &Task{Kind: KindViewerDelta, StreamID: p.StreamID, Delta: 1, OccurredAt: p.OccurredAt}, nil
	case models.WebhookParticipantLeft:
		return &Task{Kind: KindViewerDelta, StreamID: p.StreamID, Delta: -1, OccurredAt: p.OccurredAt}, nil
	default:
		return nil, fmt.Errorf("unsupported webhook kind %q", p.Kind)
	}
}
