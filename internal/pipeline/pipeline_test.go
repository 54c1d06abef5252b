// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streampulse/streampulse/internal/config"
	"github.com/streampulse/streampulse/internal/database"
	"github.com/streampulse/streampulse/internal/models"
)

// fakeStore is an in-memory Store with the same semantics as the PostgreSQL
// implementation: viewer floor at zero, recency-guarded status transitions.
type fakeStore struct {
	mu          sync.Mutex
	streams     map[string]*models.Stream // by ID
	byIngest    map[string]string
	adjustCalls int
	setCalls    int
	lookupCalls int
	adjustErrs  int  // fail this many AdjustViewers calls with a transient error
	hangAdjust  bool // block AdjustViewers until its context expires
}

func newFakeStore(streams ...*models.Stream) *fakeStore {
	s := &fakeStore{
		streams:  make(map[string]*models.Stream),
		byIngest: make(map[string]string),
	}
	for _, st := range streams {
		s.streams[st.ID] = st
		s.byIngest[st.IngestID] = st.ID
	}
	return s
}

func (s *fakeStore) GetByIngestID(_ context.Context, ingestID string) (*models.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupCalls++
	id, ok := s.byIngest[ingestID]
	if !ok {
		return nil, database.ErrStreamNotFound
	}
	cp := *s.streams[id]
	return &cp, nil
}

func (s *fakeStore) SetLive(_ context.Context, id string, live bool, occurredAt time.Time, threshold time.Duration) (*models.Stream, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	st, ok := s.streams[id]
	if !ok {
		return nil, false, database.ErrStreamNotFound
	}
	if occurredAt.Before(st.UpdatedAt.Add(-threshold)) || st.IsLive == live {
		cp := *st
		return &cp, false, nil
	}
	st.IsLive = live
	if !live {
		st.ViewerCount = 0
	}
	st.UpdatedAt = time.Now()
	cp := *st
	return &cp, true, nil
}

func (s *fakeStore) AdjustViewers(ctx context.Context, id string, delta int) (*models.Stream, bool, error) {
	s.mu.Lock()
	if s.hangAdjust {
		s.adjustCalls++
		s.mu.Unlock()
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	defer s.mu.Unlock()
	s.adjustCalls++
	if s.adjustErrs > 0 {
		s.adjustErrs--
		return nil, false, errors.New("connection reset")
	}
	st, ok := s.streams[id]
	if !ok {
		return nil, false, database.ErrStreamNotFound
	}
	next := st.ViewerCount + delta
	if next < 0 {
		next = 0
	}
	changed := next != st.ViewerCount
	st.ViewerCount = next
	st.UpdatedAt = time.Now()
	cp := *st
	return &cp, changed, nil
}

func (s *fakeStore) viewerCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[id].ViewerCount
}

func (s *fakeStore) isLive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[id].IsLive
}

type fakeInvalidator struct {
	mu         sync.Mutex
	viewer     int
	status     int
	failBefore int // fail this many calls before succeeding
}

func (f *fakeInvalidator) fail() bool {
	if f.failBefore > 0 {
		f.failBefore--
		return true
	}
	return false
}

func (f *fakeInvalidator) InvalidateViewerCount(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewer++
	if f.fail() {
		return errors.New("redis timeout")
	}
	return nil
}

func (f *fakeInvalidator) InvalidateStreamStatus(context.Context, string, string, string, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status++
	if f.fail() {
		return errors.New("redis timeout")
	}
	return nil
}

func (f *fakeInvalidator) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewer, f.status
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.StreamEvent
}

func (f *fakePublisher) Publish(event models.StreamEvent) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return 1
}

func (f *fakePublisher) published() []models.StreamEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.StreamEvent, len(f.events))
	copy(out, f.events)
	return out
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Workers:           4,
		DebounceWindow:    20 * time.Millisecond,
		MaxAttempts:       3,
		RetryBaseDelay:    time.Millisecond,
		RecencyThreshold:  2 * time.Second,
		FailedTaskHistory: 16,
	}
}

// startPipeline runs p until the test ends.
func startPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func liveStream(viewers int) *models.Stream {
	now := time.Now().Add(-time.Minute)
	return &models.Stream{
		ID: "stream-1", UserID: "user-1", Name: "demo", IsLive: true,
		ViewerCount: viewers, IngestID: "ing-1", Category: "music",
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestJoinStormCoalescesToSingleUpdate(t *testing.T) {
	store := newFakeStore(liveStream(0))
	inv := &fakeInvalidator{}
	pub := &fakePublisher{}
	p := New(testPipelineConfig(), store, inv, pub)
	startPipeline(t, p)

	for i := 0; i < 50; i++ {
		if err := p.Enqueue(models.WebhookPayload{
			Kind: models.WebhookParticipantJoined, StreamID: "stream-1", OccurredAt: time.Now(),
		}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	waitFor(t, func() bool { return store.viewerCount("stream-1") == 50 },
		"viewer count never reached 50")

	if store.adjustCalls != 1 {
		t.Errorf("expected 1 coalesced database update, got %d", store.adjustCalls)
	}
	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(events))
	}
	if events[0].Type != models.FrameViewerCount {
		t.Errorf("unexpected event type %q", events[0].Type)
	}
	if data := events[0].Data.(models.ViewerCountData); data.ViewerCount != 50 {
		t.Errorf("published count %d, want 50", data.ViewerCount)
	}
}

func TestJoinAndLeaveCancelOut(t *testing.T) {
	store := newFakeStore(liveStream(10))
	pub := &fakePublisher{}
	p := New(testPipelineConfig(), store, &fakeInvalidator{}, pub)
	startPipeline(t, p)

	p.Enqueue(models.WebhookPayload{Kind: models.WebhookParticipantJoined, StreamID: "stream-1", OccurredAt: time.Now()})
	p.Enqueue(models.WebhookPayload{Kind: models.WebhookParticipantLeft, StreamID: "stream-1", OccurredAt: time.Now()})

	waitFor(t, func() bool { return p.Stats().Executed == 1 }, "task never executed")

	if store.adjustCalls != 0 {
		t.Errorf("zero-delta task should not touch the database, got %d calls", store.adjustCalls)
	}
	if len(pub.published()) != 0 {
		t.Error("zero-delta task should not publish")
	}
}

func TestLeaveFloorsAtZero(t *testing.T) {
	store := newFakeStore(liveStream(1))
	pub := &fakePublisher{}
	p := New(testPipelineConfig(), store, &fakeInvalidator{}, pub)
	startPipeline(t, p)

	p.Enqueue(models.WebhookPayload{Kind: models.WebhookParticipantLeft, StreamID: "stream-1", OccurredAt: time.Now()})
	p.Enqueue(models.WebhookPayload{Kind: models.WebhookParticipantLeft, StreamID: "stream-1", OccurredAt: time.Now()})

	waitFor(t, func() bool { return p.Stats().Executed == 1 }, "task never executed")

	if got := store.viewerCount("stream-1"); got != 0 {
		t.Errorf("viewer count should floor at 0, got %d", got)
	}
	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(events))
	}
	if data := events[0].Data.(models.ViewerCountData); data.ViewerCount != 0 {
		t.Errorf("published count %d, want 0", data.ViewerCount)
	}
}

func TestDuplicateStartProducesOneTransition(t *testing.T) {
	stream := liveStream(0)
	stream.IsLive = false
	store := newFakeStore(stream)
	pub := &fakePublisher{}
	p := New(testPipelineConfig(), store, &fakeInvalidator{}, pub)
	startPipeline(t, p)

	now := time.Now()
	p.Enqueue(models.WebhookPayload{Kind: models.WebhookStreamStarted, IngestID: "ing-1", OccurredAt: now})
	p.Enqueue(models.WebhookPayload{Kind: models.WebhookStreamStarted, IngestID: "ing-1", OccurredAt: now})

	waitFor(t, func() bool { return store.isLive("stream-1") }, "stream never went live")
	waitFor(t, func() bool { return p.Stats().Executed == 1 }, "task never finished")

	if store.setCalls != 1 {
		t.Errorf("expected 1 transition, got %d", store.setCalls)
	}
	events := pub.published()
	if len(events) != 1 || events[0].Type != models.FrameStreamLive {
		t.Fatalf("expected a single stream.live event, got %+v", events)
	}

	// A redelivery arriving after execution is a no-op: no new publication.
	p.Enqueue(models.WebhookPayload{Kind: models.WebhookStreamStarted, IngestID: "ing-1", OccurredAt: time.Now()})
	waitFor(t, func() bool { return p.Stats().Executed == 2 }, "redelivered task never executed")

	if len(pub.published()) != 1 {
		t.Errorf("duplicate transition must not publish again, got %d events", len(pub.published()))
	}
}

func TestStaleEndIgnored(t *testing.T) {
	store := newFakeStore(liveStream(5))
	pub := &fakePublisher{}
	p := New(testPipelineConfig(), store, &fakeInvalidator{}, pub)
	startPipeline(t, p)

	// The end event predates the row's last update by far more than the
	// recency threshold: a late redelivery from before the current session.
	p.Enqueue(models.WebhookPayload{
		Kind: models.WebhookStreamEnded, IngestID: "ing-1",
		OccurredAt: time.Now().Add(-time.Hour),
	})

	waitFor(t, func() bool { return p.Stats().Executed == 1 }, "task never executed")

	if !store.isLive("stream-1") {
		t.Error("stale end event must not take the stream offline")
	}
	if len(pub.published()) != 0 {
		t.Error("ignored transition must not publish")
	}
}

func TestUnknownStreamIsTerminal(t *testing.T) {
	store := newFakeStore()
	p := New(testPipelineConfig(), store, &fakeInvalidator{}, &fakePublisher{})
	startPipeline(t, p)

	p.Enqueue(models.WebhookPayload{Kind: models.WebhookStreamStarted, IngestID: "ghost", OccurredAt: time.Now()})

	waitFor(t, func() bool { return p.Stats().Failed == 1 }, "task never failed")

	if store.lookupCalls != 1 {
		t.Errorf("terminal error must not retry: expected 1 lookup, got %d", store.lookupCalls)
	}
	if p.Stats().Retried != 0 {
		t.Errorf("expected 0 retries, got %d", p.Stats().Retried)
	}
}

func TestTransientMutationErrorRetries(t *testing.T) {
	store := newFakeStore(liveStream(0))
	store.adjustErrs = 1
	pub := &fakePublisher{}
	p := New(testPipelineConfig(), store, &fakeInvalidator{}, pub)
	startPipeline(t, p)

	p.Enqueue(models.WebhookPayload{Kind: models.WebhookParticipantJoined, StreamID: "stream-1", OccurredAt: time.Now()})

	waitFor(t, func() bool { return store.viewerCount("stream-1") == 1 }, "viewer count never updated")

	if store.adjustCalls != 2 {
		t.Errorf("expected failed attempt plus retry, got %d calls", store.adjustCalls)
	}
	if p.Stats().Retried != 1 {
		t.Errorf("expected 1 retry, got %d", p.Stats().Retried)
	}
	if len(pub.published()) != 1 {
		t.Errorf("expected 1 published event after retry, got %d", len(pub.published()))
	}
}

func TestInvalidationFailureDoesNotRemutate(t *testing.T) {
	store := newFakeStore(liveStream(0))
	inv := &fakeInvalidator{failBefore: 1}
	pub := &fakePublisher{}
	p := New(testPipelineConfig(), store, inv, pub)
	startPipeline(t, p)

	p.Enqueue(models.WebhookPayload{Kind: models.WebhookParticipantJoined, StreamID: "stream-1", OccurredAt: time.Now()})

	waitFor(t, func() bool { return len(pub.published()) == 1 }, "event never published")

	if store.adjustCalls != 1 {
		t.Errorf("retry after cache failure must not re-apply the mutation, got %d calls", store.adjustCalls)
	}
	viewer, _ := inv.calls()
	if viewer != 2 {
		t.Errorf("expected invalidation attempted twice, got %d", viewer)
	}
	if got := store.viewerCount("stream-1"); got != 1 {
		t.Errorf("viewer count %d, want 1", got)
	}
}

func TestExhaustedRetriesRecordFailure(t *testing.T) {
	store := newFakeStore(liveStream(0))
	inv := &fakeInvalidator{failBefore: 100}
	pub := &fakePublisher{}
	p := New(testPipelineConfig(), store, inv, pub)
	startPipeline(t, p)

	p.Enqueue(models.WebhookPayload{Kind: models.WebhookParticipantJoined, StreamID: "stream-1", OccurredAt: time.Now()})

	waitFor(t, func() bool { return p.Stats().Failed == 1 }, "task never failed permanently")

	failures := p.RecentFailures()
	if len(failures) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(failures))
	}
	f := failures[0]
	if f.Kind != KindViewerDelta || f.StreamID != "stream-1" {
		t.Errorf("unexpected failure record: %+v", f)
	}
	if f.Attempts != testPipelineConfig().MaxAttempts {
		t.Errorf("expected %d attempts, got %d", testPipelineConfig().MaxAttempts, f.Attempts)
	}
	if len(pub.published()) != 0 {
		t.Error("failed task must not publish")
	}
}

func TestHungMutationHitsAttemptDeadlineAndRetries(t *testing.T) {
	store := newFakeStore(liveStream(0))
	store.hangAdjust = true
	pub := &fakePublisher{}
	cfg := testPipelineConfig()
	cfg.TaskTimeout = 15 * time.Millisecond
	p := New(cfg, store, &fakeInvalidator{}, pub)
	startPipeline(t, p)

	p.Enqueue(models.WebhookPayload{Kind: models.WebhookParticipantJoined, StreamID: "stream-1", OccurredAt: time.Now()})

	waitFor(t, func() bool { return p.Stats().Failed == 1 }, "hung task never recorded as failed")

	if p.Stats().Retried != uint64(cfg.MaxAttempts-1) {
		t.Errorf("expected %d retries after deadline expiries, got %d", cfg.MaxAttempts-1, p.Stats().Retried)
	}
	failures := p.RecentFailures()
	if len(failures) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(failures))
	}
	f := failures[0]
	if f.Attempts != cfg.MaxAttempts {
		t.Errorf("expected %d attempts, got %d", cfg.MaxAttempts, f.Attempts)
	}
	if !strings.Contains(f.LastError, "deadline") {
		t.Errorf("expected a deadline error in the failure record, got %q", f.LastError)
	}
	if len(pub.published()) != 0 {
		t.Error("timed-out task must not publish")
	}
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	p := New(testPipelineConfig(), newFakeStore(), &fakeInvalidator{}, &fakePublisher{})
	if err := p.Enqueue(models.WebhookPayload{Kind: "stream.renamed"}); err == nil {
		t.Error("expected error for unsupported webhook kind")
	}
}

func TestFailureLogRingBound(t *testing.T) {
	log := newFailureLog(3)
	for i := 0; i < 5; i++ {
		log.add(FailedTask{Attempts: i})
	}
	recent := log.recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained failures, got %d", len(recent))
	}
	// Newest first: attempts 4, 3, 2.
	for i, want := range []int{4, 3, 2} {
		if recent[i].Attempts != want {
			t.Errorf("recent[%d].Attempts = %d, want %d", i, recent[i].Attempts, want)
		}
	}
}
