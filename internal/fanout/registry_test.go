// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package fanout

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/streampulse/streampulse/internal/config"
	"github.com/streampulse/streampulse/internal/logging"
	"github.com/streampulse/streampulse/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func testConfig() config.FanoutConfig {
	return config.FanoutConfig{
		SendBuffer:        16,
		KeepAliveInterval: time.Hour, // effectively disabled for tests
		WriteTimeout:      time.Second,
	}
}

// recordSink captures written frames in memory.
type recordSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *recordSink) WriteFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *recordSink) frame(i int) models.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ev models.StreamEvent
	_ = json.Unmarshal(s.frames[i], &ev)
	return ev
}

// drainQueued empties a connection's outbound queue without running Serve.
func drainQueued(t *testing.T, conn *Connection) []models.StreamEvent {
	t.Helper()
	var events []models.StreamEvent
	for {
		select {
		case data := <-conn.send:
			var ev models.StreamEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				t.Fatalf("failed to decode frame: %v", err)
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func addConn(t *testing.T, r *Registry, target Target) *Connection {
	t.Helper()
	conn := NewConnection(target, &recordSink{}, 16)
	if err := r.Add(conn); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	// Discard the hello frame so tests see only published events.
	hello := drainQueued(t, conn)
	if len(hello) != 1 || hello[0].Type != models.FrameConnected {
		t.Fatalf("expected a single hello frame, got %+v", hello)
	}
	return conn
}

func TestPublishRoutesToMatchingTargets(t *testing.T) {
	r := NewRegistry(testConfig())

	streamA := addConn(t, r, Target{Kind: TargetStream, StreamID: "stream-a"})
	streamB := addConn(t, r, Target{Kind: TargetStream, StreamID: "stream-b"})
	listAll := addConn(t, r, Target{Kind: TargetStreamList})
	listMusic := addConn(t, r, Target{Kind: TargetStreamList, Category: "music"})
	listGaming := addConn(t, r, Target{Kind: TargetStreamList, Category: "gaming"})
	firehose := addConn(t, r, Target{Kind: TargetAll})

	delivered := r.Publish(models.StreamEvent{
		Type:     models.FrameViewerCount,
		StreamID: "stream-a",
		Category: "music",
		Data:     models.ViewerCountData{ViewerCount: 42},
	})

	if delivered != 4 {
		t.Errorf("expected delivery to 4 connections, got %d", delivered)
	}

	for name, tc := range map[string]struct {
		conn *Connection
		want int
	}{
		"stream-a subscriber":   {streamA, 1},
		"stream-b subscriber":   {streamB, 0},
		"list-all subscriber":   {listAll, 1},
		"list-music subscriber": {listMusic, 1},
		"list-gaming subscriber": {listGaming, 0},
		"firehose subscriber":   {firehose, 1},
	} {
		events := drainQueued(t, tc.conn)
		if len(events) != tc.want {
			t.Errorf("%s: expected %d events, got %d", name, tc.want, len(events))
			continue
		}
		if tc.want == 1 && events[0].StreamID != "stream-a" {
			t.Errorf("%s: wrong stream id %q", name, events[0].StreamID)
		}
	}
}

func TestPublishWithoutCategorySkipsCategoryLists(t *testing.T) {
	r := NewRegistry(testConfig())
	listMusic := addConn(t, r, Target{Kind: TargetStreamList, Category: "music"})
	listAll := addConn(t, r, Target{Kind: TargetStreamList})

	r.Publish(models.StreamEvent{Type: models.FrameStreamOffline, StreamID: "s1"})

	if got := len(drainQueued(t, listMusic)); got != 0 {
		t.Errorf("category list should not receive uncategorized event, got %d", got)
	}
	if got := len(drainQueued(t, listAll)); got != 1 {
		t.Errorf("unfiltered list should receive event, got %d", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(testConfig())
	conn := addConn(t, r, Target{Kind: TargetStream, StreamID: "s1"})

	if got := r.Counts().Total; got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}

	r.Remove(conn)
	r.Remove(conn) // second remove must not panic or double-decrement
	r.Remove(NewConnection(Target{Kind: TargetAll}, &recordSink{}, 1))

	if got := r.Counts().Total; got != 0 {
		t.Errorf("expected 0 connections after removes, got %d", got)
	}

	select {
	case <-conn.Done():
	default:
		t.Error("removed connection should be marked done")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	r := NewRegistry(testConfig())
	conn := NewConnection(Target{Kind: TargetStream, StreamID: "s1"}, &recordSink{}, 1)
	if err := r.Add(conn); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	// The hello frame already fills the 1-slot buffer; nothing drains it.

	delivered := r.Publish(models.StreamEvent{Type: models.FrameViewerCount, StreamID: "s1"})
	if delivered != 0 {
		t.Errorf("expected 0 deliveries to a saturated subscriber, got %d", delivered)
	}
	if got := r.Counts().Total; got != 0 {
		t.Errorf("saturated subscriber should be dropped, %d connections remain", got)
	}
	select {
	case <-conn.Done():
	default:
		t.Error("dropped connection should be marked done")
	}
}

func TestMaxConnectionsCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	r := NewRegistry(cfg)

	addConn(t, r, Target{Kind: TargetAll})

	extra := NewConnection(Target{Kind: TargetAll}, &recordSink{}, 1)
	if err := r.Add(extra); err != ErrTooManyConnections {
		t.Errorf("expected ErrTooManyConnections, got %v", err)
	}
}

func TestServePreservesPublishOrder(t *testing.T) {
	r := NewRegistry(testConfig())
	sink := &recordSink{}
	conn := NewConnection(Target{Kind: TargetStream, StreamID: "s1"}, sink, 64)
	if err := r.Add(conn); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		r.Serve(conn)
		close(done)
	}()

	const n = 20
	for i := 0; i < n; i++ {
		r.Publish(models.StreamEvent{
			Type:     models.FrameViewerCount,
			StreamID: "s1",
			Data:     models.ViewerCountData{ViewerCount: i},
		})
	}

	// hello frame + n events
	deadline := time.After(2 * time.Second)
	for sink.count() < n+1 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for frames, got %d", sink.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	r.Remove(conn)
	<-done

	if sink.frame(0).Type != models.FrameConnected {
		t.Fatalf("first frame should be hello, got %q", sink.frame(0).Type)
	}
	for i := 0; i < n; i++ {
		ev := sink.frame(i + 1)
		payload, ok := ev.Data.(map[string]interface{})
		if !ok {
			t.Fatalf("frame %d: unexpected payload %T", i, ev.Data)
		}
		if int(payload["viewer_count"].(float64)) != i {
			t.Errorf("frame %d delivered out of order: %v", i, payload["viewer_count"])
		}
	}
}

func TestCounts(t *testing.T) {
	r := NewRegistry(testConfig())
	addConn(t, r, Target{Kind: TargetStream, StreamID: "a"})
	addConn(t, r, Target{Kind: TargetStream, StreamID: "b"})
	addConn(t, r, Target{Kind: TargetStreamList, Category: "music"})
	addConn(t, r, Target{Kind: TargetAll})

	c := r.Counts()
	if c.Total != 4 || c.Streams != 2 || c.StreamLists != 1 || c.Firehose != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}

	if got := r.StreamConnectionCount("a"); got != 1 {
		t.Errorf("expected 1 subscriber for stream a, got %d", got)
	}
	if got := r.StreamConnectionCount("missing"); got != 0 {
		t.Errorf("expected 0 subscribers for unknown stream, got %d", got)
	}
	if got := r.StreamListConnectionCount("music"); got != 1 {
		t.Errorf("expected 1 music list subscriber, got %d", got)
	}
	if got := r.StreamListConnectionCount(""); got != 0 {
		t.Errorf("expected 0 unfiltered list subscribers, got %d", got)
	}
}

func TestHelloFrameCarriesCountSnapshot(t *testing.T) {
	r := NewRegistry(testConfig())
	addConn(t, r, Target{Kind: TargetAll})
	conn := addConn(t, r, Target{Kind: TargetStream, StreamID: "a"})

	hello := drainQueued(t, conn)
	if len(hello) != 1 || hello[0].Type != models.FrameConnected {
		t.Fatalf("expected a single hello frame, got %+v", hello)
	}
	data, ok := hello[0].Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected hello payload: %+v", hello[0].Data)
	}
	if connections, _ := data["connections"].(float64); connections != 2 {
		t.Errorf("expected count snapshot of 2, got %v", data["connections"])
	}
	if data["target"] != conn.Target().String() {
		t.Errorf("expected target %q, got %v", conn.Target().String(), data["target"])
	}
}
