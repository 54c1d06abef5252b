// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/streampulse/streampulse/internal/config"
	"github.com/streampulse/streampulse/internal/database"
	"github.com/streampulse/streampulse/internal/logging"
	"github.com/streampulse/streampulse/internal/metrics"
	"github.com/streampulse/streampulse/internal/models"
)

// Store is the stream persistence surface the pipeline mutates.
type Store interface {
	GetByIngestID(ctx context.Context, ingestID string) (*models.Stream, error)
	SetLive(ctx context.Context, id string, live bool, occurredAt time.Time, threshold time.Duration) (*models.Stream, bool, error)
	AdjustViewers(ctx context.Context, id string, delta int) (*models.Stream, bool, error)
}

// Invalidator evicts cache entries derived from a stream's state.
type Invalidator interface {
	InvalidateViewerCount(ctx context.Context, streamID string) error
	InvalidateStreamStatus(ctx context.Context, streamID, userID, category string, nowLive bool) error
}

// Publisher fans an event out to subscribers.
type Publisher interface {
	Publish(event models.StreamEvent) int
}

// Pipeline owns the debounce queue and the worker pool executing tasks.
type Pipeline struct {
	cfg         config.PipelineConfig
	store       Store
	invalidator Invalidator
	publisher   Publisher

	queue    *debounceQueue
	throttle *rate.Limiter
	failures *failureLog

	enqueued  atomic.Uint64
	collapsed atomic.Uint64
	executed  atomic.Uint64
	skipped   atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64
}

// New creates a pipeline. Call Serve (typically under a supervisor) to start
// the workers.
func New(cfg config.PipelineConfig, store Store, invalidator Invalidator, publisher Publisher) *Pipeline {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}
	p := &Pipeline{
		cfg:         cfg,
		store:       store,
		invalidator: invalidator,
		publisher:   publisher,
		queue:       newDebounceQueue(cfg.DebounceWindow),
		failures:    newFailureLog(cfg.FailedTaskHistory),
	}
	if cfg.ThrottlePerSecond > 0 {
		p.throttle = rate.NewLimiter(rate.Limit(cfg.ThrottlePerSecond), cfg.ThrottlePerSecond)
	}
	return p
}

// Enqueue maps a webhook payload to a task and hands it to the debounce
// queue. Returns fast; all heavy work happens on the worker pool.
func (p *Pipeline) Enqueue(payload models.WebhookPayload) error {
	task, err := TaskFromWebhook(payload)
	if err != nil {
		return err
	}
	merged := p.queue.Enqueue(task)
	p.enqueued.Add(1)
	if merged {
		p.collapsed.Add(1)
	}
	return nil
}

// Serve runs the worker pool until ctx is canceled. Implements the suture
// service contract: it returns ctx.Err() on shutdown so the supervisor does
// not restart it.
func (p *Pipeline) Serve(ctx context.Context) error {
	logging.Info().
		Int("workers", p.cfg.Workers).
		Dur("debounce_window", p.cfg.DebounceWindow).
		Msg("pipeline started")

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}

	<-ctx.Done()
	p.queue.Stop()
	wg.Wait()
	logging.Info().Msg("pipeline stopped")
	return ctx.Err()
}

// String names the pipeline for supervisor logs.
func (p *Pipeline) String() string {
	return "event-pipeline"
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Enqueued:   p.enqueued.Load(),
		Collapsed:  p.collapsed.Load(),
		Executed:   p.executed.Load(),
		Skipped:    p.skipped.Load(),
		Retried:    p.retried.Load(),
		Failed:     p.failed.Load(),
		QueueDepth: p.queue.Depth(),
	}
}

// RecentFailures returns permanently failed tasks, newest first.
func (p *Pipeline) RecentFailures() []FailedTask {
	return p.failures.recent()
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.queue.Ready():
			p.run(ctx, task)
			p.queue.Complete(task.Key())
		}
	}
}

// run executes a task with retries. The task's key stays held for the whole
// retry sequence, so a newer task for the same stream waits its turn.
func (p *Pipeline) run(ctx context.Context, task *Task) {
	metrics.PipelineInFlight.Inc()
	defer metrics.PipelineInFlight.Dec()

	for {
		task.Attempts++

		if p.throttle != nil {
			if err := p.throttle.Wait(ctx); err != nil {
				return
			}
		}

		// Each attempt gets its own deadline so a wedged transaction or
		// hung backend cannot hold the key's serialization slot forever.
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
		err := p.execute(attemptCtx, task)
		cancel()
		switch {
		case err == nil:
			p.executed.Add(1)
			if task.changed {
				metrics.PipelineTasksTotal.WithLabelValues(string(task.Kind), "ok").Inc()
			} else {
				p.skipped.Add(1)
				metrics.PipelineTasksTotal.WithLabelValues(string(task.Kind), "skipped").Inc()
			}
			return

		case errors.Is(err, database.ErrStreamNotFound):
			// Terminal: retrying cannot make an unknown stream appear.
			p.failed.Add(1)
			metrics.PipelineTasksTotal.WithLabelValues(string(task.Kind), "terminal").Inc()
			logging.Warn().
				Str("key", task.Key()).
				Int("attempts", task.Attempts).
				Msg("dropping task for unknown stream")
			return

		case ctx.Err() != nil:
			// Worker shutdown. An expired attempt deadline is not this
			// case: it falls through to the retry path below.
			return

		case task.Attempts >= p.cfg.MaxAttempts:
			p.failed.Add(1)
			metrics.PipelineTasksTotal.WithLabelValues(string(task.Kind), "failed").Inc()
			p.failures.add(FailedTask{
				Key:        task.Key(),
				Kind:       task.Kind,
				StreamID:   task.StreamID,
				IngestID:   task.IngestID,
				Attempts:   task.Attempts,
				LastError:  err.Error(),
				OccurredAt: task.OccurredAt,
				FailedAt:   time.Now().UTC(),
			})
			logging.Error().Err(err).
				Str("key", task.Key()).
				Int("attempts", task.Attempts).
				Msg("task failed permanently")
			return
		}

		p.retried.Add(1)
		metrics.PipelineRetriesTotal.Inc()
		delay := backoff(p.cfg.RetryBaseDelay, task.Attempts)
		logging.Debug().Err(err).
			Str("key", task.Key()).
			Int("attempt", task.Attempts).
			Dur("delay", delay).
			Msg("retrying task")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// execute runs the task's remaining steps in order. Completed steps are
// marked on the task so a retry picks up where the failure happened.
func (p *Pipeline) execute(ctx context.Context, task *Task) error {
	if !task.mutated {
		if err := p.mutate(ctx, task); err != nil {
			return err
		}
		task.mutated = true
	}

	if !task.changed {
		return nil
	}

	if !task.invalidated {
		if err := p.invalidate(ctx, task); err != nil {
			return fmt.Errorf("cache invalidation: %w", err)
		}
		task.invalidated = true
	}

	p.publish(task)
	return nil
}

func (p *Pipeline) mutate(ctx context.Context, task *Task) error {
	switch task.Kind {
	case KindStatusChange:
		stream, err := p.resolve(ctx, task)
		if err != nil {
			return err
		}
		updated, applied, err := p.store.SetLive(ctx, stream.ID, task.Live, task.OccurredAt, p.cfg.RecencyThreshold)
		if err != nil {
			return err
		}
		task.stream = updated
		task.changed = applied

	case KindViewerDelta:
		if task.Delta == 0 {
			// Joins and leaves canceled out while debouncing.
			task.changed = false
			return nil
		}
		stream, err := p.resolve(ctx, task)
		if err != nil {
			return err
		}
		updated, applied, err := p.store.AdjustViewers(ctx, stream.ID, task.Delta)
		if err != nil {
			return err
		}
		task.stream = updated
		task.changed = applied

	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
	return nil
}

// resolve returns the stream row the task targets, looking it up by ingest
// identifier when the event did not carry a stream ID.
func (p *Pipeline) resolve(ctx context.Context, task *Task) (*models.Stream, error) {
	if task.StreamID != "" {
		return &models.Stream{ID: task.StreamID}, nil
	}
	stream, err := p.store.GetByIngestID(ctx, task.IngestID)
	if err != nil {
		return nil, err
	}
	task.StreamID = stream.ID
	return stream, nil
}

func (p *Pipeline) invalidate(ctx context.Context, task *Task) error {
	s := task.stream
	switch task.Kind {
	case KindStatusChange:
		return p.invalidator.InvalidateStreamStatus(ctx, s.ID, s.UserID, s.Category, s.IsLive)
	default:
		return p.invalidator.InvalidateViewerCount(ctx, s.ID)
	}
}

func (p *Pipeline) publish(task *Task) {
	s := task.stream
	event := models.StreamEvent{
		StreamID:  s.ID,
		Category:  s.Category,
		Timestamp: time.Now().UTC(),
	}

	switch task.Kind {
	case KindStatusChange:
		if s.IsLive {
			event.Type = models.FrameStreamLive
		} else {
			event.Type = models.FrameStreamOffline
		}
		event.Data = models.StreamStatusData{IsLive: s.IsLive, ViewerCount: s.ViewerCount, Name: s.Name}
	default:
		event.Type = models.FrameViewerCount
		event.Data = models.ViewerCountData{ViewerCount: s.ViewerCount}
	}

	p.publisher.Publish(event)
}

// backoff computes the delay before attempt+1: exponential in the attempt
// number with up to 50% random jitter to spread thundering retries.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}
