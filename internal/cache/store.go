// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker/v2"

	"github.com/streampulse/streampulse/internal/logging"
	"github.com/streampulse/streampulse/internal/metrics"
)

// scanBatchSize is the COUNT hint for SCAN during pattern deletes.
const scanBatchSize = 100

// StoreConfig holds configuration for the Redis-backed store.
type StoreConfig struct {
	// KeyPrefix is prepended to every key, isolating this service's keys in a
	// shared Redis instance.
	KeyPrefix string

	// BreakerTimeout is how long the circuit stays open before probing the
	// backend again. Default: 15s
	BreakerTimeout time.Duration

	// BreakerFailures is the consecutive-failure count that opens the
	// circuit. Default: 5
	BreakerFailures uint32
}

// Store is a thin wrapper over Redis exposing get/set/delete/pattern-delete
// with TTL. A circuit breaker guards the backend: when Redis is unreachable
// the breaker opens and reads become misses, writes become no-ops. The
// surrounding system stays correct because all cached state is re-derivable
// from the transactional store.
type Store struct {
	client   redis.Cmdable
	breaker  *gobreaker.CircuitBreaker[any]
	recorder *Recorder
	prefix   string
}

// NewStore creates a Store over the given Redis client.
func NewStore(client redis.Cmdable, recorder *Recorder, cfg StoreConfig) *Store {
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 15 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "cache-redis",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A key miss is a healthy backend answer, not a failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.CacheBreakerState.Set(1)
			} else {
				metrics.CacheBreakerState.Set(0)
			}
			logging.Warn().
				Str("component", "cache").
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("cache breaker state changed")
		},
	})

	return &Store{
		client:   client,
		breaker:  breaker,
		recorder: recorder,
		prefix:   cfg.KeyPrefix,
	}
}

// Get retrieves the value for key. A backend error or open breaker is
// reported as a miss; the caller falls through to the source of truth.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	start := time.Now()

	result, err := s.breaker.Execute(func() (any, error) {
		return s.client.Get(ctx, s.prefix+key).Bytes()
	})

	elapsed := time.Since(start)
	switch {
	case errors.Is(err, redis.Nil):
		s.recorder.Record(Operation{Operation: OpGet, Key: key, Duration: elapsed, Success: true, Hit: false})
		metrics.RecordCacheOperation(OpGet, "miss", elapsed)
		return nil, false
	case err != nil:
		s.recorder.Record(Operation{Operation: OpGet, Key: key, Duration: elapsed, Success: false})
		metrics.RecordCacheOperation(OpGet, "error", elapsed)
		logging.Debug().Err(err).Str("key", key).Msg("cache get degraded to miss")
		return nil, false
	}

	s.recorder.Record(Operation{Operation: OpGet, Key: key, Duration: elapsed, Success: true, Hit: true})
	metrics.RecordCacheOperation(OpGet, "hit", elapsed)
	return result.([]byte), true
}

// Set stores value under key with the given TTL. Backend failures are
// swallowed: an unwritten entry is indistinguishable from an expired one.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	start := time.Now()

	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.client.Set(ctx, s.prefix+key, value, ttl).Err()
	})

	elapsed := time.Since(start)
	if err != nil {
		s.recorder.Record(Operation{Operation: OpSet, Key: key, Duration: elapsed, Success: false})
		metrics.RecordCacheOperation(OpSet, "error", elapsed)
		logging.Debug().Err(err).Str("key", key).Msg("cache set skipped")
		return
	}
	s.recorder.Record(Operation{Operation: OpSet, Key: key, Duration: elapsed, Success: true})
	metrics.RecordCacheOperation(OpSet, "ok", elapsed)
}

// Delete removes the given keys. Deleting an absent key is success. The error
// is returned so invalidation can be retried as its own idempotent step.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.prefix + k
	}

	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.client.Del(ctx, prefixed...).Err()
	})

	elapsed := time.Since(start)
	if err != nil {
		s.recorder.Record(Operation{Operation: OpDelete, Key: keys[0], Duration: elapsed, Success: false})
		metrics.RecordCacheOperation(OpDelete, "error", elapsed)
		return fmt.Errorf("cache delete: %w", err)
	}
	s.recorder.Record(Operation{Operation: OpDelete, Key: keys[0], Duration: elapsed, Success: true})
	metrics.RecordCacheOperation(OpDelete, "ok", elapsed)
	return nil
}

// DeletePattern removes all keys matching a glob pattern using SCAN, and
// returns the number of deleted keys. Not for hot paths: this walks the
// keyspace and is intended for operational recovery only.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int, error) {
	start := time.Now()

	result, err := s.breaker.Execute(func() (any, error) {
		var deleted int
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, s.prefix+pattern, scanBatchSize).Result()
			if err != nil {
				return deleted, err
			}
			if len(keys) > 0 {
				if err := s.client.Del(ctx, keys...).Err(); err != nil {
					return deleted, err
				}
				deleted += len(keys)
			}
			cursor = next
			if cursor == 0 {
				return deleted, nil
			}
		}
	})

	elapsed := time.Since(start)
	if err != nil {
		s.recorder.Record(Operation{Operation: OpDeletePattern, Key: pattern, Duration: elapsed, Success: false})
		metrics.RecordCacheOperation(OpDeletePattern, "error", elapsed)
		return 0, fmt.Errorf("cache delete pattern %q: %w", pattern, err)
	}

	deleted, _ := result.(int)
	s.recorder.Record(Operation{Operation: OpDeletePattern, Key: pattern, Duration: elapsed, Success: true})
	metrics.RecordCacheOperation(OpDeletePattern, "ok", elapsed)
	return deleted, nil
}

// Ping checks backend connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Available reports whether the breaker currently permits backend calls.
func (s *Store) Available() bool {
	return s.breaker.State() != gobreaker.StateOpen
}
