// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

// Package ratelimit enforces per-client request limits with Redis-backed
// fixed windows, shared across all server instances.
//
// The limiter fails open: when Redis is unreachable, requests pass. Webhook
// ingestion and event subscription must not stop because a rate-limit
// backend is briefly down.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/streampulse/streampulse/internal/config"
	"github.com/streampulse/streampulse/internal/logging"
	"github.com/streampulse/streampulse/internal/metrics"
)

// Policy names an endpoint class with its own limit.
type Policy string

const (
	PolicyWebhook    Policy = "webhook"
	PolicyPublish    Policy = "publish"
	PolicyCacheAdmin Policy = "cache-admin"
	PolicySubscribe  Policy = "subscribe"
	PolicyDefault    Policy = "default"
)

// Result describes the outcome of a limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is non-zero only when the request was rejected.
	RetryAfter time.Duration
}

// windowStore counts hits per key within fixed windows.
type windowStore interface {
	// Incr increments the counter for key, setting ttl on first use, and
	// returns the post-increment count.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// redisWindowStore implements windowStore with INCR + EXPIRE.
type redisWindowStore struct {
	client redis.Cmdable
}

func (s *redisWindowStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit window update: %w", err)
	}
	if count == 1 {
		// First hit creates the window; the TTL lets Redis reap it. The
		// key embeds the window start, so a lost EXPIRE only leaks the
		// key, it cannot extend the window.
		if err := s.client.Expire(ctx, key, ttl+time.Second).Err(); err != nil {
			logging.Warn().Err(err).Msg("failed to set rate limit window ttl")
		}
	}
	return count, nil
}

// policyRule pairs a request budget with the window it applies to.
type policyRule struct {
	limit  int
	window time.Duration
}

// Limiter checks requests against per-policy fixed windows.
type Limiter struct {
	cfg   config.RateLimitConfig
	store windowStore
	rules map[Policy]policyRule
	now   func() time.Time
}

// New creates a limiter using client for window counters.
func New(cfg config.RateLimitConfig, client redis.Cmdable) *Limiter {
	return newWithStore(cfg, &redisWindowStore{client: client})
}

func newWithStore(cfg config.RateLimitConfig, store windowStore) *Limiter {
	windowOr := func(override time.Duration) time.Duration {
		if override > 0 {
			return override
		}
		return cfg.Window
	}
	return &Limiter{
		cfg:   cfg,
		store: store,
		rules: map[Policy]policyRule{
			PolicyWebhook:    {limit: cfg.WebhookLimit, window: windowOr(cfg.WebhookWindow)},
			PolicyPublish:    {limit: cfg.PublishLimit, window: windowOr(cfg.PublishWindow)},
			PolicyCacheAdmin: {limit: cfg.CacheAdminLimit, window: windowOr(cfg.CacheAdminWindow)},
			PolicySubscribe:  {limit: cfg.SubscribeLimit, window: windowOr(cfg.SubscribeWindow)},
			PolicyDefault:    {limit: cfg.DefaultLimit, window: windowOr(cfg.DefaultWindow)},
		},
		now: time.Now,
	}
}

// Check records a hit for client under policy and reports whether the
// request may proceed.
func (l *Limiter) Check(ctx context.Context, policy Policy, client string) Result {
	rule, ok := l.rules[policy]
	if !ok {
		rule = l.rules[PolicyDefault]
	}
	limit := rule.limit

	now := l.now()
	windowStart := now.Truncate(rule.window)
	resetAt := windowStart.Add(rule.window)

	if l.cfg.Disabled {
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: resetAt}
	}

	key := fmt.Sprintf("ratelimit:%s:%s:%d", policy, client, windowStart.Unix())
	count, err := l.store.Incr(ctx, key, rule.window)
	if err != nil {
		// Fail open: availability beats strictness here.
		metrics.RateLimitFailOpenTotal.Inc()
		logging.Warn().Err(err).Str("policy", string(policy)).Msg("rate limiter backend unavailable, allowing request")
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: resetAt}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count > int64(limit) {
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(policy)).Inc()
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: resetAt}
}
