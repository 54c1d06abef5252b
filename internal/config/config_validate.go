// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package config

import (
	"fmt"
	"time"
)

// validKeyClasses are the cache key classes accepted in TTL overrides.
var validKeyClasses = map[string]bool{
	"stream":       true,
	"stream-list":  true,
	"viewer-count": true,
	"user-streams": true,
	"category":     true,
}

// Validate checks the configuration for errors. Called automatically by
// Load(); exposed for tests and for callers that assemble a Config by hand.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Environment != "development" && c.Server.Environment != "production" {
		return fmt.Errorf("server.environment must be development or production, got %q", c.Server.Environment)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive, got %s", c.Server.ReadTimeout)
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1, got %d", c.Database.MaxOpenConns)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if c.Webhook.Secret == "" && c.Server.Environment == "production" {
		return fmt.Errorf("webhook.secret is required in production")
	}
	if c.Webhook.MaxBodySize < 1024 {
		return fmt.Errorf("webhook.max_body_size must be at least 1024 bytes, got %d", c.Webhook.MaxBodySize)
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.DebounceWindow < 0 {
		return fmt.Errorf("pipeline.debounce_window cannot be negative, got %s", c.Pipeline.DebounceWindow)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.TaskTimeout <= 0 {
		return fmt.Errorf("pipeline.task_timeout must be positive, got %s", c.Pipeline.TaskTimeout)
	}
	if c.Pipeline.RetryBaseDelay <= 0 {
		return fmt.Errorf("pipeline.retry_base_delay must be positive, got %s", c.Pipeline.RetryBaseDelay)
	}
	if c.Pipeline.RecencyThreshold < 0 {
		return fmt.Errorf("pipeline.recency_threshold cannot be negative, got %s", c.Pipeline.RecencyThreshold)
	}

	for class, ttl := range c.Cache.TTLOverrides {
		if !validKeyClasses[class] {
			return fmt.Errorf("cache.ttl_overrides: unknown key class %q", class)
		}
		if ttl < time.Second {
			return fmt.Errorf("cache.ttl_overrides.%s must be at least 1s, got %s", class, ttl)
		}
	}

	if !c.RateLimit.Disabled {
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window)
		}
		for name, limit := range map[string]int{
			"webhook_limit":     c.RateLimit.WebhookLimit,
			"publish_limit":     c.RateLimit.PublishLimit,
			"cache_admin_limit": c.RateLimit.CacheAdminLimit,
			"subscribe_limit":   c.RateLimit.SubscribeLimit,
			"default_limit":     c.RateLimit.DefaultLimit,
		} {
			if limit < 1 {
				return fmt.Errorf("rate_limit.%s must be at least 1, got %d", name, limit)
			}
		}
		for name, window := range map[string]time.Duration{
			"webhook_window":     c.RateLimit.WebhookWindow,
			"publish_window":     c.RateLimit.PublishWindow,
			"cache_admin_window": c.RateLimit.CacheAdminWindow,
			"subscribe_window":   c.RateLimit.SubscribeWindow,
			"default_window":     c.RateLimit.DefaultWindow,
		} {
			if window < 0 {
				return fmt.Errorf("rate_limit.%s must not be negative, got %s", name, window)
			}
		}
	}

	if c.Fanout.SendBuffer < 1 {
		return fmt.Errorf("fanout.send_buffer must be at least 1, got %d", c.Fanout.SendBuffer)
	}
	if c.Fanout.KeepAliveInterval <= 0 {
		return fmt.Errorf("fanout.keep_alive_interval must be positive, got %s", c.Fanout.KeepAliveInterval)
	}
	if c.Fanout.WriteTimeout <= 0 {
		return fmt.Errorf("fanout.write_timeout must be positive, got %s", c.Fanout.WriteTimeout)
	}

	return nil
}
