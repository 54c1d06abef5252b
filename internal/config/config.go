// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package config

import (
	"time"
)

// Config holds all application configuration loaded from defaults, an optional
// YAML config file, and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting (STREAMPULSE_ prefix)
//
// Environment variables use the STREAMPULSE_ prefix with "__" separating nested
// keys, e.g. STREAMPULSE_SERVER__PORT=8080 sets server.port and
// STREAMPULSE_PIPELINE__DEBOUNCE_WINDOW=5s sets pipeline.debounce_window.
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access from
// multiple goroutines.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Cache     CacheConfig     `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Fanout    FanoutConfig    `koanf:"fanout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// ReadTimeout bounds request header+body reads. A server-wide write
	// timeout is deliberately absent: event subscription responses are
	// long-lived, so write deadlines are enforced per frame instead.
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Environment toggles development-only surfaces such as the manual
	// publish endpoint. Valid values: "development", "production".
	Environment string `koanf:"environment"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// RedisConfig holds Redis connection settings. Redis backs both the cache
// layer and the distributed rate limiter.
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	PoolSize     int           `koanf:"pool_size"`
}

// WebhookConfig holds settings for the media-ingest webhook receiver.
type WebhookConfig struct {
	// Secret is the shared HMAC-SHA256 secret used to verify webhook
	// signatures. Empty disables verification (development only).
	Secret string `koanf:"secret"`

	// MaxBodySize caps webhook request bodies in bytes.
	MaxBodySize int64 `koanf:"max_body_size"`

	// MaxSkew rejects webhooks whose occurred_at timestamp is further than
	// this from server time, limiting replay windows.
	MaxSkew time.Duration `koanf:"max_skew"`
}

// PipelineConfig holds settings for the event processing pipeline.
type PipelineConfig struct {
	// Workers is the number of concurrent task executors.
	Workers int `koanf:"workers"`

	// DebounceWindow is how long a keyed task waits for further events to
	// coalesce before executing.
	DebounceWindow time.Duration `koanf:"debounce_window"`

	// MaxAttempts is the total number of execution attempts per task
	// (initial try plus retries).
	MaxAttempts int `koanf:"max_attempts"`

	// TaskTimeout bounds a single execution attempt, including its store
	// transaction. An attempt that exceeds it counts as a transient
	// failure and is retried.
	TaskTimeout time.Duration `koanf:"task_timeout"`

	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// RecencyThreshold ignores status transitions older than the stored
	// row's last update by more than this margin.
	RecencyThreshold time.Duration `koanf:"recency_threshold"`

	// ThrottlePerSecond caps task executions per second across all
	// workers. 0 disables throttling.
	ThrottlePerSecond int `koanf:"throttle_per_second"`

	// FailedTaskHistory is how many permanently failed tasks are retained
	// for the diagnostics endpoint.
	FailedTaskHistory int `koanf:"failed_task_history"`
}

// CacheConfig holds cache layer settings.
type CacheConfig struct {
	// KeyPrefix namespaces all cache keys, allowing multiple deployments
	// to share a Redis instance.
	KeyPrefix string `koanf:"key_prefix"`

	// TTLOverrides maps key classes (stream, stream-list, viewer-count,
	// user-streams, category) to TTLs, overriding built-in defaults.
	TTLOverrides map[string]time.Duration `koanf:"ttl_overrides"`

	// WarmOnStart primes stream caches for live streams at startup.
	WarmOnStart bool `koanf:"warm_on_start"`
}

// RateLimitConfig holds per-endpoint-class rate limit settings. Limits are
// requests per window, enforced per client IP via Redis fixed windows.
type RateLimitConfig struct {
	Disabled bool `koanf:"disabled"`

	// Window is the fixed-window length for every policy that has no
	// override below.
	Window time.Duration `koanf:"window"`

	WebhookLimit    int `koanf:"webhook_limit"`
	PublishLimit    int `koanf:"publish_limit"`
	CacheAdminLimit int `koanf:"cache_admin_limit"`
	SubscribeLimit  int `koanf:"subscribe_limit"`
	DefaultLimit    int `koanf:"default_limit"`

	// Per-policy window overrides. Zero falls back to Window, so burst
	// endpoints like webhook ingest can run a shorter window than slow
	// admin surfaces without touching the others.
	WebhookWindow    time.Duration `koanf:"webhook_window"`
	PublishWindow    time.Duration `koanf:"publish_window"`
	CacheAdminWindow time.Duration `koanf:"cache_admin_window"`
	SubscribeWindow  time.Duration `koanf:"subscribe_window"`
	DefaultWindow    time.Duration `koanf:"default_window"`

	// GlobalLimit is an outer per-IP cap across all endpoints, enforced
	// in-process ahead of the Redis-backed policy limiters.
	GlobalLimit int `koanf:"global_limit"`
}

// FanoutConfig holds event fan-out settings.
type FanoutConfig struct {
	// SendBuffer is the per-connection outbound frame buffer. A connection
	// that cannot drain this buffer is dropped.
	SendBuffer int `koanf:"send_buffer"`

	// KeepAliveInterval is how often idle connections receive a keep-alive
	// frame so intermediaries do not reap them.
	KeepAliveInterval time.Duration `koanf:"keep_alive_interval"`

	// WriteTimeout bounds a single frame write to a subscriber.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// MaxConnections caps concurrent subscriber connections. 0 = unlimited.
	MaxConnections int `koanf:"max_connections"`
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}
