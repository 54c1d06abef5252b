// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package cache

import (
	"sync"
	"time"
)

// Default TTL windows per key class. Volatile classes (viewer counts, live
// status) expire quickly; slow-changing taxonomy lives much longer.
var defaultTTLs = map[string]time.Duration{
	ClassViewerCount: 10 * time.Second,
	ClassStream:      30 * time.Second,
	ClassStreamList:  60 * time.Second,
	ClassUserStreams: 60 * time.Second,
	ClassCategory:    10 * time.Minute,
}

// fallbackTTL is used for key classes without an explicit window.
const fallbackTTL = 30 * time.Second

// TTLPolicy computes per-key-class expiration windows. Construct one per
// process and pass it to consumers; overrides can be applied at runtime
// through the cache administration endpoint.
type TTLPolicy struct {
	mu   sync.RWMutex
	ttls map[string]time.Duration
}

// NewTTLPolicy creates a policy with built-in defaults, applying any
// per-class overrides on top.
func NewTTLPolicy(overrides map[string]time.Duration) *TTLPolicy {
	ttls := make(map[string]time.Duration, len(defaultTTLs)+len(overrides))
	for class, d := range defaultTTLs {
		ttls[class] = d
	}
	for class, d := range overrides {
		if d > 0 {
			ttls[class] = d
		}
	}
	return &TTLPolicy{ttls: ttls}
}

// TTLFor returns the expiration window for a key class.
func (p *TTLPolicy) TTLFor(class string) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if d, ok := p.ttls[class]; ok {
		return d
	}
	return fallbackTTL
}

// TTLForKey returns the expiration window for a namespaced key.
func (p *TTLPolicy) TTLForKey(key string) time.Duration {
	return p.TTLFor(ClassOf(key))
}

// SetTTL overrides the window for a key class at runtime. Non-positive
// durations are ignored.
func (p *TTLPolicy) SetTTL(class string, d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttls[class] = d
}

// Snapshot returns a copy of the current per-class windows.
func (p *TTLPolicy) Snapshot() map[string]time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]time.Duration, len(p.ttls))
	for class, d := range p.ttls {
		out[class] = d
	}
	return out
}

// HighFrequency halves a base window for entries refreshed by hot paths.
func HighFrequency(base time.Duration) time.Duration {
	return base / 2
}

// LowFrequency doubles a base window for rarely-changing entries.
func LowFrequency(base time.Duration) time.Duration {
	return base * 2
}

// Dynamic scales a base window down as the underlying data ages, with a floor
// of 10% of base: ttl = base * max(0.1, 1 - age/(2*base)).
func Dynamic(base, age time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	factor := 1 - float64(age)/float64(2*base)
	if factor < 0.1 {
		factor = 0.1
	}
	return time.Duration(float64(base) * factor)
}
