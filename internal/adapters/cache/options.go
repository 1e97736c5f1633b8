package cache

import "time"

// Option applies a configuration option to the in-memory cache.
type Option func(*Memory)

// WithMaxSize bounds the number of entries. The oldest entry is evicted first.
// A value <= 0 means unbounded.
func WithMaxSize(maxSize int) Option {
	return func(m *Memory) {
		m.maxSize = maxSize
	}
}

// WithTTL sets how long an entry stays valid. A value <= 0 disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(m *Memory) {
		m.ttl = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// RedisOption applies a configuration option to the Redis cache.
type RedisOption func(*Redis)

// WithRedisTTL sets the expiry of written keys.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithPrefix namespaces every key.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}
