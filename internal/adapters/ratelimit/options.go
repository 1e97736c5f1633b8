package ratelimit

import (
	"time"

	"github.com/okian/skumatch/pkg/logger"
)

// Option applies a configuration option to the RateLimiter.
type Option func(*RateLimiter)

// WithRequestsPerMinute caps the number of requests in the window.
func WithRequestsPerMinute(n int) Option {
	return func(l *RateLimiter) {
		if n > 0 {
			l.maxRequests = n
		}
	}
}

// WithTokensPerMinute caps the tokens consumed in the window.
func WithTokensPerMinute(n int) Option {
	return func(l *RateLimiter) {
		if n > 0 {
			l.maxTokens = n
		}
	}
}

// WithWindow overrides the sliding window length (60s by default).
func WithWindow(d time.Duration) Option {
	return func(l *RateLimiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *RateLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(l *RateLimiter) {
		if log != nil {
			l.log = log
		}
	}
}
