// Package retry implements bounded retries with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default backoff configuration constants.
const (
	defaultBase     = 500 * time.Millisecond
	defaultMax      = 8 * time.Second
	defaultAttempts = 3
)

// ErrExhausted is returned (wrapped around the last error) when all attempts failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Retryable decides whether err warrants another attempt. nil retries everything.
	Retryable func(err error) bool
	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Option applies a configuration option to a Policy.
type Option func(*Policy)

// WithAttempts sets the total number of attempts.
func WithAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.Attempts = n
		}
	}
}

// WithBackoff sets the base and cap of the exponential backoff.
func WithBackoff(base, max time.Duration) Option {
	return func(p *Policy) {
		if base > 0 {
			p.Base = base
		}
		if max >= base && max > 0 {
			p.Max = max
		}
	}
}

// WithRetryable sets the retry classifier.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		p.Retryable = fn
	}
}

// WithOnRetry registers a hook invoked before each backoff sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(p *Policy) {
		p.OnRetry = fn
	}
}

// New builds a Policy with defaults.
func New(opts ...Option) Policy {
	p := Policy{
		Attempts: defaultAttempts,
		Base:     defaultBase,
		Max:      defaultMax,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Backoff returns the delay before retry number attempt (1-based): base*2^(attempt-1), capped.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// DelayError lets an operation ask for a specific wait before the next attempt,
// e.g. a server-provided Retry-After.
type DelayError struct {
	Err   error
	After time.Duration
}

func (e *DelayError) Error() string { return e.Err.Error() }
func (e *DelayError) Unwrap() error { return e.Err }

// Do runs fn until it succeeds, returns a non-retryable error, attempts run out,
// or ctx is done. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, fmt.Errorf("%w: %w", err, lastErr)
			}
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == p.Attempts {
			break
		}

		delay := p.Backoff(attempt)
		var de *DelayError
		if errors.As(lastErr, &de) && de.After > delay {
			delay = de.After
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return p.Attempts, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
