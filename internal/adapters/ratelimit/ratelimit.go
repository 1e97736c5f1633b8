// Package ratelimit guards the inference service with a sliding window of
// request and token budgets. Callers over budget wait; they are never dropped.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/skumatch/pkg/logger"
	"github.com/okian/skumatch/pkg/metrics"
)

// Defaults for the window and both caps.
const (
	DefaultWindow            = time.Minute
	DefaultRequestsPerMinute = 60
	DefaultTokensPerMinute   = 90000
)

type entry struct {
	id     uint64
	at     time.Time
	tokens int
	// open marks a reservation whose real usage has not been recorded yet
	open bool
}

// SettleFunc records the real token usage of the call a reservation was made for.
// Calls after the first are ignored.
type SettleFunc func(actualTokens int)

// Status is a snapshot of the window. Values are recomputed on every call.
type Status struct {
	RequestsUsed      int           `json:"requestsUsed"`
	RequestsRemaining int           `json:"requestsRemaining"`
	TokensUsed        int           `json:"tokensUsed"`
	TokensRemaining   int           `json:"tokensRemaining"`
	RequestsPending   int           `json:"requestsPending"`
	RequestsPerMinute int           `json:"requestsPerMinute"`
	TokensPerMinute   int           `json:"tokensPerMinute"`
	ResetIn           time.Duration `json:"-"`
	ResetInMs         int64         `json:"resetInMs"`
}

// RateLimiter tracks (timestamp, tokens) entries over a trailing window. It is safe
// for concurrent use and meant to be shared by every caller of one inference service.
type RateLimiter struct {
	mu          sync.Mutex
	entries     []entry
	nextID      uint64
	maxRequests int
	maxTokens   int
	window      time.Duration
	now         func() time.Time
	log         logger.Logger
}

// New creates a RateLimiter.
func New(opts ...Option) *RateLimiter {
	l := &RateLimiter{
		maxRequests: DefaultRequestsPerMinute,
		maxTokens:   DefaultTokensPerMinute,
		window:      DefaultWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Get().Named("ratelimit")
	}
	return l
}

// CanMakeRequest prunes expired entries and reports whether a call estimated at
// estimatedTokens fits both caps right now.
func (l *RateLimiter) CanMakeRequest(estimatedTokens int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	return l.fits(estimatedTokens)
}

// WaitIfNeeded blocks until a call estimated at estimatedTokens fits the window, then
// reserves it. The returned SettleFunc replaces the estimate with the call's real
// usage and must be called once the call finishes. It returns early only when ctx
// is done.
func (l *RateLimiter) WaitIfNeeded(ctx context.Context, estimatedTokens int) (SettleFunc, error) {
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}
	start := time.Now()
	waited := false

	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if l.fits(estimatedTokens) {
			l.nextID++
			id := l.nextID
			l.entries = append(l.entries, entry{id: id, at: now, tokens: estimatedTokens, open: true})
			reqLeft, tokLeft := l.remaining()
			l.mu.Unlock()

			metrics.UpdateRateLimitRemaining(reqLeft, tokLeft)
			if waited {
				elapsed := time.Since(start)
				metrics.RecordRateLimitWait(float64(elapsed.Milliseconds()))
				l.log.Debug(ctx, "rate window freed", logger.Duration("waited", elapsed))
			}
			var once sync.Once
			return func(actualTokens int) {
				once.Do(func() { l.settle(id, actualTokens) })
			}, nil
		}
		delay := l.nextFree(now, estimatedTokens)
		l.mu.Unlock()

		if !waited {
			l.log.Info(ctx, "rate limit reached, waiting for window",
				logger.Duration("delay", delay),
				logger.Int("estimatedTokens", estimatedTokens))
		}
		waited = true

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrWaitAborted, ctx.Err())
		case <-timer.C:
		}
	}
}

// RecordRequest records a call that was made without a reservation.
func (l *RateLimiter) RecordRequest(actualTokens int) {
	l.mu.Lock()
	now := l.now()
	l.prune(now)
	l.entries = append(l.entries, entry{at: now, tokens: max(actualTokens, 0)})
	reqLeft, tokLeft := l.remaining()
	l.mu.Unlock()

	metrics.UpdateRateLimitRemaining(reqLeft, tokLeft)
}

// settle replaces the estimate of reservation id with real usage. A reservation
// that already left the window no longer counts and is not re-added.
func (l *RateLimiter) settle(id uint64, actualTokens int) {
	l.mu.Lock()
	l.prune(l.now())
	for i := range l.entries {
		if l.entries[i].id == id && l.entries[i].open {
			l.entries[i].tokens = max(actualTokens, 0)
			l.entries[i].open = false
			break
		}
	}
	reqLeft, tokLeft := l.remaining()
	l.mu.Unlock()

	metrics.UpdateRateLimitRemaining(reqLeft, tokLeft)
}

// Status returns the current window usage.
func (l *RateLimiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)

	reqLeft, tokLeft := l.remaining()
	var reset time.Duration
	if len(l.entries) > 0 {
		reset = l.entries[0].at.Add(l.window).Sub(now)
	}
	return Status{
		RequestsUsed:      len(l.entries),
		RequestsRemaining: reqLeft,
		RequestsPending:   l.pending(),
		TokensUsed:        l.usedTokens(),
		TokensRemaining:   tokLeft,
		RequestsPerMinute: l.maxRequests,
		TokensPerMinute:   l.maxTokens,
		ResetIn:           reset,
		ResetInMs:         reset.Milliseconds(),
	}
}

// prune drops entries that left the window. Entries are kept in time order.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.entries) && !l.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.entries = append(l.entries[:0], l.entries[i:]...)
	}
}

// fits reports whether one more call of est tokens stays within both caps. A single
// call larger than the token cap is admitted once the window holds no tokens.
func (l *RateLimiter) fits(est int) bool {
	if len(l.entries) >= l.maxRequests {
		return false
	}
	used := l.usedTokens()
	if est > l.maxTokens {
		return used == 0
	}
	return used+est <= l.maxTokens
}

// nextFree returns how long until enough entries expire for est to fit.
func (l *RateLimiter) nextFree(now time.Time, est int) time.Duration {
	used := l.usedTokens()
	need := min(est, l.maxTokens)
	for i, e := range l.entries {
		used -= e.tokens
		requestsAfter := len(l.entries) - (i + 1)
		if requestsAfter < l.maxRequests && used+need <= l.maxTokens {
			if d := e.at.Add(l.window).Sub(now); d > 0 {
				return d + time.Millisecond
			}
			return time.Millisecond
		}
	}
	return l.window
}

func (l *RateLimiter) usedTokens() int {
	total := 0
	for _, e := range l.entries {
		total += e.tokens
	}
	return total
}

func (l *RateLimiter) pending() int {
	n := 0
	for _, e := range l.entries {
		if e.open {
			n++
		}
	}
	return n
}

func (l *RateLimiter) remaining() (int, int) {
	return max(0, l.maxRequests-len(l.entries)), max(0, l.maxTokens-l.usedTokens())
}
