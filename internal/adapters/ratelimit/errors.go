package ratelimit

import "errors"

// Sentinel errors for the rate limiter.
var (
	ErrWaitAborted = errors.New("rate limit wait aborted")
)
