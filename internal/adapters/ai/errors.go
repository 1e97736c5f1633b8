package ai

import "errors"

// Sentinel errors for the inference adapter.
var (
	ErrNotConfigured   = errors.New("inference client not configured")
	ErrEmptyCompletion = errors.New("completion has no choices")
	ErrInvalidResponse = errors.New("inference response failed validation")
)
