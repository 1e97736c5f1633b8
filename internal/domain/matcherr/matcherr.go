// Package matcherr defines the error taxonomy shared by the matching engine,
// the inference adapter and the batch scheduler.
package matcherr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

// Error kinds.
const (
	ValidationFailed  Kind = "ValidationFailed"
	AIError           Kind = "AIError"
	Timeout           Kind = "Timeout"
	RateLimitExceeded Kind = "RateLimitExceeded"
	Unknown           Kind = "Unknown"
)

// Error carries a Kind plus retry semantics.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Retryable reports whether repeating the operation may succeed.
	Retryable bool
	// Fatal errors abort the current resolution instead of falling through to the next stage.
	Fatal bool
	// StatusCode is the upstream HTTP status when known.
	StatusCode int
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// New builds an error of kind k.
func New(op string, k Kind, msg string) *Error {
	return &Error{Kind: k, Op: op, Err: errors.New(msg), Retryable: defaultRetryable(k)}
}

// Wrap attaches kind k to err. A nil err yields nil.
func Wrap(op string, k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err, Retryable: defaultRetryable(k)}
}

// Validation builds a ValidationFailed error.
func Validation(op string, format string, args ...any) *Error {
	return &Error{Kind: ValidationFailed, Op: op, Err: fmt.Errorf(format, args...)}
}

// AIFailure builds an AIError for an upstream HTTP status. 401 and 403 are fatal,
// 408, 429 and 5xx are retryable.
func AIFailure(op string, status int, err error) *Error {
	e := &Error{Kind: AIError, Op: op, Err: err, StatusCode: status}
	switch {
	case status == 401 || status == 403:
		e.Fatal = true
	case status == 408 || status == 429 || status >= 500:
		e.Retryable = true
	case status == 0:
		// transport failure
		e.Retryable = true
	}
	return e
}

// TimeoutAfter builds a retryable Timeout error.
func TimeoutAfter(op string, err error) *Error {
	return &Error{Kind: Timeout, Op: op, Err: err, Retryable: true}
}

func defaultRetryable(k Kind) bool {
	switch k {
	case Timeout, RateLimitExceeded:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind of err. Context deadline errors report Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Unknown
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable && !e.Fatal
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err must propagate instead of being recovered locally.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Fatal
}
