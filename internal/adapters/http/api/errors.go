package api

import (
	"errors"
	"net/http"

	"github.com/okian/skumatch/internal/adapters/export"
	"github.com/okian/skumatch/internal/adapters/mq/queue"
	"github.com/okian/skumatch/internal/adapters/mq/scheduler"
	"github.com/okian/skumatch/internal/adapters/repository"
	"github.com/okian/skumatch/internal/domain/matcherr"
	"github.com/okian/skumatch/internal/domain/orchestrator"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrThrottled  = errors.New("too many requests")
	ErrStreaming  = errors.New("streaming unsupported")
)

// classify maps an error to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, repository.ErrEmptyCatalog):
		return http.StatusBadRequest, "bad_request"
	case matcherr.KindOf(err) == matcherr.ValidationFailed:
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, scheduler.ErrJobFinished), errors.Is(err, scheduler.ErrJobActive):
		return http.StatusConflict, "conflict"
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests, "queue_full"
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests, "throttled"
	case errors.Is(err, orchestrator.ErrNoCatalog):
		return http.StatusServiceUnavailable, "no_catalog"
	case errors.Is(err, scheduler.ErrShuttingDown), errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case matcherr.KindOf(err) == matcherr.Timeout:
		return http.StatusGatewayTimeout, "timeout"
	case matcherr.KindOf(err) == matcherr.AIError:
		return http.StatusBadGateway, "ai_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
