// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/skumatch/internal/adapters/mq/scheduler"
	"github.com/okian/skumatch/internal/adapters/ratelimit"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
	"golang.org/x/time/rate"
)

// maxBodyBytes bounds request bodies; a batch of a few thousand items fits.
const maxBodyBytes = 10 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Match resolves a single competitor product synchronously.
	Match(ctx context.Context, c model.CompetitorProduct) (*model.StandardizedMatchResult, error)

	// Batch operations delegate to the scheduler.
	SubmitBatch(ctx context.Context, items []model.BatchItem, opts model.BatchOptions) (model.BatchJob, error)
	Batch(ctx context.Context, id string) (model.BatchJob, error)
	Batches(ctx context.Context) []model.BatchJob
	CancelBatch(ctx context.Context, id string) (model.BatchJob, error)
	DeleteBatch(ctx context.Context, id string) error
	SubscribeBatches() (<-chan scheduler.Event, func())

	// Catalog operations.
	Catalog(ctx context.Context) model.CatalogInfo
	ReplaceCatalog(ctx context.Context, products []model.CatalogProduct) (model.CatalogInfo, error)

	// RateLimit reports the inference rate window.
	RateLimit() ratelimit.Status
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps          Dependencies
	statsProvider StatsProvider
	limiter       *rate.Limiter
	heartbeat     time.Duration
	log           logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithThrottle limits requests per second across throttled routes. Non-positive
// rates disable throttling.
func WithThrottle(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithHeartbeat sets how often idle event streams are pinged and re-checked.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{deps: deps, statsProvider: statsProvider, heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("api")
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	// Operational endpoints are never throttled.
	mux.HandleFunc("GET /healthz", MetricsMiddleware(handleHealth, "healthz"))
	mux.Handle("GET /metrics", metricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.handleStats, "stats"))
	mux.HandleFunc("GET /ratelimit", MetricsMiddleware(s.handleRateLimit, "ratelimit"))

	s.route(mux, "POST /match", "match", s.handleMatch)
	s.route(mux, "POST /batches", "batches", s.handleSubmitBatch)
	s.route(mux, "GET /batches", "batches", s.handleListBatches)
	s.route(mux, "GET /batches/{id}", "batch", s.handleGetBatch)
	s.route(mux, "DELETE /batches/{id}", "batch", s.handleDeleteBatch)
	s.route(mux, "GET /batches/{id}/export", "batch_export", s.handleExport)
	s.route(mux, "GET /batches/{id}/events", "batch_events", s.handleBatchEvents)
	s.route(mux, "GET /catalog", "catalog", s.handleGetCatalog)
	s.route(mux, "PUT /catalog", "catalog", s.handlePutCatalog)
}

func (s *Server) route(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, MetricsMiddleware(Throttle(s.limiter, endpoint, h), endpoint))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail classifies err and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			logger.String("op", op),
			logger.Int("status", status),
			logger.Error(err))
	}
	writeError(w, status, code, err)
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrBadRequest)
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
