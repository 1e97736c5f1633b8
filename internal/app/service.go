// Package service wires the matching engine, the catalog and the batch scheduler
// into the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/skumatch/internal/adapters/ai"
	"github.com/okian/skumatch/internal/adapters/cache"
	"github.com/okian/skumatch/internal/adapters/mq/scheduler"
	"github.com/okian/skumatch/internal/adapters/mq/worker"
	"github.com/okian/skumatch/internal/adapters/ratelimit"
	"github.com/okian/skumatch/internal/adapters/repository"
	"github.com/okian/skumatch/internal/adapters/research"
	"github.com/okian/skumatch/internal/config"
	"github.com/okian/skumatch/internal/domain/matcher"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/internal/domain/orchestrator"
	"github.com/okian/skumatch/pkg/logger"
	"github.com/okian/skumatch/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const redisPingTimeout = 3 * time.Second

// ErrNotStarted is returned by operations that need a started service.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for the matching engine.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	catalog   *repository.MemoryStore
	limiter   *ratelimit.RateLimiter
	cache     cache.Cache
	engine    *orchestrator.Orchestrator
	scheduler *scheduler.Scheduler

	// Injected collaborators; built from cfg when nil
	completer  ai.Completer
	research   matcher.ResearchFallback
	redis      *redis.Client
	httpClient *http.Client
	tracer     trace.TracerProvider

	aiConfigured bool
	closers      []func() error
	started      bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCompleter replaces the inference client built from the AI settings.
func WithCompleter(c ai.Completer) Option {
	return func(s *Service) {
		s.completer = c
	}
}

// WithResearch replaces the DuckDuckGo research fallback.
func WithResearch(r matcher.ResearchFallback) Option {
	return func(s *Service) {
		s.research = r
	}
}

// WithRedisClient supplies the client used when cache_backend is redis.
func WithRedisClient(c *redis.Client) Option {
	return func(s *Service) {
		s.redis = c
	}
}

// WithHTTPClient sets the client used for outbound inference and research calls.
func WithHTTPClient(h *http.Client) Option {
	return func(s *Service) {
		s.httpClient = h
	}
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp
	}
}

// New constructs a Service from cfg. A nil cfg uses defaults.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and starts the batch workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting match service...")

	store, err := repository.NewMemoryStore(ctx, repository.WithLogger(s.logger.Named("catalog")))
	if err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}
	if cfg.CatalogPath != "" {
		products, err := repository.LoadFile(cfg.CatalogPath)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		if _, err := store.Replace(ctx, products); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}
	s.catalog = store

	s.limiter = ratelimit.New(
		ratelimit.WithRequestsPerMinute(cfg.RateRPM),
		ratelimit.WithTokensPerMinute(cfg.RateTPM),
		ratelimit.WithLogger(s.logger.Named("ratelimit")),
	)

	exact := matcher.NewExactMatcher(matcher.WithExactConfidences(cfg.ExactSKUConfidence, cfg.ExactModelConfidence))
	fuzzy := matcher.NewFuzzyMatcher(matcher.WithFuzzyThreshold(cfg.FuzzyThreshold), matcher.WithBrandBonus(cfg.FuzzyBrandBonus))
	spec := matcher.NewSpecificationMatcher(matcher.WithSpecThreshold(cfg.SpecThreshold))

	engineOpts := []orchestrator.Option{
		orchestrator.WithExactMatcher(exact),
		orchestrator.WithFuzzyMatcher(fuzzy),
		orchestrator.WithSpecificationMatcher(spec),
		orchestrator.WithLogger(s.logger.Named("orchestrator")),
		orchestrator.WithTracerProvider(s.tracer),
	}

	completer, err := s.buildCompleter()
	if err != nil {
		return err
	}
	if completer != nil {
		s.aiConfigured = true
		engineOpts = append(engineOpts, orchestrator.WithEnhancer(ai.NewEnhancer(completer,
			ai.WithThreshold(cfg.AIThreshold),
			ai.WithMaxCandidates(cfg.AIMaxCandidates),
			ai.WithRankers(fuzzy, spec),
			ai.WithEnhancerLogger(s.logger.Named("ai-enhancer")),
		)))
	}

	if rf := s.buildResearch(); rf != nil {
		engineOpts = append(engineOpts, orchestrator.WithResearch(rf))
	}

	s.cache = s.buildCache(ctx)
	if s.cache != nil {
		engineOpts = append(engineOpts, orchestrator.WithCache(s.cache, cache.Key))
	}

	s.engine = orchestrator.New(engineOpts...)

	skip, retries := cfg.BatchSkipOnError, cfg.BatchRetryAttempts
	backoff := config.Millis(cfg.BatchRetryBackoffMS)
	s.scheduler = scheduler.New(s.engine, s.catalog,
		scheduler.WithWorkers(cfg.BatchWorkers),
		scheduler.WithQueueCapacity(cfg.BatchQueueSize),
		scheduler.WithDefaults(model.BatchOptions{
			Concurrency:   cfg.BatchConcurrency,
			TimeoutMs:     cfg.BatchTimeoutMS,
			RetryAttempts: &retries,
			SkipOnError:   &skip,
		}),
		scheduler.WithTTL(time.Duration(cfg.BatchTTLMinutes)*time.Minute),
		scheduler.WithShutdownGrace(config.Millis(cfg.BatchShutdownGraceMS)),
		scheduler.WithRunnerOptions(worker.WithBackoff(backoff, 20*backoff)),
		scheduler.WithLogger(s.logger.Named("scheduler")),
	)
	// Shutdown owns the workers' lifetime, not the caller's context.
	s.scheduler.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "match service started",
		logger.Int("catalog_size", s.catalog.Count(ctx)),
		logger.Bool("ai_configured", s.aiConfigured),
		logger.Bool("research_enabled", s.research != nil),
		logger.String("cache_backend", cfg.CacheBackend),
		logger.Int("batch_workers", cfg.BatchWorkers),
	)
	return nil
}

func (s *Service) buildCompleter() (ai.Completer, error) {
	if s.completer != nil {
		return s.completer, nil
	}
	cfg := s.cfg
	client, err := ai.NewClient(cfg.AIAPIKey,
		ai.WithBaseURL(cfg.AIBaseURL),
		ai.WithModel(cfg.AIModel),
		ai.WithMaxTokens(cfg.AIMaxTokens),
		ai.WithTimeout(config.Millis(cfg.AITimeoutMS)),
		ai.WithRetry(cfg.AIMaxRetries, config.Millis(cfg.AIBackoffBaseMS), config.Millis(cfg.AIBackoffMaxMS)),
		ai.WithLimiter(s.limiter),
		ai.WithHTTPClient(s.httpClient),
		ai.WithLogger(s.logger.Named("ai")),
		ai.WithTracerProvider(s.tracer),
	)
	if errors.Is(err, ai.ErrNotConfigured) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create inference client: %w", err)
	}
	return client, nil
}

func (s *Service) buildResearch() matcher.ResearchFallback {
	if s.research != nil {
		return s.research
	}
	if !s.cfg.ResearchEnabled {
		return nil
	}
	s.research = research.NewDuckDuckGo(
		research.WithBaseURL(s.cfg.ResearchBaseURL),
		research.WithInterval(config.Millis(s.cfg.ResearchIntervalMS)),
		research.WithHTTPClient(s.httpClient),
		research.WithLogger(s.logger.Named("research")),
	)
	return s.research
}

// buildCache returns nil when caching is disabled or Redis is unreachable.
func (s *Service) buildCache(ctx context.Context) cache.Cache {
	cfg := s.cfg
	ttl := time.Duration(cfg.CacheTTLSec) * time.Second
	switch cfg.CacheBackend {
	case config.CacheNone:
		return nil
	case config.CacheRedis:
		client := s.redis
		if client == nil {
			client = cache.NewRedisClient(cache.RedisConfig{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
		}
		rc := cache.NewRedis(client, cache.WithRedisTTL(ttl))
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := rc.Ping(pingCtx); err != nil {
			s.logger.Warn(ctx, "redis unreachable; result cache disabled",
				logger.String("addr", cfg.RedisAddr), logger.Error(err))
			metrics.RecordErrorByComponent("cache", "redis_unreachable")
			_ = rc.Close()
			return nil
		}
		s.closers = append(s.closers, rc.Close)
		return rc
	default:
		return cache.NewMemory(cache.WithMaxSize(cfg.CacheSize), cache.WithTTL(ttl))
	}
}

// Stop cancels pending batches, waits for running ones within the grace period and
// releases external connections.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping match service...")

	var errs []error
	if err := s.scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil

	s.started = false
	s.logger.Info(ctx, "match service stopped")
	return errors.Join(errs...)
}

func (s *Service) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Match resolves one competitor product against the current catalog.
func (s *Service) Match(ctx context.Context, c model.CompetitorProduct) (*model.StandardizedMatchResult, error) {
	if !s.running() {
		return nil, ErrNotStarted
	}
	return s.engine.Resolve(ctx, c, s.catalog.Snapshot(ctx))
}

// SubmitBatch queues a batch.
func (s *Service) SubmitBatch(ctx context.Context, items []model.BatchItem, opts model.BatchOptions) (model.BatchJob, error) {
	if !s.running() {
		return model.BatchJob{}, ErrNotStarted
	}
	return s.scheduler.Submit(ctx, items, opts)
}

// Batch returns one batch job.
func (s *Service) Batch(_ context.Context, id string) (model.BatchJob, error) {
	return s.scheduler.Get(id)
}

// Batches returns every retained batch job.
func (s *Service) Batches(_ context.Context) []model.BatchJob {
	return s.scheduler.List()
}

// CancelBatch cancels an active job.
func (s *Service) CancelBatch(_ context.Context, id string) (model.BatchJob, error) {
	return s.scheduler.Cancel(id)
}

// DeleteBatch removes a finished job.
func (s *Service) DeleteBatch(_ context.Context, id string) error {
	return s.scheduler.Delete(id)
}

// SubscribeBatches streams batch events until the returned function is called.
func (s *Service) SubscribeBatches() (<-chan scheduler.Event, func()) {
	return s.scheduler.Subscribe()
}

// Catalog describes the loaded catalog.
func (s *Service) Catalog(ctx context.Context) model.CatalogInfo {
	return s.catalog.Snapshot(ctx).Info()
}

// ReplaceCatalog swaps the catalog. Cached results keyed on the old version stop
// matching because the version is part of the cache key.
func (s *Service) ReplaceCatalog(ctx context.Context, products []model.CatalogProduct) (model.CatalogInfo, error) {
	version, err := s.catalog.Replace(ctx, products)
	if err != nil {
		return model.CatalogInfo{}, err
	}
	return model.CatalogInfo{Count: len(products), Version: version}, nil
}

// RateLimit reports the inference rate window.
func (s *Service) RateLimit() ratelimit.Status {
	return s.limiter.Status()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":         s.started,
		"aiConfigured":    s.aiConfigured,
		"researchEnabled": s.research != nil,
		"cacheBackend":    s.cfg.CacheBackend,
	}

	if s.started {
		info := s.Catalog(ctx)
		batches := s.scheduler.Stats()
		stats["catalogSize"] = info.Count
		stats["catalogVersion"] = info.Version
		stats["batches"] = batches
		stats["rateLimit"] = s.limiter.Status()
		if s.cache != nil {
			size := int(s.cache.Len(ctx))
			stats["cacheSize"] = size
			metrics.UpdateCacheSize(size)
		}

		metrics.UpdateQueueSize(batches.QueueLength)
		metrics.UpdateWorkerCount(batches.Workers)
	}

	return stats
}
