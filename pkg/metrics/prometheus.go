// Package metrics provides Prometheus metrics for the skumatch matching service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the matching service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Matching - what the engine resolved and how fast
	matchesTotal       *prometheus.CounterVec
	matchConfidence    *prometheus.HistogramVec
	matchLatency       prometheus.Histogram
	stageAttempts      *prometheus.CounterVec
	stageLatency       *prometheus.HistogramVec
	validationFailures prometheus.Counter

	// Cache
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	cacheSize   prometheus.Gauge

	// AI inference and rate limiting
	aiCalls                 *prometheus.CounterVec
	aiRetries               prometheus.Counter
	aiTokens                prometheus.Counter
	aiLatency               prometheus.Histogram
	rateLimitWaits          prometheus.Counter
	rateLimitWaitTime       prometheus.Histogram
	rateLimitRequestsRemain prometheus.Gauge
	rateLimitTokensRemain   prometheus.Gauge

	// Research fallback
	researchRequests *prometheus.CounterVec

	// Catalog
	catalogSize    prometheus.Gauge
	catalogReloads prometheus.Counter

	// Batch jobs
	batchJobs        *prometheus.CounterVec
	batchJobsActive  prometheus.Gauge
	batchItems       *prometheus.CounterVec
	batchItemRetries prometheus.Counter
	batchItemLatency prometheus.Histogram

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpThrottled       *prometheus.CounterVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "skumatch",
		subsystem:        "engine",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	confidenceBuckets := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1}

	m.matchesTotal = m.counterVec("matches_total", "Resolutions by final stage and method", "stage", "method")
	m.matchConfidence = m.histogramVec("match_confidence", "Confidence of resolutions by final stage",
		confidenceBuckets, "stage")
	m.matchLatency = m.histogram("match_latency_milliseconds", "End-to-end resolution latency in milliseconds",
		m.histogramBuckets)
	m.stageAttempts = m.counterVec("stage_attempts_total", "Stage attempts by outcome", "stage", "outcome")
	m.stageLatency = m.histogramVec("stage_latency_milliseconds", "Stage attempt latency in milliseconds",
		m.histogramBuckets, "stage")
	m.validationFailures = m.counter("validation_failures_total", "Competitor records rejected by validation")

	m.cacheHits = m.counter("cache_hits_total", "Result cache hits")
	m.cacheMisses = m.counter("cache_misses_total", "Result cache misses")
	m.cacheSize = m.gauge("cache_size", "Entries held by the in-memory result cache")

	m.aiCalls = m.counterVec("ai_calls_total", "Inference calls by outcome", "outcome")
	m.aiRetries = m.counter("ai_retries_total", "Inference call retries")
	m.aiTokens = m.counter("ai_tokens_total", "Tokens consumed by inference calls")
	m.aiLatency = m.histogram("ai_latency_milliseconds", "Inference call latency in milliseconds", m.histogramBuckets)
	m.rateLimitWaits = m.counter("ratelimit_waits_total", "Requests that had to wait for the rate window")
	m.rateLimitWaitTime = m.histogram("ratelimit_wait_milliseconds", "Time spent waiting for the rate window",
		m.histogramBuckets)
	m.rateLimitRequestsRemain = m.gauge("ratelimit_requests_remaining", "Requests left in the current window")
	m.rateLimitTokensRemain = m.gauge("ratelimit_tokens_remaining", "Tokens left in the current window")

	m.researchRequests = m.counterVec("research_requests_total", "Research fallback lookups by outcome", "outcome")

	m.catalogSize = m.gauge("catalog_size", "Number of catalog products loaded")
	m.catalogReloads = m.counter("catalog_reloads_total", "Catalog replacements")

	m.batchJobs = m.counterVec("batch_jobs_total", "Batch jobs by terminal or queued status", "status")
	m.batchJobsActive = m.gauge("batch_jobs_active", "Batch jobs currently running")
	m.batchItems = m.counterVec("batch_items_total", "Batch items processed by outcome", "outcome")
	m.batchItemRetries = m.counter("batch_item_retries_total", "Batch item retries")
	m.batchItemLatency = m.histogram("batch_item_latency_milliseconds", "Batch item latency including retries",
		m.histogramBuckets)

	m.queueSize = m.gauge("queue_size", "Pending batch jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum pending batch jobs")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Pending jobs over capacity")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Jobs enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Jobs rejected by a full or closed queue")

	m.workerCount = m.gauge("worker_count", "Configured batch job workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently running a job")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Job run time in milliseconds",
		m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Jobs that ended with an error")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		m.histogramBuckets, "endpoint", "method", "status_code")
	m.httpThrottled = m.counterVec("http_throttled_total", "Requests rejected by the throttle", "endpoint")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and kind",
		"component", "kind")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by HTTP endpoint",
		"endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordMatch counts a finished resolution and observes its confidence.
func RecordMatch(stage, method string, confidence float64) {
	if method == "" {
		method = "none"
	}
	globalManager.matchesTotal.WithLabelValues(stage, method).Inc()
	globalManager.matchConfidence.WithLabelValues(stage).Observe(confidence)
}

// RecordMatchLatency records end-to-end resolution latency in milliseconds.
func RecordMatchLatency(latencyMs float64) {
	globalManager.matchLatency.Observe(latencyMs)
}

// RecordStageAttempt counts one stage attempt; outcome is accepted, continue, skipped or error.
func RecordStageAttempt(stage, outcome string, latencyMs float64) {
	globalManager.stageAttempts.WithLabelValues(stage, outcome).Inc()
	globalManager.stageLatency.WithLabelValues(stage).Observe(latencyMs)
}

// RecordValidationFailure increments the validation failures counter.
func RecordValidationFailure() {
	globalManager.validationFailures.Inc()
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	globalManager.cacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	globalManager.cacheMisses.Inc()
}

// UpdateCacheSize sets the in-memory cache size.
func UpdateCacheSize(size int) {
	globalManager.cacheSize.Set(float64(size))
}

// RecordAICall counts an inference call by outcome (ok, error, fatal, invalid_response).
func RecordAICall(outcome string, latencyMs float64) {
	globalManager.aiCalls.WithLabelValues(outcome).Inc()
	globalManager.aiLatency.Observe(latencyMs)
}

// RecordAIRetry increments the inference retry counter.
func RecordAIRetry() {
	globalManager.aiRetries.Inc()
}

// RecordAITokens adds consumed tokens.
func RecordAITokens(tokens int) {
	if tokens > 0 {
		globalManager.aiTokens.Add(float64(tokens))
	}
}

// RecordRateLimitWait records a wait imposed by the rate limiter.
func RecordRateLimitWait(waitMs float64) {
	globalManager.rateLimitWaits.Inc()
	globalManager.rateLimitWaitTime.Observe(waitMs)
}

// UpdateRateLimitRemaining sets the remaining request and token budget of the window.
func UpdateRateLimitRemaining(requests, tokens int) {
	globalManager.rateLimitRequestsRemain.Set(float64(requests))
	globalManager.rateLimitTokensRemain.Set(float64(tokens))
}

// RecordResearchRequest counts a research lookup by outcome (hit, miss, error).
func RecordResearchRequest(outcome string) {
	globalManager.researchRequests.WithLabelValues(outcome).Inc()
}

// UpdateCatalogSize sets the catalog size.
func UpdateCatalogSize(count int) {
	globalManager.catalogSize.Set(float64(count))
}

// RecordCatalogReload increments the catalog reload counter.
func RecordCatalogReload() {
	globalManager.catalogReloads.Inc()
}

// RecordBatchJob counts a job status change.
func RecordBatchJob(status string) {
	globalManager.batchJobs.WithLabelValues(status).Inc()
}

// UpdateBatchJobsActive sets the number of running jobs.
func UpdateBatchJobsActive(count int) {
	globalManager.batchJobsActive.Set(float64(count))
}

// RecordBatchItem counts a finished item by outcome (success, failed) and its latency.
func RecordBatchItem(outcome string, latencyMs float64) {
	globalManager.batchItems.WithLabelValues(outcome).Inc()
	globalManager.batchItemLatency.Observe(latencyMs)
}

// RecordBatchItemRetry increments the item retry counter.
func RecordBatchItemRetry() {
	globalManager.batchItemRetries.Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records how long a worker spent on a job.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPThrottled counts a request rejected by the throttle middleware.
func RecordHTTPThrottled(endpoint string) {
	globalManager.httpThrottled.WithLabelValues(endpoint).Inc()
}

// RecordErrorByComponent records errors by component and error kind.
func RecordErrorByComponent(component, kind string) {
	globalManager.errorRateByComponent.WithLabelValues(component, kind).Inc()
}

// RecordErrorByEndpoint records errors by HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
