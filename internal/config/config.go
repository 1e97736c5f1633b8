// Package config defines service configuration and its loading.
//
// Conventions:
// - Keys are flat snake_case so env vars map onto them one to one.
// - New returns defaults; Load layers .env, YAML file and env vars on top.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"time"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// CatalogPath is a YAML or JSON catalog loaded at startup. Empty starts with no catalog.
	CatalogPath string `koanf:"catalog_path"`

	// AI enhancement. An empty key disables the stage.
	AIAPIKey        string `koanf:"ai_api_key"`
	AIBaseURL       string `koanf:"ai_base_url"`
	AIModel         string `koanf:"ai_model"`
	AITimeoutMS     int    `koanf:"ai_timeout_ms"`
	AIMaxRetries    int    `koanf:"ai_max_retries"`
	AIBackoffBaseMS int    `koanf:"ai_backoff_base_ms"`
	AIBackoffMaxMS  int    `koanf:"ai_backoff_max_ms"`
	AIMaxCandidates int    `koanf:"ai_max_candidates"`
	AIMaxTokens     int    `koanf:"ai_max_tokens"`

	// Rate caps of the inference provider.
	RateRPM int `koanf:"rate_rpm"`
	RateTPM int `koanf:"rate_tpm"`

	// Stage thresholds and confidences.
	ExactSKUConfidence   float64 `koanf:"exact_sku_confidence"`
	ExactModelConfidence float64 `koanf:"exact_model_confidence"`
	FuzzyThreshold       float64 `koanf:"fuzzy_threshold"`
	FuzzyBrandBonus      float64 `koanf:"fuzzy_brand_bonus"`
	SpecThreshold        float64 `koanf:"spec_threshold"`
	AIThreshold          float64 `koanf:"ai_threshold"`

	// Batch defaults and scheduler sizing.
	BatchConcurrency     int  `koanf:"batch_concurrency"`
	BatchTimeoutMS       int  `koanf:"batch_timeout_ms"`
	BatchRetryAttempts   int  `koanf:"batch_retry_attempts"`
	BatchRetryBackoffMS  int  `koanf:"batch_retry_backoff_ms"`
	BatchSkipOnError     bool `koanf:"batch_skip_on_error"`
	BatchWorkers         int  `koanf:"batch_workers"`
	BatchQueueSize       int  `koanf:"batch_queue_size"`
	BatchTTLMinutes      int  `koanf:"batch_ttl_minutes"`
	BatchShutdownGraceMS int  `koanf:"batch_shutdown_grace_ms"`

	// Result cache.
	CacheBackend  string `koanf:"cache_backend"`
	CacheSize     int    `koanf:"cache_size"`
	CacheTTLSec   int    `koanf:"cache_ttl_sec"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Web research fallback.
	ResearchEnabled    bool   `koanf:"research_enabled"`
	ResearchBaseURL    string `koanf:"research_base_url"`
	ResearchIntervalMS int    `koanf:"research_interval_ms"`

	// HTTP throttle.
	HTTPRateRPS   float64 `koanf:"http_rate_rps"`
	HTTPRateBurst int     `koanf:"http_rate_burst"`

	// TraceSampleRatio is the fraction of resolutions traced; 0 disables tracing.
	TraceSampleRatio float64 `koanf:"trace_sample_ratio"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":9080",

		AIBaseURL:       "https://api.openai.com/v1",
		AIModel:         "gpt-4o-mini",
		AITimeoutMS:     30_000,
		AIMaxRetries:    3,
		AIBackoffBaseMS: 500,
		AIBackoffMaxMS:  8_000,
		AIMaxCandidates: 25,
		AIMaxTokens:     500,

		RateRPM: 60,
		RateTPM: 90_000,

		ExactSKUConfidence:   0.95,
		ExactModelConfidence: 0.85,
		FuzzyThreshold:       0.6,
		FuzzyBrandBonus:      0.15,
		SpecThreshold:        0.6,
		AIThreshold:          0.6,

		BatchConcurrency:     3,
		BatchTimeoutMS:       60_000,
		BatchRetryAttempts:   2,
		BatchRetryBackoffMS:  250,
		BatchSkipOnError:     true,
		BatchWorkers:         2,
		BatchQueueSize:       1000,
		BatchTTLMinutes:      60,
		BatchShutdownGraceMS: 10_000,

		CacheBackend: CacheMemory,
		CacheSize:    10_000,
		CacheTTLSec:  3600,
		RedisAddr:    "localhost:6379",

		ResearchBaseURL:    "https://html.duckduckgo.com/html/",
		ResearchIntervalMS: 1000,

		HTTPRateRPS:   50,
		HTTPRateBurst: 100,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	for name, v := range map[string]float64{
		"exact_sku_confidence":   c.ExactSKUConfidence,
		"exact_model_confidence": c.ExactModelConfidence,
		"fuzzy_threshold":        c.FuzzyThreshold,
		"fuzzy_brand_bonus":      c.FuzzyBrandBonus,
		"spec_threshold":         c.SpecThreshold,
		"ai_threshold":           c.AIThreshold,
		"trace_sample_ratio":     c.TraceSampleRatio,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", ErrInvalidConfig, name, v)
		}
	}
	if c.RateRPM <= 0 || c.RateTPM <= 0 {
		return fmt.Errorf("%w: rate_rpm and rate_tpm must be positive", ErrInvalidConfig)
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("%w: batch_concurrency must be positive", ErrInvalidConfig)
	}
	switch c.CacheBackend {
	case CacheMemory, CacheRedis, CacheNone:
	default:
		return fmt.Errorf("%w: unknown cache_backend %q", ErrInvalidConfig, c.CacheBackend)
	}
	return nil
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
