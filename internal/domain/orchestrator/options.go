package orchestrator

import (
	"time"

	"github.com/okian/skumatch/internal/domain/matcher"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
	"go.opentelemetry.io/otel/trace"
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithExactMatcher sets the stage 1 matcher.
func WithExactMatcher(m *matcher.ExactMatcher) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.exact = m
		}
	}
}

// WithFuzzyMatcher sets the stage 2 matcher.
func WithFuzzyMatcher(m *matcher.FuzzyMatcher) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.fuzzy = m
		}
	}
}

// WithSpecificationMatcher sets the stage 3 matcher.
func WithSpecificationMatcher(m *matcher.SpecificationMatcher) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.spec = m
		}
	}
}

// WithEnhancer sets the AI stage. Without one the stage is skipped.
func WithEnhancer(e matcher.Enhancer) Option {
	return func(o *Orchestrator) {
		o.ai = e
	}
}

// WithResearch sets the last-resort research stage.
func WithResearch(r matcher.ResearchFallback) Option {
	return func(o *Orchestrator) {
		o.research = r
	}
}

// WithCache enables result caching. key derives the cache key from the competitor
// and the catalog version.
func WithCache(c Cache, key KeyFunc) Option {
	return func(o *Orchestrator) {
		if c != nil && key != nil {
			o.cache = c
			o.key = key
		}
	}
}

// WithLowConfidence sets the confidence below which a match is flagged.
func WithLowConfidence(v float64) Option {
	return func(o *Orchestrator) {
		if v > 0 && v <= 1 {
			o.lowConfidence = v
		}
	}
}

// WithSource sets metadata.source on fresh results.
func WithSource(s string) Option {
	return func(o *Orchestrator) {
		if s != "" {
			o.source = s
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTracerProvider sets the tracer provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// KeyFunc derives a cache key.
type KeyFunc func(c model.CompetitorProduct, catalogVersion string) string
