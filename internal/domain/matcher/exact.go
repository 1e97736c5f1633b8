// Package matcher implements the deterministic matching stages (exact, fuzzy,
// specification) and declares the research fallback contract.
package matcher

import (
	"fmt"

	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/internal/domain/normalize"
)

// Default exact-stage confidences.
const (
	DefaultExactSKUConfidence   = 0.95
	DefaultExactModelConfidence = 0.85
)

// ExactMatcher compares normalized SKUs, then normalized models.
type ExactMatcher struct {
	skuConfidence   float64
	modelConfidence float64
}

// ExactOption configures an ExactMatcher.
type ExactOption func(*ExactMatcher)

// WithExactConfidences overrides the SKU and model confidences.
func WithExactConfidences(sku, modelConf float64) ExactOption {
	return func(m *ExactMatcher) {
		if sku > 0 && sku <= 1 {
			m.skuConfidence = sku
		}
		if modelConf > 0 && modelConf <= 1 {
			m.modelConfidence = modelConf
		}
	}
}

// NewExactMatcher creates an ExactMatcher.
func NewExactMatcher(opts ...ExactOption) *ExactMatcher {
	m := &ExactMatcher{
		skuConfidence:   DefaultExactSKUConfidence,
		modelConfidence: DefaultExactModelConfidence,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns the first exact hit in catalog order, or nil. A SKU hit anywhere in the
// catalog beats a model hit.
func (m *ExactMatcher) Match(c model.CompetitorProduct, catalog []model.CatalogProduct) *model.MatchCandidate {
	if sku := normalize.Normalize(c.SKU); sku != "" {
		for i := range catalog {
			if normalize.Normalize(catalog[i].SKU) == sku {
				return &model.MatchCandidate{
					OurSKU:     catalog[i].SKU,
					Confidence: m.skuConfidence,
					Method:     model.MethodExactSKU,
					Reasoning:  []string{fmt.Sprintf("Exact SKU match: %s", catalog[i].SKU)},
					Product:    &catalog[i],
				}
			}
		}
	}

	if mdl := normalize.Normalize(c.Model); mdl != "" {
		for i := range catalog {
			if normalize.Normalize(catalog[i].Model) == mdl {
				return &model.MatchCandidate{
					OurSKU:     catalog[i].SKU,
					Confidence: m.modelConfidence,
					Method:     model.MethodExactModel,
					Reasoning:  []string{fmt.Sprintf("Exact model match: %s", catalog[i].Model)},
					Product:    &catalog[i],
				}
			}
		}
	}
	return nil
}
