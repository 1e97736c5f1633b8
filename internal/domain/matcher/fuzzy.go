package matcher

import (
	"fmt"
	"sort"

	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/internal/domain/normalize"
	"github.com/okian/skumatch/internal/domain/scoring"
)

// Default fuzzy-stage parameters.
const (
	DefaultFuzzyThreshold = 0.6
	DefaultBrandBonus     = 0.15
)

// FuzzyMatcher scores string similarity of model/SKU plus a brand bonus.
type FuzzyMatcher struct {
	threshold  float64
	brandBonus float64
}

// FuzzyOption configures a FuzzyMatcher.
type FuzzyOption func(*FuzzyMatcher)

// WithFuzzyThreshold sets the acceptance threshold.
func WithFuzzyThreshold(t float64) FuzzyOption {
	return func(m *FuzzyMatcher) {
		if t > 0 && t <= 1 {
			m.threshold = t
		}
	}
}

// WithBrandBonus sets the bonus added when brands match.
func WithBrandBonus(b float64) FuzzyOption {
	return func(m *FuzzyMatcher) {
		if b >= 0 && b <= 1 {
			m.brandBonus = b
		}
	}
}

// NewFuzzyMatcher creates a FuzzyMatcher.
func NewFuzzyMatcher(opts ...FuzzyOption) *FuzzyMatcher {
	m := &FuzzyMatcher{
		threshold:  DefaultFuzzyThreshold,
		brandBonus: DefaultBrandBonus,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the acceptance threshold.
func (m *FuzzyMatcher) Threshold() float64 { return m.threshold }

// Match returns the best candidate clearing the threshold, or nil.
func (m *FuzzyMatcher) Match(c model.CompetitorProduct, catalog []model.CatalogProduct) *model.MatchCandidate {
	ranked := m.Rank(c, catalog, 1)
	if len(ranked) == 0 || ranked[0].Confidence < m.threshold {
		return nil
	}
	return &ranked[0]
}

// Rank scores every catalog entry and returns the top n (all when n <= 0), best first,
// catalog order breaking ties. Entries with no similarity at all are omitted.
//
// Models are compared with token credit. SKUs only count within the same brand and
// are compared whole.
func (m *FuzzyMatcher) Rank(c model.CompetitorProduct, catalog []model.CatalogProduct, n int) []model.MatchCandidate {
	brand := normalize.Normalize(c.Company)
	out := make([]model.MatchCandidate, 0, len(catalog))

	for i := range catalog {
		entry := &catalog[i]
		sameBrand := brand != "" && brand == normalize.Normalize(entry.Brand)

		base, field := scoring.Similarity(c.Model, entry.Model), "Model"
		if sameBrand {
			if s := scoring.CompactRatio(c.SKU, entry.SKU); s > base {
				base, field = s, "SKU"
			}
		}
		// a competitor without a model may still carry the model number in its SKU
		if c.Model == "" {
			if s := scoring.Similarity(c.SKU, entry.Model); s > base {
				base, field = s, "SKU-to-model"
			}
		}
		if base == 0 {
			continue
		}

		reasoning := []string{fmt.Sprintf("%s similarity %.2f with %s", field, base, describeEntry(entry))}
		score := base
		method := model.MethodFuzzyModel
		if sameBrand {
			score += m.brandBonus
			method = model.MethodFuzzyCombined
			reasoning = append(reasoning, "Brand match")
		}

		out = append(out, model.MatchCandidate{
			OurSKU:     entry.SKU,
			Confidence: model.ClampConfidence(score),
			Method:     method,
			Reasoning:  reasoning,
			Product:    entry,
		})
	}

	// stable sort keeps catalog order among equal scores
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func describeEntry(p *model.CatalogProduct) string {
	if p.Model != "" {
		return fmt.Sprintf("%s (%s)", p.SKU, p.Model)
	}
	return p.SKU
}
