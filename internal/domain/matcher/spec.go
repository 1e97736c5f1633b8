package matcher

import (
	"fmt"
	"sort"

	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/internal/domain/normalize"
	"github.com/okian/skumatch/internal/domain/scoring"
)

// DefaultSpecThreshold is the specification-stage acceptance threshold.
const DefaultSpecThreshold = 0.6

// Tolerance bands and weights per specification field.
const (
	TonnageTolerance = 0.5
	SEERTolerance    = 2.0
	AFUETolerance    = 3.0
	HSPFTolerance    = 1.0

	tonnageWeight     = 0.35
	seerWeight        = 0.25
	afueWeight        = 0.20
	hspfWeight        = 0.10
	refrigerantWeight = 0.10
)

// SpecificationMatcher compares numeric and categorical specifications within
// tolerance bands.
type SpecificationMatcher struct {
	threshold float64
}

// SpecOption configures a SpecificationMatcher.
type SpecOption func(*SpecificationMatcher)

// WithSpecThreshold sets the acceptance threshold.
func WithSpecThreshold(t float64) SpecOption {
	return func(m *SpecificationMatcher) {
		if t > 0 && t <= 1 {
			m.threshold = t
		}
	}
}

// NewSpecificationMatcher creates a SpecificationMatcher.
func NewSpecificationMatcher(opts ...SpecOption) *SpecificationMatcher {
	m := &SpecificationMatcher{threshold: DefaultSpecThreshold}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the acceptance threshold.
func (m *SpecificationMatcher) Threshold() float64 { return m.threshold }

// Match returns every candidate clearing the threshold, best first. Empty when the
// competitor carries no comparable specification.
func (m *SpecificationMatcher) Match(c model.CompetitorProduct, catalog []model.CatalogProduct) []model.MatchCandidate {
	ranked := m.Rank(c, catalog)
	accepted := ranked[:0]
	for _, cand := range ranked {
		if cand.Confidence >= m.threshold {
			accepted = append(accepted, cand)
		}
	}
	return accepted
}

// Rank scores every type-compatible catalog entry, best first.
func (m *SpecificationMatcher) Rank(c model.CompetitorProduct, catalog []model.CatalogProduct) []model.MatchCandidate {
	specs := c.Specifications
	if !specs.Comparable() {
		return nil
	}
	wantType := normalize.ProductType(specs.ProductType)

	out := make([]model.MatchCandidate, 0)
	for i := range catalog {
		entry := &catalog[i]
		if wantType != "" && entry.Type != "" && normalize.ProductType(entry.Type) != wantType {
			continue
		}
		score, reasoning, ok := compare(specs, entry)
		if !ok {
			continue
		}
		if wantType != "" && entry.Type != "" {
			reasoning = append([]string{fmt.Sprintf("Product type %s matches", wantType)}, reasoning...)
		}
		reasoning = append(reasoning, fmt.Sprintf("Specification score %.2f", score))
		out = append(out, model.MatchCandidate{
			OurSKU:     entry.SKU,
			Confidence: model.ClampConfidence(score),
			Method:     model.MethodSpecMatch,
			Reasoning:  reasoning,
			Product:    entry,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// compare aggregates the weighted fraction of compared fields within tolerance.
// ok is false when no field could be compared.
func compare(s *model.Specifications, p *model.CatalogProduct) (float64, []string, bool) {
	var (
		compared, matched float64
		reasoning         []string
	)

	numericField := func(name string, want, have *float64, tol, weight float64) {
		if want == nil || have == nil {
			return
		}
		compared += weight
		mark := "✗"
		if scoring.WithinTolerance(*want, *have, tol) {
			matched += weight
			mark = "✓"
		}
		reasoning = append(reasoning, fmt.Sprintf("%s %.1f vs %.1f (±%.1f) %s", name, *want, *have, tol, mark))
	}

	numericField("Tonnage", s.Tonnage, p.Tonnage, TonnageTolerance, tonnageWeight)
	numericField("SEER", s.SEER, p.SEER, SEERTolerance, seerWeight)
	numericField("AFUE", s.AFUE, p.AFUE, AFUETolerance, afueWeight)
	numericField("HSPF", s.HSPF, p.HSPF, HSPFTolerance, hspfWeight)

	if s.Refrigerant != "" && p.Refrigerant != "" {
		compared += refrigerantWeight
		mark := "✗"
		if normalize.Compact(s.Refrigerant) == normalize.Compact(p.Refrigerant) {
			matched += refrigerantWeight
			mark = "✓"
		}
		reasoning = append(reasoning, fmt.Sprintf("Refrigerant %s vs %s %s", s.Refrigerant, p.Refrigerant, mark))
	}

	if compared == 0 {
		return 0, nil, false
	}
	return matched / compared, reasoning, true
}
