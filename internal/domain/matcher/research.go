package matcher

import (
	"context"

	"github.com/okian/skumatch/internal/domain/model"
)

// ResearchFallback is the last-resort stage. Implementations may return a candidate,
// an enriched copy of the competitor record, both, or neither. Returning nothing means
// the resolution fails.
type ResearchFallback interface {
	Research(ctx context.Context, c model.CompetitorProduct, catalog []model.CatalogProduct) (ResearchResult, error)
}

// ResearchResult is what a ResearchFallback found.
type ResearchResult struct {
	Candidate *model.MatchCandidate
	Enriched  *model.CompetitorProduct
	Sources   []string
}

// Empty reports whether nothing usable came back.
func (r ResearchResult) Empty() bool {
	return r.Candidate == nil && r.Enriched == nil
}

// ResearchFunc adapts a function to ResearchFallback.
type ResearchFunc func(ctx context.Context, c model.CompetitorProduct, catalog []model.CatalogProduct) (ResearchResult, error)

// Research implements ResearchFallback.
func (f ResearchFunc) Research(ctx context.Context, c model.CompetitorProduct, catalog []model.CatalogProduct) (ResearchResult, error) {
	return f(ctx, c, catalog)
}
