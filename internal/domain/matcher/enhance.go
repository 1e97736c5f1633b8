package matcher

import (
	"context"

	"github.com/okian/skumatch/internal/domain/model"
)

// AISkippedReason is reported when no inference client is configured.
const AISkippedReason = "AI enhancement skipped — not configured"

// Enhancer is the AI-assisted stage. Implementations return an error only when the
// failure is fatal; anything recoverable is reported through EnhanceResult.Failed.
type Enhancer interface {
	Enhance(ctx context.Context, c model.CompetitorProduct, catalog []model.CatalogProduct) (EnhanceResult, error)
}

// EnhanceResult is what one enhancement attempt produced. Candidate is set only when the
// model's answer cleared the threshold and named a catalog SKU.
type EnhanceResult struct {
	Candidate  *model.MatchCandidate
	Skipped    bool
	Failed     bool
	TokensUsed int
	Reasoning  []string
}
