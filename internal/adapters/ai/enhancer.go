package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/skumatch/internal/domain/matcher"
	"github.com/okian/skumatch/internal/domain/matcherr"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/internal/domain/normalize"
	"github.com/okian/skumatch/pkg/logger"
)

// Enhancer defaults.
const (
	DefaultThreshold     = 0.6
	DefaultMaxCandidates = 25

	// SkippedReason is reported when no inference client is configured.
	SkippedReason = matcher.AISkippedReason
)

// Completer runs a chat completion. *Client implements it.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}

// Result is what one enhancement attempt produced.
type Result = matcher.EnhanceResult

// Enhancer is the AI-enhanced matching stage.
type Enhancer struct {
	client        Completer
	fuzzy         *matcher.FuzzyMatcher
	spec          *matcher.SpecificationMatcher
	threshold     float64
	maxCandidates int
	log           logger.Logger
}

var _ matcher.Enhancer = (*Enhancer)(nil)

// NewEnhancer creates an Enhancer. A nil client yields an enhancer that always skips.
func NewEnhancer(client Completer, opts ...EnhancerOption) *Enhancer {
	e := &Enhancer{
		client:        client,
		threshold:     DefaultThreshold,
		maxCandidates: DefaultMaxCandidates,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Get().Named("ai_enhancer")
	}
	if e.fuzzy == nil {
		e.fuzzy = matcher.NewFuzzyMatcher()
	}
	if e.spec == nil {
		e.spec = matcher.NewSpecificationMatcher()
	}
	return e
}

// WithRankers sets the matchers used to build the shortlist for large catalogs.
func WithRankers(f *matcher.FuzzyMatcher, s *matcher.SpecificationMatcher) EnhancerOption {
	return func(e *Enhancer) {
		if f != nil {
			e.fuzzy = f
		}
		if s != nil {
			e.spec = s
		}
	}
}

// Configured reports whether an inference client is present.
func (e *Enhancer) Configured() bool {
	if e == nil || e.client == nil {
		return false
	}
	if c, ok := e.client.(*Client); ok && c == nil {
		return false
	}
	return true
}

// Enhance asks the model to pick a catalog SKU. Only fatal errors (authentication)
// are returned; every other failure is reported as Result.Failed so the caller can
// move on to the next stage.
func (e *Enhancer) Enhance(ctx context.Context, c model.CompetitorProduct, catalog []model.CatalogProduct) (Result, error) {
	if !e.Configured() {
		return Result{Skipped: true, Reasoning: []string{SkippedReason}}, nil
	}

	shortlist := e.Shortlist(c, catalog)
	completion, err := e.client.Complete(ctx, BuildMessages(c, shortlist))
	res := Result{TokensUsed: completion.TokensUsed}
	if err != nil {
		if matcherr.IsFatal(err) {
			e.log.Error(ctx, "inference call failed fatally", logger.Error(err))
			return res, err
		}
		e.log.Warn(ctx, "inference call failed", logger.Error(err), logger.Int("attempts", completion.Attempts))
		res.Failed = true
		res.Reasoning = []string{fmt.Sprintf("AI enhancement failed: %s", matcherr.KindOf(err))}
		return res, nil
	}

	resp, problems := ValidateResponse([]byte(completion.Content))
	if len(problems) > 0 {
		e.log.Warn(ctx, "inference response rejected",
			logger.String("problems", strings.Join(problems, "; ")),
			logger.Error(ErrInvalidResponse))
		res.Failed = true
		res.Reasoning = []string{"AI response failed validation"}
		return res, nil
	}

	res.Reasoning = resp.Reasoning
	if !resp.MatchFound || resp.SKU() == "" {
		return res, nil
	}

	entry := lookup(catalog, resp.SKU())
	if entry == nil {
		e.log.Warn(ctx, "inference suggested unknown SKU", logger.String("sku", resp.SKU()))
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("AI suggested SKU %s which is not in the catalog", resp.SKU()))
		return res, nil
	}

	confidence := model.ClampConfidence(resp.Confidence)
	if confidence < e.threshold {
		res.Reasoning = append(res.Reasoning,
			fmt.Sprintf("AI confidence %.2f below threshold %.2f", confidence, e.threshold))
		return res, nil
	}

	res.Candidate = &model.MatchCandidate{
		OurSKU:     entry.SKU,
		Confidence: confidence,
		Method:     model.MethodAIEnhanced,
		Reasoning:  append([]string(nil), resp.Reasoning...),
		Product:    entry,
	}
	return res, nil
}

// Shortlist returns the whole catalog when it is small, otherwise the best
// specification candidates followed by the best fuzzy candidates, up to the bound.
func (e *Enhancer) Shortlist(c model.CompetitorProduct, catalog []model.CatalogProduct) []model.CatalogProduct {
	if len(catalog) <= e.maxCandidates {
		return catalog
	}

	out := make([]model.CatalogProduct, 0, e.maxCandidates)
	seen := make(map[string]struct{}, e.maxCandidates)
	add := func(p *model.CatalogProduct) {
		if p == nil || len(out) >= e.maxCandidates {
			return
		}
		if _, ok := seen[p.SKU]; ok {
			return
		}
		seen[p.SKU] = struct{}{}
		out = append(out, *p)
	}

	specRanked := e.spec.Rank(c, catalog)
	for i := 0; i < len(specRanked) && i < e.maxCandidates/2; i++ {
		add(specRanked[i].Product)
	}
	for _, cand := range e.fuzzy.Rank(c, catalog, e.maxCandidates) {
		add(cand.Product)
	}
	for i := 0; len(out) < e.maxCandidates && i < len(catalog); i++ {
		add(&catalog[i])
	}
	return out
}

func lookup(catalog []model.CatalogProduct, sku string) *model.CatalogProduct {
	want := normalize.Normalize(sku)
	for i := range catalog {
		if normalize.Normalize(catalog[i].SKU) == want {
			return &catalog[i]
		}
	}
	return nil
}
