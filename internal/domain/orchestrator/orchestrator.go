// Package orchestrator runs the matching stages in precedence order and turns the
// outcome into a StandardizedMatchResult.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/skumatch/internal/domain/matcher"
	"github.com/okian/skumatch/internal/domain/matcherr"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
	"github.com/okian/skumatch/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "skumatch/orchestrator"
	opResolve  = "orchestrator.resolve"

	// DefaultLowConfidence is the confidence below which a match is flagged.
	DefaultLowConfidence = 0.7

	sourceEngine = "engine"
	sourceCache  = "cache"

	researchSkippedReason = "Web research skipped — not configured"
	researchPrefix        = "Research enrichment: "
)

// Stage attempt outcome labels used in spans and metrics.
const (
	outcomeAccepted = "accepted"
	outcomeContinue = "continue"
	outcomeSkipped  = "skipped"
	outcomeError    = "error"
)

// Cache stores finished results between resolutions.
type Cache interface {
	Get(ctx context.Context, key string) (*model.StandardizedMatchResult, bool, error)
	Set(ctx context.Context, key string, r *model.StandardizedMatchResult) error
}

// Outcome is the result of attempting one stage. A stage reports back only through
// its Outcome; the orchestrator owns the steps trace and the aggregated reasoning.
type Outcome struct {
	Accepted  bool
	Candidate *model.MatchCandidate
	Skipped   bool
	// Notes are reasoning lines that travel with the result even when the stage did
	// not accept.
	Notes []string
	Flags []string
	// TokensUsed is set when the stage called the inference service.
	TokensUsed *int
}

func accept(c *model.MatchCandidate) Outcome {
	if c == nil {
		return Outcome{}
	}
	c.Confidence = model.ClampConfidence(c.Confidence)
	return Outcome{Accepted: true, Candidate: c}
}

// Orchestrator is the sequential matching engine. It is safe for concurrent use;
// all per-resolution state lives on the stack of Resolve.
type Orchestrator struct {
	exact    *matcher.ExactMatcher
	fuzzy    *matcher.FuzzyMatcher
	spec     *matcher.SpecificationMatcher
	ai       matcher.Enhancer
	research matcher.ResearchFallback

	cache Cache
	key   KeyFunc

	lowConfidence float64
	source        string
	now           func() time.Time
	log           logger.Logger
	tracer        trace.Tracer
}

// New creates an Orchestrator with default matchers and no AI, research or cache.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		exact:         matcher.NewExactMatcher(),
		fuzzy:         matcher.NewFuzzyMatcher(),
		spec:          matcher.NewSpecificationMatcher(),
		lowConfidence: DefaultLowConfidence,
		source:        sourceEngine,
		now:           time.Now,
		tracer:        otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("orchestrator")
	}
	return o
}

// trail accumulates what the stages reported during one resolution.
type trail struct {
	stage     model.Stage
	candidate *model.MatchCandidate
	steps     []string
	notes     []string
	flags     []string
	tokens    *int
}

func (t *trail) absorb(stage model.Stage, out Outcome) {
	switch {
	case out.Accepted:
		t.steps = append(t.steps, fmt.Sprintf("✓ %s match found: %s (%.2f)",
			title(stage.Label()), out.Candidate.OurSKU, out.Candidate.Confidence))
	case out.Skipped && len(out.Notes) > 0:
		t.steps = append(t.steps, "⊘ "+out.Notes[0])
	case out.Skipped:
		t.steps = append(t.steps, fmt.Sprintf("⊘ %s stage skipped", title(stage.Label())))
	default:
		t.steps = append(t.steps, fmt.Sprintf("✗ No high-confidence %s match found", stage.Label()))
	}
	t.notes = append(t.notes, out.Notes...)
	for _, f := range out.Flags {
		t.flags = appendFlag(t.flags, f)
	}
	if out.TokensUsed != nil {
		total := *out.TokensUsed
		if t.tokens != nil {
			total += *t.tokens
		}
		t.tokens = &total
	}
}

// Resolve matches one competitor against catalog. A resolution that finds nothing is
// a normal result with stage failed; errors are returned only for invalid input, an
// empty catalog or a fatal inference failure.
func (o *Orchestrator) Resolve(ctx context.Context, c model.CompetitorProduct, catalog model.Catalog) (*model.StandardizedMatchResult, error) {
	start := o.now()

	if err := model.Validate(c); err != nil {
		metrics.RecordValidationFailure()
		return nil, err
	}
	if len(catalog.Products) == 0 {
		return nil, &matcherr.Error{Kind: matcherr.Unknown, Op: opResolve, Err: ErrNoCatalog, Fatal: true}
	}

	ctx, span := o.tracer.Start(ctx, opResolve, trace.WithAttributes(
		attribute.String("competitor.sku", c.SKU),
		attribute.String("competitor.company", c.Company),
		attribute.Int("catalog.size", len(catalog.Products)),
	))
	defer span.End()

	if hit := o.lookup(ctx, c, catalog.Version, start); hit != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true), attribute.String("stage", string(hit.Processing.Stage)))
		return hit, nil
	}

	t, err := o.run(ctx, c, catalog.Products)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordErrorByComponent("orchestrator", string(matcherr.KindOf(err)))
		o.log.Error(ctx, "resolution aborted", logger.String("sku", c.SKU), logger.Error(err))
		return nil, err
	}

	res := o.standardize(c, t, start)
	span.SetAttributes(
		attribute.String("stage", string(res.Processing.Stage)),
		attribute.Float64("confidence", res.Processing.Confidence),
	)
	metrics.RecordMatch(string(res.Processing.Stage), string(res.Processing.Method), res.Processing.Confidence)
	metrics.RecordMatchLatency(float64(res.ProcessingTimeMs))
	o.log.Debug(ctx, "competitor resolved",
		logger.String("request_id", res.RequestID),
		logger.String("stage", string(res.Processing.Stage)),
		logger.String("sku", res.MatchedSKU()),
		logger.Float64("confidence", res.Processing.Confidence))

	o.remember(ctx, c, catalog.Version, res)
	return res, nil
}

// run walks the stages until one accepts.
func (o *Orchestrator) run(ctx context.Context, c model.CompetitorProduct, catalog []model.CatalogProduct) (trail, error) {
	var t trail
	for _, stage := range model.Stages {
		out, err := o.traced(ctx, stage, c, catalog)
		if err != nil {
			return t, err
		}
		t.absorb(stage, out)
		if out.Accepted {
			t.stage = stage
			t.candidate = out.Candidate
			return t, nil
		}
	}
	t.stage = model.StageFailed
	t.steps = append(t.steps, "✗ No match found after all stages")
	return t, nil
}

func (o *Orchestrator) traced(ctx context.Context, stage model.Stage, c model.CompetitorProduct, catalog []model.CatalogProduct) (Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.stage", trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()

	started := time.Now()
	out, err := o.attempt(ctx, stage, c, catalog)

	outcome := outcomeContinue
	switch {
	case err != nil:
		outcome = outcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case out.Accepted:
		outcome = outcomeAccepted
		span.SetAttributes(attribute.Float64("confidence", out.Candidate.Confidence))
	case out.Skipped:
		outcome = outcomeSkipped
	}
	span.SetAttributes(attribute.Bool("accepted", out.Accepted), attribute.String("outcome", outcome))
	metrics.RecordStageAttempt(string(stage), outcome, float64(time.Since(started).Microseconds())/1000)
	return out, err
}

// attempt runs a single stage.
func (o *Orchestrator) attempt(ctx context.Context, stage model.Stage, c model.CompetitorProduct, catalog []model.CatalogProduct) (Outcome, error) {
	switch stage {
	case model.StageExact:
		return accept(o.exact.Match(c, catalog)), nil
	case model.StageFuzzy:
		return accept(o.fuzzy.Match(c, catalog)), nil
	case model.StageSpecification:
		return o.specification(c, catalog), nil
	case model.StageAIEnhanced:
		return o.enhance(ctx, c, catalog)
	case model.StageWebResearch:
		return o.investigate(ctx, c, catalog), nil
	default:
		return Outcome{}, fmt.Errorf("%s: unknown stage %q", opResolve, stage)
	}
}

func (o *Orchestrator) specification(c model.CompetitorProduct, catalog []model.CatalogProduct) Outcome {
	ranked := o.spec.Match(c, catalog)
	if len(ranked) == 0 {
		return Outcome{}
	}
	top := ranked[0]
	out := accept(&top)
	if rest := ranked[1:]; len(rest) > 0 {
		others := make([]string, 0, 3)
		for i := 0; i < len(rest) && i < 3; i++ {
			others = append(others, fmt.Sprintf("%s (%.2f)", rest[i].OurSKU, rest[i].Confidence))
		}
		out.Notes = []string{fmt.Sprintf("%d other specification candidates: %s", len(rest), strings.Join(others, ", "))}
	}
	return out
}

func (o *Orchestrator) enhance(ctx context.Context, c model.CompetitorProduct, catalog []model.CatalogProduct) (Outcome, error) {
	if o.ai == nil {
		return Outcome{Skipped: true, Notes: []string{matcher.AISkippedReason}, Flags: []string{model.FlagAISkipped}}, nil
	}

	res, err := o.ai.Enhance(ctx, c, catalog)
	if err != nil {
		return Outcome{}, err
	}
	if res.Skipped {
		notes := res.Reasoning
		if len(notes) == 0 {
			notes = []string{matcher.AISkippedReason}
		}
		return Outcome{Skipped: true, Notes: notes, Flags: []string{model.FlagAISkipped}}, nil
	}

	tokens := res.TokensUsed
	out := Outcome{TokensUsed: &tokens}
	if res.Failed {
		out.Flags = []string{model.FlagAIFailed}
	}
	if res.Candidate != nil {
		accepted := accept(res.Candidate)
		accepted.TokensUsed = out.TokensUsed
		return accepted, nil
	}
	out.Notes = res.Reasoning
	return out, nil
}

// investigate is the research stage. A web candidate is accepted directly; an enriched
// record gets one more pass through the deterministic stages.
func (o *Orchestrator) investigate(ctx context.Context, c model.CompetitorProduct, catalog []model.CatalogProduct) Outcome {
	if o.research == nil {
		return Outcome{Skipped: true, Notes: []string{researchSkippedReason}}
	}

	res, err := o.research.Research(ctx, c, catalog)
	if err != nil {
		o.log.Warn(ctx, "research failed", logger.String("sku", c.SKU), logger.Error(err))
		return Outcome{}
	}

	var sources []string
	if len(res.Sources) > 0 {
		sources = []string{"Sources: " + strings.Join(res.Sources, ", ")}
	}

	if cand := res.Candidate; cand != nil && cand.Confidence > 0 && cand.Method.IsWeb() {
		out := accept(cand)
		out.Notes = sources
		out.Flags = []string{model.FlagResearched}
		return out
	}

	if res.Enriched != nil {
		for _, stage := range []model.Stage{model.StageExact, model.StageFuzzy, model.StageSpecification} {
			inner, _ := o.attempt(ctx, stage, *res.Enriched, catalog)
			if !inner.Accepted {
				continue
			}
			cand := *inner.Candidate
			cand.Reasoning = make([]string, 0, len(inner.Candidate.Reasoning))
			for _, r := range inner.Candidate.Reasoning {
				cand.Reasoning = append(cand.Reasoning, researchPrefix+r)
			}
			out := accept(&cand)
			out.Notes = sources
			out.Flags = []string{model.FlagResearched}
			return out
		}
	}
	return Outcome{Notes: sources}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func appendFlag(flags []string, f string) []string {
	for _, existing := range flags {
		if existing == f {
			return flags
		}
	}
	return append(flags, f)
}
