package orchestrator

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
	"github.com/okian/skumatch/pkg/metrics"
)

// Validation warnings.
const (
	warnMissingCompany = "Missing company"
	warnMissingModel   = "Missing model"
	warnMissingSpecs   = "Missing specifications"
	warnNoMatch        = "No catalog match found"
	warnLowConfidence  = "Low confidence match"
	warnAISkipped      = "AI enhancement not configured"
	warnAIFailed       = "AI enhancement failed"
)

// standardize converts a trail into the result contract.
func (o *Orchestrator) standardize(c model.CompetitorProduct, t trail, start time.Time) *model.StandardizedMatchResult {
	now := o.now()
	res := &model.StandardizedMatchResult{
		RequestID:        uuid.NewString(),
		Timestamp:        now,
		ProcessingTimeMs: now.Sub(start).Milliseconds(),
		Competitor:       c,
		Processing: model.Processing{
			Stage:        t.stage,
			Method:       model.MethodNone,
			Reasoning:    []string{},
			Steps:        append([]string{}, t.steps...),
			AITokensUsed: t.tokens,
		},
		Metadata: model.Metadata{Source: o.source, Flags: append([]string{}, t.flags...)},
	}

	if t.candidate != nil {
		m := *t.candidate
		m.Reasoning = append([]string{}, t.candidate.Reasoning...)
		res.Match = &m
		res.Processing.Method = m.Method
		res.Processing.Confidence = m.Confidence
		res.Processing.Reasoning = append(res.Processing.Reasoning, m.Reasoning...)
	}
	res.Processing.Reasoning = append(res.Processing.Reasoning, t.notes...)

	res.Validation = o.validation(c, res)
	return res
}

// validation scores how much the result can be trusted. The quality score scales
// confidence by how complete the competitor record was.
func (o *Orchestrator) validation(c model.CompetitorProduct, res *model.StandardizedMatchResult) model.Validation {
	warnings := []string{}
	present := 0.0
	if strings.TrimSpace(c.SKU) != "" {
		present++
	}
	if strings.TrimSpace(c.Company) == "" {
		warnings = append(warnings, warnMissingCompany)
	} else {
		present++
	}
	if strings.TrimSpace(c.Model) == "" {
		warnings = append(warnings, warnMissingModel)
	} else {
		present++
	}
	if c.Specifications.Empty() {
		warnings = append(warnings, warnMissingSpecs)
	} else {
		present++
	}

	confidence := res.Processing.Confidence
	switch {
	case res.Match == nil:
		warnings = append(warnings, warnNoMatch)
	case confidence < o.lowConfidence:
		warnings = append(warnings, warnLowConfidence)
		res.Metadata.Flags = appendFlag(res.Metadata.Flags, model.FlagLowConfidence)
	}
	for _, f := range res.Metadata.Flags {
		switch f {
		case model.FlagAISkipped:
			warnings = append(warnings, warnAISkipped)
		case model.FlagAIFailed:
			warnings = append(warnings, warnAIFailed)
		}
	}

	completeness := present / 4
	quality := confidence * (0.5 + 0.5*completeness)
	return model.Validation{
		IsValid:      res.Match != nil,
		Warnings:     warnings,
		QualityScore: math.Round(quality*1000) / 1000,
	}
}

// lookup returns a cached result re-stamped for this request, or nil.
func (o *Orchestrator) lookup(ctx context.Context, c model.CompetitorProduct, version string, start time.Time) *model.StandardizedMatchResult {
	if o.cache == nil {
		return nil
	}
	hit, ok, err := o.cache.Get(ctx, o.key(c, version))
	if err != nil {
		metrics.RecordErrorByComponent("cache", "get")
		o.log.Warn(ctx, "cache read failed", logger.Error(err))
		return nil
	}
	if !ok || hit == nil {
		metrics.RecordCacheMiss()
		return nil
	}
	metrics.RecordCacheHit()

	now := o.now()
	hit.RequestID = uuid.NewString()
	hit.Timestamp = now
	hit.ProcessingTimeMs = now.Sub(start).Milliseconds()
	hit.Competitor = c
	hit.Processing.FromCache = true
	// no inference ran for this request
	hit.Processing.AITokensUsed = nil
	hit.Metadata.Source = sourceCache
	hit.Metadata.Flags = appendFlag(hit.Metadata.Flags, model.FlagFromCache)
	return hit
}

// remember caches accepted results. Failed resolutions are not cached so a catalog
// or AI configuration change gets a fresh attempt.
func (o *Orchestrator) remember(ctx context.Context, c model.CompetitorProduct, version string, res *model.StandardizedMatchResult) {
	if o.cache == nil || res.Match == nil {
		return
	}
	if err := o.cache.Set(ctx, o.key(c, version), res); err != nil {
		metrics.RecordErrorByComponent("cache", "set")
		o.log.Warn(ctx, "cache write failed", logger.Error(err))
	}
}
