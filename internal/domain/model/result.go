package model

import "time"

// Method is how a candidate was produced.
type Method string

// Match methods.
const (
	MethodExactSKU      Method = "exact_sku"
	MethodExactModel    Method = "exact_model"
	MethodFuzzyModel    Method = "fuzzy_model"
	MethodFuzzyCombined Method = "fuzzy_combined"
	MethodSpecMatch     Method = "spec_match"
	MethodAIEnhanced    Method = "ai_enhanced"
	MethodWebSearch     Method = "web_search"
	MethodWebScrape     Method = "web_scrape"
	MethodManual        Method = "manual"
	MethodNone          Method = "none"
)

// IsWeb reports whether m belongs to the web_* family.
func (m Method) IsWeb() bool {
	return len(m) > 4 && m[:4] == "web_"
}

// Stage labels which matching strategy resolved a competitor.
type Stage string

// Stages in precedence order.
const (
	StageExact         Stage = "exact"
	StageFuzzy         Stage = "fuzzy"
	StageSpecification Stage = "specification"
	StageAIEnhanced    Stage = "ai_enhanced"
	StageWebResearch   Stage = "web_research"
	StageFailed        Stage = "failed"
)

// Stages lists every attemptable stage in ascending cost order.
var Stages = []Stage{StageExact, StageFuzzy, StageSpecification, StageAIEnhanced, StageWebResearch}

var stageRank = map[Stage]int{
	StageExact:         0,
	StageFuzzy:         1,
	StageSpecification: 2,
	StageAIEnhanced:    3,
	StageWebResearch:   4,
	StageFailed:        5,
}

// Rank returns the precedence of s, -1 when unknown.
func (s Stage) Rank() int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

// Less reports whether s precedes other.
func (s Stage) Less(other Stage) bool { return s.Rank() < other.Rank() }

// Label is the human-readable name used in processing steps.
func (s Stage) Label() string {
	switch s {
	case StageExact:
		return "exact"
	case StageFuzzy:
		return "fuzzy"
	case StageSpecification:
		return "specification"
	case StageAIEnhanced:
		return "AI"
	case StageWebResearch:
		return "web research"
	default:
		return string(s)
	}
}

// MatchCandidate is one proposed catalog match. Created fresh per stage attempt.
type MatchCandidate struct {
	OurSKU     string          `json:"ourSku"`
	Confidence float64         `json:"confidence"`
	Method     Method          `json:"method"`
	Reasoning  []string        `json:"reasoning"`
	Product    *CatalogProduct `json:"-"`
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// Processing describes how a result was obtained.
type Processing struct {
	Stage        Stage    `json:"stage"`
	Method       Method   `json:"method"`
	Confidence   float64  `json:"confidence"`
	Reasoning    []string `json:"reasoning"`
	Steps        []string `json:"steps"`
	FromCache    bool     `json:"fromCache"`
	AITokensUsed *int     `json:"aiTokensUsed,omitempty"`
}

// Validation summarizes the quality checks applied to a result.
type Validation struct {
	IsValid      bool     `json:"isValid"`
	Warnings     []string `json:"warnings"`
	QualityScore float64  `json:"qualityScore"`
}

// Metadata carries provenance information.
type Metadata struct {
	Source string   `json:"source"`
	Flags  []string `json:"flags"`
}

// Result metadata flags.
const (
	FlagAISkipped     = "ai_skipped"
	FlagAIFailed      = "ai_failed"
	FlagLowConfidence = "low_confidence"
	FlagFromCache     = "from_cache"
	FlagResearched    = "researched"
	FlagInvalidInput  = "invalid_input"
)

// StandardizedMatchResult is the only artifact the engine produces: exactly one per competitor.
// Field names and nesting are a storage contract.
type StandardizedMatchResult struct {
	RequestID        string            `json:"requestId"`
	Timestamp        time.Time         `json:"timestamp"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
	Competitor       CompetitorProduct `json:"competitor"`
	Match            *MatchCandidate   `json:"match"`
	Processing       Processing        `json:"processing"`
	Validation       Validation        `json:"validation"`
	Metadata         Metadata          `json:"metadata"`
}

// MatchedSKU returns the matched catalog SKU or "".
func (r *StandardizedMatchResult) MatchedSKU() string {
	if r == nil || r.Match == nil {
		return ""
	}
	return r.Match.OurSKU
}
