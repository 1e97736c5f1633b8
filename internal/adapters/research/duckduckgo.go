// Package research implements the last-resort research stage on top of the
// DuckDuckGo HTML search page.
package research

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/okian/skumatch/internal/domain/matcher"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/internal/domain/normalize"
	"github.com/okian/skumatch/pkg/logger"
	"github.com/okian/skumatch/pkg/metrics"
	"golang.org/x/time/rate"
)

// Defaults for the research client.
const (
	DefaultBaseURL    = "https://html.duckduckgo.com/html/"
	DefaultInterval   = time.Second
	DefaultConfidence = 0.65
	DefaultMaxResults = 10

	// identifiers shorter than this match too much unrelated text
	minIdentifierLen = 4
	userAgent        = "Mozilla/5.0 (compatible; skumatch/1.0)"
)

var (
	tonnageRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*-?\s*tons?\b`)
	seerRe    = regexp.MustCompile(`(?i)\b(\d{1,2}(?:\.\d+)?)\s*seer2?\b|\bseer2?\s*:?\s*(\d{1,2}(?:\.\d+)?)\b`)
	afueRe    = regexp.MustCompile(`(?i)\b(\d{2}(?:\.\d+)?)\s*%?\s*afue\b|\bafue\s*:?\s*(\d{2}(?:\.\d+)?)`)
	hspfRe    = regexp.MustCompile(`(?i)\b(\d{1,2}(?:\.\d+)?)\s*hspf2?\b|\bhspf2?\s*:?\s*(\d{1,2}(?:\.\d+)?)\b`)
)

// hit is one organic search result.
type hit struct {
	Title   string
	Snippet string
	URL     string
}

// DuckDuckGo searches the web for the competitor product and scans the results for
// catalog identifiers. It implements matcher.ResearchFallback.
type DuckDuckGo struct {
	baseURL    string
	interval   time.Duration
	confidence float64
	maxResults int
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logger.Logger
}

var _ matcher.ResearchFallback = (*DuckDuckGo)(nil)

// NewDuckDuckGo creates a DuckDuckGo research client.
func NewDuckDuckGo(opts ...Option) *DuckDuckGo {
	d := &DuckDuckGo{
		baseURL:    DefaultBaseURL,
		interval:   DefaultInterval,
		confidence: DefaultConfidence,
		maxResults: DefaultMaxResults,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.httpClient == nil {
		d.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if d.log == nil {
		d.log = logger.Get().Named("research")
	}
	d.limiter = rate.NewLimiter(rate.Every(d.interval), 1)
	return d
}

// Research implements matcher.ResearchFallback. A catalog identifier found in the
// results yields a web_search candidate. Otherwise specifications read from the
// snippets come back as an enriched record.
func (d *DuckDuckGo) Research(ctx context.Context, c model.CompetitorProduct, catalog []model.CatalogProduct) (matcher.ResearchResult, error) {
	query := Query(c)
	if query == "" {
		return matcher.ResearchResult{}, nil
	}

	hits, err := d.search(ctx, query)
	if err != nil {
		metrics.RecordResearchRequest("error")
		return matcher.ResearchResult{}, err
	}

	var res matcher.ResearchResult
	for _, h := range hits {
		if h.URL != "" {
			res.Sources = append(res.Sources, h.URL)
		}
	}

	if cand := d.scan(hits, catalog); cand != nil {
		metrics.RecordResearchRequest("hit")
		d.log.Info(ctx, "research found catalog identifier",
			logger.String("query", query), logger.String("sku", cand.OurSKU))
		res.Candidate = cand
		return res, nil
	}

	if enriched := enrich(c, hits); enriched != nil {
		metrics.RecordResearchRequest("enriched")
		res.Enriched = enriched
		return res, nil
	}

	metrics.RecordResearchRequest("miss")
	return res, nil
}

// Query builds the search phrase for a competitor.
func Query(c model.CompetitorProduct) string {
	ident := c.Model
	if ident == "" {
		ident = c.SKU
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{c.Company, ident} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	if c.Specifications != nil && c.Specifications.ProductType != "" {
		parts = append(parts, c.Specifications.ProductType)
	}
	return strings.Join(parts, " ")
}

func (d *DuckDuckGo) search(ctx context.Context, query string) ([]hit, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("research rate wait: %w", err)
	}

	u := d.baseURL + "?" + url.Values{"q": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			d.log.Debug(ctx, "failed to close search body", logger.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	hits := make([]hit, 0, d.maxResults)
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find(".result__a").First()
		h := hit{
			Title:   strings.TrimSpace(link.Text()),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").Text()),
		}
		h.URL, _ = link.Attr("href")
		if h.Title != "" || h.Snippet != "" {
			hits = append(hits, h)
		}
		return len(hits) < d.maxResults
	})
	return hits, nil
}

// scan returns a candidate for the first catalog SKU or model quoted in the results,
// in result order.
func (d *DuckDuckGo) scan(hits []hit, catalog []model.CatalogProduct) *model.MatchCandidate {
	for _, h := range hits {
		text := normalize.Compact(h.Title + " " + h.Snippet)
		if text == "" {
			continue
		}
		for i := range catalog {
			entry := &catalog[i]
			for _, ident := range []string{entry.SKU, entry.Model} {
				id := normalize.Compact(ident)
				if len(id) < minIdentifierLen || !strings.Contains(text, id) {
					continue
				}
				reasoning := []string{fmt.Sprintf("Catalog identifier %s found in search result %q", ident, h.Title)}
				if h.URL != "" {
					reasoning = append(reasoning, "Source: "+h.URL)
				}
				return &model.MatchCandidate{
					OurSKU:     entry.SKU,
					Confidence: d.confidence,
					Method:     model.MethodWebSearch,
					Reasoning:  reasoning,
					Product:    entry,
				}
			}
		}
	}
	return nil
}

// enrich fills specification fields the competitor lacks from the result text. It
// returns nil when nothing new was learned. The input record is not modified.
func enrich(c model.CompetitorProduct, hits []hit) *model.CompetitorProduct {
	var specs model.Specifications
	if c.Specifications != nil {
		specs = *c.Specifications
	}
	learned := false

	fill := func(dst **float64, re *regexp.Regexp) {
		if *dst != nil {
			return
		}
		for _, h := range hits {
			if v, ok := firstNumber(re, h.Title+" "+h.Snippet); ok {
				*dst = model.Float(v)
				learned = true
				return
			}
		}
	}
	fill(&specs.Tonnage, tonnageRe)
	fill(&specs.SEER, seerRe)
	fill(&specs.AFUE, afueRe)
	fill(&specs.HSPF, hspfRe)

	if !learned {
		return nil
	}
	out := c
	out.Specifications = &specs
	return &out
}

func firstNumber(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		v, err := strconv.ParseFloat(g, 64)
		if err == nil {
			return v, true
		}
	}
	return 0, false
}
