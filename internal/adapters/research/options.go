package research

import (
	"net/http"
	"time"

	"github.com/okian/skumatch/pkg/logger"
)

// Option applies a configuration option to DuckDuckGo.
type Option func(*DuckDuckGo)

// WithBaseURL sets the HTML search endpoint.
func WithBaseURL(u string) Option {
	return func(d *DuckDuckGo) {
		if u != "" {
			d.baseURL = u
		}
	}
}

// WithInterval sets the minimum spacing between two searches.
func WithInterval(every time.Duration) Option {
	return func(d *DuckDuckGo) {
		if every > 0 {
			d.interval = every
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(d *DuckDuckGo) {
		if h != nil {
			d.httpClient = h
		}
	}
}

// WithConfidence sets the confidence reported for a search hit.
func WithConfidence(c float64) Option {
	return func(d *DuckDuckGo) {
		if c > 0 && c <= 1 {
			d.confidence = c
		}
	}
}

// WithMaxResults bounds how many result blocks are inspected.
func WithMaxResults(n int) Option {
	return func(d *DuckDuckGo) {
		if n > 0 {
			d.maxResults = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *DuckDuckGo) {
		if l != nil {
			d.log = l
		}
	}
}
