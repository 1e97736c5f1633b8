package ai

import (
	"net/http"
	"time"

	"github.com/okian/skumatch/pkg/logger"
	"github.com/okian/skumatch/pkg/retry"
	"go.opentelemetry.io/otel/trace"
)

// ClientOption applies a configuration option to the Client.
type ClientOption func(*Client)

// WithBaseURL sets the API base URL, e.g. https://api.openai.com/v1.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithModel sets the model name sent with every request.
func WithModel(m string) ClientOption {
	return func(c *Client) {
		if m != "" {
			c.model = m
		}
	}
}

// WithMaxTokens sets the completion token budget.
func WithMaxTokens(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTimeout sets the hard timeout of one HTTP attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRetry sets how many times a failed call is retried, on top of the first
// attempt, and the backoff bounds.
func WithRetry(retries int, base, ceiling time.Duration) ClientOption {
	return func(c *Client) {
		c.retryOpts = append(c.retryOpts, retry.WithAttempts(max(retries, 0)+1), retry.WithBackoff(base, ceiling))
	}
}

// WithLimiter sets the shared rate limiter.
func WithLimiter(l Limiter) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// EnhancerOption applies a configuration option to the Enhancer.
type EnhancerOption func(*Enhancer)

// WithThreshold sets the minimum confidence accepted from the model.
func WithThreshold(t float64) EnhancerOption {
	return func(e *Enhancer) {
		if t > 0 && t <= 1 {
			e.threshold = t
		}
	}
}

// WithMaxCandidates bounds the shortlist sent to the model.
func WithMaxCandidates(n int) EnhancerOption {
	return func(e *Enhancer) {
		if n > 0 {
			e.maxCandidates = n
		}
	}
}

// WithEnhancerLogger sets the logger.
func WithEnhancerLogger(l logger.Logger) EnhancerOption {
	return func(e *Enhancer) {
		if l != nil {
			e.log = l
		}
	}
}
