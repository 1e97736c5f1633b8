// Package ai talks to an OpenAI-compatible chat completions service and turns its
// answer into a match candidate for the AI-enhanced stage.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/skumatch/internal/adapters/ratelimit"
	"github.com/okian/skumatch/internal/domain/matcherr"
	"github.com/okian/skumatch/pkg/logger"
	"github.com/okian/skumatch/pkg/metrics"
	"github.com/okian/skumatch/pkg/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client defaults.
const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 500
	DefaultTimeout   = 30 * time.Second

	temperature     = 0.1
	maxResponseBody = 1 << 20
	tracerName      = "skumatch/ai"
	opComplete      = "ai.complete"
)

// Limiter is the part of the rate limiter the client needs.
type Limiter interface {
	WaitIfNeeded(ctx context.Context, estimatedTokens int) (ratelimit.SettleFunc, error)
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Completion is the outcome of Complete.
type Completion struct {
	Content    string
	TokensUsed int
	Attempts   int
}

// Client sends chat completions with rate limiting and retries.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	timeout    time.Duration
	httpClient *http.Client
	retryOpts  []retry.Option
	policy     retry.Policy
	limiter    Limiter
	log        logger.Logger
	tracer     trace.Tracer
}

// NewClient creates a Client. An empty apiKey returns ErrNotConfigured.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNotConfigured
	}
	c := &Client{
		baseURL:   DefaultBaseURL,
		apiKey:    apiKey,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		timeout:   DefaultTimeout,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("ai")
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.WithLogger(c.log))
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")

	policyOpts := append([]retry.Option{
		retry.WithRetryable(matcherr.IsRetryable),
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			metrics.RecordAIRetry()
			c.log.Warn(context.Background(), "inference call failed, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err))
		}),
	}, c.retryOpts...)
	c.policy = retry.New(policyOpts...)
	return c, nil
}

// MaxTokens returns the completion token budget.
func (c *Client) MaxTokens() int { return c.maxTokens }

// EstimateTokens approximates prompt size at four characters per token plus the
// completion budget.
func EstimateTokens(messages []Message, maxTokens int) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return (chars+3)/4 + maxTokens
}

// Complete runs one chat completion. Each attempt waits on the limiter first and
// records its usage afterwards. 401 and 403 fail immediately.
func (c *Client) Complete(ctx context.Context, messages []Message) (Completion, error) {
	est := EstimateTokens(messages, c.maxTokens)
	var out Completion

	attempts, err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		settle, err := c.limiter.WaitIfNeeded(ctx, est)
		if err != nil {
			return &matcherr.Error{Kind: matcherr.Timeout, Op: opComplete, Err: err}
		}
		content, used, err := c.send(ctx, attempt, messages)
		if used == 0 {
			used = est
		}
		settle(used)
		out.TokensUsed += used
		metrics.RecordAITokens(used)
		if err != nil {
			return err
		}
		out.Content = content
		return nil
	})
	out.Attempts = attempts
	return out, err
}

func (c *Client) send(ctx context.Context, attempt int, messages []Message) (string, int, error) {
	ctx, span := c.tracer.Start(ctx, "ai.chat_completion", trace.WithAttributes(
		attribute.String("ai.model", c.model),
		attribute.Int("ai.attempt", attempt),
	))
	defer span.End()

	start := time.Now()
	content, used, status, err := c.do(ctx, messages)
	latency := float64(time.Since(start).Milliseconds())

	span.SetAttributes(attribute.Int("http.status_code", status), attribute.Int("ai.tokens", used))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		outcome := "error"
		if matcherr.IsFatal(err) {
			outcome = "fatal"
		}
		metrics.RecordAICall(outcome, latency)
		metrics.RecordErrorByComponent("ai", string(matcherr.KindOf(err)))
		return "", used, err
	}
	metrics.RecordAICall("ok", latency)
	return content, used, nil
}

func (c *Client) do(ctx context.Context, messages []Message) (string, int, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", 0, 0, matcherr.Wrap(opComplete, matcherr.Unknown, err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, 0, matcherr.Wrap(opComplete, matcherr.Unknown, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", 0, 0, matcherr.TimeoutAfter(opComplete, err)
		}
		return "", 0, 0, matcherr.AIFailure(opComplete, 0, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Debug(ctx, "failed to close response body", logger.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", 0, resp.StatusCode, matcherr.AIFailure(opComplete, 0, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		after := retryAfter(resp.Header.Get("Retry-After"))
		c.log.Warn(ctx, "inference service rate limited the request", logger.Duration("retryAfter", after))
		return "", 0, resp.StatusCode, &retry.DelayError{
			Err: &matcherr.Error{
				Kind:       matcherr.RateLimitExceeded,
				Op:         opComplete,
				Err:        fmt.Errorf("status %d: %s", resp.StatusCode, snippet(raw)),
				Retryable:  true,
				StatusCode: resp.StatusCode,
			},
			After: after,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, resp.StatusCode, matcherr.AIFailure(opComplete, resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, snippet(raw)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", 0, resp.StatusCode, matcherr.AIFailure(opComplete, resp.StatusCode, fmt.Errorf("decode completion: %w", err))
	}
	used := decoded.Usage.TotalTokens
	if used == 0 {
		used = decoded.Usage.PromptTokens + decoded.Usage.CompletionTokens
	}
	if len(decoded.Choices) == 0 {
		return "", used, resp.StatusCode, matcherr.AIFailure(opComplete, resp.StatusCode, ErrEmptyCompletion)
	}
	return decoded.Choices[0].Message.Content, used, resp.StatusCode, nil
}

// retryAfter parses a Retry-After header given in seconds. Dates are ignored.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func snippet(b []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(b))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
