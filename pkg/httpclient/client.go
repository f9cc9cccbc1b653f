// Package httpclient provides the retrying HTTP client shared by every
// outbound HTTP surface: the model runtime, MCP HTTP fallback transports,
// and the OCR/transcription endpoints.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	ConservativeRetry
	SmartRetry
)

type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
}

type RateLimitHeaderParser func(http.Header) RateLimitInfo

type RetryStrategyFunc func(int) RetryStrategy

type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithMaxDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = delay
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

// New builds a client with the default retry policy: up to 3 retries with
// exponential backoff starting at 1s and capped at 10s.
func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   3,
		baseDelay:    1 * time.Second,
		maxDelay:     10 * time.Second,
		headerParser: ParseStandardHeaders,
		strategyFunc: DefaultRetryStrategy,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying transport errors and retryable status
// codes. The request body is recreated through GetBody on each retry. Sleeps
// between attempts respect the request context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport failure: connection refused, reset, timeout.
			lastResp, lastErr = nil, err
			if attempt >= c.maxRetries {
				break
			}
			delay := c.backoff(attempt, RateLimitInfo{})
			slog.Debug("retrying after transport error", "attempt", attempt+1, "max", c.maxRetries, "delay", delay, "error", err)
			if err := c.sleep(req, delay); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		var retryInfo RateLimitInfo
		if c.headerParser != nil {
			retryInfo = c.headerParser(resp.Header)
		}
		strategy := c.strategyFunc(resp.StatusCode)
		if strategy == NoRetry {
			return resp, nil
		}

		lastResp, lastErr = resp, fmt.Errorf("HTTP %d", resp.StatusCode)
		if attempt >= c.maxRetries {
			break
		}

		delay := c.backoff(attempt, retryInfo)
		resp.Body.Close()
		slog.Warn("retrying after server error", "status", resp.StatusCode, "attempt", attempt+1, "max", c.maxRetries, "delay", delay)
		if err := c.sleep(req, delay); err != nil {
			return nil, err
		}
	}

	statusCode := 0
	if lastResp != nil {
		statusCode = lastResp.StatusCode
	}
	return lastResp, &RetryableError{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
		Err:        lastErr,
	}
}

// backoff doubles the base delay per attempt with 10% jitter, honoring
// Retry-After or a reset timestamp when the server supplied one, and never
// exceeding maxDelay.
func (c *Client) backoff(attempt int, info RateLimitInfo) time.Duration {
	if info.RetryAfter > 0 {
		return c.clamp(info.RetryAfter)
	}
	if info.ResetTime > 0 {
		if until := time.Until(time.Unix(info.ResetTime, 0)); until > 0 {
			return c.clamp(until)
		}
	}

	delay := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	jitter := time.Duration(float64(delay) * 0.1)
	return c.clamp(delay + jitter)
}

func (c *Client) clamp(d time.Duration) time.Duration {
	if c.maxDelay > 0 && d > c.maxDelay {
		return c.maxDelay
	}
	return d
}

func (c *Client) sleep(req *http.Request, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}
