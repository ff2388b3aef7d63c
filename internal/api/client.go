package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/quillforge/quillforge/internal/config"
	"github.com/quillforge/quillforge/internal/metrics"
)

const (
	// DefaultHTTPTimeout is the default timeout for synchronous requests
	DefaultHTTPTimeout = 120 * time.Second
	// DefaultMaxRetries is the default maximum number of retry attempts
	DefaultMaxRetries = 3
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// RateLimitBackoffMultiplier is the multiplier for rate limit backoff (3^n)
	RateLimitBackoffMultiplier = 3
)

// Client handles requests to the Generation Service over both its
// synchronous and streaming surfaces
type Client struct {
	httpClient     *http.Client
	limiters       *RateLimiterPool
	cfg            config.ServiceConfig
	apiKey         string
	logger         *slog.Logger
	collector      *metrics.Collector
	baseRetryDelay time.Duration
}

// NewClient creates a new Generation Service client
func NewClient(cfg config.ServiceConfig, apiKey string, collector *metrics.Collector, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		limiters:       NewRateLimiterPool(),
		cfg:            cfg,
		apiKey:         apiKey,
		logger:         logger,
		collector:      collector,
		baseRetryDelay: DefaultBaseRetryDelay,
	}
}

// Generate performs the one-shot synchronous call. Retries transient
// failures with exponential backoff; 429 responses back off harder.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (json.RawMessage, error) {
	if err := c.limiters.Wait(ctx, c.cfg.BaseURL, c.cfg.RateLimitPerMinute); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	start := time.Now()
	maxRetries := c.cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 0; maxRetries < 0 || attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay
			if apiErr, ok := lastErr.(*APIError); ok && apiErr.StatusCode == http.StatusTooManyRequests {
				backoff = time.Duration(math.Pow(RateLimitBackoffMultiplier, float64(attempt))) * c.baseRetryDelay
			}
			maxBackoff := time.Duration(c.cfg.MaxBackoffSeconds) * time.Second
			if maxBackoff > 0 && backoff > maxBackoff {
				backoff = maxBackoff
			}
			jitter := time.Duration(float64(backoff) * 0.1 * (2*float64(time.Now().UnixNano()%100)/100 - 1))
			sleep := backoff + jitter

			c.logger.Warn("Retrying generation request",
				"attempt", attempt,
				"max_retries", maxRetries,
				"backoff", sleep,
				"action", req.Action)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
		}

		result, err := c.doGenerate(ctx, req)
		if err == nil {
			c.collector.RecordServiceRequest(string(req.Action), "sync", time.Since(start), true)
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			c.collector.RecordServiceRequest(string(req.Action), "sync", time.Since(start), false)
			return nil, err
		}
	}

	c.collector.RecordServiceRequest(string(req.Action), "sync", time.Since(start), false)
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doGenerate(ctx context.Context, req GenerateRequest) (json.RawMessage, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint("generate"), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{
			Message:    fmt.Sprintf("request failed: %v", err),
			StatusCode: 0,
			Retryable:  true,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.statusError(httpResp.StatusCode, respBody)
	}

	var resp GenerateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("no result returned in response")
	}

	return NormalizeResult(resp.Result)
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + path
}

func (c *Client) setHeaders(req *http.Request, accept string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		c.logger.Warn("Service request without API key", "endpoint", req.URL.String())
	}
}

func (c *Client) statusError(statusCode int, body []byte) error {
	retryable := isStatusCodeRetryable(statusCode)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &APIError{
			Message:    errResp.Error.Message,
			StatusCode: statusCode,
			Type:       errResp.Error.Type,
			Code:       errResp.Error.Code,
			Retryable:  retryable,
		}
	}
	return &APIError{
		Message:    fmt.Sprintf("request failed with status %d: %s", statusCode, string(body)),
		StatusCode: statusCode,
		Retryable:  retryable,
	}
}

func isRetryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Retryable
	}
	return false
}

func isStatusCodeRetryable(statusCode int) bool {
	// Retry on rate limits and server errors
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}
