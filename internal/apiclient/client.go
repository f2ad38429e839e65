// Package apiclient is a small JSON-over-HTTP client with retries and rate
// limiting, shared by the remote embedding and generation providers.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseRetryDelay = 200 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
	maxErrorBody   = 512
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client posts JSON requests and decodes JSON responses.
type Client struct {
	http       *http.Client
	headers    map[string]string
	limiter    *rate.Limiter
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// WithBearer sets the Authorization header when token is non-empty.
func WithBearer(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.headers["Authorization"] = "Bearer " + token
		}
	}
}

// WithRateLimit allows at most rps requests per second. Zero means unlimited.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithMaxRetries sets how many times a retryable failure is repeated.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithLogger sets a logger for retry events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client whose requests time out after timeout.
func New(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: timeout},
		headers: map[string]string{"Content-Type": "application/json"},
		sleep:   sleepContext,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON sends in as JSON to url and decodes the response into out.
// 429 and 5xx responses and transport errors are retried with exponential
// backoff, honoring Retry-After when present.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		wait, err := c.do(ctx, url, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == c.maxRetries {
			break
		}
		if wait == 0 {
			wait = retryDelay(attempt)
		}
		c.logger.Debug("retrying request", zap.String("url", url), zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// do performs one attempt and returns the server's requested retry delay, if any.
func (c *Client) do(ctx context.Context, url string, payload []byte, out any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return retryAfter(resp.Header.Get("Retry-After")), &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return 0, nil
}

func retryDelay(attempt int) time.Duration {
	if attempt > 8 {
		return maxRetryDelay
	}
	return min(baseRetryDelay<<attempt, maxRetryDelay)
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return min(time.Duration(secs)*time.Second, maxRetryDelay)
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return min(d, maxRetryDelay)
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
