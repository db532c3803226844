package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxRetryInterval = 30 * time.Second

// APIError represents an error from the provider REST API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry. A rate-limit
// response is never retried; the caller backs off instead.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// IsRateLimit reports whether the provider rejected the request for rate.
func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// doRequest performs an HTTP request with the given method and path.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	c.creds.ApplyHeader(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// doWithRetry performs a request, retrying 5xx responses with jittered
// exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	var body []byte
	attempts := 0

	op := func() error {
		attempts++
		b, err := c.doRequest(ctx, method, path, query)
		if err != nil {
			var apiErr *APIError
			if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying request",
			"attempt", attempts,
			"backoff", wait,
			"path", path,
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.retryPolicy(), ctx), notify)
	if err == nil {
		return body, nil
	}

	var apiErr *APIError
	if attempts > c.maxRetries && errors.As(err, &apiErr) {
		return nil, fmt.Errorf("max retries exceeded: %w", err)
	}
	return nil, err
}

// retryPolicy waits retryBackoff * 2^n, jittered by ±50%, for at most maxRetries retries.
func (c *Client) retryPolicy() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.retryBackoff,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         maxRetryInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(max(c.maxRetries, 0)))
}

// get performs a GET request with retries.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
