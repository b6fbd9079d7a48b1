// Package fetch is the outbound HTTP client shared by every upstream adapter.
// It paces requests with a token bucket, retries transient failures with
// exponential backoff and understands the rate-limit headers used by the
// social feed and market APIs.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is returned when the upstream asks us to wait longer
	// than MaxRateLimitWait.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized is returned on HTTP 401. It is never retried.
	ErrUnauthorized = errors.New("unauthorized")
)

// RateLimitError carries the wait the upstream asked for. It matches
// ErrRateLimited with errors.Is.
type RateLimitError struct {
	Host string
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s asks for %s: %v", e.Host, e.Wait, ErrRateLimited)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// StatusError describes a non-retryable HTTP failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Options configure a Client. Zero fields take the defaults below.
type Options struct {
	Timeout          time.Duration // per request, default 15s
	Retries          int           // attempts, default 3
	BaseBackoff      time.Duration // default 2s
	RPS              float64       // 0 disables pacing
	Burst            int
	MaxRateLimitWait time.Duration // default 300s
	Header           http.Header   // sent on every request
}

type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 2 * time.Second
	}
	if opts.MaxRateLimitWait <= 0 {
		opts.MaxRateLimitWait = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger,
		sleep:  sleepCtx,
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

// WithHTTPClient swaps the underlying transport, used by tests with
// httptest servers.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// Backoff returns base * 2^(attempt-1) for attempt >= 1.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// GetJSON issues a GET and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// Get issues a GET and returns the body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
}

// Do runs the request built by newReq with pacing and retries. newReq is
// called once per attempt so request bodies can be rebuilt.
func (c *Client) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}
		for k, vs := range c.opts.Header {
			if req.Header.Get(k) == "" {
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
		}

		body, retryAfter, err := c.once(req)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var se *StatusError
		switch {
		case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrRateLimited):
			return nil, err
		case errors.As(err, &se) && se.Code < 500 && se.Code != http.StatusTooManyRequests:
			return nil, err
		}
		if attempt == c.opts.Retries {
			break
		}

		wait := Backoff(c.opts.BaseBackoff, attempt)
		if retryAfter > 0 {
			wait = retryAfter
		}
		c.logger.Warn("upstream request failed, retrying",
			"url", req.URL.String(), "attempt", attempt, "wait", wait.String(), "error", err)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.opts.Retries, lastErr)
}

// once performs a single round trip. A positive duration means the server
// asked for a specific wait before the next attempt.
func (c *Client) once(req *http.Request) ([]byte, time.Duration, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, 0, fmt.Errorf("%s: %w", req.URL.Host, ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		wait, ok := RateLimitWait(resp.Header, time.Now())
		if ok && wait > c.opts.MaxRateLimitWait {
			return nil, 0, &RateLimitError{Host: req.URL.Host, Wait: wait}
		}
		var retryAfter time.Duration
		if ok && wait <= 60*time.Second {
			retryAfter = wait + time.Second
		}
		return nil, retryAfter, &StatusError{Code: resp.StatusCode, Body: "too many requests"}
	case resp.StatusCode >= 400:
		return nil, 0, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, 0, nil
}

// RateLimitWait reads x-rate-limit-reset (unix seconds) or Retry-After
// (seconds) and returns the requested wait. Short waits are slept exactly,
// longer ones fall back to exponential backoff.
func RateLimitWait(h http.Header, now time.Time) (time.Duration, bool) {
	if v := h.Get("X-Rate-Limit-Reset"); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			wait := time.Unix(reset, 0).Sub(now)
			if wait < 0 {
				wait = 0
			}
			return wait, true
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
