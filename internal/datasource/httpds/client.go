// Package httpds fetches shards over HTTP with retry and exponential
// backoff. A Remote is a datasource.Shard whose bytes come from a URL; each
// Open issues a fresh GET, so a resumed run simply re-reads the stream and
// skips to its row.
package httpds

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
)

// jitter spreads retries of concurrent clients by up to 20% either way.
const jitter = 0.2

// Config configures the client. Zero values get defaults:
//   - Timeout:        0 (no whole-request limit; shards are long streams)
//   - MaxRetries:     3
//   - InitialBackoff: 200ms
//   - MaxBackoff:     5s
type Config struct {
	// Timeout bounds a whole request including the body read. Leave it zero
	// for large shards and rely on context cancellation.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Negative
	// disables retries.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Transport replaces http.DefaultTransport when set.
	Transport http.RoundTripper
}

// Client wraps an http.Client with retry on transport errors, 429 and 5xx.
type Client struct {
	httpClient     *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClient returns a Client for cfg.
func NewClient(cfg Config) *Client {
	switch {
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
	}
}

// StatusError is a final non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return "GET " + e.URL + ": status " + strconv.Itoa(e.Code) + " " + http.StatusText(e.Code)
}

// Get issues a GET with retries and returns a 2xx response whose body the
// caller must close. Any other final status is a *StatusError.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	if url == "" {
		return nil, errors.New("httpds: url must not be empty")
	}
	attempts := 0
	resp, err := backoff.RetryWithData(func() (*http.Response, error) {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(errors.Wrap(err, "httpds: build request"))
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, backoff.Permanent(cerr)
			}
			return nil, errors.Wrapf(err, "GET %s", url)
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return resp, nil
		}
		_ = resp.Body.Close()
		se := &StatusError{URL: url, Code: resp.StatusCode}
		if !isRetryableStatus(resp.StatusCode) {
			return nil, backoff.Permanent(se)
		}
		return nil, se
	}, c.newBackOff(ctx))
	if err != nil && attempts > 1 {
		return nil, errors.WithHintf(err, "gave up after %d attempts", attempts)
	}
	return resp, err
}

// newBackOff is the retry policy of one Get: exponential with jitter from
// initialBackoff up to maxBackoff, at most maxRetries waits, cut short by ctx.
func (c *Client) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

// Exists reports whether url answers a one-byte ranged GET with 2xx. A 404
// or 410 is a clean false; other failures are returned.
func (c *Client) Exists(ctx context.Context, url string) (bool, error) {
	h := make(http.Header)
	h.Set("Range", "bytes=0-0")
	resp, err := c.Get(ctx, url, h)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusGone) {
			return false, nil
		}
		return false, err
	}
	_ = resp.Body.Close()
	return true, nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}
