// Package httpds implements the "http" data source: a CSV downloaded with
// GET. Transient failures (transport errors, 429 and 5xx) are retried with
// exponential backoff; other non-2xx statuses fail immediately.
package httpds

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"csvpipeline/internal/datasource"
	"csvpipeline/internal/retry"
)

func init() {
	datasource.Register("http", func(cfg datasource.Config) (datasource.Source, error) {
		return NewSource(NewClient(Config{MaxRetries: 3}), cfg.Path), nil
	})
}

// Config configures the HTTP client.
//
// Zero values are given sensible defaults:
//   - Timeout:        30s
//   - InitialBackoff: 200ms
//   - MaxBackoff:     5s
type Config struct {
	// Timeout bounds connecting and reading response headers. The body of a
	// large CSV is streamed without a deadline.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the initial request.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// BaseHeaders are added to every request.
	BaseHeaders http.Header

	// Transport is an optional custom RoundTripper. When nil, a default
	// *http.Transport is constructed from the TLS and timeout settings.
	Transport http.RoundTripper
}

// Client wraps an http.Client with retry and backoff behavior.
type Client struct {
	httpClient  *http.Client
	policy      retry.Policy
	baseHeaders http.Header
}

// NewClient constructs a Client from Config, applying defaults for zero values.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.Timeout,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}

	return &Client{
		httpClient:  &http.Client{Transport: transport},
		baseHeaders: cfg.BaseHeaders.Clone(),
		policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries + 1,
			Initial:     cfg.InitialBackoff,
			Max:         cfg.MaxBackoff,
		},
	}
}

// Get issues a GET and returns a 2xx response whose Body the caller must
// close.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	if url == "" {
		return nil, fmt.Errorf("httpds: url must not be empty")
	}

	var resp *http.Response
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("httpds: build request: %w", err))
		}
		for k, vs := range c.baseHeaders {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			// Network or transport-level error. Treat as retryable.
			return err
		}
		if r.StatusCode >= 200 && r.StatusCode <= 299 {
			resp = r
			return nil
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4<<10))
		_ = r.Body.Close()
		statusErr := fmt.Errorf("httpds: status %d from GET %s", r.StatusCode, url)
		if isRetryableStatus(r.StatusCode) {
			return statusErr
		}
		return retry.Permanent(statusErr)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// isRetryableStatus reports whether the status code should trigger a retry:
// 5xx and 429 are treated as transient; everything else is final.
func isRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// Source is a CSV served over HTTP(S).
type Source struct {
	client *Client
	url    string
}

var _ datasource.Source = (*Source)(nil)

// NewSource returns a Source that downloads url with client.
func NewSource(client *Client, url string) *Source {
	return &Source{client: client, url: url}
}

// Name returns the URL.
func (s *Source) Name() string { return s.url }

// Open starts the download. The body is streamed, never buffered whole.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
