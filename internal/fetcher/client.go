// Package fetcher issues authenticated JSON GET requests against the OpenAQ API.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/resilience"
)

const (
	defaultBaseURL   = "https://api.openaq.org/v3"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "openaq-sync/1.0"

	maxBodyBytes = 64 << 20
)

// Client fetches one JSON document from the API. Implementations do not retry.
type Client interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetcher: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Option configures the client.
type Option func(*HTTPClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIKey sets the key sent as X-API-Key on every request.
func WithAPIKey(key string) Option {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLimiter paces requests through l.
func WithLimiter(l *AdaptiveLimiter) Option {
	return func(c *HTTPClient) {
		c.limiter = l
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *HTTPClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	userAgent string
	timeout   time.Duration
	http      *http.Client
	limiter   *AdaptiveLimiter
}

// New creates an API client.
func New(opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		timeout:   defaultTimeout,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Clone returns a copy sharing the transport and limiter, with opts applied.
// Used to give measurement pages their longer timeout.
func (c *HTTPClient) Clone(opts ...Option) *HTTPClient {
	cp := *c
	for _, o := range opts {
		o(&cp)
	}
	return &cp
}

// BaseURL returns the configured API root.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// GetJSON requests path with query and decodes the body into out.
// A non-2xx status yields *StatusError (wrapped as transient for 408/429/5xx);
// a body that is not valid JSON yields a decode error.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "fetcher: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "fetcher: GET %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return eris.Wrapf(err, "fetcher: read body of %s", path)
	}

	zap.L().Debug("fetcher: response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusTooManyRequests && c.limiter != nil {
			c.limiter.OnRateLimit()
		}
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			URL:        c.baseURL + path,
			Body:       truncate(string(body), 256),
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return statusErr
	}

	if c.limiter != nil {
		c.limiter.OnSuccess()
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "fetcher: decode %s", path)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
