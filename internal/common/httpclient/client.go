// Package httpclient provides the shared HTTP client used for all outbound
// provider calls. Every request carries the configured per-call timeout and
// optionally runs inside a circuit breaker.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"area-engine/internal/circuitbreaker"
	"area-engine/internal/common/errors"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	Transport           http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the per-call timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// NewHTTPClient creates a new raw http.Client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// Response represents a completed HTTP exchange.
type Response struct {
	StatusCode int
	Headers    map[string]string
	RawBody    []byte
	Duration   time.Duration
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RateLimited reports whether the provider answered 429.
func (r *Response) RateLimited() bool {
	return r.StatusCode == http.StatusTooManyRequests
}

// RetryAfter returns the provider-requested backoff from the Retry-After
// header, or the fallback when the header is absent or unparsable.
func (r *Response) RetryAfter(fallback time.Duration) time.Duration {
	raw := r.Headers["Retry-After"]
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out interface{}) error {
	if len(r.RawBody) == 0 {
		return errors.ValidationError("empty response body")
	}
	if err := json.Unmarshal(r.RawBody, out); err != nil {
		return errors.ValidationError("malformed response body: " + err.Error())
	}
	return nil
}

// Client wraps http.Client with bearer auth, JSON handling and an optional
// circuit breaker. A completed exchange always returns a Response, whatever
// the status code; only transport failures return an error.
type Client struct {
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// New creates a wrapped client
func New(opts ...ClientOption) *Client {
	return &Client{client: NewHTTPClient(opts...)}
}

// WithBreaker attaches a circuit breaker to the client
func (c *Client) WithBreaker(b *circuitbreaker.Breaker) *Client {
	c.breaker = b
	return c
}

// Get performs a bearer-authenticated GET
func (c *Client) Get(ctx context.Context, rawURL, bearer string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, bearer, "", nil, headers)
}

// PostJSON performs a bearer-authenticated POST with a JSON body
func (c *Client) PostJSON(ctx context.Context, rawURL, bearer string, body interface{}, headers map[string]string) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.InternalError("failed to encode request body", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, bearer, "application/json", payload, headers)
}

// PostForm performs a form-encoded POST, used for OAuth2 token exchanges
func (c *Client) PostForm(ctx context.Context, rawURL string, data url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, "", "application/x-www-form-urlencoded",
		[]byte(data.Encode()), map[string]string{"Accept": "application/json"})
}

func (c *Client) do(ctx context.Context, method, rawURL, bearer, contentType string, body []byte, headers map[string]string) (*Response, error) {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, errors.InternalError("failed to create request", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if bearer != "" {
		if strings.Contains(bearer, " ") {
			// Caller supplied an explicit scheme, e.g. "Bot <token>"
			req.Header.Set("Authorization", bearer)
		} else {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
	}

	var resp *http.Response
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, func() error {
			var httpErr error
			resp, httpErr = c.client.Do(req)
			return httpErr
		})
	} else {
		resp, err = c.client.Do(req)
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.TimeoutError(method + " " + rawURL)
		}
		return nil, errors.ConnectionError("request failed", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ConnectionError("failed to read response body", err)
	}

	respHeaders := make(map[string]string)
	for name, values := range resp.Header {
		if len(values) > 0 {
			respHeaders[name] = values[0]
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    respHeaders,
		RawBody:    rawBody,
		Duration:   time.Since(start),
	}, nil
}
