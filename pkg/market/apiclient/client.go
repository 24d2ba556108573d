package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"callscore-api/pkg/market"
)

const (
	defaultHTTPTimeout      = 10 * time.Second
	defaultRetryBackoffBase = 150 * time.Millisecond
	maxErrorBody            = 512
	defaultMaxBody          = 4 << 20
)

var validate = validator.New()

// Client is a rate-limited JSON GET client shared by the price sources.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
	headers    http.Header
	query      url.Values
	maxBody    int64
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithMaxRetries adjusts the retry budget for transient failures.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxBodySize caps how many response bytes are read. Larger bodies fail
// as malformed.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithHeader sets a header on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.headers.Set(key, value)
		}
	}
}

// WithQueryParam adds a query parameter to every request.
func WithQueryParam(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.query.Set(key, value)
		}
	}
}

// New constructs a client; name prefixes every error.
func New(name, baseURL string, opts ...Option) *Client {
	client := &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		headers:    http.Header{"Accept": []string{"application/json"}},
		query:      url.Values{},
		maxBody:    defaultMaxBody,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ConfigOptions maps a provider entry onto client options.
func ConfigOptions(cfg *market.ProviderConfig) []Option {
	if cfg == nil {
		return nil
	}
	opts := []Option{WithBaseURL(cfg.BaseURL), WithMaxRetries(cfg.MaxRetries), WithRateLimit(cfg.RateLimit, cfg.Burst)}
	if cfg.HTTPTimeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
	}
	return opts
}

// FromConfig builds a client for a provider entry.
func FromConfig(name, defaultBaseURL string, cfg *market.ProviderConfig, extra ...Option) *Client {
	return New(name, defaultBaseURL, append(ConfigOptions(cfg), extra...)...)
}

// BaseURL returns the API root requests are issued against.
func (c *Client) BaseURL() string { return c.baseURL }

// GetJSON issues GET baseURL+path and decodes the body into out. Failures map
// onto market.ErrUnavailable, market.ErrNotFound or market.ErrMalformed.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	query := url.Values{}
	for k, v := range c.query {
		query[k] = append([]string(nil), v...)
	}
	for k, v := range params {
		query[k] = append(query[k], v...)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	backoff := defaultRetryBackoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: rate limiter: %w", c.name, err)
			}
		}
		retry, err := c.do(ctx, endpoint, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if !retry || attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, endpoint string, out any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("%s: build request: %w", c.name, err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("%w: %s: %v", market.ErrUnavailable, c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return true, fmt.Errorf("%w: %s: read response: %v", market.ErrUnavailable, c.name, err)
	}
	if int64(len(body)) > c.maxBody {
		return false, fmt.Errorf("%w: %s: response exceeds %d bytes", market.ErrMalformed, c.name, c.maxBody)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("%w: %s: http 404", market.ErrNotFound, c.name)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("%w: %s: http status %d: %s", market.ErrUnavailable, c.name, resp.StatusCode, truncate(body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return false, fmt.Errorf("%w: %s: http status %d: %s", market.ErrUnavailable, c.name, resp.StatusCode, truncate(body))
	}
	if out == nil {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("%w: %s: decode response: %v", market.ErrMalformed, c.name, err)
	}
	if err := validateBody(out); err != nil {
		return false, fmt.Errorf("%w: %s: invalid response: %v", market.ErrMalformed, c.name, err)
	}
	return false, nil
}

// validateBody applies `validate` tags when out points at a struct.
func validateBody(out any) error {
	v := reflect.ValueOf(out)
	for v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return validate.Struct(v.Interface())
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
