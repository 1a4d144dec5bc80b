// Package httpds fetches input over HTTP with retry and exponential
// backoff. Transport errors, 429 and 5xx are retried; any other status is
// final.
package httpds

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"txetl/internal/logging"
)

// Config configures the client. Zero values get defaults: Timeout 30s,
// InitialBackoff 200ms, MaxBackoff 5s. MaxRetries 0 means a single attempt.
type Config struct {
	// Timeout bounds each attempt including reading the body.
	Timeout time.Duration

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool

	// BaseHeaders are sent with every request.
	BaseHeaders http.Header

	// Transport replaces the default transport, mainly for tests.
	Transport http.RoundTripper

	// Logger receives retry attempts at debug level.
	Logger *zap.Logger
}

// Client wraps a retryablehttp.Client with the retry policy above.
type Client struct {
	rc          *retryablehttp.Client
	baseHeaders http.Header
}

// NewClient constructs a Client from cfg.
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
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.InitialBackoff
	rc.RetryWaitMax = cfg.MaxBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = giveUp
	rc.Logger = zapLeveled{logging.OrNop(cfg.Logger).Sugar()}

	return &Client{rc: rc, baseHeaders: cfg.BaseHeaders.Clone()}
}

// StatusError is returned for a final non-2xx response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpds: GET %s: status %d", e.URL, e.Status)
}

// Get issues a GET, retrying transient failures. On success the caller owns
// resp.Body. A final non-2xx status is returned as *StatusError.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	if url == "" {
		return nil, fmt.Errorf("httpds: url must not be empty")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpds: build request: %w", err)
	}
	for k, vs := range c.baseHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}
	return resp, nil
}

// Source is a datasource.Source that streams one URL.
type Source struct {
	client *Client
	url    string
}

// NewSource returns a Source for url.
func NewSource(url string, cfg Config) *Source {
	return &Source{client: NewClient(cfg), url: url}
}

// Name returns the URL.
func (s *Source) Name() string { return s.url }

// Open starts the download and returns the response body.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// checkRetry retries 429 and every 5xx. Transport errors follow the
// library's default policy, which gives up on TLS and malformed-URL errors.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return isRetryableStatus(resp.StatusCode), nil
}

// giveUp runs once retries are exhausted or the policy returned an error.
func giveUp(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil {
		if err == nil {
			err = &StatusError{URL: resp.Request.URL.String(), Status: resp.StatusCode}
		}
		drain(resp.Body)
	}
	return nil, fmt.Errorf("httpds: giving up after %d attempts: %w", attempts, err)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

// zapLeveled adapts zap to retryablehttp.LeveledLogger. Retry chatter stays
// at debug; only the library's errors surface as warnings.
type zapLeveled struct{ s *zap.SugaredLogger }

func (l zapLeveled) Error(msg string, kv ...interface{}) { l.s.Warnw("httpds: "+msg, kv...) }
func (l zapLeveled) Info(msg string, kv ...interface{})  { l.s.Debugw("httpds: "+msg, kv...) }
func (l zapLeveled) Debug(msg string, kv ...interface{}) { l.s.Debugw("httpds: "+msg, kv...) }
func (l zapLeveled) Warn(msg string, kv ...interface{})  { l.s.Warnw("httpds: "+msg, kv...) }
