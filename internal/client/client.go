// Package client talks to a running envsandbox server over its REST API.
//
// Requests go through resty on top of a retrying transport, so refused
// connections and 429 answers are retried with backoff. A circuit breaker
// stops hammering a server that keeps failing.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/snapshot"
)

const (
	DefaultTimeout   = 90 * time.Second
	DefaultRetries   = 3
	DefaultRetryWait = 200 * time.Millisecond
	userAgent        = "envsandbox-client/1.0"
)

// Options tunes a Client. Zero values take the defaults and a negative
// Retries disables retrying.
type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Breaker      resilience.Settings
	Logger       *zap.Logger
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

// IsServerFault reports whether err should count against the server:
// transport errors and 5xx answers do, 4xx answers do not.
func IsServerFault(err error) bool {
	if err == nil {
		return false
	}
	var api *APIError
	if errors.As(err, &api) {
		return api.Status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

type errorBody struct {
	Error string `json:"error"`
}

// Client is safe for concurrent use.
type Client struct {
	resty   *resty.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// New creates a client for the server at baseURL, e.g. http://localhost:3000.
func New(baseURL string, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = DefaultRetryWait
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = 10 * opts.RetryWaitMin
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = retryLogger{opts.Logger.Sugar()}
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")

	settings := opts.Breaker
	if settings.IsFailure == nil {
		settings.IsFailure = IsServerFault
	}
	logger := opts.Logger
	if settings.OnStateChange == nil {
		settings.OnStateChange = func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
			)
		}
	}

	return &Client{
		resty:   restyClient,
		breaker: resilience.New("sandbox-api", settings),
		logger:  logger,
	}
}

// checkRetry retries transport errors and 429 answers. 5xx answers are
// returned at once so a run is never executed twice.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Breaker exposes the circuit breaker guarding the server.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	_, err := resilience.Do(ctx, c.breaker, func(ctx context.Context) (struct{}, error) {
		req := c.resty.R().SetContext(ctx).SetError(&errorBody{})
		if query != nil {
			req.SetQueryParamsFromValues(query)
		}
		if body != nil {
			req.SetBody(body)
		}
		if out != nil {
			req.SetResult(out)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return struct{}{}, fmt.Errorf("%s %s: %w", method, path, err)
		}
		if resp.IsError() {
			msg := resp.Status()
			if e, ok := resp.Error().(*errorBody); ok && e.Error != "" {
				msg = e.Error
			}
			return struct{}{}, &APIError{Status: resp.StatusCode(), Message: msg}
		}
		c.logger.Debug("Sandbox API call",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()),
			zap.Duration("duration", resp.Time()),
		)
		return struct{}{}, nil
	})
	return err
}

// Health is the liveness answer.
type Health struct {
	Status  string  `json:"status"`
	Version string  `json:"version"`
	Uptime  float64 `json:"uptime"`
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &h)
	return h, err
}

// RunResult is the answer of Run and RunIsolated.
type RunResult struct {
	sandbox.ExecResult
	Stats *sandbox.Stats `json:"stats,omitempty"`
}

type runRequest struct {
	Code    string `json:"code"`
	Timeout int64  `json:"timeout,omitempty"`
	Reset   bool   `json:"reset,omitempty"`
}

// Run executes code in the shared sandbox. A zero timeout uses the server
// default; reset rebuilds the sandbox first. A script error is reported in
// the result, not as err.
func (c *Client) Run(ctx context.Context, code string, timeout time.Duration, reset bool) (*RunResult, error) {
	var res RunResult
	req := runRequest{Code: code, Timeout: timeout.Milliseconds(), Reset: reset}
	if err := c.do(ctx, http.MethodPost, "/api/sandbox/run", nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RunIsolated executes code in a throwaway pooled sandbox.
func (c *Client) RunIsolated(ctx context.Context, code string, timeout time.Duration) (*RunResult, error) {
	var res RunResult
	req := runRequest{Code: code, Timeout: timeout.Milliseconds()}
	if err := c.do(ctx, http.MethodPost, "/api/sandbox/isolated", nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status is the server's view of the shared sandbox.
type Status struct {
	Stats      sandbox.Stats               `json:"stats"`
	NeedsReset bool                        `json:"needsReset"`
	Pool       *sandbox.PoolStats          `json:"pool,omitempty"`
	Metrics    *monitoring.MetricsSnapshot `json:"metrics,omitempty"`
}

type envelope[T any] struct {
	Data  T   `json:"data"`
	Total int `json:"total"`
}

// Status fetches sandbox statistics.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var env envelope[Status]
	if err := c.do(ctx, http.MethodGet, "/api/sandbox/status", nil, nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// Undefined lists undefined members, newest last. limit 0 returns all.
func (c *Client) Undefined(ctx context.Context, unfixedOnly bool, limit int) ([]proxylog.UndefinedEntry, error) {
	q := url.Values{}
	if unfixedOnly {
		q.Set("unfixed", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var env envelope[[]proxylog.UndefinedEntry]
	if err := c.do(ctx, http.MethodGet, "/api/sandbox/undefined", q, nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// MarkFixed flags path as resolved. An empty by means manual.
func (c *Client) MarkFixed(ctx context.Context, path string, by proxylog.FixSource) error {
	body := map[string]string{"path": path, "by": string(by)}
	return c.do(ctx, http.MethodPost, "/api/sandbox/undefined/fixed", nil, body, nil)
}

// Reset rebuilds the shared sandbox.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/sandbox/reset", nil, nil, nil)
}

// SaveSnapshot stores the shared sandbox state under name.
func (c *Client) SaveSnapshot(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/snapshot/save", nil, map[string]string{"name": name}, nil)
}

// LoadSnapshot rebuilds the shared sandbox from the named snapshot.
func (c *Client) LoadSnapshot(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/snapshot/load", nil, map[string]string{"name": name}, nil)
}

// Snapshots lists the saved snapshots, newest first.
func (c *Client) Snapshots(ctx context.Context) ([]snapshot.Summary, error) {
	var env envelope[[]snapshot.Summary]
	if err := c.do(ctx, http.MethodGet, "/api/snapshot/list", nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
