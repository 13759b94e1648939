package databricks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/otelhelper"
)

const (
	defaultTimeout      = 2 * time.Minute
	defaultRetryCount   = 3
	defaultRetryWait    = 500 * time.Millisecond
	defaultRetryMaxWait = 5 * time.Second
)

// Client issues authenticated JSON requests against one workspace. It is safe
// for concurrent use.
type Client struct {
	http   *resty.Client
	host   string
	logger *slog.Logger
	tracer trace.Tracer
}

type clientConfig struct {
	httpClient   *http.Client
	timeout      time.Duration
	retryCount   int
	retryWait    time.Duration
	retryMaxWait time.Duration
	allowHTTP    bool
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures a Client.
type Option func(*clientConfig)

// WithHTTPClient sets the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) { cfg.httpClient = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) { cfg.timeout = d }
}

// WithRetry sets how many times a request is retried on 429, 5xx or network
// errors, and the bounds of the exponential wait between attempts.
func WithRetry(count int, wait, maxWait time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.retryCount = count
		cfg.retryWait = wait
		cfg.retryMaxWait = maxWait
	}
}

// WithAllowHTTP permits plain http hosts. Intended for local fakes.
func WithAllowHTTP() Option {
	return func(cfg *clientConfig) { cfg.allowHTTP = true }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) { cfg.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(cfg *clientConfig) { cfg.tracer = tracer }
}

// NewClient validates creds and builds a client bound to the workspace host.
func NewClient(creds Credentials, opts ...Option) (*Client, error) {
	cfg := clientConfig{
		timeout:      defaultTimeout,
		retryCount:   defaultRetryCount,
		retryWait:    defaultRetryWait,
		retryMaxWait: defaultRetryMaxWait,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := creds.Validate(); err != nil {
		return nil, err
	}

	if creds.scheme() != "https" && !cfg.allowHTTP {
		return nil, fmt.Errorf("%w: %s", ErrInsecureHost, creds.NormalizedHost())
	}

	logger := log.OrDefault(cfg.logger).With("module", "databricks")
	if creds.WeakToken() {
		logger.Warn("databricks token is shorter than expected", "length", len(creds.Token))
	}

	var rc *resty.Client
	if cfg.httpClient != nil {
		rc = resty.NewWithClient(cfg.httpClient)
	} else {
		rc = resty.New()
	}

	host := creds.NormalizedHost()

	rc.SetBaseURL(host).
		SetTimeout(cfg.timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(creds.Token).
		SetRetryCount(cfg.retryCount).
		SetRetryWaitTime(cfg.retryWait).
		SetRetryMaxWaitTime(cfg.retryMaxWait).
		AddRetryCondition(retryCondition)

	return &Client{
		http:   rc,
		host:   host,
		logger: logger,
		tracer: cfg.tracer,
	}, nil
}

// Host returns the normalised workspace URL.
func (c *Client) Host() string {
	return c.host
}

// Do sends a request to a path relative to the workspace host. body is encoded
// as JSON when non-nil; out receives the decoded response when non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	return c.execute(ctx, method, path, body, out)
}

// DoURL sends a request to an absolute URL with the workspace credentials.
func (c *Client) DoURL(ctx context.Context, method, rawURL string, body, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("databricks: invalid absolute url %q", log.Mask(rawURL))
	}

	return c.execute(ctx, method, rawURL, body, out)
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) execute(ctx context.Context, method, target string, body, out any) error {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "databricks.request",
		attribute.String(otelhelper.HostKey, c.host),
		attribute.String("http.request.method", method),
		attribute.String("url.path", log.Mask(target)),
	)
	defer span.End()

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()

	resp, err := req.Execute(method, target)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("databricks %s %s: %w", method, log.Mask(target), err)
	}

	status := resp.StatusCode()
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	c.logger.DebugContext(ctx, "databricks request",
		"method", method,
		"path", log.Mask(target),
		"status", status,
		"duration", time.Since(start),
	)

	if status < 200 || status >= 300 {
		apiErr := newAPIError(method, target, status, resp.Body())
		otelhelper.SetError(span, apiErr)

		return apiErr
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("databricks %s %s: decode response: %w", method, log.Mask(target), err)
	}

	return nil
}

// retryCondition retries throttling, server errors and transport failures of
// reads only. A submitted statement or model invocation may already have run.
func retryCondition(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || !idempotent(r.Request.Method) {
		return false
	}

	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}

	code := r.StatusCode()

	return code == http.StatusTooManyRequests || code >= 500
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
