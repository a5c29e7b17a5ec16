package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"patientsync/internal/registry/metrics"
)

const (
	// DefaultReadTimeout bounds every GET. Calls are never retried.
	DefaultReadTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds every POST. Calls are never retried.
	DefaultWriteTimeout = 30 * time.Second

	maxErrorBody = 512
)

// Response is a raw registry answer with a 2xx status.
type Response struct {
	Status int
	Body   []byte
}

// Client is the gateway to the third-party patient registry. It is built once
// at startup and shared by all handlers.
type Client struct {
	http         *resty.Client
	readTimeout  time.Duration
	writeTimeout time.Duration
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

type Option func(*Client)

// WithTimeouts overrides the read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(c *Client) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New constructs a registry client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetRetryCount(0).
			SetHeader("Accept", "application/json"),
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		tracer:       otel.Tracer("patientsync/registry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPage performs GET {base}/{path}?{params}.
func (c *Client) FetchPage(ctx context.Context, path string, params map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, c.readTimeout, func(r *resty.Request) {
		if len(params) > 0 {
			r.SetQueryParams(params)
		}
	})
}

// PostJSON performs POST {base}/{path} with payload encoded as JSON.
// time.Time values encode as RFC 3339 strings.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, c.writeTimeout, func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json").SetBody(payload)
	})
}

func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, build func(*resty.Request)) (*Response, error) {
	operation := method + " " + routeOf(path)
	ctx, span := c.tracer.Start(ctx, "registry "+operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req := c.http.R().SetContext(ctx)
	build(req)
	resp, err := req.Execute(method, "/"+strings.TrimLeft(path, "/"))
	if c.metrics != nil {
		c.metrics.ObserveCall(operation, time.Since(start))
	}

	result, rerr := normalize(resp, err)
	if rerr != nil {
		span.RecordError(rerr)
		span.SetStatus(codes.Error, string(rerr.Category))
		span.SetAttributes(attribute.Int("http.status_code", rerr.Status))
		if c.metrics != nil {
			c.metrics.IncrementFailure(operation, string(rerr.Category))
		}
		return nil, rerr
	}
	span.SetAttributes(attribute.Int("http.status_code", result.Status))
	return result, nil
}

func normalize(resp *resty.Response, err error) (*Response, *Error) {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(ErrorTimeout, 0, "registry request timed out", err)
		}
		return nil, newError(ErrorProviderOutage, 0, "registry unreachable", err)
	}
	status := resp.StatusCode()
	if status < 200 || status > 299 {
		body := strings.TrimSpace(string(resp.Body()))
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		msg := fmt.Sprintf("registry returned status %d", status)
		if body != "" {
			msg += ": " + body
		}
		return nil, newError(categoryForStatus(status), status, msg, nil)
	}
	return &Response{Status: status, Body: resp.Body()}, nil
}

// routeOf collapses ids in a path so metric labels stay bounded:
// "patients/123/process" becomes "patients/:id/process".
func routeOf(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "process" {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
