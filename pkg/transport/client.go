package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultTimeout = 30 * time.Second

	HeaderAgent          = "UCP-Agent"
	HeaderRequestID      = "Request-Id"
	HeaderIdempotencyKey = "Idempotency-Key"

	maxResponseBytes int64 = 1 << 20
)

var (
	errAgentProfileRequired = errors.New("agent profile url is required")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport closed")
)

// Client is a JSON-over-HTTP sender shared by every call of one UCP client.
// It owns the connection pool and carries no protocol knowledge.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	headers    http.Header
	breakers   *breakerSet

	mu     sync.RWMutex
	closed bool
}

// Response is a received HTTP response with its body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client. A non-zero timeout on it is
// kept; otherwise a copy is given the transport timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHeader adds a default header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set(key, value)
		}
	}
}

// WithCircuitBreaker fails fast against a merchant host after consecutive failures.
func WithCircuitBreaker(settings BreakerSettings) Option {
	return func(c *Client) {
		c.breakers = newBreakerSet(settings)
	}
}

// New builds the transport advertising agentProfileURL in the UCP-Agent header.
func New(agentProfileURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(agentProfileURL)
	if trimmed == "" {
		return nil, errAgentProfileRequired
	}

	client := &Client{
		timeout: DefaultTimeout,
		headers: http.Header{},
	}
	client.headers.Set(HeaderAgent, fmt.Sprintf("profile=%q", trimmed))
	client.headers.Set("Content-Type", "application/json")
	client.headers.Set("Accept", "application/json")

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{
			Timeout:   client.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
		}
	} else if client.httpClient.Timeout == 0 {
		copied := *client.httpClient
		copied.Timeout = client.timeout
		client.httpClient = &copied
	}

	return client, nil
}

// Send issues one request. body is JSON-encoded when non-nil. A returned error
// means no response was received; non-2xx statuses are returned as responses.
func (c *Client) Send(ctx context.Context, method, rawURL string, body any) (*Response, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set(HeaderRequestID, requestID(ctx))
	if method == http.MethodPost {
		req.Header.Set(HeaderIdempotencyKey, idempotencyKey(ctx))
	}

	if c.breakers == nil {
		return c.do(req)
	}
	return c.breakers.execute(req.URL.Host, func() (*Response, error) {
		return c.do(req)
	})
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   raw,
	}, nil
}

// Close releases pooled connections. Later Sends fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.httpClient.CloseIdleConnections()
	return nil
}

// JoinURL appends escaped path segments to base, ignoring a trailing slash on base.
func JoinURL(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, segment := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(segment))
	}
	return b.String()
}

type ctxKey int

const (
	idempotencyKeyCtx ctxKey = iota
	requestIDCtx
)

// WithIdempotencyKey pins the Idempotency-Key sent on POST requests made with ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx, key)
}

// WithRequestID pins the Request-Id sent on requests made with ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtx, id)
}

func idempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyCtx).(string); ok && strings.TrimSpace(key) != "" {
		return key
	}
	return uuid.NewString()
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDCtx).(string); ok && strings.TrimSpace(id) != "" {
		return id
	}
	return uuid.NewString()
}
