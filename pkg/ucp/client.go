package ucp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
	"github.com/angelmondragon/ucp-agent/pkg/logger"
	"github.com/angelmondragon/ucp-agent/pkg/metrics"
	"github.com/angelmondragon/ucp-agent/pkg/transport"
)

const (
	defaultCacheEntries = 256
)

var (
	defaultAgentCapabilities = []string{CapabilityCheckout}
	defaultAgentHandlers     = []string{"com.google.pay", "dev.ucp.ap2"}
)

// Sender is the wire transport the client funnels every call through.
type Sender interface {
	Send(ctx context.Context, method, rawURL string, body any) (*transport.Response, error)
	Close() error
}

// Client speaks UCP to merchants on behalf of one agent profile. It is safe for
// concurrent use; the profile cache is its only mutable shared state.
type Client struct {
	sender       Sender
	cache        ProfileCache
	flights      singleflight.Group
	logger       *logger.Logger
	metrics      *metrics.ClientMetrics
	agentVersion string

	agentCapabilities []string
	agentHandlers     []string

	transportOpts []transport.Option
	now           func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// Option configures optional client behavior.
type Option func(*Client)

// WithSender replaces the default transport.
func WithSender(sender Sender) Option {
	return func(c *Client) {
		if sender != nil {
			c.sender = sender
		}
	}
}

// WithTransportOptions configures the default transport. Ignored with WithSender.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Client) {
		c.transportOpts = append(c.transportOpts, opts...)
	}
}

// WithCache replaces the default bounded in-memory profile cache.
func WithCache(cache ProfileCache) Option {
	return func(c *Client) {
		if cache != nil {
			c.cache = cache
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		if logg != nil {
			c.logger = logg
		}
	}
}

func WithMetrics(m *metrics.ClientMetrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithAgentVersion overrides the protocol version reported in version mismatches.
func WithAgentVersion(version string) Option {
	return func(c *Client) {
		if strings.TrimSpace(version) != "" {
			c.agentVersion = version
		}
	}
}

// WithAgentSupport sets the capabilities and payment handler types the agent
// declares, used by Client.Negotiate.
func WithAgentSupport(capabilities, handlerTypes []string) Option {
	return func(c *Client) {
		c.agentCapabilities = capabilities
		c.agentHandlers = handlerTypes
	}
}

// NewClient builds a client advertising agentProfileURL in the UCP-Agent header.
func NewClient(agentProfileURL string, opts ...Option) (*Client, error) {
	c := &Client{
		logger:            logger.Nop(),
		agentVersion:      ProtocolVersion,
		agentCapabilities: defaultAgentCapabilities,
		agentHandlers:     defaultAgentHandlers,
		now:               time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.sender == nil {
		sender, err := transport.New(agentProfileURL, c.transportOpts...)
		if err != nil {
			return nil, fmt.Errorf("build transport: %w", err)
		}
		c.sender = sender
	}
	if c.cache == nil {
		c.cache = NewMemoryCache(defaultCacheEntries, 0)
	}
	return c, nil
}

// Close releases the transport and any closable cache. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs error
		errs = multierr.Append(errs, c.sender.Close())
		if closer, ok := c.cache.(io.Closer); ok {
			errs = multierr.Append(errs, closer.Close())
		}
		c.closeErr = errs
	})
	return c.closeErr
}

// send issues one wire call and maps every failure through the error taxonomy.
func (c *Client) send(ctx context.Context, op, method, rawURL string, body any) ([]byte, error) {
	ctx = c.logger.WithFields(ctx, map[string]any{
		"operation": op,
		"method":    method,
		"url":       rawURL,
	})
	if body != nil {
		c.logger.Debug(c.logger.WithField(ctx, "body", redact(body)), "ucp request")
	} else {
		c.logger.Debug(ctx, "ucp request")
	}

	start := time.Now()
	resp, err := c.sender.Send(ctx, method, rawURL, body)
	elapsed := time.Since(start)
	c.metrics.ObserveDuration(op, elapsed)
	if err != nil {
		return nil, pkgerrors.FromTransport(ctx, err)
	}

	ctx = c.logger.WithFields(ctx, map[string]any{
		"status":      resp.Status,
		"duration_ms": elapsed.Milliseconds(),
	})
	if !resp.OK() {
		return nil, pkgerrors.FromResponse(resp.Status, resp.Body, c.agentVersion)
	}
	c.logger.Debug(ctx, "ucp response")
	return resp.Body, nil
}

// fail records a failed public operation and returns err unchanged.
func (c *Client) fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	code := string(pkgerrors.CodeOf(err))
	c.metrics.IncFailure(op, code)

	dump := pkgerrors.Dump(err)
	ctx = c.logger.WithFields(ctx, map[string]any{
		"operation":    op,
		"error_code":   dump.Code,
		"error_chain":  dump.Chain,
		"breaker_open": transport.IsBreakerOpen(err),
	})
	var cancelled *pkgerrors.Cancelled
	var invalid *pkgerrors.InvalidRequest
	switch {
	case errors.As(err, &cancelled), errors.As(err, &invalid):
		c.logger.Warn(ctx, fmt.Sprintf("ucp %s rejected", op))
	default:
		c.logger.Error(ctx, fmt.Sprintf("ucp %s failed", op), err)
	}
	return err
}
