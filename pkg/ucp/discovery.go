package ucp

import (
	"context"
	"errors"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
	"github.com/angelmondragon/ucp-agent/pkg/metrics"
)

// WellKnownURL returns the discovery document location for merchantURL.
func WellKnownURL(merchantURL string) string {
	return strings.TrimRight(merchantURL, "/") + WellKnownPath
}

// Discover returns the merchant profile for merchantURL, fetching the
// well-known document at most once per cache entry. Concurrent callers for the
// same uncached URL share a single request and its result. Failures are never
// cached.
func (c *Client) Discover(ctx context.Context, merchantURL string) (*MerchantProfile, error) {
	const op = "discover"
	ctx = c.logger.WithMerchantURL(ctx, merchantURL)

	profile, err := c.discover(ctx, merchantURL)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	return profile, nil
}

// Forget drops the cached profile for merchantURL so the next Discover refetches it.
func (c *Client) Forget(ctx context.Context, merchantURL string) error {
	if strings.TrimSpace(merchantURL) == "" {
		return pkgerrors.NewInvalidRequest("merchant_url", "is required")
	}
	return c.cache.Delete(ctx, merchantURL)
}

func (c *Client) discover(ctx context.Context, merchantURL string) (*MerchantProfile, error) {
	if strings.TrimSpace(merchantURL) == "" {
		return nil, pkgerrors.NewInvalidRequest("merchant_url", "is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.NewCancelled(err)
	}

	if profile, ok := c.cached(ctx, merchantURL); ok {
		c.metrics.IncCache(metrics.CacheHit)
		return profile, nil
	}

	// The flight outlives any single caller; each caller stops waiting on its own ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(merchantURL, func() (any, error) {
		if profile, ok := c.cached(flightCtx, merchantURL); ok {
			return profile, nil
		}
		c.metrics.IncCache(metrics.CacheMiss)
		return c.fetchProfile(flightCtx, merchantURL)
	})

	select {
	case <-ctx.Done():
		return nil, pkgerrors.NewCancelled(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.metrics.IncCache(metrics.CacheShared)
		}
		return res.Val.(*MerchantProfile), nil
	}
}

func (c *Client) cached(ctx context.Context, merchantURL string) (*MerchantProfile, bool) {
	profile, err := c.cache.Get(ctx, merchantURL)
	if err == nil {
		return profile, true
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn(c.logger.WithField(ctx, "cache_error", err.Error()), "profile cache read failed")
	}
	return nil, false
}

func (c *Client) fetchProfile(ctx context.Context, merchantURL string) (*MerchantProfile, error) {
	body, err := c.send(ctx, "discover", http.MethodGet, WellKnownURL(merchantURL), nil)
	if err != nil {
		return nil, err
	}
	profile, err := parseProfile(body, merchantURL)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, merchantURL, profile); err != nil {
		c.logger.Warn(c.logger.WithField(ctx, "cache_error", err.Error()), "profile cache write failed")
	}
	c.logger.Info(c.logger.WithFields(ctx, map[string]any{
		"merchant":     profile.Name,
		"capabilities": profile.CapabilityNames(),
	}), "merchant discovered")
	return profile, nil
}
