package ucp

import (
	"context"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
	"github.com/angelmondragon/ucp-agent/pkg/transport"
)

// CreateCheckout opens a checkout session with the merchant at merchantURL.
// extra is merged into the request body; line_items always comes from lineItems.
func (c *Client) CreateCheckout(ctx context.Context, merchantURL string, lineItems []LineItem, extra map[string]any) (*CheckoutSession, error) {
	const op = "create_checkout"
	ctx = c.logger.WithMerchantURL(ctx, merchantURL)

	session, err := c.createCheckout(ctx, merchantURL, lineItems, extra)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	c.logger.Info(c.logger.WithFields(c.logger.WithSessionID(ctx, session.ID), map[string]any{
		"status":      string(session.Status),
		"total_cents": session.TotalCents,
	}), "checkout created")
	return session, nil
}

func (c *Client) createCheckout(ctx context.Context, merchantURL string, lineItems []LineItem, extra map[string]any) (*CheckoutSession, error) {
	if strings.TrimSpace(merchantURL) == "" {
		return nil, pkgerrors.NewInvalidRequest("merchant_url", "is required")
	}
	if err := validateLineItems(lineItems); err != nil {
		return nil, err
	}

	profile, err := c.discover(ctx, merchantURL)
	if err != nil {
		return nil, err
	}
	if !profile.HasCapability(CapabilityCheckout) {
		return nil, &pkgerrors.CapabilityNotSupported{Capability: CapabilityCheckout}
	}

	payload := merge(extra)
	payload["line_items"] = lineItems

	body, err := c.send(ctx, "create_checkout", http.MethodPost, transport.JoinURL(profile.RestEndpoint, "checkout"), payload)
	if err != nil {
		return nil, err
	}
	return parseSession(body, merchantURL, profile.PaymentHandlers, c.now())
}

// UpdateCheckout patches an existing session. merchantURL must be the one the
// session was created against; the client keeps no session state.
func (c *Client) UpdateCheckout(ctx context.Context, sessionID, merchantURL string, patch map[string]any) (*CheckoutSession, error) {
	const op = "update_checkout"
	ctx = c.logger.WithSessionID(c.logger.WithMerchantURL(ctx, merchantURL), sessionID)

	session, err := c.updateCheckout(ctx, sessionID, merchantURL, patch)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	c.logger.Info(c.logger.WithField(ctx, "status", string(session.Status)), "checkout updated")
	return session, nil
}

func (c *Client) updateCheckout(ctx context.Context, sessionID, merchantURL string, patch map[string]any) (*CheckoutSession, error) {
	if strings.TrimSpace(merchantURL) == "" {
		return nil, pkgerrors.NewInvalidRequest("merchant_url", "is required to update a checkout")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.NewInvalidRequest("session_id", "is required")
	}

	profile, err := c.discover(ctx, merchantURL)
	if err != nil {
		return nil, err
	}

	body, err := c.send(ctx, "update_checkout", http.MethodPatch, transport.JoinURL(profile.RestEndpoint, "checkout", sessionID), merge(patch))
	if err != nil {
		return nil, err
	}
	return parseSession(body, merchantURL, profile.PaymentHandlers, c.now())
}

// CompleteCheckout submits payment for a session and returns the resulting order.
func (c *Client) CompleteCheckout(ctx context.Context, sessionID, merchantURL, handlerID string, credential, extra map[string]any) (*Order, error) {
	const op = "complete_checkout"
	ctx = c.logger.WithSessionID(c.logger.WithMerchantURL(ctx, merchantURL), sessionID)

	order, err := c.completeCheckout(ctx, sessionID, merchantURL, handlerID, credential, extra)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	c.logger.Info(c.logger.WithFields(ctx, map[string]any{
		"order_id": order.ID,
		"status":   order.Status,
	}), "checkout completed")
	return order, nil
}

func (c *Client) completeCheckout(ctx context.Context, sessionID, merchantURL, handlerID string, credential, extra map[string]any) (*Order, error) {
	if strings.TrimSpace(merchantURL) == "" {
		return nil, pkgerrors.NewInvalidRequest("merchant_url", "is required to complete a checkout")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.NewInvalidRequest("session_id", "is required")
	}
	if strings.TrimSpace(handlerID) == "" {
		return nil, pkgerrors.NewInvalidRequest("payment.handler_id", "is required")
	}

	profile, err := c.discover(ctx, merchantURL)
	if err != nil {
		return nil, err
	}

	if credential == nil {
		credential = map[string]any{}
	}
	payload := merge(extra)
	payload["payment"] = map[string]any{
		"handler_id": handlerID,
		"credential": credential,
	}

	body, err := c.send(ctx, "complete_checkout", http.MethodPost, transport.JoinURL(profile.RestEndpoint, "checkout", sessionID, "complete"), payload)
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

// merge copies src so callers' maps are never mutated.
func merge(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}
