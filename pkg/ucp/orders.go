package ucp

import (
	"context"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
	"github.com/angelmondragon/ucp-agent/pkg/transport"
)

// GetOrder fetches an order from the merchant that issued it.
func (c *Client) GetOrder(ctx context.Context, orderID, merchantURL string) (*Order, error) {
	const op = "get_order"
	ctx = c.logger.WithFields(c.logger.WithMerchantURL(ctx, merchantURL), map[string]any{"order_id": orderID})

	if strings.TrimSpace(merchantURL) == "" {
		return nil, c.fail(ctx, op, pkgerrors.NewInvalidRequest("merchant_url", "is required"))
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, c.fail(ctx, op, pkgerrors.NewInvalidRequest("order_id", "is required"))
	}

	profile, err := c.discover(ctx, merchantURL)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	body, err := c.send(ctx, op, http.MethodGet, transport.JoinURL(profile.RestEndpoint, "orders", orderID), nil)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	order, err := parseOrder(body)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	return order, nil
}
