package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
	"github.com/angelmondragon/ucp-agent/pkg/money"
	"github.com/angelmondragon/ucp-agent/pkg/transport"
	"github.com/angelmondragon/ucp-agent/pkg/ucp"
)

func (a *app) discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover [merchant-url]",
		Short: "Fetch a merchant's UCP profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) (any, error) {
				profile, err := s.client.Discover(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return newProfileView(profile), nil
			})
		},
	}
}

func (a *app) negotiateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "negotiate [merchant-url]",
		Short: "Intersect the agent profile with a merchant's capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) (any, error) {
				profile, err := s.client.Discover(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return struct {
					Merchant string `json:"merchant_name"`
					ucp.Negotiated
				}{Merchant: profile.Name, Negotiated: s.client.Negotiate(profile)}, nil
			})
		},
	}
}

func (a *app) checkoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Create, update and complete checkout sessions",
	}
	cmd.AddCommand(a.checkoutCreateCmd())
	cmd.AddCommand(a.checkoutUpdateCmd())
	cmd.AddCommand(a.checkoutCompleteCmd())
	return cmd
}

func (a *app) checkoutCreateCmd() *cobra.Command {
	var (
		items    []string
		data     string
		currency string
		idemKey  string
	)
	cmd := &cobra.Command{
		Use:   "create [merchant-url]",
		Short: "Open a checkout session",
		Long: `Open a checkout session. Items are given as SKU:QUANTITY or SKU:QUANTITY:PRICE,
where PRICE is a decimal amount in the checkout currency.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) (any, error) {
				lineItems, err := parseItems(items, currency)
				if err != nil {
					return nil, err
				}
				extra, err := parseObject("data", data)
				if err != nil {
					return nil, err
				}
				if idemKey != "" {
					ctx = transport.WithIdempotencyKey(ctx, idemKey)
				}
				checkout, err := s.client.CreateCheckout(ctx, args[0], lineItems, extra)
				if err != nil {
					return nil, err
				}
				return newSessionView(checkout), nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&items, "item", "i", nil, "line item as SKU:QUANTITY[:PRICE] (repeatable)")
	cmd.Flags().StringVar(&data, "data", "", "extra JSON object merged into the request")
	cmd.Flags().StringVar(&currency, "currency", ucp.DefaultCurrency, "currency used to read item prices")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "Idempotency-Key to send instead of a generated one")
	return cmd
}

func (a *app) checkoutUpdateCmd() *cobra.Command {
	var merchantURL, data string
	cmd := &cobra.Command{
		Use:   "update [session-id]",
		Short: "Patch a checkout session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) (any, error) {
				patch, err := parseObject("data", data)
				if err != nil {
					return nil, err
				}
				checkout, err := s.client.UpdateCheckout(ctx, args[0], merchantURL, patch)
				if err != nil {
					return nil, err
				}
				return newSessionView(checkout), nil
			})
		},
	}
	cmd.Flags().StringVarP(&merchantURL, "merchant", "m", "", "merchant URL the session was created against")
	cmd.Flags().StringVar(&data, "data", "", "JSON object of fields to patch")
	return cmd
}

func (a *app) checkoutCompleteCmd() *cobra.Command {
	var merchantURL, handlerID, credential, data, idemKey string
	cmd := &cobra.Command{
		Use:   "complete [session-id]",
		Short: "Pay for a checkout session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) (any, error) {
				cred, err := parseObject("credential", credential)
				if err != nil {
					return nil, err
				}
				extra, err := parseObject("data", data)
				if err != nil {
					return nil, err
				}
				if idemKey != "" {
					ctx = transport.WithIdempotencyKey(ctx, idemKey)
				}
				order, err := s.client.CompleteCheckout(ctx, args[0], merchantURL, handlerID, cred, extra)
				if err != nil {
					return nil, err
				}
				return newOrderView(order), nil
			})
		},
	}
	cmd.Flags().StringVarP(&merchantURL, "merchant", "m", "", "merchant URL the session was created against")
	cmd.Flags().StringVar(&handlerID, "handler", "", "payment handler id")
	cmd.Flags().StringVar(&credential, "credential", "", "payment credential as a JSON object")
	cmd.Flags().StringVar(&data, "data", "", "extra JSON object merged into the request")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "Idempotency-Key to send instead of a generated one")
	return cmd
}

func (a *app) orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Query orders",
	}

	var merchantURL string
	get := &cobra.Command{
		Use:   "get [order-id]",
		Short: "Fetch an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) (any, error) {
				order, err := s.client.GetOrder(ctx, args[0], merchantURL)
				if err != nil {
					return nil, err
				}
				return newOrderView(order), nil
			})
		},
	}
	get.Flags().StringVarP(&merchantURL, "merchant", "m", "", "merchant URL that issued the order")
	cmd.AddCommand(get)
	return cmd
}

// parseItems reads SKU:QUANTITY[:PRICE] specs. Quantity and price are checked
// again by the client before anything is sent.
func parseItems(specs []string, currency string) ([]ucp.LineItem, error) {
	items := make([]ucp.LineItem, 0, len(specs))
	for i, spec := range specs {
		field := fmt.Sprintf("item[%d]", i)
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, pkgerrors.NewInvalidRequest(field, "must be SKU:QUANTITY or SKU:QUANTITY:PRICE")
		}
		qty, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, pkgerrors.NewInvalidRequest(field, "quantity must be an integer")
		}
		item := ucp.LineItem{SKU: strings.TrimSpace(parts[0]), Quantity: qty}
		if len(parts) == 3 {
			price, err := money.ParseMinor(parts[2], currency)
			if err != nil {
				return nil, pkgerrors.NewInvalidRequest(field, err.Error())
			}
			item.PriceCents = &price
		}
		items = append(items, item)
	}
	return items, nil
}

func parseObject(field, raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, pkgerrors.NewInvalidRequest(field, "must be a JSON object")
	}
	return out, nil
}
