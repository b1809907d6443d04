package ucp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
)

const defaultMerchantName = "Unknown"

// Offset-less layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

type wireDiscovery struct {
	Merchant *struct {
		Name         *string `json:"name"`
		Description  string  `json:"description"`
		RestEndpoint *string `json:"rest_endpoint"`
	} `json:"merchant"`
	UCP *struct {
		Version      string `json:"version"`
		Capabilities []struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"capabilities"`
		PaymentHandlers []struct {
			ID     string         `json:"id"`
			Type   string         `json:"type"`
			Config map[string]any `json:"config"`
		} `json:"payment_handlers"`
		Extensions []string `json:"extensions"`
	} `json:"ucp"`
}

// parseProfile decodes a well-known document. Duplicate capability names and
// handler types keep their first occurrence.
func parseProfile(body []byte, merchantURL string) (*MerchantProfile, error) {
	var doc wireDiscovery
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, pkgerrors.WrapProtocolError(pkgerrors.CodeInvalidProfile, err, "merchant profile is not valid JSON")
	}

	profile := &MerchantProfile{
		Name:         defaultMerchantName,
		RestEndpoint: merchantURL,
	}
	if m := doc.Merchant; m != nil {
		if m.Name != nil {
			profile.Name = *m.Name
		}
		profile.Description = m.Description
		if m.RestEndpoint != nil {
			profile.RestEndpoint = *m.RestEndpoint
		}
	}

	if u := doc.UCP; u != nil {
		profile.ProtocolVersion = u.Version

		seenCaps := map[string]bool{}
		for _, c := range u.Capabilities {
			if c.Name != "" && seenCaps[c.Name] {
				continue
			}
			seenCaps[c.Name] = true
			profile.Capabilities = append(profile.Capabilities, Capability{Name: c.Name, Version: c.Version})
		}

		seenHandlers := map[string]bool{}
		for _, h := range u.PaymentHandlers {
			if h.Type != "" && seenHandlers[h.Type] {
				continue
			}
			seenHandlers[h.Type] = true
			profile.PaymentHandlers = append(profile.PaymentHandlers, PaymentHandler{ID: h.ID, Type: h.Type, Config: h.Config})
		}

		profile.Extensions = dedupe(u.Extensions)
	}
	if profile.Capabilities == nil {
		profile.Capabilities = []Capability{}
	}
	if profile.PaymentHandlers == nil {
		profile.PaymentHandlers = []PaymentHandler{}
	}
	if profile.Extensions == nil {
		profile.Extensions = []string{}
	}

	if err := validateProfile(profile); err != nil {
		return nil, err
	}
	return profile, nil
}

type wireLineItem struct {
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	PriceCents  *int64 `json:"price_cents"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type wireSession struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	LineItems     []wireLineItem `json:"line_items"`
	SubtotalCents int64          `json:"subtotal_cents"`
	TaxCents      int64          `json:"tax_cents"`
	ShippingCents int64          `json:"shipping_cents"`
	DiscountCents int64          `json:"discount_cents"`
	TotalCents    int64          `json:"total_cents"`
	Currency      string         `json:"currency"`
	CreatedAt     string         `json:"created_at"`
	ExpiresAt     string         `json:"expires_at"`
	Terms         map[string]any `json:"terms"`
}

// parseSession decodes a session object. A copy of the merchant's payment
// handlers is attached because the wire format may omit them.
func parseSession(body []byte, merchantURL string, handlers []PaymentHandler, now time.Time) (*CheckoutSession, error) {
	var wire wireSession
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, invalidResponse(err, "checkout session is not valid JSON")
	}
	if strings.TrimSpace(wire.ID) == "" {
		return nil, invalidResponse(nil, "checkout session id is missing")
	}

	createdAt, err := parseTimestamp(wire.CreatedAt, now)
	if err != nil {
		return nil, invalidResponse(err, "checkout session created_at is malformed")
	}
	expiresAt, err := parseTimestamp(wire.ExpiresAt, now)
	if err != nil {
		return nil, invalidResponse(err, "checkout session expires_at is malformed")
	}

	status := SessionStatus(wire.Status)
	if status == "" {
		status = StatusIncomplete
	}
	currency := wire.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	items := make([]LineItem, 0, len(wire.LineItems))
	for _, item := range wire.LineItems {
		items = append(items, LineItem{
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			PriceCents:  item.PriceCents,
			Name:        item.Name,
			Description: item.Description,
		})
	}

	terms := wire.Terms
	if terms == nil {
		terms = map[string]any{}
	}

	return &CheckoutSession{
		ID:              wire.ID,
		Status:          status,
		MerchantURL:     merchantURL,
		LineItems:       items,
		SubtotalCents:   wire.SubtotalCents,
		TaxCents:        wire.TaxCents,
		ShippingCents:   wire.ShippingCents,
		DiscountCents:   wire.DiscountCents,
		TotalCents:      wire.TotalCents,
		Currency:        currency,
		PaymentHandlers: clonePaymentHandlers(handlers),
		CreatedAt:       createdAt,
		ExpiresAt:       expiresAt,
		Terms:           terms,
	}, nil
}

// parseOrder decodes an order from a completion or order-status response.
func parseOrder(body []byte) (*Order, error) {
	var wire struct {
		ID                 string  `json:"id"`
		Status             string  `json:"status"`
		ConfirmationNumber *string `json:"confirmation_number"`
		TotalCents         int64   `json:"total_cents"`
		Currency           string  `json:"currency"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, invalidResponse(err, "order is not valid JSON")
	}
	if strings.TrimSpace(wire.ID) == "" {
		return nil, invalidResponse(nil, "order id is missing")
	}

	order := &Order{
		ID:                 wire.ID,
		Status:             wire.Status,
		ConfirmationNumber: wire.ConfirmationNumber,
		TotalCents:         wire.TotalCents,
		Currency:           wire.Currency,
	}
	if order.Status == "" {
		order.Status = "unknown"
	}
	if order.Currency == "" {
		order.Currency = DefaultCurrency
	}
	return order, nil
}

// parseTimestamp reads an ISO-8601 value; an absent value falls back to now.
func parseTimestamp(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func invalidResponse(err error, message string) error {
	if err == nil {
		return pkgerrors.NewProtocolError(pkgerrors.CodeInvalidResponse, message, nil)
	}
	return pkgerrors.WrapProtocolError(pkgerrors.CodeInvalidResponse, err, message)
}

func dedupe(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
