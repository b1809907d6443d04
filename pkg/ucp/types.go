package ucp

import "time"

const (
	// ProtocolVersion is the UCP version this agent speaks.
	ProtocolVersion = "2026-01-11"

	CapabilityCheckout = "dev.ucp.shopping.checkout"

	WellKnownPath = "/.well-known/ucp"

	DefaultCurrency = "USD"
)

// Capability is a named, versioned protocol feature.
type Capability struct {
	Name    string `json:"name" validate:"required"`
	Version string `json:"version"`
}

// PaymentHandler is a payment method plus its opaque configuration.
type PaymentHandler struct {
	ID     string         `json:"id"`
	Type   string         `json:"type" validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

// MerchantProfile is the result of discovery. Profiles are shared through the
// cache and must be treated as read-only.
type MerchantProfile struct {
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	RestEndpoint    string           `json:"rest_endpoint" validate:"required,http_url"`
	ProtocolVersion string           `json:"protocol_version"`
	Capabilities    []Capability     `json:"capabilities" validate:"dive"`
	PaymentHandlers []PaymentHandler `json:"payment_handlers" validate:"dive"`
	Extensions      []string         `json:"extensions"`
}

// HasCapability reports whether the merchant advertises name.
func (p *MerchantProfile) HasCapability(name string) bool {
	if p == nil {
		return false
	}
	for _, c := range p.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// CapabilityNames lists capability names in discovery order.
func (p *MerchantProfile) CapabilityNames() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Capabilities))
	for _, c := range p.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// HandlerTypes lists payment handler types in discovery order.
func (p *MerchantProfile) HandlerTypes() []string {
	if p == nil {
		return nil
	}
	types := make([]string, 0, len(p.PaymentHandlers))
	for _, h := range p.PaymentHandlers {
		types = append(types, h.Type)
	}
	return types
}

// LineItem is a checkout item.
type LineItem struct {
	SKU         string `json:"sku" validate:"required"`
	Quantity    int    `json:"quantity" validate:"min=1"`
	PriceCents  *int64 `json:"price_cents,omitempty" validate:"omitempty,min=0"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// SessionStatus is the server-reported checkout state. Values outside the
// constants below are passed through unchanged.
type SessionStatus string

const (
	StatusIncomplete       SessionStatus = "incomplete"
	StatusReadyForComplete SessionStatus = "ready_for_complete"
	StatusCompleted        SessionStatus = "completed"
	StatusFailed           SessionStatus = "failed"
	StatusExpired          SessionStatus = "expired"
)

// IsTerminal reports whether no further transitions are expected.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// CheckoutSession is a checkout in progress. Totals are server-authoritative.
type CheckoutSession struct {
	ID              string           `json:"id"`
	Status          SessionStatus    `json:"status"`
	MerchantURL     string           `json:"merchant_url"`
	LineItems       []LineItem       `json:"line_items"`
	SubtotalCents   int64            `json:"subtotal_cents"`
	TaxCents        int64            `json:"tax_cents"`
	ShippingCents   int64            `json:"shipping_cents"`
	DiscountCents   int64            `json:"discount_cents"`
	TotalCents      int64            `json:"total_cents"`
	Currency        string           `json:"currency"`
	PaymentHandlers []PaymentHandler `json:"payment_handlers"`
	CreatedAt       time.Time        `json:"created_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
	Terms           map[string]any   `json:"terms,omitempty"`
}

// Order is the result of a completed checkout.
type Order struct {
	ID                 string  `json:"id"`
	Status             string  `json:"status"`
	ConfirmationNumber *string `json:"confirmation_number,omitempty"`
	TotalCents         int64   `json:"total_cents"`
	Currency           string  `json:"currency"`
}

// Negotiated is the capability and payment handler overlap between agent and merchant.
type Negotiated struct {
	Capabilities    []string `json:"capabilities"`
	PaymentHandlers []string `json:"payment_handlers"`
}

// clonePaymentHandlers deep-copies handlers so values handed to callers never
// alias a cached profile.
func clonePaymentHandlers(handlers []PaymentHandler) []PaymentHandler {
	if handlers == nil {
		return nil
	}
	out := make([]PaymentHandler, len(handlers))
	for i, h := range handlers {
		out[i] = PaymentHandler{ID: h.ID, Type: h.Type}
		if h.Config != nil {
			out[i].Config = cloneValue(h.Config).(map[string]any)
		}
	}
	return out
}

// cloneValue copies decoded JSON values, recursing into objects and arrays.
func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return value
	}
}
