package cli

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
	"github.com/angelmondragon/ucp-agent/pkg/money"
	"github.com/angelmondragon/ucp-agent/pkg/ucp"
)

type successEnvelope struct {
	Data any `json:"data"`
}

type cliError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error cliError `json:"error"`
}

func writeSuccess(w io.Writer, data any) error {
	return writeJSON(w, successEnvelope{Data: data})
}

func writeError(w io.Writer, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	payload := errorEnvelope{Error: cliError{Code: "internal", Message: err.Error()}}
	if typed := pkgerrors.As(err); typed != nil {
		meta := pkgerrors.MetadataFor(typed.Code())
		payload.Error = cliError{
			Code:      string(typed.Code()),
			Message:   typed.Message(),
			Retryable: meta.Retryable,
		}
		if details := typed.Details(); len(details) > 0 {
			payload.Error.Details = details
		}
	}
	_ = writeJSON(w, payload)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type profileView struct {
	Name            string   `json:"merchant_name"`
	Description     string   `json:"description,omitempty"`
	RestEndpoint    string   `json:"rest_endpoint"`
	ProtocolVersion string   `json:"protocol_version,omitempty"`
	Capabilities    []string `json:"capabilities"`
	PaymentHandlers []string `json:"payment_handlers"`
}

func newProfileView(p *ucp.MerchantProfile) profileView {
	return profileView{
		Name:            p.Name,
		Description:     p.Description,
		RestEndpoint:    p.RestEndpoint,
		ProtocolVersion: p.ProtocolVersion,
		Capabilities:    p.CapabilityNames(),
		PaymentHandlers: p.HandlerTypes(),
	}
}

type sessionView struct {
	SessionID       string               `json:"session_id"`
	Status          ucp.SessionStatus    `json:"status"`
	Terminal        bool                 `json:"terminal"`
	MerchantURL     string               `json:"merchant_url"`
	LineItems       []ucp.LineItem       `json:"line_items"`
	SubtotalCents   int64                `json:"subtotal_cents"`
	TotalCents      int64                `json:"total_cents"`
	Total           string               `json:"total"`
	Currency        string               `json:"currency"`
	PaymentHandlers []ucp.PaymentHandler `json:"payment_handlers"`
	ExpiresAt       time.Time            `json:"expires_at"`
}

func newSessionView(s *ucp.CheckoutSession) sessionView {
	return sessionView{
		SessionID:       s.ID,
		Status:          s.Status,
		Terminal:        s.Status.IsTerminal(),
		MerchantURL:     s.MerchantURL,
		LineItems:       s.LineItems,
		SubtotalCents:   s.SubtotalCents,
		TotalCents:      s.TotalCents,
		Total:           money.Format(s.TotalCents, s.Currency),
		Currency:        s.Currency,
		PaymentHandlers: s.PaymentHandlers,
		ExpiresAt:       s.ExpiresAt,
	}
}

type orderView struct {
	OrderID            string  `json:"order_id"`
	Status             string  `json:"status"`
	ConfirmationNumber *string `json:"confirmation_number,omitempty"`
	TotalCents         int64   `json:"total_cents"`
	Total              string  `json:"total"`
	Currency           string  `json:"currency"`
}

func newOrderView(o *ucp.Order) orderView {
	return orderView{
		OrderID:            o.ID,
		Status:             o.Status,
		ConfirmationNumber: o.ConfirmationNumber,
		TotalCents:         o.TotalCents,
		Total:              money.Format(o.TotalCents, o.Currency),
		Currency:           o.Currency,
	}
}
