package ucp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ucp-agent/internal/ucptest"
	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
	"github.com/angelmondragon/ucp-agent/pkg/metrics"
	"github.com/angelmondragon/ucp-agent/pkg/transport"
)

const testAgentProfile = "https://agent.example/profile.json"

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	client, err := NewClient(testAgentProfile, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func int64Ptr(v int64) *int64 { return &v }

// countingSender fails the test on any network call.
type countingSender struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSender) Send(context.Context, string, string, any) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil, errors.New("unexpected network call")
}

func (s *countingSender) Close() error { return nil }

func (s *countingSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestCheckoutFlowAgainstMerchant(t *testing.T) {
	merchant := ucptest.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	items := []LineItem{
		{SKU: "SKU-1", Quantity: 2, PriceCents: int64Ptr(1500)},
		{SKU: "SKU-2", Quantity: 1, PriceCents: int64Ptr(500)},
	}
	session, err := client.CreateCheckout(ctx, merchant.URL(), items, map[string]any{"locale": "en-US"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, StatusIncomplete, session.Status)
	assert.Equal(t, merchant.URL(), session.MerchantURL)
	assert.Equal(t, int64(3500), session.TotalCents)
	assert.Len(t, session.LineItems, 2)
	require.Len(t, session.PaymentHandlers, 1)
	assert.Equal(t, "com.google.pay", session.PaymentHandlers[0].Type)

	headers := merchant.LastHeaders(http.MethodPost, "/api/checkout")
	assert.Equal(t, `profile="`+testAgentProfile+`"`, headers.Get(transport.HeaderAgent))
	assert.NotEmpty(t, headers.Get(transport.HeaderIdempotencyKey))

	updated, err := client.UpdateCheckout(ctx, session.ID, merchant.URL(), map[string]any{
		"buyer": map[string]any{"email": "buyer@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReadyForComplete, updated.Status)

	order, err := client.CompleteCheckout(ctx, session.ID, merchant.URL(), "handler_1", map[string]any{"token": "tok_123"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "confirmed", order.Status)
	require.NotNil(t, order.ConfirmationNumber)
	assert.Equal(t, int64(3500), order.TotalCents)

	fetched, err := client.GetOrder(ctx, order.ID, merchant.URL())
	require.NoError(t, err)
	assert.Equal(t, order.ID, fetched.ID)

	// every call reused the cached profile
	assert.Equal(t, 1, merchant.Count(http.MethodGet, WellKnownPath))
}

func TestEmptyPatchPreservesSession(t *testing.T) {
	merchant := ucptest.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	created, err := client.CreateCheckout(ctx, merchant.URL(), []LineItem{
		{SKU: "A", Quantity: 1},
		{SKU: "B", Quantity: 3},
		{SKU: "C", Quantity: 1},
	}, nil)
	require.NoError(t, err)

	updated, err := client.UpdateCheckout(ctx, created.ID, merchant.URL(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.Currency, updated.Currency)
	assert.Len(t, updated.LineItems, len(created.LineItems))
}

func TestCreateCheckoutRequiresCheckoutCapability(t *testing.T) {
	merchant := ucptest.New(t, ucptest.WithCapabilities("dev.ucp.shopping.catalog"))
	client := newTestClient(t)

	_, err := client.CreateCheckout(context.Background(), merchant.URL(), []LineItem{{SKU: "A", Quantity: 1}}, nil)
	var notSupported *pkgerrors.CapabilityNotSupported
	require.ErrorAs(t, err, &notSupported)
	assert.Equal(t, CapabilityCheckout, notSupported.Capability)
	assert.Equal(t, 1, merchant.Total(), "only the discovery request may reach the merchant")
}

func TestLocalValidationHappensBeforeNetwork(t *testing.T) {
	sender := &countingSender{}
	client := newTestClient(t, WithSender(sender))
	ctx := context.Background()

	cases := []struct {
		name  string
		call  func() error
		field string
	}{
		{
			name: "complete without merchant",
			call: func() error {
				_, err := client.CompleteCheckout(ctx, "cs_1", "", "handler_1", map[string]any{"token": "x"}, nil)
				return err
			},
			field: "merchant_url",
		},
		{
			name: "complete without merchant or payment",
			call: func() error {
				_, err := client.CompleteCheckout(ctx, "", "", "", nil, nil)
				return err
			},
			field: "merchant_url",
		},
		{
			name: "update without merchant",
			call: func() error {
				_, err := client.UpdateCheckout(ctx, "cs_1", "", map[string]any{"note": "x"})
				return err
			},
			field: "merchant_url",
		},
		{
			name: "update without session",
			call: func() error {
				_, err := client.UpdateCheckout(ctx, " ", "https://shop.example", nil)
				return err
			},
			field: "session_id",
		},
		{
			name: "complete without handler",
			call: func() error {
				_, err := client.CompleteCheckout(ctx, "cs_1", "https://shop.example", "", nil, nil)
				return err
			},
			field: "payment.handler_id",
		},
		{
			name: "create without items",
			call: func() error {
				_, err := client.CreateCheckout(ctx, "https://shop.example", nil, nil)
				return err
			},
			field: "line_items",
		},
		{
			name: "order without id",
			call: func() error {
				_, err := client.GetOrder(ctx, "", "https://shop.example")
				return err
			},
			field: "order_id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			var invalid *pkgerrors.InvalidRequest
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.field, invalid.Field)
		})
	}
	assert.Zero(t, sender.Calls())
}

func TestCreateCheckoutRejectsBadLineItems(t *testing.T) {
	sender := &countingSender{}
	client := newTestClient(t, WithSender(sender))

	_, err := client.CreateCheckout(context.Background(), "https://shop.example", []LineItem{
		{SKU: "A", Quantity: 1},
		{SKU: "", Quantity: 0, PriceCents: int64Ptr(-1)},
	}, nil)

	var invalid *pkgerrors.InvalidRequest
	require.ErrorAs(t, err, &invalid)
	details := invalid.Details()
	fields, ok := details["fields"].(map[string]string)
	require.True(t, ok, "expected field details, got %#v", details)
	assert.Equal(t, "is required", fields["line_items[1].sku"])
	assert.Equal(t, "must be at least 1", fields["line_items[1].quantity"])
	assert.Equal(t, "must be at least 0", fields["line_items[1].price_cents"])
	assert.NotContains(t, fields, "line_items[0].sku")
	assert.Zero(t, sender.Calls())
}

func TestMerchantErrorsAreTyped(t *testing.T) {
	merchant := ucptest.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	merchant.Override(http.MethodPost, "/api/checkout", http.StatusConflict,
		`{"error":{"code":"version_mismatch","details":{"required_version":"2027-01-01"}}}`)
	_, err := client.CreateCheckout(ctx, merchant.URL(), []LineItem{{SKU: "A", Quantity: 1}}, nil)
	var mismatch *pkgerrors.VersionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "2027-01-01", mismatch.RequiredVersion)
	assert.Equal(t, ProtocolVersion, mismatch.AgentVersion)

	_, err = client.UpdateCheckout(ctx, "cs_missing", merchant.URL(), nil)
	assert.Equal(t, pkgerrors.Code("session_not_found"), pkgerrors.CodeOf(err))
	assert.Equal(t, "cs_missing", pkgerrors.As(err).Details()["session_id"])

	merchant.Override(http.MethodGet, "/api/orders/ord_x", http.StatusBadGateway, "upstream down")
	_, err = client.GetOrder(ctx, "ord_x", merchant.URL())
	var httpErr *pkgerrors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.Status)
	assert.Equal(t, "upstream down", httpErr.Body)
}

func TestSuccessfulResponseWithoutIDFails(t *testing.T) {
	merchant := ucptest.New(t)
	client := newTestClient(t)

	merchant.Override(http.MethodPost, "/api/checkout", http.StatusCreated, `{"status":"incomplete"}`)
	_, err := client.CreateCheckout(context.Background(), merchant.URL(), []LineItem{{SKU: "A", Quantity: 1}}, nil)
	assert.Equal(t, pkgerrors.CodeInvalidResponse, pkgerrors.CodeOf(err))
}

func TestSessionIDIsPathEscaped(t *testing.T) {
	merchant := ucptest.New(t)
	client := newTestClient(t)

	_, err := client.UpdateCheckout(context.Background(), "cs/../x", merchant.URL(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, merchant.Count(http.MethodPatch, "/api/checkout/cs/../x"))
}

func TestFailuresAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	merchant := ucptest.New(t, ucptest.WithCapabilities())
	client := newTestClient(t, WithMetrics(metrics.NewClientMetrics(reg)))

	_, err := client.CreateCheckout(context.Background(), merchant.URL(), []LineItem{{SKU: "A", Quantity: 1}}, nil)
	require.Error(t, err)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range mfs {
		if mf.GetName() != "ucp_client_request_failures_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "code" && label.GetValue() == string(pkgerrors.CodeCapabilityNotSupported) {
					found = m.GetCounter().GetValue() == 1
				}
			}
		}
	}
	assert.True(t, found, "expected one capability_not_supported failure")
}

func TestCloseIsIdempotent(t *testing.T) {
	merchant := ucptest.New(t)
	client, err := NewClient(testAgentProfile)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err = client.Discover(context.Background(), merchant.URL())
	assert.Equal(t, pkgerrors.CodeNetwork, pkgerrors.CodeOf(err))
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestNewClientRejectsBadAgentProfile(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
}

func TestSessionEditsDoNotReachCachedProfile(t *testing.T) {
	merchant := ucptest.New(t, ucptest.WithPaymentHandlers("com.google.pay", "dev.ucp.ap2"))
	client := newTestClient(t)
	ctx := context.Background()
	items := []LineItem{{SKU: "SKU-1", Quantity: 1}}

	first, err := client.CreateCheckout(ctx, merchant.URL(), items, nil)
	require.NoError(t, err)
	require.Len(t, first.PaymentHandlers, 2)
	first.PaymentHandlers[0].Type = "tampered"
	first.PaymentHandlers[1].Config["merchant_id"] = "tampered"

	profile, err := client.Discover(ctx, merchant.URL())
	require.NoError(t, err)
	assert.Equal(t, "com.google.pay", profile.PaymentHandlers[0].Type)
	assert.NotContains(t, profile.PaymentHandlers[1].Config, "merchant_id")

	second, err := client.CreateCheckout(ctx, merchant.URL(), items, nil)
	require.NoError(t, err)
	assert.Equal(t, "com.google.pay", second.PaymentHandlers[0].Type)

	negotiated := client.Negotiate(profile)
	assert.Equal(t, []string{"com.google.pay", "dev.ucp.ap2"}, negotiated.PaymentHandlers)
	assert.Equal(t, 1, merchant.Count(http.MethodGet, WellKnownPath))
}
