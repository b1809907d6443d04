package ucp

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/ucp-agent/internal/ucptest"
	"github.com/angelmondragon/ucp-agent/pkg/logger"
)

func TestRedactNestedBody(t *testing.T) {
	body := map[string]any{
		"payment": map[string]any{
			"handler_id": "handler_1",
			"credential": map[string]any{"token": "tok_123"},
		},
		"buyer":  map[string]any{"email": "buyer@example.com", "name": "Ada"},
		"extras": []any{map[string]any{"card_number": "4242"}},
	}

	out := redact(body).(map[string]any)
	payment := out["payment"].(map[string]any)
	if payment["credential"] != redacted || payment["handler_id"] != "handler_1" {
		t.Fatalf("unexpected payment %#v", payment)
	}
	buyer := out["buyer"].(map[string]any)
	if buyer["email"] != redacted || buyer["name"] != "Ada" {
		t.Fatalf("unexpected buyer %#v", buyer)
	}
	extra := out["extras"].([]any)[0].(map[string]any)
	if extra["card_number"] != redacted {
		t.Fatalf("expected card redacted, got %#v", extra)
	}
	if body["payment"].(map[string]any)["credential"] == redacted {
		t.Fatalf("redact must not mutate its input")
	}
}

func TestRequestLogsNeverContainCredentials(t *testing.T) {
	merchant := ucptest.New(t)
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: &buf})
	client := newTestClient(t, WithLogger(logg))
	ctx := context.Background()

	session, err := client.CreateCheckout(ctx, merchant.URL(), []LineItem{{SKU: "A", Quantity: 1}}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := client.CompleteCheckout(ctx, session.ID, merchant.URL(), "handler_1", map[string]any{"token": "tok_secret_123"}, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	logs := buf.String()
	if strings.Contains(logs, "tok_secret_123") {
		t.Fatalf("credential leaked into logs:\n%s", logs)
	}
	if !strings.Contains(logs, redacted) {
		t.Fatalf("expected redaction marker in logs:\n%s", logs)
	}
	if !strings.Contains(logs, `"operation":"complete_checkout"`) {
		t.Fatalf("expected operation field in logs:\n%s", logs)
	}
}
