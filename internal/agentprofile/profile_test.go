package agentprofile

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/angelmondragon/ucp-agent/pkg/ucp"
)

const generatedProfile = `{
  "ucp": {
    "version": "2026-01-11",
    "capabilities": [
      {"name": "dev.ucp.shopping.checkout", "version": "2026-01-11"}
    ],
    "payment_handlers": [
      "com.google.pay",
      {"type": "dev.ucp.ap2", "id": "ap2"},
      "com.google.pay"
    ]
  },
  "agent": {
    "name": "Shopping Agent",
    "description": "UCP shopping agent for agentic commerce",
    "contact": "support@example.com"
  }
}`

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent-profile.json")
	if err := os.WriteFile(path, []byte(generatedProfile), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	profile, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if profile.Name != "Shopping Agent" || profile.Contact != "support@example.com" {
		t.Fatalf("unexpected agent block %+v", profile)
	}
	if !reflect.DeepEqual(profile.CapabilityNames(), []string{ucp.CapabilityCheckout}) {
		t.Fatalf("unexpected capabilities %v", profile.CapabilityNames())
	}
	if !reflect.DeepEqual(profile.PaymentHandlers, []string{"com.google.pay", "dev.ucp.ap2"}) {
		t.Fatalf("unexpected handlers %v", profile.PaymentHandlers)
	}
}

func TestParseRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"bad json":         `{`,
		"empty capability": `{"ucp":{"capabilities":[{"version":"1"}]}}`,
		"handler no type":  `{"ucp":{"payment_handlers":[{"id":"x"}]}}`,
		"handler number":   `{"ucp":{"payment_handlers":[42]}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseDefaultsVersion(t *testing.T) {
	profile, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if profile.Version != ucp.ProtocolVersion {
		t.Fatalf("expected default version, got %q", profile.Version)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestProfileNegotiatesWithMerchant(t *testing.T) {
	profile := Default()
	merchant := &ucp.MerchantProfile{
		Capabilities:    []ucp.Capability{{Name: ucp.CapabilityCheckout}},
		PaymentHandlers: []ucp.PaymentHandler{{Type: "dev.ucp.ap2"}, {Type: "com.example.card"}},
	}
	got := ucp.Negotiate(merchant, profile.CapabilityNames(), profile.PaymentHandlers)
	if !reflect.DeepEqual(got.PaymentHandlers, []string{"dev.ucp.ap2"}) {
		t.Fatalf("unexpected negotiated handlers %v", got.PaymentHandlers)
	}
}
