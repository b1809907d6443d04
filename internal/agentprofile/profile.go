// Package agentprofile loads the agent's own published UCP profile, which
// declares the capabilities and payment handlers fed into negotiation.
package agentprofile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/angelmondragon/ucp-agent/pkg/ucp"
)

// Profile is the subset of agent-profile.json the client acts on.
type Profile struct {
	Name            string
	Description     string
	Contact         string
	Version         string
	Capabilities    []ucp.Capability
	PaymentHandlers []string
}

type document struct {
	UCP struct {
		Version         string            `json:"version"`
		Capabilities    []ucp.Capability  `json:"capabilities"`
		PaymentHandlers []json.RawMessage `json:"payment_handlers"`
	} `json:"ucp"`
	Agent struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Contact     string `json:"contact"`
	} `json:"agent"`
}

// Default is the profile used when no file is configured.
func Default() *Profile {
	return &Profile{
		Name:            "UCP Agent",
		Version:         ucp.ProtocolVersion,
		Capabilities:    []ucp.Capability{{Name: ucp.CapabilityCheckout, Version: ucp.ProtocolVersion}},
		PaymentHandlers: []string{"com.google.pay", "dev.ucp.ap2"},
	}
}

// Load reads and parses the profile at path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent profile: %w", err)
	}
	profile, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("agent profile %s: %w", path, err)
	}
	return profile, nil
}

// Parse decodes an agent profile. Payment handlers may be listed as plain type
// strings or as objects carrying a "type" field.
func Parse(data []byte) (*Profile, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	profile := &Profile{
		Name:        doc.Agent.Name,
		Description: doc.Agent.Description,
		Contact:     doc.Agent.Contact,
		Version:     doc.UCP.Version,
	}
	if profile.Version == "" {
		profile.Version = ucp.ProtocolVersion
	}

	seen := map[string]bool{}
	for i, c := range doc.UCP.Capabilities {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("capabilities[%d]: name is required", i)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		profile.Capabilities = append(profile.Capabilities, ucp.Capability{Name: name, Version: c.Version})
	}

	seen = map[string]bool{}
	for i, raw := range doc.UCP.PaymentHandlers {
		typ, err := handlerType(raw)
		if err != nil {
			return nil, fmt.Errorf("payment_handlers[%d]: %w", i, err)
		}
		if seen[typ] {
			continue
		}
		seen[typ] = true
		profile.PaymentHandlers = append(profile.PaymentHandlers, typ)
	}
	return profile, nil
}

func handlerType(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	var typ string
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return "", err
		}
	} else {
		var obj struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", err
		}
		typ = obj.Type
	}
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return "", errors.New("type is required")
	}
	return typ, nil
}

// CapabilityNames lists capability names in declaration order.
func (p *Profile) CapabilityNames() []string {
	names := make([]string, 0, len(p.Capabilities))
	for _, c := range p.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// ClientOption wires the profile's declared support into a ucp.Client.
func (p *Profile) ClientOption() ucp.Option {
	return ucp.WithAgentSupport(p.CapabilityNames(), p.PaymentHandlers)
}
