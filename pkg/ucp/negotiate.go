package ucp

// Negotiate intersects the agent's declared support with what the merchant
// advertises: capabilities by name, payment handlers by type. Results follow the
// merchant's order and contain no duplicates.
func Negotiate(profile *MerchantProfile, agentCapabilities, agentHandlerTypes []string) Negotiated {
	return Negotiated{
		Capabilities:    intersect(profile.CapabilityNames(), agentCapabilities),
		PaymentHandlers: intersect(profile.HandlerTypes(), agentHandlerTypes),
	}
}

// Negotiate intersects profile with the agent support configured on the client.
func (c *Client) Negotiate(profile *MerchantProfile) Negotiated {
	return Negotiate(profile, c.agentCapabilities, c.agentHandlers)
}

func intersect(merchant, agent []string) []string {
	want := make(map[string]bool, len(agent))
	for _, a := range agent {
		want[a] = true
	}
	out := []string{}
	for _, m := range merchant {
		if want[m] {
			out = append(out, m)
			delete(want, m)
		}
	}
	return out
}
