package ucp

import "strings"

const redacted = "[REDACTED]"

var sensitiveKeys = []string{"credential", "card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone"}

// redact returns a copy of a request body that is safe to log.
func redact(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			if isSensitive(k) {
				out[k] = redacted
				continue
			}
			out[k] = redact(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = redact(inner)
		}
		return out
	default:
		return value
	}
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
