package errors

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Code is the stable string identifying a failure. It is one of the constants
// below or a pass-through "http_<status>" / merchant-supplied code.
type Code string

const (
	CodeNetwork                Code = "network_error"
	CodeVersionMismatch        Code = "version_mismatch"
	CodeCapabilityNotSupported Code = "capability_not_supported"
	CodeInvalidRequest         Code = "invalid_request"
	CodeCancelled              Code = "cancelled"
	CodeUnknown                Code = "unknown_error"
	CodeInvalidProfile         Code = "invalid_profile"
	CodeInvalidResponse        Code = "invalid_response"
)

const (
	unknownMessage = "Unknown error"
	unknownValue   = "unknown"
	bodyLimit      = 4096
)

// HTTPCode builds the synthesized code used when an error body cannot be interpreted.
func HTTPCode(status int) Code {
	return Code(fmt.Sprintf("http_%d", status))
}

type Metadata struct {
	Retryable     bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeNetwork: {
		Retryable:     true,
		PublicMessage: "merchant unreachable",
	},
	CodeVersionMismatch: {
		Retryable:     false,
		PublicMessage: "protocol version not supported by merchant",
	},
	CodeCapabilityNotSupported: {
		Retryable:     false,
		PublicMessage: "capability not supported by merchant",
	},
	CodeInvalidRequest: {
		Retryable:     false,
		PublicMessage: "invalid request",
	},
	CodeCancelled: {
		Retryable:     false,
		PublicMessage: "request cancelled",
	},
	CodeInvalidProfile: {
		Retryable:     false,
		PublicMessage: "merchant profile is invalid",
	},
	CodeInvalidResponse: {
		Retryable:     false,
		PublicMessage: "merchant response is invalid",
	},
	CodeUnknown: {
		Retryable:     false,
		PublicMessage: "merchant error",
	},
}

// MetadataFor reports advisory metadata for a code. The client itself never retries.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	var status int
	if _, err := fmt.Sscanf(string(code), "http_%d", &status); err == nil {
		return Metadata{
			Retryable:     status >= 500 || status == 429,
			PublicMessage: "merchant returned an error",
		}
	}
	return metadataByCode[CodeUnknown]
}

// Error is the closed set of failures surfaced by the UCP client. Only the
// variants declared in this package implement it.
type Error interface {
	error
	Code() Code
	Message() string
	Details() map[string]any
	ucpError()
}

// NetworkError is a transport-level failure where no response was received.
type NetworkError struct {
	cause error
}

func NewNetworkError(cause error) *NetworkError {
	return &NetworkError{cause: cause}
}

func (e *NetworkError) Code() Code { return CodeNetwork }

func (e *NetworkError) Message() string {
	if e.cause == nil {
		return "network error"
	}
	return fmt.Sprintf("network error: %v", e.cause)
}

func (e *NetworkError) Details() map[string]any { return nil }
func (e *NetworkError) Error() string           { return format(e) }
func (e *NetworkError) Unwrap() error           { return e.cause }
func (e *NetworkError) ucpError()               {}

// HTTPError is a non-2xx response whose body could not be interpreted.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Code() Code { return HTTPCode(e.Status) }

func (e *HTTPError) Message() string {
	if e.Body == "" {
		return unknownMessage
	}
	return e.Body
}

func (e *HTTPError) Details() map[string]any {
	return map[string]any{"status": e.Status}
}

func (e *HTTPError) Error() string { return format(e) }
func (e *HTTPError) ucpError()     {}

// VersionMismatch reports that the merchant requires a different protocol version.
type VersionMismatch struct {
	AgentVersion    string
	RequiredVersion string
}

func (e *VersionMismatch) Code() Code { return CodeVersionMismatch }

func (e *VersionMismatch) Message() string {
	return fmt.Sprintf("Version mismatch: agent=%s, required=%s", e.AgentVersion, e.RequiredVersion)
}

func (e *VersionMismatch) Details() map[string]any {
	return map[string]any{
		"agent_version":    e.AgentVersion,
		"required_version": e.RequiredVersion,
	}
}

func (e *VersionMismatch) Error() string { return format(e) }
func (e *VersionMismatch) ucpError()     {}

// CapabilityNotSupported reports a capability the merchant does not advertise.
type CapabilityNotSupported struct {
	Capability string
}

func (e *CapabilityNotSupported) Code() Code { return CodeCapabilityNotSupported }

func (e *CapabilityNotSupported) Message() string {
	return fmt.Sprintf("Capability not supported: %s", e.Capability)
}

func (e *CapabilityNotSupported) Details() map[string]any {
	return map[string]any{"capability": e.Capability}
}

func (e *CapabilityNotSupported) Error() string { return format(e) }
func (e *CapabilityNotSupported) ucpError()     {}

// ProtocolError carries any other structured error payload.
type ProtocolError struct {
	code    Code
	message string
	details map[string]any
	cause   error
}

func NewProtocolError(code Code, message string, details map[string]any) *ProtocolError {
	return &ProtocolError{code: code, message: message, details: details}
}

// WrapProtocolError attaches a cause, used for malformed merchant payloads.
func WrapProtocolError(code Code, err error, message string) *ProtocolError {
	return &ProtocolError{code: code, message: message, cause: err}
}

func (e *ProtocolError) Code() Code              { return e.code }
func (e *ProtocolError) Message() string         { return e.message }
func (e *ProtocolError) Details() map[string]any { return e.details }
func (e *ProtocolError) Error() string           { return format(e) }
func (e *ProtocolError) Unwrap() error           { return e.cause }
func (e *ProtocolError) ucpError()               {}

// InvalidRequest is a local validation failure raised before any network call.
type InvalidRequest struct {
	Field  string
	Reason string
	fields map[string]string
}

func NewInvalidRequest(field, reason string) *InvalidRequest {
	return &InvalidRequest{Field: field, Reason: reason}
}

// WithFields attaches per-field validation messages.
func (e *InvalidRequest) WithFields(fields map[string]string) *InvalidRequest {
	e.fields = fields
	return e
}

func (e *InvalidRequest) Code() Code { return CodeInvalidRequest }

func (e *InvalidRequest) Message() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *InvalidRequest) Details() map[string]any {
	details := map[string]any{}
	if e.Field != "" {
		details["field"] = e.Field
	}
	if len(e.fields) > 0 {
		details["fields"] = e.fields
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func (e *InvalidRequest) Error() string { return format(e) }
func (e *InvalidRequest) ucpError()     {}

// Cancelled reports that the caller's context ended before the call finished.
type Cancelled struct {
	cause error
}

func NewCancelled(cause error) *Cancelled {
	return &Cancelled{cause: cause}
}

func (e *Cancelled) Code() Code { return CodeCancelled }

func (e *Cancelled) Message() string {
	if e.cause == nil {
		return "request cancelled"
	}
	return fmt.Sprintf("request cancelled: %v", e.cause)
}

func (e *Cancelled) Details() map[string]any { return nil }
func (e *Cancelled) Error() string           { return format(e) }
func (e *Cancelled) Unwrap() error           { return e.cause }
func (e *Cancelled) ucpError()               {}

func format(e Error) string {
	return fmt.Sprintf("[%s] %s", e.Code(), e.Message())
}

// As extracts the typed error from err's chain.
func As(err error) Error {
	if err == nil {
		return nil
	}
	var typed Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of a typed error, or empty when err is untyped.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return ""
}

// FromResponse maps a non-2xx response to the taxonomy. Once a structured error
// body is parsed the status code no longer influences the variant.
func FromResponse(status int, body []byte, agentVersion string) Error {
	var payload struct {
		Error *struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == nil {
		return &HTTPError{Status: status, Body: truncate(strings.TrimSpace(string(body)))}
	}

	details := map[string]any{}
	if len(payload.Error.Details) > 0 {
		// non-object details are dropped
		_ = json.Unmarshal(payload.Error.Details, &details)
	}

	code := Code(strings.TrimSpace(payload.Error.Code))
	switch code {
	case CodeVersionMismatch:
		return &VersionMismatch{
			AgentVersion:    agentVersion,
			RequiredVersion: stringDetail(details, "required_version"),
		}
	case CodeCapabilityNotSupported:
		return &CapabilityNotSupported{Capability: stringDetail(details, "capability")}
	}

	if code == "" {
		code = CodeUnknown
	}
	message := payload.Error.Message
	if message == "" {
		message = unknownMessage
	}
	return &ProtocolError{code: code, message: message, details: details}
}

// FromTransport maps a failure where no response was received. A context that
// is already done means the caller gave up, which is reported as Cancelled.
func FromTransport(ctx context.Context, err error) Error {
	if err == nil {
		return nil
	}
	if typed := As(err); typed != nil {
		return typed
	}
	if ctx != nil && ctx.Err() != nil {
		return &Cancelled{cause: ctx.Err()}
	}
	if stdErrors.Is(err, context.Canceled) {
		return &Cancelled{cause: err}
	}
	return &NetworkError{cause: err}
}

func stringDetail(details map[string]any, key string) string {
	if raw, ok := details[key]; ok {
		if s, ok := raw.(string); ok && s != "" {
			return s
		}
	}
	return unknownValue
}

func truncate(s string) string {
	if len(s) <= bodyLimit {
		return s
	}
	cut := bodyLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
