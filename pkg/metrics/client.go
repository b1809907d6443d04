package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
)

const (
	CacheHit  = "hit"
	CacheMiss = "miss"
	// CacheShared counts callers that joined an in-flight discovery.
	CacheShared = "shared"

	// FailureProtocol buckets merchant-supplied error codes.
	FailureProtocol = "protocol_error"
)

var knownFailureCodes = map[pkgerrors.Code]struct{}{
	pkgerrors.CodeNetwork:                {},
	pkgerrors.CodeVersionMismatch:        {},
	pkgerrors.CodeCapabilityNotSupported: {},
	pkgerrors.CodeInvalidRequest:         {},
	pkgerrors.CodeCancelled:              {},
	pkgerrors.CodeUnknown:                {},
	pkgerrors.CodeInvalidProfile:         {},
	pkgerrors.CodeInvalidResponse:        {},
}

// ClientMetrics records outbound UCP calls and merchant profile cache behavior.
type ClientMetrics struct {
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
	cache    *prometheus.CounterVec
}

// NewClientMetrics registers the client metrics on the provided registerer.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	if reg == nil {
		return &ClientMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ucp_client_request_duration_seconds",
		Help:    "Duration of outbound UCP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ucp_client_request_failures_total",
		Help: "Failed UCP operations by error code.",
	}, []string{"operation", "code"})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ucp_client_profile_cache_total",
		Help: "Merchant profile cache lookups by result.",
	}, []string{"result"})
	reg.MustRegister(duration, failures, cache)
	return &ClientMetrics{
		duration: duration,
		failures: failures,
		cache:    cache,
	}
}

// ObserveDuration records the duration of a wire call.
func (m *ClientMetrics) ObserveDuration(operation string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncFailure counts a failed operation. Codes outside the client's own set are
// bucketed so merchants cannot grow the label space.
func (m *ClientMetrics) IncFailure(operation, code string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(operation), failureLabel(code)).Inc()
}

// IncCache counts a profile cache lookup result.
func (m *ClientMetrics) IncCache(result string) {
	if m == nil || m.cache == nil {
		return
	}
	m.cache.WithLabelValues(normalizeLabel(result)).Inc()
}

func failureLabel(code string) string {
	if _, ok := knownFailureCodes[pkgerrors.Code(code)]; ok {
		return code
	}
	if status, ok := strings.CutPrefix(code, "http_"); ok && len(status) == 3 {
		switch status[0] {
		case '4':
			return "http_4xx"
		case '5':
			return "http_5xx"
		}
		return "http_other"
	}
	if code == "" {
		return "unknown"
	}
	return FailureProtocol
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
