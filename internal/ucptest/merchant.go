// Package ucptest runs an in-process UCP merchant for client tests.
package ucptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	CapabilityCheckout = "dev.ucp.shopping.checkout"
	Version            = "2026-01-11"
	APIPrefix          = "/api"
)

// Merchant is a fake merchant backed by httptest. Sessions and orders live in memory.
type Merchant struct {
	server *httptest.Server

	mu           sync.Mutex
	name         string
	capabilities []string
	handlers     []string
	profile      map[string]any
	gate         chan struct{}
	overrides    map[string]override
	counts       map[string]int
	headers      map[string]http.Header
	sessions     map[string]*session
	orders       map[string]map[string]any
	seq          int
}

type override struct {
	status int
	body   string
}

type session struct {
	data      map[string]any
	completed bool
}

// Option configures the fake merchant.
type Option func(*Merchant)

// WithCapabilities sets the advertised capability names.
func WithCapabilities(names ...string) Option {
	return func(m *Merchant) { m.capabilities = names }
}

// WithPaymentHandlers sets the advertised payment handler types.
func WithPaymentHandlers(types ...string) Option {
	return func(m *Merchant) { m.handlers = types }
}

// WithProfile serves doc verbatim from the well-known endpoint.
func WithProfile(doc map[string]any) Option {
	return func(m *Merchant) { m.profile = doc }
}

// WithDiscoveryGate blocks well-known requests until gate is closed.
func WithDiscoveryGate(gate chan struct{}) Option {
	return func(m *Merchant) { m.gate = gate }
}

// New starts a merchant that is shut down when the test ends.
func New(t testing.TB, opts ...Option) *Merchant {
	t.Helper()
	m := &Merchant{
		name:         "Test Shop",
		capabilities: []string{CapabilityCheckout},
		handlers:     []string{"com.google.pay"},
		overrides:    map[string]override{},
		counts:       map[string]int{},
		headers:      map[string]http.Header{},
		sessions:     map[string]*session{},
		orders:       map[string]map[string]any{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.server = httptest.NewServer(m.routes())
	t.Cleanup(m.server.Close)
	return m
}

func (m *Merchant) URL() string { return m.server.URL }

// RestEndpoint is the base URL the merchant advertises for API calls.
func (m *Merchant) RestEndpoint() string { return m.server.URL + APIPrefix }

// Override makes method+path answer with status and body instead of the normal handler.
func (m *Merchant) Override(method, path string, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[method+" "+path] = override{status: status, body: body}
}

// Count reports how many requests reached method+path.
func (m *Merchant) Count(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[method+" "+path]
}

// Total reports every request the merchant received.
func (m *Merchant) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.counts {
		total += n
	}
	return total
}

// LastHeaders returns the headers of the latest request to method+path.
func (m *Merchant) LastHeaders(method, path string) http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers[method+" "+path]
}

func (m *Merchant) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(m.record)
	r.Get("/.well-known/ucp", m.discovery)
	r.Route(APIPrefix, func(r chi.Router) {
		r.Post("/checkout", m.createCheckout)
		r.Patch("/checkout/{sessionId}", m.updateCheckout)
		r.Post("/checkout/{sessionId}/complete", m.completeCheckout)
		r.Get("/orders/{orderId}", m.getOrder)
	})
	return r
}

func (m *Merchant) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		m.mu.Lock()
		m.counts[key]++
		m.headers[key] = r.Header.Clone()
		o, overridden := m.overrides[key]
		m.mu.Unlock()

		if overridden {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(o.status)
			_, _ = w.Write([]byte(o.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Merchant) discovery(w http.ResponseWriter, r *http.Request) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-r.Context().Done():
			return
		}
	}
	if m.profile != nil {
		writeJSON(w, http.StatusOK, m.profile)
		return
	}

	capabilities := make([]map[string]any, 0, len(m.capabilities))
	for _, name := range m.capabilities {
		capabilities = append(capabilities, map[string]any{"name": name, "version": Version})
	}
	handlers := make([]map[string]any, 0, len(m.handlers))
	for i, typ := range m.handlers {
		handlers = append(handlers, map[string]any{
			"id":     fmt.Sprintf("handler_%d", i+1),
			"type":   typ,
			"config": map[string]any{},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"merchant": map[string]any{
			"name":          m.name,
			"description":   "In-process test merchant",
			"rest_endpoint": m.RestEndpoint(),
		},
		"ucp": map[string]any{
			"version":          Version,
			"capabilities":     capabilities,
			"payment_handlers": handlers,
			"extensions":       []string{},
		},
	})
}

func (m *Merchant) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LineItems []map[string]any `json:"line_items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.LineItems) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "line_items required", nil)
		return
	}

	var subtotal int64
	for _, item := range req.LineItems {
		qty, _ := item["quantity"].(float64)
		price, _ := item["price_cents"].(float64)
		subtotal += int64(qty) * int64(price)
	}

	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("cs_%d", m.seq)
	now := time.Now().UTC()
	data := map[string]any{
		"id":             id,
		"status":         "incomplete",
		"line_items":     req.LineItems,
		"subtotal_cents": subtotal,
		"tax_cents":      0,
		"shipping_cents": 0,
		"discount_cents": 0,
		"total_cents":    subtotal,
		"currency":       "USD",
		"created_at":     now.Format(time.RFC3339),
		"expires_at":     now.Add(30 * time.Minute).Format(time.RFC3339),
	}
	m.sessions[id] = &session{data: data}
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, data)
}

func (m *Merchant) updateCheckout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be a JSON object", nil)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "Checkout session not found", map[string]any{"session_id": id})
		return
	}
	if s.completed {
		writeError(w, http.StatusConflict, "session_completed", "Checkout session already completed", nil)
		return
	}
	for k, v := range patch {
		if k == "id" || k == "status" {
			continue
		}
		s.data[k] = v
	}
	if _, ok := s.data["buyer"]; ok {
		s.data["status"] = "ready_for_complete"
	}
	writeJSON(w, http.StatusOK, s.data)
}

func (m *Merchant) completeCheckout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	var req struct {
		Payment struct {
			HandlerID  string         `json:"handler_id"`
			Credential map[string]any `json:"credential"`
		} `json:"payment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Payment.HandlerID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "payment.handler_id required", nil)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "Checkout session not found", map[string]any{"session_id": id})
		return
	}
	if s.completed {
		writeError(w, http.StatusConflict, "session_completed", "Checkout session already completed", nil)
		return
	}
	s.completed = true
	s.data["status"] = "completed"

	m.seq++
	order := map[string]any{
		"id":                  fmt.Sprintf("ord_%d", m.seq),
		"status":              "confirmed",
		"confirmation_number": fmt.Sprintf("CONF-%04d", m.seq),
		"total_cents":         s.data["total_cents"],
		"currency":            s.data["currency"],
	}
	m.orders[order["id"].(string)] = order
	writeJSON(w, http.StatusOK, order)
}

func (m *Merchant) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderId")
	m.mu.Lock()
	order, ok := m.orders[id]
	m.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "order_not_found", "Order not found", map[string]any{"order_id": id})
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
