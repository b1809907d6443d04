package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the per-host circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker. Zero means 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing. Zero means 30s.
	OpenTimeout time.Duration
}

var errServerFailure = errors.New("merchant server failure")

type breakerSet struct {
	settings BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Response]
}

func newBreakerSet(settings BreakerSettings) *breakerSet {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	return &breakerSet{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Response]),
	}
}

func (s *breakerSet) forHost(host string) *gobreaker.CircuitBreaker[*Response] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[host]; ok {
		return cb
	}
	threshold := s.settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:    host,
		Timeout: s.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about merchant health
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	s.breakers[host] = cb
	return cb
}

// execute runs send through the host's breaker. 5xx responses count as
// failures but are still returned to the caller as responses.
func (s *breakerSet) execute(host string, send func() (*Response, error)) (*Response, error) {
	resp, err := s.forHost(host).Execute(func() (*Response, error) {
		resp, err := send()
		if err != nil {
			return nil, err
		}
		if resp.Status >= http.StatusInternalServerError {
			return resp, errServerFailure
		}
		return resp, nil
	})
	if errors.Is(err, errServerFailure) {
		return resp, nil
	}
	return resp, err
}

// IsBreakerOpen reports whether err came from an open or saturated breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
