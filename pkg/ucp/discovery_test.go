package ucp

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ucp-agent/internal/ucptest"
	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
	"github.com/angelmondragon/ucp-agent/pkg/metrics"
)

func TestDiscoverCachesProfile(t *testing.T) {
	merchant := ucptest.New(t, ucptest.WithPaymentHandlers("com.google.pay", "dev.ucp.ap2"))
	client := newTestClient(t)
	ctx := context.Background()

	first, err := client.Discover(ctx, merchant.URL())
	require.NoError(t, err)
	second, err := client.Discover(ctx, merchant.URL())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, merchant.Count(http.MethodGet, WellKnownPath))
	assert.Equal(t, "Test Shop", first.Name)
	assert.Equal(t, merchant.RestEndpoint(), first.RestEndpoint)
	assert.Equal(t, ucptest.Version, first.ProtocolVersion)
	assert.Equal(t, []string{CapabilityCheckout}, first.CapabilityNames())
	assert.Equal(t, []string{"com.google.pay", "dev.ucp.ap2"}, first.HandlerTypes())
}

func TestDiscoverKeysOnExactURL(t *testing.T) {
	merchant := ucptest.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Discover(ctx, merchant.URL())
	require.NoError(t, err)
	_, err = client.Discover(ctx, merchant.URL()+"/")
	require.NoError(t, err)

	// trailing slash only affects the well-known path, not the cache key
	assert.Equal(t, 2, merchant.Count(http.MethodGet, WellKnownPath))
}

func TestConcurrentDiscoverySharesOneRequest(t *testing.T) {
	gate := make(chan struct{})
	merchant := ucptest.New(t, ucptest.WithDiscoveryGate(gate))
	reg := prometheus.NewRegistry()
	client := newTestClient(t, WithMetrics(metrics.NewClientMetrics(reg)))

	const callers = 16
	var wg sync.WaitGroup
	profiles := make([]*MerchantProfile, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profiles[i], errs[i] = client.Discover(context.Background(), merchant.URL())
		}(i)
	}

	require.Eventually(t, func() bool {
		return merchant.Count(http.MethodGet, WellKnownPath) == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, profiles[0], profiles[i])
	}
	assert.Equal(t, 1, merchant.Count(http.MethodGet, WellKnownPath))
}

func TestDiscoverCancellationIsDistinct(t *testing.T) {
	gate := make(chan struct{})
	merchant := ucptest.New(t, ucptest.WithDiscoveryGate(gate))
	t.Cleanup(func() { close(gate) })
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Discover(ctx, merchant.URL())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return merchant.Count(http.MethodGet, WellKnownPath) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var cancelled *pkgerrors.Cancelled
		require.ErrorAs(t, err, &cancelled)
		assert.Equal(t, pkgerrors.CodeCancelled, pkgerrors.CodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("discover did not return after cancellation")
	}
}

func TestDiscoverWithCancelledContextSkipsNetwork(t *testing.T) {
	sender := &countingSender{}
	client := newTestClient(t, WithSender(sender))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Discover(ctx, "https://shop.example")
	assert.Equal(t, pkgerrors.CodeCancelled, pkgerrors.CodeOf(err))
	assert.Zero(t, sender.Calls())
}

func TestDiscoverErrorsAreNotCached(t *testing.T) {
	merchant := ucptest.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	merchant.Override(http.MethodGet, WellKnownPath, http.StatusServiceUnavailable, "maintenance")
	_, err := client.Discover(ctx, merchant.URL())
	assert.Equal(t, pkgerrors.HTTPCode(http.StatusServiceUnavailable), pkgerrors.CodeOf(err))

	merchant.Override(http.MethodGet, WellKnownPath, http.StatusOK, `{"merchant":{"rest_endpoint":"/relative"},"ucp":{}}`)
	_, err = client.Discover(ctx, merchant.URL())
	assert.Equal(t, pkgerrors.CodeInvalidProfile, pkgerrors.CodeOf(err))

	merchant.Override(http.MethodGet, WellKnownPath, http.StatusOK, `{"ucp":{"capabilities":[{"name":"dev.ucp.shopping.checkout"}]}}`)
	profile, err := client.Discover(ctx, merchant.URL())
	require.NoError(t, err)
	assert.Equal(t, "Unknown", profile.Name)
	assert.Equal(t, merchant.URL(), profile.RestEndpoint)
	assert.Equal(t, 3, merchant.Count(http.MethodGet, WellKnownPath))
}

func TestForgetForcesRefetch(t *testing.T) {
	merchant := ucptest.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Discover(ctx, merchant.URL())
	require.NoError(t, err)
	require.NoError(t, client.Forget(ctx, merchant.URL()))
	_, err = client.Discover(ctx, merchant.URL())
	require.NoError(t, err)

	assert.Equal(t, 2, merchant.Count(http.MethodGet, WellKnownPath))

	var invalid *pkgerrors.InvalidRequest
	assert.ErrorAs(t, client.Forget(ctx, ""), &invalid)
}

func TestDiscoverRequiresMerchantURL(t *testing.T) {
	sender := &countingSender{}
	client := newTestClient(t, WithSender(sender))

	_, err := client.Discover(context.Background(), "  ")
	assert.Equal(t, pkgerrors.CodeInvalidRequest, pkgerrors.CodeOf(err))
	assert.Zero(t, sender.Calls())
}
