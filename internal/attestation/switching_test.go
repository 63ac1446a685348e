package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contracts "conubium/contracts/registry"
	"conubium/pkg/platform/sentinel"
)

type endpointFunc func(ctx context.Context) (string, error)

func (f endpointFunc) VerifierEndpoint(ctx context.Context) (string, error) { return f(ctx) }

func fixedEndpoint(url string) EndpointSource {
	return endpointFunc(func(context.Context) (string, error) { return url, nil })
}

func approvingServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		var req contracts.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(contracts.VerifyResponse{
			Valid:         true,
			AgeOver18:     true,
			DocumentValid: true,
			Nullifier:     req.Nullifier,
		})
	}))
}

func TestSwitchingVerifier_UsesConfiguredEndpoint(t *testing.T) {
	var hits int
	srv := approvingServer(t, &hits)
	defer srv.Close()

	v := NewSwitchingVerifier(fixedEndpoint(srv.URL),
		WithHTTPVerifierOptions(WithClientLogger(discardLogger())),
		WithSwitchingLogger(discardLogger()),
	)
	result, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, hits)
}

func TestSwitchingVerifier_FallbackWhenNoEndpoint(t *testing.T) {
	v := NewSwitchingVerifier(fixedEndpoint(""),
		WithFallback(Approving()),
		WithSwitchingLogger(discardLogger()),
	)
	result, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestSwitchingVerifier_UnavailableWhenNothingConfigured(t *testing.T) {
	v := NewSwitchingVerifier(fixedEndpoint(""), WithSwitchingLogger(discardLogger()))
	_, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}

func TestSwitchingVerifier_FollowsEndpointChanges(t *testing.T) {
	var alphaHits, betaHits int
	alpha := approvingServer(t, &alphaHits)
	defer alpha.Close()
	beta := approvingServer(t, &betaHits)
	defer beta.Close()

	endpoint := alpha.URL
	v := NewSwitchingVerifier(
		endpointFunc(func(context.Context) (string, error) { return endpoint, nil }),
		WithHTTPVerifierOptions(WithClientLogger(discardLogger())),
		WithSwitchingLogger(discardLogger()),
	)

	_, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	require.NoError(t, err)

	endpoint = beta.URL
	_, err = v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	require.NoError(t, err)

	assert.Equal(t, 1, alphaHits)
	assert.Equal(t, 1, betaHits)
}

func TestSwitchingVerifier_DegradesToFallbackWhenCircuitOpens(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // refuse connections

	v := NewSwitchingVerifier(fixedEndpoint(dead.URL),
		WithFallback(Approving()),
		WithHTTPVerifierOptions(WithClientLogger(discardLogger())),
		WithSwitchingLogger(discardLogger()),
	)

	// Below the failure threshold the outage surfaces to the caller.
	for i := 0; i < 4; i++ {
		_, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
		require.Error(t, err)
		assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
		assert.False(t, v.breaker.IsOpen())
	}

	// The failure that opens the circuit already degrades to the fallback.
	result, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, v.breaker.IsOpen())
}

func TestSwitchingVerifier_CircuitClosesOnPrimaryRecovery(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	var hits int
	healthy := approvingServer(t, &hits)
	defer healthy.Close()

	endpoint := dead.URL
	v := NewSwitchingVerifier(
		endpointFunc(func(context.Context) (string, error) { return endpoint, nil }),
		WithFallback(Approving()),
		WithHTTPVerifierOptions(WithClientLogger(discardLogger())),
		WithSwitchingLogger(discardLogger()),
	)

	for i := 0; i < 5; i++ {
		_, _ = v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	}
	require.True(t, v.breaker.IsOpen())

	// The primary is still attempted while open, so recovery is observed
	// directly and consecutive successes close the circuit.
	endpoint = healthy.URL
	for i := 0; i < 3; i++ {
		result, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
		require.NoError(t, err)
		assert.True(t, result.Valid)
	}
	assert.False(t, v.breaker.IsOpen())
	assert.Equal(t, 3, hits)
}
