package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contracts "conubium/contracts/registry"
	"conubium/pkg/domain"
	"conubium/pkg/platform/sentinel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func claimedNullifier(t *testing.T) domain.Hash32 {
	t.Helper()
	n, err := domain.ParseHash32("0x1111111111111111111111111111111111111111111111111111111111111111")
	require.NoError(t, err)
	return n
}

func TestHTTPVerifier_ForwardsAndMaps(t *testing.T) {
	claimed := claimedNullifier(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req contracts.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []byte("opaque-attestation"), req.Attestation)
		assert.Equal(t, claimed.String(), req.Nullifier)

		_ = json.NewEncoder(w).Encode(contracts.VerifyResponse{
			Valid:         true,
			AgeOver18:     true,
			DocumentValid: true,
			Nullifier:     claimed.String(),
		})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, WithClientLogger(discardLogger()))
	result, err := v.Verify(context.Background(), []byte("opaque-attestation"), claimed)
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.True(t, result.AgeOver18)
	assert.True(t, result.DocumentValid)
	assert.Equal(t, claimed, result.Nullifier)
}

func TestHTTPVerifier_Refusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(contracts.VerifyResponse{
			Valid:  false,
			Reason: "document revoked",
		})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, WithClientLogger(discardLogger()))
	result, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, "document revoked", result.Reason)
	assert.True(t, result.Nullifier.IsZero())
}

func TestHTTPVerifier_NonOKStatusIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, WithClientLogger(discardLogger()))
	_, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}

func TestHTTPVerifier_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	v := NewHTTPVerifier(srv.URL, WithClientLogger(discardLogger()))
	_, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}

func TestHTTPVerifier_MalformedNullifierRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"valid":true,"nullifier":"0xnothex"}`))
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, WithClientLogger(discardLogger()))
	_, err := v.Verify(context.Background(), []byte("blob"), claimedNullifier(t))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "nullifier"))
}

func TestHTTPVerifier_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(contracts.VerifyResponse{Valid: true})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, WithClientLogger(discardLogger()))
	_, err := v.Verify(ctx, []byte("blob"), claimedNullifier(t))
	require.Error(t, err)
}
