package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	contracts "conubium/contracts/registry"
	"conubium/pkg/domain"
	"conubium/pkg/platform/sentinel"
)

const defaultClientTimeout = 5 * time.Second

// HTTPVerifier forwards attestations to an external identity proof verifier.
// The wire contract lives in contracts/registry so the verifier side can share
// it without importing this module.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type HTTPVerifierOption func(*HTTPVerifier)

func WithHTTPClient(c *http.Client) HTTPVerifierOption {
	return func(v *HTTPVerifier) { v.client = c }
}

func WithClientLogger(l *slog.Logger) HTTPVerifierOption {
	return func(v *HTTPVerifier) { v.logger = l }
}

func NewHTTPVerifier(baseURL string, opts ...HTTPVerifierOption) *HTTPVerifier {
	v := &HTTPVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultClientTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify posts the attestation to the verifier's /verify endpoint. Transport
// failures and non-200 statuses surface as ErrUnavailable so callers can
// distinguish "verifier refused" from "verifier unreachable".
func (v *HTTPVerifier) Verify(ctx context.Context, attestation []byte, claimed domain.Hash32) (Result, error) {
	reqBody, err := json.Marshal(contracts.VerifyRequest{
		Attestation: attestation,
		Nullifier:   claimed.String(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/verify", bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("identity proof verifier unreachable: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		v.logger.WarnContext(ctx, "identity proof verifier returned non-200",
			"status", resp.StatusCode, "body", string(body))
		return Result{}, fmt.Errorf("identity proof verifier status %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}

	var wire contracts.VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Result{}, fmt.Errorf("decode verify response: %w: %w", sentinel.ErrUnavailable, err)
	}

	result := Result{
		Valid:         wire.Valid,
		AgeOver18:     wire.AgeOver18,
		DocumentValid: wire.DocumentValid,
		Reason:        wire.Reason,
	}
	if wire.Nullifier != "" {
		n, err := domain.ParseHash32(wire.Nullifier)
		if err != nil {
			return Result{}, fmt.Errorf("verifier returned malformed nullifier: %w", err)
		}
		result.Nullifier = n
	}
	return result, nil
}
