package attestation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"conubium/pkg/domain"
	"conubium/pkg/platform/circuit"
	"conubium/pkg/platform/sentinel"
)

// EndpointSource supplies the currently configured verifier endpoint. An
// empty endpoint means none is configured.
type EndpointSource interface {
	VerifierEndpoint(ctx context.Context) (string, error)
}

// SwitchingVerifier resolves the verifier endpoint per call, so endpoint
// updates take effect without a restart. The HTTP client is rebuilt only when
// the endpoint actually changes.
//
// A circuit breaker tracks consecutive transport failures against the remote
// verifier. While the circuit is open, unavailable calls degrade to the
// fallback verifier; successful primary calls close it again.
type SwitchingVerifier struct {
	source   EndpointSource
	fallback Verifier
	httpOpts []HTTPVerifierOption
	breaker  *circuit.Breaker
	logger   *slog.Logger

	mu       sync.Mutex
	client   *HTTPVerifier
	endpoint string
}

type SwitchingOption func(*SwitchingVerifier)

// WithFallback sets the verifier used while no endpoint is configured.
// Without one, validation fails as unavailable until an endpoint is set.
func WithFallback(v Verifier) SwitchingOption {
	return func(s *SwitchingVerifier) { s.fallback = v }
}

// WithHTTPVerifierOptions forwards options to every HTTPVerifier built.
func WithHTTPVerifierOptions(opts ...HTTPVerifierOption) SwitchingOption {
	return func(s *SwitchingVerifier) { s.httpOpts = opts }
}

// WithSwitchingLogger sets the logger for circuit state transitions.
func WithSwitchingLogger(l *slog.Logger) SwitchingOption {
	return func(s *SwitchingVerifier) { s.logger = l }
}

func NewSwitchingVerifier(source EndpointSource, opts ...SwitchingOption) *SwitchingVerifier {
	s := &SwitchingVerifier{
		source:  source,
		breaker: circuit.New("proof-verifier"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SwitchingVerifier) Verify(ctx context.Context, attestation []byte, claimed domain.Hash32) (Result, error) {
	endpoint, err := s.source.VerifierEndpoint(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("resolve verifier endpoint: %w: %w", sentinel.ErrUnavailable, err)
	}
	if endpoint == "" {
		if s.fallback != nil {
			return s.fallback.Verify(ctx, attestation, claimed)
		}
		return Result{}, fmt.Errorf("no identity proof verifier configured: %w", sentinel.ErrUnavailable)
	}

	result, err := s.clientFor(endpoint).Verify(ctx, attestation, claimed)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			useFallback, change := s.breaker.RecordFailure()
			if change.Opened {
				s.logger.Warn("verifier circuit opened, degrading to fallback",
					"breaker", s.breaker.Name(), "endpoint", endpoint)
			}
			if useFallback && s.fallback != nil {
				return s.fallback.Verify(ctx, attestation, claimed)
			}
		}
		return Result{}, err
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.Info("verifier circuit closed, primary restored",
			"breaker", s.breaker.Name(), "endpoint", endpoint)
	}
	return result, nil
}

func (s *SwitchingVerifier) clientFor(endpoint string) *HTTPVerifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.endpoint != endpoint {
		s.client = NewHTTPVerifier(endpoint, s.httpOpts...)
		s.endpoint = endpoint
	}
	return s.client
}
