package attestation

import (
	"context"
	"time"

	"conubium/pkg/domain"
)

// StaticVerifier returns a fixed judgment after a configurable latency, to
// mimic real-world verifier calls in dev wiring and tests.
type StaticVerifier struct {
	Result  Result
	Err     error
	Latency time.Duration
}

func (s StaticVerifier) Verify(ctx context.Context, _ []byte, _ domain.Hash32) (Result, error) {
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if s.Err != nil {
		return Result{}, s.Err
	}
	return s.Result, nil
}

// Approving is a StaticVerifier that accepts everything, for dev mode.
func Approving() StaticVerifier {
	return StaticVerifier{Result: Result{Valid: true, AgeOver18: true, DocumentValid: true}}
}
