// Package attestation integrates identity proof verifiers: services that judge
// the opaque eligibility attestations presented under nullifier binding.
//
// The registry never inspects attestation contents. An adapter either forwards
// the blob to an external verifier over HTTP or checks a zero-knowledge proof
// locally against a configured verifying key. Adapters report facts; mapping
// a refusal onto the registry's error taxonomy is the caller's job.
package attestation

import (
	"context"

	"conubium/pkg/domain"
)

// Result is a verifier's judgment of one attestation.
type Result struct {
	// Valid is the overall verdict. When false the other fields are advisory.
	Valid bool
	// AgeOver18 and DocumentValid are the eligibility attributes the
	// attestation commits to.
	AgeOver18     bool
	DocumentValid bool
	// Nullifier is set when the verifier asserts its own derivation of the
	// pseudonymous identifier. Zero means the verifier has no opinion.
	Nullifier domain.Hash32
	// Reason is a short operator-facing note for refusals.
	Reason string
}

// Verifier judges eligibility attestations. Implementations must treat the
// attestation as opaque bytes and must not retain it after the call.
type Verifier interface {
	Verify(ctx context.Context, attestation []byte, claimed domain.Hash32) (Result, error)
}
