package identity

import (
	"context"
	"errors"

	"conubium/internal/attestation"
	"conubium/internal/merkle"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
	"conubium/pkg/platform/sentinel"
)

// nullifierTag domain-separates nullifier derivation from every other keccak
// use in the registry. Changing it invalidates all previously derived
// identities, so it is versioned.
const nullifierTag = "conubium.nullifier.v1"

// DeriveNullifier computes the canonical pseudonymous identifier for an
// attestation: keccak-256 over the domain tag and the opaque blob. The same
// attestation always derives the same nullifier, which is what makes reuse
// detectable without learning anything about the holder.
func DeriveNullifier(attestationBlob []byte) domain.Identity {
	return domain.Identity(merkle.Keccak256([]byte(nullifierTag), attestationBlob))
}

// NullifierBinding treats the identity commitment as an issuer-derived
// nullifier. Validation re-derives the nullifier from the submitted
// attestation and, mandatorily, has the attestation judged by the configured
// identity proof verifier before any state change is allowed.
type NullifierBinding struct {
	verifier attestation.Verifier
}

func NewNullifierBinding(verifier attestation.Verifier) *NullifierBinding {
	return &NullifierBinding{verifier: verifier}
}

func (b *NullifierBinding) Mode() Mode { return ModeNullifier }

// Derive recomputes the nullifier the attestation stands for. Used alone on
// paths where only authorship matters; re-presenting the original attestation
// is how a holder re-authenticates.
func (b *NullifierBinding) Derive(ev Evidence) (domain.Identity, error) {
	if len(ev.Attestation) == 0 {
		return domain.Identity{}, dErrors.New(dErrors.CodeInvalidProof, "attestation required under nullifier binding")
	}
	return DeriveNullifier(ev.Attestation), nil
}

// Validate checks nullifier consistency and then calls the external verifier
// synchronously. Any refusal, mismatch, or verifier failure aborts the
// operation; there is no fire-and-forget path.
func (b *NullifierBinding) Validate(ctx context.Context, claimed domain.Identity, ev Evidence) error {
	derived, err := b.Derive(ev)
	if err != nil {
		return err
	}
	if derived != claimed {
		return dErrors.New(dErrors.CodeInvalidProof, "claimed nullifier does not match attestation")
	}

	result, err := b.verifier.Verify(ctx, ev.Attestation, domain.Hash32(claimed))
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "identity proof verifier unavailable")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "identity proof verification failed")
	}
	if !result.Valid {
		return dErrors.New(dErrors.CodeInvalidProof, refusalMessage(result.Reason))
	}
	if !result.AgeOver18 || !result.DocumentValid {
		return dErrors.New(dErrors.CodeInvalidProof, "attestation does not cover required eligibility attributes")
	}
	if !result.Nullifier.IsZero() && result.Nullifier != domain.Hash32(claimed) {
		return dErrors.New(dErrors.CodeInvalidProof, "verifier-derived nullifier does not match claim")
	}
	return nil
}

func refusalMessage(reason string) string {
	if reason == "" {
		return "identity proof verifier refused the attestation"
	}
	return "identity proof verifier refused the attestation: " + reason
}
