// Package identity implements the two ways holders bind to pseudonymous
// identity commitments: address binding (wallet hash plus roster membership
// proof) and nullifier binding (opaque attestation plus nullifier
// re-derivation with mandatory external verification).
//
// Both variants expose the same shape. The registry service holds exactly one
// Binding, selected by configuration, and never branches on the variant.
package identity

import (
	"context"

	"conubium/internal/merkle"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
)

// Mode selects the active binding variant.
type Mode string

const (
	ModeAddress   Mode = "address"
	ModeNullifier Mode = "nullifier"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAddress, ModeNullifier:
		return Mode(s), nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "binding mode must be \"address\" or \"nullifier\"")
	}
}

// Evidence is the variant-specific material a party submits alongside an
// operation. Address binding reads WalletAddress and Path; nullifier binding
// reads Attestation. Unused fields are ignored.
type Evidence struct {
	WalletAddress string          `json:"wallet_address,omitempty"`
	Path          []domain.Hash32 `json:"path,omitempty"`
	Attestation   []byte          `json:"attestation,omitempty"`
}

const evidenceTag = "conubium.evidence.v1"

// Digest commits to the full evidence for the audit record. It reveals
// nothing beyond what the submitter already sent.
func (e Evidence) Digest() domain.Hash32 {
	chunks := make([][]byte, 0, len(e.Path)+3)
	chunks = append(chunks, []byte(evidenceTag), []byte(e.WalletAddress))
	for _, h := range e.Path {
		chunks = append(chunks, h[:])
	}
	chunks = append(chunks, e.Attestation)
	return merkle.Keccak256(chunks...)
}

// Binding validates that evidence establishes a claimed identity.
//
// Derive answers "who is this evidence from" and is used alone where only
// authorship matters (divorce). Validate answers "may this identity marry"
// and additionally checks eligibility: roster membership under address
// binding, attestation verification under nullifier binding.
type Binding interface {
	Mode() Mode
	Derive(ev Evidence) (domain.Identity, error)
	Validate(ctx context.Context, claimed domain.Identity, ev Evidence) error
}
