package identity

import (
	"context"
	"encoding/hex"
	"strings"

	"conubium/internal/merkle"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
)

// RootSource supplies the currently published roster root. The registry's
// config store implements this; root updates take effect on the next call.
type RootSource interface {
	MembershipRoot(ctx context.Context) (domain.Hash32, error)
}

// AddressBinding derives identities as keccak-256 of the holder's wallet
// address and checks eligibility as membership in the published roster.
type AddressBinding struct {
	roots RootSource
}

func NewAddressBinding(roots RootSource) *AddressBinding {
	return &AddressBinding{roots: roots}
}

func (b *AddressBinding) Mode() Mode { return ModeAddress }

// Derive hashes the raw 20 address bytes, matching how on-chain registries
// commit to senders.
func (b *AddressBinding) Derive(ev Evidence) (domain.Identity, error) {
	addr, err := parseWalletAddress(ev.WalletAddress)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity(merkle.Keccak256(addr[:])), nil
}

// Validate checks that the evidence's wallet address derives the claimed
// identity and that the identity is enrolled under the current roster root.
func (b *AddressBinding) Validate(ctx context.Context, claimed domain.Identity, ev Evidence) error {
	derived, err := b.Derive(ev)
	if err != nil {
		return err
	}
	if derived != claimed {
		return dErrors.New(dErrors.CodeInvalidProof, "identity does not match wallet address")
	}

	root, err := b.roots.MembershipRoot(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load roster root")
	}
	if !merkle.VerifyMembership(domain.Hash32(claimed), root, ev.Path) {
		return dErrors.New(dErrors.CodeInvalidProof, "membership proof does not verify against roster root")
	}
	return nil
}

func parseWalletAddress(s string) ([20]byte, error) {
	var out [20]byte
	if s == "" {
		return out, dErrors.New(dErrors.CodeInvalidProof, "wallet address required under address binding")
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return out, dErrors.New(dErrors.CodeInvalidProof, "wallet address must be 0x-prefixed hex")
	}
	body := s[2:]
	if len(body) != 40 {
		return out, dErrors.New(dErrors.CodeInvalidProof, "wallet address must be 20 bytes of hex")
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return out, dErrors.Wrap(err, dErrors.CodeInvalidProof, "wallet address is not valid hex")
	}
	copy(out[:], raw)
	return out, nil
}
