// Package domain holds the typed identifiers shared across the registry.
//
// Civil-status identifiers are 32-byte values rendered as 0x-prefixed hex.
// Each identifier family gets its own Go type so a proposal ID can never be
// passed where an identity commitment is expected. Parsing lives here and is
// the single trust boundary: handlers parse once, everything below works with
// typed values.
package domain

import (
	"bytes"
	"encoding/hex"
	"strings"

	dErrors "conubium/pkg/domain-errors"
)

// Hash32 is a raw 32-byte digest (roots, proposal commitments, certificate
// hashes, sibling path nodes). Unlike the identifier types below, the zero
// digest is representable.
type Hash32 [32]byte

// Identity is a pseudonymous identity commitment. Under address binding it is
// the keccak-256 of the holder's wallet address; under nullifier binding it is
// the nullifier itself.
type Identity [32]byte

// ProposalID is the caller-chosen identifier of a marriage proposal.
type ProposalID [32]byte

// MarriageID is the registry-derived identifier of a marriage record.
type MarriageID [32]byte

const hexLen = 64

func parse32(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, dErrors.New(dErrors.CodeInvalidInput, "identifier must not be empty")
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return out, dErrors.New(dErrors.CodeInvalidInput, "identifier must be 0x-prefixed hex")
	}
	body := s[2:]
	if len(body) != hexLen {
		return out, dErrors.New(dErrors.CodeInvalidInput, "identifier must be 32 bytes of hex")
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return out, dErrors.Wrap(err, dErrors.CodeInvalidInput, "identifier is not valid hex")
	}
	copy(out[:], raw)
	return out, nil
}

func parse32NonZero(s, what string) ([32]byte, error) {
	v, err := parse32(s)
	if err != nil {
		return v, err
	}
	if v == ([32]byte{}) {
		return v, dErrors.New(dErrors.CodeInvalidInput, what+" must not be the zero value")
	}
	return v, nil
}

func format32(v [32]byte) string {
	return "0x" + hex.EncodeToString(v[:])
}

// ParseHash32 parses a 0x-prefixed 64-digit hex digest. The zero digest is
// accepted; it is a legitimate hash value.
func ParseHash32(s string) (Hash32, error) {
	v, err := parse32(s)
	return Hash32(v), err
}

// ParseIdentity parses an identity commitment. The zero commitment is rejected,
// it can never correspond to a real holder and doubles as "absent" in records.
func ParseIdentity(s string) (Identity, error) {
	v, err := parse32NonZero(s, "identity")
	return Identity(v), err
}

// ParseProposalID parses a proposal identifier. Zero is rejected.
func ParseProposalID(s string) (ProposalID, error) {
	v, err := parse32NonZero(s, "proposal id")
	return ProposalID(v), err
}

// ParseMarriageID parses a marriage identifier. Zero is rejected.
func ParseMarriageID(s string) (MarriageID, error) {
	v, err := parse32NonZero(s, "marriage id")
	return MarriageID(v), err
}

func (h Hash32) String() string     { return format32(h) }
func (i Identity) String() string   { return format32(i) }
func (p ProposalID) String() string { return format32(p) }
func (m MarriageID) String() string { return format32(m) }

func (h Hash32) IsZero() bool     { return h == Hash32{} }
func (i Identity) IsZero() bool   { return i == Identity{} }
func (p ProposalID) IsZero() bool { return p == ProposalID{} }
func (m MarriageID) IsZero() bool { return m == MarriageID{} }

// Less orders identities numerically (big-endian byte order). Used wherever a
// canonical spouse-pair ordering is needed.
func (i Identity) Less(other Identity) bool {
	return bytes.Compare(i[:], other[:]) < 0
}

func (h Hash32) MarshalText() ([]byte, error)     { return []byte(h.String()), nil }
func (i Identity) MarshalText() ([]byte, error)   { return []byte(i.String()), nil }
func (p ProposalID) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
func (m MarriageID) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (h *Hash32) UnmarshalText(b []byte) error {
	v, err := ParseHash32(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func (i *Identity) UnmarshalText(b []byte) error {
	v, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

func (p *ProposalID) UnmarshalText(b []byte) error {
	v, err := ParseProposalID(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (m *MarriageID) UnmarshalText(b []byte) error {
	v, err := ParseMarriageID(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
