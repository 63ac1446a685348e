// Package models holds the civil-status aggregates: proposals, marriages, and
// the mutable registry configuration. State transitions live here as
// Can/Apply pairs so services can validate inside transaction callbacks
// without duplicating lifecycle rules.
package models

import (
	"time"

	dErrors "conubium/pkg/domain-errors"
	id "conubium/pkg/domain"
)

// ProposalStatus is derived, never stored. Expiry is lazy: nothing flips a
// proposal to expired, it is simply observed as expired when read.
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusAccepted ProposalStatus = "accepted"
	ProposalStatusExpired  ProposalStatus = "expired"
)

// Proposal is a pending offer of marriage from proposer to proposee.
//
// Invariants:
//   - Proposer and Proposee are distinct, non-zero identities
//   - ExpiresAt is strictly after CreatedAt
//   - Accepted is monotonic: once true it never reverts
//   - A proposal expires exactly at its expiry instant: acceptance at
//     t == ExpiresAt fails
//   - All fields except Accepted are immutable after construction
type Proposal struct {
	ID           id.ProposalID `json:"id"`
	Proposer     id.Identity   `json:"proposer"`
	Proposee     id.Identity   `json:"proposee"`
	ProposalHash id.Hash32     `json:"proposal_hash"`
	Jurisdiction string        `json:"jurisdiction"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Accepted     bool          `json:"accepted"`
}

func NewProposal(proposalID id.ProposalID, proposer, proposee id.Identity, proposalHash id.Hash32, jurisdiction string, now, expiresAt time.Time) (*Proposal, error) {
	if proposalID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "proposal id cannot be zero")
	}
	if proposer.IsZero() || proposee.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "proposal parties cannot be zero identities")
	}
	if proposer == proposee {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "an identity cannot propose to itself")
	}
	if !expiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "proposal expiry must be after creation")
	}
	return &Proposal{
		ID:           proposalID,
		Proposer:     proposer,
		Proposee:     proposee,
		ProposalHash: proposalHash,
		Jurisdiction: jurisdiction,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}, nil
}

// IsExpired reports whether the proposal is past its expiry instant. The
// boundary is inclusive: a proposal is expired at exactly ExpiresAt.
func (p *Proposal) IsExpired(now time.Time) bool {
	return !p.Accepted && !now.Before(p.ExpiresAt)
}

func (p *Proposal) Status(now time.Time) ProposalStatus {
	switch {
	case p.Accepted:
		return ProposalStatusAccepted
	case p.IsExpired(now):
		return ProposalStatusExpired
	default:
		return ProposalStatusPending
	}
}

// CanAccept checks whether acceptance is allowed at the given instant.
// Use with ApplyAcceptance inside transaction callbacks.
func (p *Proposal) CanAccept(now time.Time) error {
	if p.Accepted {
		return dErrors.New(dErrors.CodeAlreadyAccepted, "proposal has already been accepted")
	}
	if p.IsExpired(now) {
		return dErrors.New(dErrors.CodeProposalExpired, "proposal expired at "+p.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// ApplyAcceptance marks the proposal accepted. Call CanAccept first.
func (p *Proposal) ApplyAcceptance() {
	p.Accepted = true
}

// Accept validates and applies acceptance in one call.
func (p *Proposal) Accept(now time.Time) error {
	if err := p.CanAccept(now); err != nil {
		return err
	}
	p.ApplyAcceptance()
	return nil
}

// Marriage is an established union between two identities.
//
// Invariants:
//   - Spouses are distinct, non-zero identities
//   - Active -> Dissolved is the only transition, and it is terminal
//   - DissolvedAt is set exactly when IsActive flips to false
type Marriage struct {
	ID              id.MarriageID `json:"id"`
	Spouse1         id.Identity   `json:"spouse1"`
	Spouse2         id.Identity   `json:"spouse2"`
	Proof1Hash      id.Hash32     `json:"proof1_hash"`
	Proof2Hash      id.Hash32     `json:"proof2_hash"`
	CertificateHash id.Hash32     `json:"certificate_hash"`
	Jurisdiction    string        `json:"jurisdiction"`
	CreatedAt       time.Time     `json:"created_at"`
	DissolvedAt     *time.Time    `json:"dissolved_at,omitempty"`
	IsActive        bool          `json:"is_active"`
}

func NewMarriage(marriageID id.MarriageID, spouse1, spouse2 id.Identity, proof1Hash, proof2Hash, certificateHash id.Hash32, jurisdiction string, now time.Time) (*Marriage, error) {
	if marriageID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "marriage id cannot be zero")
	}
	if spouse1.IsZero() || spouse2.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "spouses cannot be zero identities")
	}
	if spouse1 == spouse2 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "an identity cannot marry itself")
	}
	return &Marriage{
		ID:              marriageID,
		Spouse1:         spouse1,
		Spouse2:         spouse2,
		Proof1Hash:      proof1Hash,
		Proof2Hash:      proof2Hash,
		CertificateHash: certificateHash,
		Jurisdiction:    jurisdiction,
		CreatedAt:       now,
		IsActive:        true,
	}, nil
}

// HasSpouse reports whether the identity is one of the two parties.
func (m *Marriage) HasSpouse(identity id.Identity) bool {
	return m.Spouse1 == identity || m.Spouse2 == identity
}

// CanDissolve checks the marriage is still active.
// Use with ApplyDissolution inside transaction callbacks.
func (m *Marriage) CanDissolve() error {
	if !m.IsActive {
		return dErrors.New(dErrors.CodeMarriageNotActive, "marriage has already been dissolved")
	}
	return nil
}

// ApplyDissolution flips the marriage to dissolved. Call CanDissolve first.
func (m *Marriage) ApplyDissolution(now time.Time) {
	m.IsActive = false
	dissolved := now
	m.DissolvedAt = &dissolved
}

// Dissolve validates and applies dissolution in one call.
func (m *Marriage) Dissolve(now time.Time) error {
	if err := m.CanDissolve(); err != nil {
		return err
	}
	m.ApplyDissolution(now)
	return nil
}

// Config is the admin-mutable part of registry state. It changes under the
// same single-writer discipline as lifecycle mutations.
type Config struct {
	MembershipRoot   id.Hash32 `json:"membership_root"`
	VerifierEndpoint string    `json:"verifier_endpoint"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IdentityStatus is the derived civil status of one identity. The zero value
// means unmarried; MarriageID and MarriageDate are meaningful only while
// IsMarried is true.
type IdentityStatus struct {
	IsMarried    bool          `json:"is_married"`
	MarriageID   id.MarriageID `json:"marriage_id"`
	MarriageDate time.Time     `json:"marriage_date"`
}

// StatusOf derives the status tuple a marriage implies for one of its spouses.
func StatusOf(m *Marriage) IdentityStatus {
	if m == nil || !m.IsActive {
		return IdentityStatus{}
	}
	return IdentityStatus{IsMarried: true, MarriageID: m.ID, MarriageDate: m.CreatedAt}
}

// ConsumedPolicy decides what dissolution does to the consumed-identity set.
//
// Monotonic preserves the original nullifier-ledger behavior: once an
// identity has married, it can never marry again, even after dissolution.
// Release removes identities from the index on dissolution, permitting
// remarriage. The policy is deployment configuration, not a per-record flag.
type ConsumedPolicy string

const (
	ConsumedPolicyMonotonic ConsumedPolicy = "monotonic"
	ConsumedPolicyRelease   ConsumedPolicy = "release"
)

func ParseConsumedPolicy(s string) (ConsumedPolicy, error) {
	switch ConsumedPolicy(s) {
	case ConsumedPolicyMonotonic, ConsumedPolicyRelease:
		return ConsumedPolicy(s), nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "consumed policy must be \"monotonic\" or \"release\"")
	}
}
