// Package registry hosts the stable, minimal DTOs shared between the
// civil-status registry and external services. Keep these PII-light and
// versioned independently from any internal models or persistence shapes.
package registry

// ContractVersion identifies the contract schema version for compatibility checks.
// Bump on breaking changes to the shapes below; consumers can pin or roll forward.
const ContractVersion = "v0.1.0"

// VerifyRequest asks an identity proof verifier to judge an eligibility
// attestation. The attestation is opaque to the registry; the claimed
// nullifier is included so the verifier can cross-check its own derivation.
type VerifyRequest struct {
	Attestation []byte `json:"attestation"`
	Nullifier   string `json:"nullifier,omitempty"`
}

// VerifyResponse is the verifier's judgment. Nullifier is set only when the
// verifier asserts one; an empty value means "no opinion".
type VerifyResponse struct {
	Valid         bool   `json:"valid"`
	AgeOver18     bool   `json:"age_over_18"`
	DocumentValid bool   `json:"document_valid"`
	Nullifier     string `json:"nullifier,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// EventKind enumerates the public ledger event types.
type EventKind string

const (
	EventProposalCreated      EventKind = "proposal-created"
	EventMarriageCreated      EventKind = "marriage-created"
	EventDivorceRequested     EventKind = "divorce-requested"
	EventMarriageDissolved    EventKind = "marriage-dissolved"
	EventConfigurationChanged EventKind = "configuration-changed"
)

// EventRecord is a public ledger entry as served to consumers. Payloads carry
// pseudonymous identifiers, jurisdiction, and timestamps; never personal
// attributes.
type EventRecord struct {
	ID           string            `json:"id"`
	Kind         EventKind         `json:"kind"`
	OccurredAt   string            `json:"occurred_at"`
	Jurisdiction string            `json:"jurisdiction,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}
