// Package ledger is the public audit trail of the registry: an append-only
// event log, Merkle checkpoints over it, and a relay that mirrors events to
// Kafka. Appends are fail-closed (a lifecycle mutation that cannot record its
// event does not commit); the relay downstream is fail-open.
package ledger

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/google/uuid"

	contracts "conubium/contracts/registry"
	"conubium/internal/merkle"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
)

// allowedAttributeKeys is the closed set of attribute names an event may
// carry. Everything here is a pseudonymous identifier or operator
// configuration; personal attributes have no representation at all.
var allowedAttributeKeys = map[string]struct{}{
	"proposal_id": {},
	"marriage_id": {},
	"proposer":    {},
	"proposee":    {},
	"spouse1":     {},
	"spouse2":     {},
	"identity":    {},
	"field":       {},
	"root":        {},
	"endpoint":    {},
}

// Event is one ledger entry. Seq is assigned by the store on append and is
// dense per deployment; ID is globally unique and stable across mirrors.
type Event struct {
	ID           uuid.UUID           `json:"id"`
	Seq          int64               `json:"seq"`
	Kind         contracts.EventKind `json:"kind"`
	OccurredAt   time.Time           `json:"occurred_at"`
	Jurisdiction string              `json:"jurisdiction,omitempty"`
	Attributes   map[string]string   `json:"attributes,omitempty"`
	PublishedAt  *time.Time          `json:"-"`
}

// Validate rejects events that would leak beyond the identifier-only
// contract.
func (e *Event) Validate() error {
	switch e.Kind {
	case contracts.EventProposalCreated, contracts.EventMarriageCreated,
		contracts.EventDivorceRequested, contracts.EventMarriageDissolved,
		contracts.EventConfigurationChanged:
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown event kind: "+string(e.Kind))
	}
	for k := range e.Attributes {
		if _, ok := allowedAttributeKeys[k]; !ok {
			return dErrors.New(dErrors.CodeValidation, "event attribute not allowed: "+k)
		}
	}
	return nil
}

const digestTag = "conubium.event.v1"

// Digest is the canonical commitment to the event, the leaf value for
// checkpoint trees. Attributes are folded in key order so the digest does not
// depend on map iteration.
func (e *Event) Digest() domain.Hash32 {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(e.Seq))

	chunks := make([][]byte, 0, 6+2*len(e.Attributes))
	chunks = append(chunks,
		[]byte(digestTag),
		e.ID[:],
		seq[:],
		[]byte(e.Kind),
		[]byte(e.OccurredAt.UTC().Format(time.RFC3339Nano)),
		[]byte(e.Jurisdiction),
	)
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		chunks = append(chunks, []byte(k), []byte(e.Attributes[k]))
	}
	return merkle.Keccak256(chunks...)
}

// ToRecord converts to the public wire shape.
func (e *Event) ToRecord() contracts.EventRecord {
	return contracts.EventRecord{
		ID:           e.ID.String(),
		Kind:         e.Kind,
		OccurredAt:   e.OccurredAt.UTC().Format(time.RFC3339Nano),
		Jurisdiction: e.Jurisdiction,
		Attributes:   e.Attributes,
	}
}
