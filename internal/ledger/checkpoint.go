package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	mt "github.com/txaty/go-merkletree"

	"conubium/internal/merkle"
	"conubium/pkg/domain"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/platform/sentinel"
)

// Checkpoint commits to the full event history at a point in time: a keccak
// Merkle root over every event digest in append order. Anyone holding a
// checkpoint can later audit that an event was part of the history.
type Checkpoint struct {
	Root       domain.Hash32 `json:"root"`
	EventCount int           `json:"event_count"`
	LatestSeq  int64         `json:"latest_seq"`
	BuiltAt    time.Time     `json:"built_at"`
}

// InclusionProof shows that a single event digest is covered by a checkpoint
// root. Siblings run leaf to root; Path carries the left/right bits, least
// significant bit first.
type InclusionProof struct {
	EventID  uuid.UUID       `json:"event_id"`
	Digest   domain.Hash32   `json:"digest"`
	Siblings []domain.Hash32 `json:"siblings"`
	Path     uint32          `json:"path"`
	Root     domain.Hash32   `json:"root"`
}

// eventBlock adapts an event digest to the tree library's data block.
type eventBlock struct {
	digest domain.Hash32
}

func (b eventBlock) Serialize() ([]byte, error) {
	return b.digest[:], nil
}

func keccakHashFunc(data []byte) ([]byte, error) {
	h := merkle.Keccak256(data)
	return h[:], nil
}

func treeConfig() *mt.Config {
	return &mt.Config{
		HashFunc: keccakHashFunc,
	}
}

func eventBlocks(events []Event) []mt.DataBlock {
	blocks := make([]mt.DataBlock, len(events))
	for i, e := range events {
		blocks[i] = eventBlock{digest: e.Digest()}
	}
	return blocks
}

// BuildCheckpoint computes the Merkle root over the current ledger contents.
// An empty ledger yields a zero root; the tree library needs at least two
// leaves, so a single event is committed to by its bare leaf hash.
func BuildCheckpoint(ctx context.Context, store Store) (*Checkpoint, error) {
	events, err := store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events for checkpoint: %w", err)
	}

	cp := &Checkpoint{
		EventCount: len(events),
		BuiltAt:    time.Now().UTC(),
	}
	if len(events) == 0 {
		return cp, nil
	}
	cp.LatestSeq = events[len(events)-1].Seq

	if len(events) == 1 {
		digest := events[0].Digest()
		cp.Root = merkle.Keccak256(digest[:])
		return cp, nil
	}

	tree, err := mt.New(treeConfig(), eventBlocks(events))
	if err != nil {
		return nil, fmt.Errorf("build checkpoint tree: %w", err)
	}
	copy(cp.Root[:], tree.Root)
	return cp, nil
}

// ProveInclusion produces a proof that the event with the given ID is covered
// by the checkpoint over the current ledger contents.
func ProveInclusion(ctx context.Context, store Store, eventID uuid.UUID) (*InclusionProof, error) {
	events, err := store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events for proof: %w", err)
	}

	idx := -1
	for i, e := range events {
		if e.ID == eventID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "event not found in ledger")
	}
	digest := events[idx].Digest()

	if len(events) == 1 {
		return &InclusionProof{
			EventID: eventID,
			Digest:  digest,
			Root:    merkle.Keccak256(digest[:]),
		}, nil
	}

	tree, err := mt.New(treeConfig(), eventBlocks(events))
	if err != nil {
		return nil, fmt.Errorf("build proof tree: %w", err)
	}
	mtProof := tree.Proofs[idx]

	siblings := make([]domain.Hash32, len(mtProof.Siblings))
	for i, sib := range mtProof.Siblings {
		copy(siblings[i][:], sib)
	}
	proof := &InclusionProof{
		EventID:  eventID,
		Digest:   digest,
		Siblings: siblings,
		Path:     mtProof.Path,
	}
	copy(proof.Root[:], tree.Root)
	return proof, nil
}

// VerifyInclusion checks an inclusion proof against its root. A proof with no
// siblings asserts a single-event ledger whose root is the bare leaf hash.
func VerifyInclusion(p *InclusionProof) (bool, error) {
	if p == nil {
		return false, errors.New("nil inclusion proof")
	}
	siblings := make([][]byte, len(p.Siblings))
	for i, sib := range p.Siblings {
		siblings[i] = sib[:]
	}
	ok, err := mt.Verify(eventBlock{digest: p.Digest}, &mt.Proof{
		Siblings: siblings,
		Path:     p.Path,
	}, p.Root[:], treeConfig())
	if err != nil {
		return false, fmt.Errorf("verify inclusion proof: %w", err)
	}
	return ok, nil
}
