package merkle

import (
	"sort"

	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
)

// Roster is the published membership tree over eligible identity commitments.
// Leaves are sorted before building, so the root is independent of input
// order. An odd node at any level is promoted to the next level unhashed,
// which keeps proofs compatible with plain HashPair folds.
type Roster struct {
	layers [][]domain.Hash32
}

// BuildRoster constructs the tree. At least one identity is required and
// duplicates are rejected, every holder appears exactly once.
func BuildRoster(identities []domain.Identity) (*Roster, error) {
	if len(identities) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "roster requires at least one identity")
	}

	leaves := make([]domain.Hash32, len(identities))
	for i, id := range identities {
		leaves[i] = domain.Hash32(id)
	}
	sort.Slice(leaves, func(i, j int) bool { return lessHash(leaves[i], leaves[j]) })
	for i := 1; i < len(leaves); i++ {
		if leaves[i] == leaves[i-1] {
			return nil, dErrors.New(dErrors.CodeValidation, "roster contains duplicate identity "+leaves[i].String())
		}
	}

	layers := [][]domain.Hash32{leaves}
	for current := leaves; len(current) > 1; {
		next := make([]domain.Hash32, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, HashPair(current[i], current[i+1]))
			} else {
				next = append(next, current[i])
			}
		}
		layers = append(layers, next)
		current = next
	}

	return &Roster{layers: layers}, nil
}

// Root returns the published root. For a single-leaf roster the root is the
// leaf itself.
func (r *Roster) Root() domain.Hash32 {
	top := r.layers[len(r.layers)-1]
	return top[0]
}

// Size returns the number of enrolled identities.
func (r *Roster) Size() int {
	return len(r.layers[0])
}

// Proof returns the sibling path for the given identity, ordered leaf-first.
// A single-leaf roster yields an empty path.
func (r *Roster) Proof(identity domain.Identity) ([]domain.Hash32, error) {
	leaf := domain.Hash32(identity)
	idx := sort.Search(len(r.layers[0]), func(i int) bool {
		return !lessHash(r.layers[0][i], leaf)
	})
	if idx >= len(r.layers[0]) || r.layers[0][idx] != leaf {
		return nil, dErrors.New(dErrors.CodeNotFound, "identity not enrolled in roster")
	}

	path := make([]domain.Hash32, 0, len(r.layers)-1)
	for _, layer := range r.layers[:len(r.layers)-1] {
		sibling := idx ^ 1
		if sibling < len(layer) {
			path = append(path, layer[sibling])
		}
		idx /= 2
	}
	return path, nil
}
