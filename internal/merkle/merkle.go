// Package merkle implements the membership scheme behind address binding: a
// keccak-256 tree over identity commitments with commutative pair hashing, so
// a sibling path needs no left/right direction bits.
package merkle

import (
	"golang.org/x/crypto/sha3"

	"conubium/pkg/domain"
)

// Keccak256 hashes the concatenation of chunks with legacy keccak-256 (the
// pre-NIST padding used by Ethereum tooling, which published roster roots
// must stay compatible with).
func Keccak256(chunks ...[]byte) domain.Hash32 {
	h := sha3.NewLegacyKeccak256()
	for _, c := range chunks {
		h.Write(c)
	}
	var out domain.Hash32
	copy(out[:], h.Sum(nil))
	return out
}

// HashPair combines two nodes with the numerically smaller one first. The
// ordering makes the hash commutative: HashPair(a, b) == HashPair(b, a).
func HashPair(a, b domain.Hash32) domain.Hash32 {
	if lessHash(b, a) {
		a, b = b, a
	}
	return Keccak256(a[:], b[:])
}

func lessHash(x, y domain.Hash32) bool {
	for i := range x {
		if x[i] != y[i] {
			return x[i] < y[i]
		}
	}
	return false
}

// VerifyMembership reports whether leaf is included in the tree with the
// given root, using the sibling path from leaf level to just below the root.
//
// An empty path verifies exactly when leaf equals root (single-leaf tree).
// Verification never fails with an error; a malformed or tampered path simply
// folds to a different root.
func VerifyMembership(leaf, root domain.Hash32, path []domain.Hash32) bool {
	node := leaf
	for _, sibling := range path {
		node = HashPair(node, sibling)
	}
	return node == root
}
