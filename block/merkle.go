package block

import (
	"sort"

	"github.com/stasis-chain/stasis/crypto"
)

const (
	merkleLeafTag byte = 0x00
	merkleNodeTag byte = 0x01
)

// MerkleTree is the full tree built over a block's transaction hashes,
// lexicographically sorted (spec.md §3, "Transactions are lexicographically
// sorted by hash in the Merkle tree"). Levels[0] holds the tagged leaf
// digests in sorted order; the last level holds the single root.
type MerkleTree struct {
	Levels [][]crypto.Hash
}

func leafDigest(txHash crypto.Hash) crypto.Hash {
	return crypto.HashBytes([]byte{merkleLeafTag}, txHash[:])
}

func nodeDigest(left, right crypto.Hash) crypto.Hash {
	return crypto.HashBytes([]byte{merkleNodeTag}, left[:], right[:])
}

// BuildMerkleTree sorts txHashes lexicographically and builds the full tree.
// Odd nodes at any level are carried forward unchanged to the next level
// rather than duplicated, so that a single-element subtree never computes a
// hash over known-duplicate input.
func BuildMerkleTree(txHashes []crypto.Hash) *MerkleTree {
	sorted := append([]crypto.Hash(nil), txHashes...)
	sort.Slice(sorted, func(i, j int) bool {
		return lessHash(sorted[i], sorted[j])
	})

	leaves := make([]crypto.Hash, len(sorted))
	for i, h := range sorted {
		leaves[i] = leafDigest(h)
	}

	tree := &MerkleTree{Levels: [][]crypto.Hash{leaves}}
	level := leaves
	for len(level) > 1 {
		next := make([]crypto.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); {
			if i == len(level)-1 {
				next = append(next, level[i])
				i++
				continue
			}
			next = append(next, nodeDigest(level[i], level[i+1]))
			i += 2
		}
		level = next
		tree.Levels = append(tree.Levels, level)
	}
	return tree
}

// Root returns the tree's merkle root. An empty tree's root is the zero
// Hash.
func (t *MerkleTree) Root() crypto.Hash {
	if t == nil || len(t.Levels) == 0 {
		return crypto.Hash{}
	}
	top := t.Levels[len(t.Levels)-1]
	if len(top) == 0 {
		return crypto.Hash{}
	}
	return top[0]
}

// PathStep is one sibling hop of a Merkle inclusion proof.
type PathStep struct {
	Sibling        crypto.Hash
	HasSibling     bool
	SiblingIsRight bool
}

// Path returns the inclusion proof for the leaf at sorted-position idx.
func (t *MerkleTree) Path(idx int) ([]PathStep, error) {
	if t == nil || len(t.Levels) == 0 || idx < 0 || idx >= len(t.Levels[0]) {
		return nil, errMerkle("index out of range")
	}

	var steps []PathStep
	pos := idx
	for level := 0; level < len(t.Levels)-1; level++ {
		cur := t.Levels[level]
		if pos%2 == 0 {
			if pos+1 < len(cur) {
				steps = append(steps, PathStep{Sibling: cur[pos+1], HasSibling: true, SiblingIsRight: true})
			} else {
				steps = append(steps, PathStep{HasSibling: false})
			}
		} else {
			steps = append(steps, PathStep{Sibling: cur[pos-1], HasSibling: true, SiblingIsRight: false})
		}
		pos = pos / 2
	}
	return steps, nil
}

// CheckMerklePath recomputes the root from txHash and path, reporting
// whether it matches root (spec.md §8, testable property 4).
func CheckMerklePath(txHash crypto.Hash, path []PathStep, root crypto.Hash) bool {
	cur := leafDigest(txHash)
	for _, step := range path {
		if !step.HasSibling {
			continue
		}
		if step.SiblingIsRight {
			cur = nodeDigest(cur, step.Sibling)
		} else {
			cur = nodeDigest(step.Sibling, cur)
		}
	}
	return cur == root
}

func lessHash(a, b crypto.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

type merkleError string

func (e merkleError) Error() string { return "block: " + string(e) }

func errMerkle(msg string) error { return merkleError(msg) }
