// Package block implements the block header, header hashing, validator
// bitmask, and aggregate-signature verification of spec.md §3-§4.5: a block
// is (header, txs[], merkle_tree[]); the header hash excludes the signature
// and validator bitmask so late-arriving signatures can patch a stored
// block in place.
package block

import (
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/serialize"
	"github.com/stasis-chain/stasis/tx"
	"github.com/stasis-chain/stasis/validator"
)

// Bitmask marks which of a height's active validators (in GetValidators
// order) signed a block header.
type Bitmask []byte

// NewBitmask returns a zeroed bitmask wide enough for n validator
// positions.
func NewBitmask(n int) Bitmask {
	return make(Bitmask, (n+7)/8)
}

// IsSet reports whether position i is marked.
func (b Bitmask) IsSet(i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(b) {
		return false
	}
	return b[byteIdx]&(1<<uint(i%8)) != 0
}

// Set marks position i.
func (b Bitmask) Set(i int) {
	byteIdx := i / 8
	if byteIdx >= len(b) {
		return
	}
	b[byteIdx] |= 1 << uint(i%8)
}

// PopCount returns the number of set bits up to n positions.
func (b Bitmask) PopCount(n int) int {
	count := 0
	for i := 0; i < n; i++ {
		if b.IsSet(i) {
			count++
		}
	}
	return count
}

// Header is a block header (spec.md §3). Signature and Validators are
// excluded from Hash().
type Header struct {
	PrevBlock   crypto.Hash
	MerkleRoot  crypto.Hash
	Signature   crypto.Signature
	Validators  Bitmask
	Height      uint64
	Preimages   []crypto.Hash
	Enrollments []validator.Enrollment
}

// Hash computes hash(prev_block ∥ merkle_root ∥ height ∥ preimages ∥
// enrollments) — the block hashing rule of spec.md §6, bit-exact and
// independent of Signature/Validators so an in-place signature patch never
// changes it.
func (h *Header) Hash() crypto.Hash {
	w := serialize.NewWriter()
	w.WriteFixed(h.PrevBlock[:])
	w.WriteFixed(h.MerkleRoot[:])
	w.WriteU64LE(h.Height)

	w.WriteVarInt(uint64(len(h.Preimages)))
	for _, p := range h.Preimages {
		w.WriteFixed(p[:])
	}

	w.WriteVarInt(uint64(len(h.Enrollments)))
	for _, e := range h.Enrollments {
		w.WriteFixed(e.UTXOKey[:])
		w.WriteFixed(e.PubKey.Bytes())
		w.WriteFixed(e.Commitment[:])
	}

	return crypto.HashBytes(w.Bytes())
}

// Block is (header, txs[], merkle_tree[]) (spec.md §3).
type Block struct {
	Header Header
	Txs    []*tx.Transaction
	Merkle *MerkleTree
}

// BuildBlock assembles a Block from its header and transactions, computing
// the merkle tree and stamping header.MerkleRoot.
func BuildBlock(header Header, txs []*tx.Transaction) *Block {
	hashes := make([]crypto.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	tree := BuildMerkleTree(hashes)
	header.MerkleRoot = tree.Root()
	return &Block{Header: header, Txs: txs, Merkle: tree}
}

// VerifyHeaderSignature implements the block-signature rule of spec.md §4.5:
// it accumulates K_i/p_i over the active validators marked in the header's
// bitmask, rejects if fewer than a strict majority of active validators
// signed, and delegates the aggregate algebra to crypto.VerifyAggregate.
func VerifyHeaderSignature(h *Header, activeValidators []validator.ValidatorInfo) error {
	return verifyHeaderSignature(h, activeValidators, true)
}

// VerifyHeaderSignatureRelaxed is VerifyHeaderSignature without the
// majority-of-active-validators requirement, for a validating ledger that is
// currently externalizing a block and accepts a partial signer set (spec.md
// §4.5, "a validating-ledger subclass may relax this rule for blocks it is
// currently externalizing").
func VerifyHeaderSignatureRelaxed(h *Header, activeValidators []validator.ValidatorInfo) error {
	return verifyHeaderSignature(h, activeValidators, false)
}

func verifyHeaderSignature(h *Header, activeValidators []validator.ValidatorInfo, requireMajority bool) error {
	if len(h.Preimages) != len(activeValidators) {
		return errHeader("preimages length does not match active validator count")
	}

	sumK := crypto.IdentityPoint()
	sumS := crypto.ZeroScalar()

	for i, v := range activeValidators {
		if !h.Validators.IsSet(i) {
			continue
		}
		if h.Preimages[i].IsZero() {
			// Slashed at this height: counted as a set bit (it attempted to
			// sign) but contributes nothing to the aggregate.
			continue
		}
		p := crypto.ScalarFromHash(h.Preimages[i])
		sumK = sumK.Add(v.PubKey)
		sumS = sumS.Add(p)
	}

	if requireMajority && h.Validators.PopCount(len(activeValidators))*2 <= len(activeValidators) {
		return errHeader("signer set does not exceed majority of active validators")
	}

	headerHash := h.Hash()
	if !crypto.VerifyAggregate(headerHash, sumK, sumS, h.Signature) {
		return errHeader("aggregate signature does not verify")
	}
	return nil
}

type headerError string

func (e headerError) Error() string { return "block: " + string(e) }

func errHeader(msg string) error { return headerError(msg) }
