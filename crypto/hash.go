// Package crypto provides the curve, scalar, and hash primitives the
// consensus core is built on: Curve25519/Ed25519 point and scalar
// arithmetic, a 64-byte hash used throughout the data model, and Schnorr
// sign/verify/aggregate.
package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// HashSize is the width of every digest in the data model (spec.md §3,
// "Hash — fixed 64-byte digest").
const HashSize = 64

// Hash is a fixed 64-byte digest. The zero value is Hash{}, the "init"
// sentinel spec.md uses to denote absence or a slashed validator position.
type Hash [HashSize]byte

// IsZero reports whether h is the Hash.init sentinel.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashBytes returns the BLAKE2b-512 digest of the concatenation of parts.
func HashBytes(parts ...[]byte) Hash {
	h, err := blake2b.New512(nil)
	if err != nil {
		// blake2b.New512 only errors on a bad key, and we never pass one.
		panic("crypto: blake2b.New512: " + err.Error())
	}
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashChain hashes h with itself n times, reproducing the pre-image chain
// used by the validator pre-image commitment scheme (spec.md §4.3): a
// pre-image revealed at height e+k must reduce to the enrollment commitment
// under k sequential hashings.
func HashChain(h Hash, n uint64) Hash {
	cur := h
	for i := uint64(0); i < n; i++ {
		cur = HashBytes(cur[:])
	}
	return cur
}
