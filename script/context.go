package script

import "github.com/stasis-chain/stasis/crypto"

// SigHash selects which transaction fields a signature binds (spec.md §3,
// "SigPair — (signature, sig_hash, output_idx) where sig_hash ∈ {All,
// NoInput}").
type SigHash byte

const (
	SigHashAll     SigHash = 0
	SigHashNoInput SigHash = 1
)

// Context is the witness-binding context the script engine consults for
// everything outside the bytecode itself: the transaction and input being
// validated. It is implemented by the tx package; script never imports tx
// (tx imports script), so this interface is the seam between them.
type Context interface {
	// Challenge returns the 64-byte digest a Key/KeyHash/CHECK_SIG/
	// CHECK_MULTI_SIG signature must be computed over, for the input fixed
	// at Context construction time.
	Challenge(sigHash SigHash) crypto.Hash

	// SeqChallenge returns the digest a CHECK_SEQ_SIG signature must be
	// computed over: challenge(tx, NoInput, input_idx, output_idx) combined
	// with sequence (spec.md §4.1).
	SeqChallenge(outputIdx uint32, sequence uint64) crypto.Hash

	// LockHeight returns tx.lock_height, consulted by VERIFY_LOCK_HEIGHT.
	LockHeight() uint64

	// UnlockAge returns the current input's unlock_age, consulted by
	// VERIFY_UNLOCK_AGE.
	UnlockAge() uint64
}
