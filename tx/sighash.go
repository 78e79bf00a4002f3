package tx

import (
	"encoding/binary"

	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/serialize"
)

// sigContext implements script.Context for a single input of tx being
// validated, binding Challenge/SeqChallenge to that input's index and
// unlock_age (spec.md §4.1).
type sigContext struct {
	tx        *Transaction
	inputIdx  int
	unlockAge uint64
}

// Challenge returns the digest a Key/KeyHash/CHECK_SIG/CHECK_MULTI_SIG
// signature for this input must be computed over. SigHashAll binds every
// input's reference and unlock_age plus every output and the payload;
// SigHashNoInput omits the input set entirely so a signature can be reused
// across different sets of co-signed inputs (spec.md §3, "SigPair ...
// sig_hash ∈ {All, NoInput}").
func (c sigContext) Challenge(sigHash SigHash) crypto.Hash {
	return c.tx.challengeHash(sigHash, c.inputIdx)
}

// SeqChallenge implements the CHECK_SEQ_SIG binding of spec.md §4.1:
// challenge(tx, NoInput, input_idx, output_idx) combined with sequence.
func (c sigContext) SeqChallenge(outputIdx uint32, sequence uint64) crypto.Hash {
	base := c.tx.challengeHash(SigHashNoInput, c.inputIdx)
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], outputIdx)
	binary.LittleEndian.PutUint64(buf[4:12], sequence)
	return crypto.HashBytes(base[:], buf[:])
}

func (c sigContext) LockHeight() uint64 { return c.tx.LockHeight }
func (c sigContext) UnlockAge() uint64  { return c.unlockAge }

// SignatureChallenge returns the digest a Key/KeyHash unlock for input
// inputIdx of t must sign, for callers outside this package building an
// unlock witness (e.g. a wallet) without constructing their own
// script.Context.
func SignatureChallenge(t *Transaction, inputIdx int, sigHash SigHash) crypto.Hash {
	return t.challengeHash(sigHash, inputIdx)
}

// challengeHash builds the signed digest for inputIdx under sigHash.
func (t *Transaction) challengeHash(sigHash SigHash, inputIdx int) crypto.Hash {
	w := serialize.NewWriter()
	w.WriteU64LE(t.LockHeight)
	w.WriteVarInt(uint64(len(t.Outputs)))
	for _, o := range t.Outputs {
		encodeOutput(w, o)
	}
	w.WriteVarBytes(t.Payload)
	w.WriteU8(byte(sigHash))
	w.WriteU32LE(uint32(inputIdx))

	if sigHash == SigHashAll {
		w.WriteVarInt(uint64(len(t.Inputs)))
		for _, in := range t.Inputs {
			encodeInput(w, in, false) // exclude unlock: it carries the signature itself
		}
	}
	return crypto.HashBytes(w.Bytes())
}
