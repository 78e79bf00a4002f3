package tx

import (
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/serialize"
)

func encodeLock(w *serialize.Writer, l Lock) {
	w.WriteU8(byte(l.Type))
	w.WriteVarBytes(l.Bytes)
}

func encodeOutput(w *serialize.Writer, o Output) {
	w.WriteU64LE(uint64(o.Value))
	encodeLock(w, o.Lock)
	w.WriteU8(byte(o.Type))
}

func encodeOutputRef(w *serialize.Writer, ref OutputRef) {
	w.WriteFixed(ref.TxHash[:])
	w.WriteU64LE(ref.Index)
}

func encodeInput(w *serialize.Writer, in Input, includeUnlock bool) {
	encodeOutputRef(w, in.Ref)
	w.WriteU64LE(in.UnlockAge)
	if includeUnlock {
		w.WriteVarBytes(in.Unlock)
	}
}

// Encode produces the full deterministic encoding of t, including every
// input's unlock bytes. Used for on-disk/merkle-tree serialization, not for
// signature challenges (which must exclude the signature they themselves
// carry).
func Encode(t *Transaction) []byte {
	w := serialize.NewWriter()
	w.WriteU64LE(t.LockHeight)
	w.WriteVarInt(uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		encodeInput(w, in, true)
	}
	w.WriteVarInt(uint64(len(t.Outputs)))
	for _, o := range t.Outputs {
		encodeOutput(w, o)
	}
	w.WriteVarBytes(t.Payload)
	return w.Bytes()
}

// Hash returns the transaction identifier: the hash of its deterministic
// encoding.
func (t *Transaction) Hash() crypto.Hash {
	return crypto.HashBytes(Encode(t))
}
