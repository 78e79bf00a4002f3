package tx

import (
	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/serialize"
)

// maxBytesField bounds any single var-length field this package decodes, as
// a sanity limit independent of the script engine's own stack budget
// (decoding happens before any script is ever run).
const maxBytesField = 1 << 20

func decodeLock(r *serialize.Reader) (Lock, error) {
	t, err := r.ReadU8()
	if err != nil {
		return Lock{}, err
	}
	b, err := r.ReadVarBytes(maxBytesField)
	if err != nil {
		return Lock{}, err
	}
	return Lock{Type: LockType(t), Bytes: b}, nil
}

func decodeOutput(r *serialize.Reader) (Output, error) {
	v, err := r.ReadU64LE()
	if err != nil {
		return Output{}, err
	}
	lock, err := decodeLock(r)
	if err != nil {
		return Output{}, err
	}
	typ, err := r.ReadU8()
	if err != nil {
		return Output{}, err
	}
	return Output{Value: amount.Amount(v), Lock: lock, Type: OutputType(typ)}, nil
}

func decodeOutputRef(r *serialize.Reader) (OutputRef, error) {
	hashBytes, err := r.ReadFixed(crypto.HashSize)
	if err != nil {
		return OutputRef{}, err
	}
	idx, err := r.ReadU64LE()
	if err != nil {
		return OutputRef{}, err
	}
	var h crypto.Hash
	copy(h[:], hashBytes)
	return OutputRef{TxHash: h, Index: idx}, nil
}

func decodeInput(r *serialize.Reader, includeUnlock bool) (Input, error) {
	ref, err := decodeOutputRef(r)
	if err != nil {
		return Input{}, err
	}
	age, err := r.ReadU64LE()
	if err != nil {
		return Input{}, err
	}
	in := Input{Ref: ref, UnlockAge: age}
	if includeUnlock {
		unlock, err := r.ReadVarBytes(maxBytesField)
		if err != nil {
			return Input{}, err
		}
		in.Unlock = unlock
	}
	return in, nil
}

// Decode parses the encoding produced by Encode. Rejects trailing garbage.
func Decode(data []byte) (*Transaction, error) {
	r := serialize.NewReader(data)
	lockHeight, err := r.ReadU64LE()
	if err != nil {
		return nil, err
	}

	inCount, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	inputs := make([]Input, inCount)
	for i := range inputs {
		in, err := decodeInput(r, true)
		if err != nil {
			return nil, err
		}
		inputs[i] = in
	}

	outCount, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	outputs := make([]Output, outCount)
	for i := range outputs {
		out, err := decodeOutput(r)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
	}

	payload, err := r.ReadVarBytes(maxBytesField)
	if err != nil {
		return nil, err
	}

	if !r.Done() {
		return nil, newErr(ErrMalformed, "trailing bytes after transaction encoding")
	}

	return &Transaction{Inputs: inputs, Outputs: outputs, Payload: payload, LockHeight: lockHeight}, nil
}
