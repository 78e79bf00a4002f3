package script

import (
	"encoding/binary"

	"github.com/stasis-chain/stasis/crypto"
)

func parsePublicKey(v []byte) (crypto.PublicKey, error) {
	if len(v) != crypto.PointSize {
		return crypto.PublicKey{}, newErr(ErrKeyInvalid, "public key must be 32 bytes")
	}
	pub, err := crypto.PointFromBytes(v)
	if err != nil {
		return crypto.PublicKey{}, newErr(ErrKeyInvalid, "public key not on curve")
	}
	return pub, nil
}

// parseSigItem parses a sig_hash(1) ∥ R(32) ∥ s(32) witness item.
func parseSigItem(v []byte) (SigHash, crypto.Signature, error) {
	if len(v) != SigItemSize {
		return 0, crypto.Signature{}, newErr(ErrMalformedScript, "signature item must be 65 bytes")
	}
	sigHash := SigHash(v[0])
	if sigHash != SigHashAll && sigHash != SigHashNoInput {
		return 0, crypto.Signature{}, newErr(ErrSigHashMismatch, "unrecognized sig_hash")
	}
	r, err := crypto.PointFromBytes(v[1:33])
	if err != nil {
		return 0, crypto.Signature{}, newErr(ErrSigInvalid, "signature R not on curve")
	}
	s, err := crypto.ScalarFromCanonicalBytes(v[33:65])
	if err != nil {
		return 0, crypto.Signature{}, newErr(ErrSigInvalid, "signature s not canonical")
	}
	return sigHash, crypto.Signature{R: r, S: s}, nil
}

// checkSig implements CHECK_SIG / VERIFY_SIG: pop pubkey(32), then
// sig(65) = sig_hash ∥ R ∥ s; verify against the challenge the sig_hash
// selects.
func (e *Engine) checkSig(ctx Context) (bool, error) {
	pubRaw, err := e.stack.Pop()
	if err != nil {
		return false, err
	}
	sigRaw, err := e.stack.Pop()
	if err != nil {
		return false, err
	}
	pub, err := parsePublicKey(pubRaw)
	if err != nil {
		return false, err
	}
	sigHash, sig, err := parseSigItem(sigRaw)
	if err != nil {
		return false, err
	}
	challenge := ctx.Challenge(sigHash)
	return crypto.Verify(pub, challenge, sig), nil
}

// checkMultiSig implements CHECK_MULTI_SIG / VERIFY_MULTI_SIG (spec.md
// §4.1): m, then m pubkeys, then n, then n signatures (bottom-to-top on
// the stack = first-to-last in read order). Walks pubkeys while a
// signature remains, advancing the signature pointer on each match;
// succeeds iff every signature was matched before the pubkeys ran out.
func (e *Engine) checkMultiSig(ctx Context) (bool, error) {
	m, err := e.popCount()
	if err != nil {
		return false, err
	}
	pubsRaw, err := e.stack.PopN(m)
	if err != nil {
		return false, err
	}
	n, err := e.popCount()
	if err != nil {
		return false, err
	}
	sigsRaw, err := e.stack.PopN(n)
	if err != nil {
		return false, err
	}

	if n == 0 {
		return true, nil
	}

	var sigHash SigHash
	sigs := make([]crypto.Signature, n)
	for i, raw := range sigsRaw {
		sh, sig, err := parseSigItem(raw)
		if err != nil {
			return false, err
		}
		if i == 0 {
			sigHash = sh
		} else if sh != sigHash {
			return false, newErr(ErrSigHashMismatch, "CHECK_MULTI_SIG signatures must share sig_hash")
		}
		sigs[i] = sig
	}
	challenge := ctx.Challenge(sigHash)

	sigIdx := 0
	for _, pubRaw := range pubsRaw {
		if sigIdx >= len(sigs) {
			break
		}
		pub, err := parsePublicKey(pubRaw)
		if err != nil {
			return false, err
		}
		if crypto.Verify(pub, challenge, sigs[sigIdx]) {
			sigIdx++
		}
	}
	return sigIdx == len(sigs), nil
}

func (e *Engine) popCount() (int, error) {
	v, err := e.stack.Pop()
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, newErr(ErrMultiSigCount, "m/n count must be a single byte")
	}
	n := int(v[0])
	if n < 0 || n > MaxMultiSigKeys {
		return 0, newErr(ErrMultiSigCount, "m/n exceeds max multisig key count")
	}
	return n, nil
}

// checkSeqSig implements CHECK_SEQ_SIG / VERIFY_SEQ_SIG (spec.md §4.1):
// verifies a signature over (challenge(tx, NoInput, input_idx, output_idx),
// sequence) against a supplied key and enforces sequence >= min_sequence.
// Stack operands, top to bottom: min_sequence(8) ∥ sequence(8) ∥
// output_idx(4) ∥ pubkey(32) ∥ sig(64: R ∥ s, sig_hash implicitly NoInput).
func (e *Engine) checkSeqSig(ctx Context) (bool, error) {
	minSeqRaw, err := e.stack.Pop()
	if err != nil {
		return false, err
	}
	if len(minSeqRaw) != 8 {
		return false, newErr(ErrMalformedScript, "min_sequence operand must be 8 bytes")
	}
	minSequence := binary.LittleEndian.Uint64(minSeqRaw)

	seqRaw, err := e.stack.Pop()
	if err != nil {
		return false, err
	}
	if len(seqRaw) != 8 {
		return false, newErr(ErrMalformedScript, "sequence operand must be 8 bytes")
	}
	sequence := binary.LittleEndian.Uint64(seqRaw)

	outIdxRaw, err := e.stack.Pop()
	if err != nil {
		return false, err
	}
	if len(outIdxRaw) != 4 {
		return false, newErr(ErrMalformedScript, "output_idx operand must be 4 bytes")
	}
	outputIdx := binary.LittleEndian.Uint32(outIdxRaw)

	pubRaw, err := e.stack.Pop()
	if err != nil {
		return false, err
	}
	pub, err := parsePublicKey(pubRaw)
	if err != nil {
		return false, err
	}

	sigRaw, err := e.stack.Pop()
	if err != nil {
		return false, err
	}
	if len(sigRaw) != SeqSigItemSize {
		return false, newErr(ErrMalformedScript, "CHECK_SEQ_SIG signature must be 64 bytes")
	}
	r, err := crypto.PointFromBytes(sigRaw[:32])
	if err != nil {
		return false, newErr(ErrSigInvalid, "signature R not on curve")
	}
	s, err := crypto.ScalarFromCanonicalBytes(sigRaw[32:64])
	if err != nil {
		return false, newErr(ErrSigInvalid, "signature s not canonical")
	}

	if sequence < minSequence {
		return false, newErr(ErrSequenceTooLow, "sequence below min_sequence")
	}

	challenge := ctx.SeqChallenge(outputIdx, sequence)
	return crypto.Verify(pub, challenge, crypto.Signature{R: r, S: s}), nil
}
