package block

import (
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/serialize"
	"github.com/stasis-chain/stasis/tx"
	"github.com/stasis-chain/stasis/validator"
)

// MaxValidatorBitmaskBytes bounds the header's validators field to a fixed
// width so the signature+validators region has a compile-time-constant size
// or implementations providing in-place signature patching (spec.md §9,
// "In-place signature update"). 32 bytes covers up to 256 concurrently
// active validators.
const MaxValidatorBitmaskBytes = 32

// SigPatchRegionSize is the width, in bytes, of the fixed-offset
// signature+validators region a persistent store can overwrite in place:
// Signature (R ∥ s, 64 bytes) followed by the padded validators bitmask.
const SigPatchRegionSize = crypto.SignatureSize + MaxValidatorBitmaskBytes

// HeaderFixedPrefixSize is the byte offset of the signature+validators
// patch region within an encoded header: prev_block ∥ merkle_root ∥ height.
const HeaderFixedPrefixSize = crypto.HashSize + crypto.HashSize + 8

func encodeHeader(w *serialize.Writer, h *Header) {
	w.WriteFixed(h.PrevBlock[:])
	w.WriteFixed(h.MerkleRoot[:])
	w.WriteU64LE(h.Height)

	w.WriteFixed(h.Signature.R.Bytes())
	w.WriteFixed(h.Signature.S.Bytes())

	padded := make([]byte, MaxValidatorBitmaskBytes)
	copy(padded, h.Validators)
	w.WriteFixed(padded)

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
}

func decodeHeader(r *serialize.Reader) (Header, error) {
	var h Header

	prev, err := r.ReadFixed(crypto.HashSize)
	if err != nil {
		return h, err
	}
	copy(h.PrevBlock[:], prev)

	root, err := r.ReadFixed(crypto.HashSize)
	if err != nil {
		return h, err
	}
	copy(h.MerkleRoot[:], root)

	height, err := r.ReadU64LE()
	if err != nil {
		return h, err
	}
	h.Height = height

	rBytes, err := r.ReadFixed(crypto.PointSize)
	if err != nil {
		return h, err
	}
	rPoint, err := crypto.PointFromBytes(rBytes)
	if err != nil {
		return h, err
	}
	sBytes, err := r.ReadFixed(crypto.ScalarSize)
	if err != nil {
		return h, err
	}
	sScalar, err := crypto.ScalarFromCanonicalBytes(sBytes)
	if err != nil {
		return h, err
	}
	h.Signature = crypto.Signature{R: rPoint, S: sScalar}

	validatorsBytes, err := r.ReadFixed(MaxValidatorBitmaskBytes)
	if err != nil {
		return h, err
	}
	h.Validators = Bitmask(validatorsBytes)

	preimageCount, err := r.ReadVarInt()
	if err != nil {
		return h, err
	}
	h.Preimages = make([]crypto.Hash, preimageCount)
	for i := range h.Preimages {
		b, err := r.ReadFixed(crypto.HashSize)
		if err != nil {
			return h, err
		}
		copy(h.Preimages[i][:], b)
	}

	enrollCount, err := r.ReadVarInt()
	if err != nil {
		return h, err
	}
	h.Enrollments = make([]validator.Enrollment, enrollCount)
	for i := range h.Enrollments {
		keyBytes, err := r.ReadFixed(crypto.HashSize)
		if err != nil {
			return h, err
		}
		pubBytes, err := r.ReadFixed(crypto.PointSize)
		if err != nil {
			return h, err
		}
		pub, err := crypto.PointFromBytes(pubBytes)
		if err != nil {
			return h, err
		}
		commitBytes, err := r.ReadFixed(crypto.HashSize)
		if err != nil {
			return h, err
		}
		var key, commitment crypto.Hash
		copy(key[:], keyBytes)
		copy(commitment[:], commitBytes)
		h.Enrollments[i] = validator.Enrollment{UTXOKey: key, PubKey: pub, Commitment: commitment}
	}

	return h, nil
}

// EncodeSigPatch produces the fixed-width SigPatchRegionSize bytes a
// persistent backend writes in place when only the signature and
// validators bitmask change, matching the layout encodeHeader uses inline.
func EncodeSigPatch(sig crypto.Signature, validators Bitmask) []byte {
	out := make([]byte, SigPatchRegionSize)
	copy(out[0:crypto.PointSize], sig.R.Bytes())
	copy(out[crypto.PointSize:crypto.SignatureSize], sig.S.Bytes())
	copy(out[crypto.SignatureSize:], validators)
	return out
}

// Encode produces the full, stable byte encoding of b: header, including
// Signature and Validators (unlike Header.Hash, which excludes them), then
// every transaction.
func Encode(b *Block) []byte {
	w := serialize.NewWriter()
	encodeHeader(w, &b.Header)
	w.WriteVarInt(uint64(len(b.Txs)))
	for _, t := range b.Txs {
		w.WriteVarBytes(tx.Encode(t))
	}
	return w.Bytes()
}

// Decode parses the encoding Encode produces and rebuilds the Merkle tree
// from the decoded transactions.
func Decode(data []byte) (*Block, error) {
	r := serialize.NewReader(data)
	header, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}

	txCount, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	txs := make([]*tx.Transaction, txCount)
	hashes := make([]crypto.Hash, txCount)
	for i := range txs {
		raw, err := r.ReadVarBytes(1 << 24)
		if err != nil {
			return nil, err
		}
		t, err := tx.Decode(raw)
		if err != nil {
			return nil, err
		}
		txs[i] = t
		hashes[i] = t.Hash()
	}

	if !r.Done() {
		return nil, errHeader("trailing bytes after block encoding")
	}

	return &Block{Header: header, Txs: txs, Merkle: BuildMerkleTree(hashes)}, nil
}
