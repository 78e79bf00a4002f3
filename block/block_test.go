package block

import (
	"testing"

	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/validator"
)

func hashOf(s string) crypto.Hash {
	return crypto.HashBytes([]byte(s))
}

func TestMerkleRoundTrip(t *testing.T) {
	hashes := []crypto.Hash{hashOf("a"), hashOf("b"), hashOf("c"), hashOf("d"), hashOf("e")}
	tree := BuildMerkleTree(hashes)
	root := tree.Root()

	// Recompute using the tree's own sorted leaf order via Path + original hash.
	for i, h := range sortHashes(hashes) {
		path, err := tree.Path(i)
		if err != nil {
			t.Fatalf("path(%d): %v", i, err)
		}
		if !CheckMerklePath(h, path, root) {
			t.Fatalf("merkle path for leaf %d did not reconstruct the root", i)
		}
	}
}

func sortHashes(hashes []crypto.Hash) []crypto.Hash {
	out := append([]crypto.Hash(nil), hashes...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && lessHash(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func TestHeaderHashExcludesSignatureAndValidators(t *testing.T) {
	h := &Header{
		PrevBlock:  hashOf("prev"),
		MerkleRoot: hashOf("root"),
		Height:     10,
	}
	before := h.Hash()

	h.Signature = crypto.Signature{S: crypto.ScalarFromHash(hashOf("s"))}
	h.Validators = NewBitmask(8)
	h.Validators.Set(0)

	after := h.Hash()
	if before != after {
		t.Fatalf("header hash must not change when only signature/validators change")
	}
}

func TestVerifyHeaderSignatureMajorityAndAggregate(t *testing.T) {
	headerStub := &Header{PrevBlock: hashOf("p"), MerkleRoot: hashOf("r"), Height: 1}

	privs := []crypto.Scalar{mustScalar(1), mustScalar(2), mustScalar(3)}
	preimageHashes := []crypto.Hash{hashOf("p0"), hashOf("p1"), hashOf("p2")}
	preimageScalars := make([]crypto.Scalar, len(preimageHashes))
	for i, h := range preimageHashes {
		preimageScalars[i] = crypto.ScalarFromHash(h)
	}

	vs := make([]validator.ValidatorInfo, len(privs))
	for i := range privs {
		vs[i] = validator.ValidatorInfo{PubKey: crypto.ScalarBaseMult(privs[i])}
	}

	headerStub.Preimages = preimageHashes
	headerStub.Validators = NewBitmask(len(vs))
	headerStub.Validators.Set(0)
	headerStub.Validators.Set(1)

	headerHash := headerStub.Hash()
	sumK := crypto.IdentityPoint()
	sumS := crypto.ZeroScalar()
	sumR := crypto.IdentityPoint()
	for i := 0; i < 2; i++ {
		r := crypto.PartialNonce(privs[i], preimageScalars[i], headerHash)
		sumK = sumK.Add(vs[i].PubKey)
		sumS = sumS.Add(preimageScalars[i])
		sumR = sumR.Add(crypto.ScalarBaseMult(r))
	}
	headerStub.Signature = crypto.Signature{R: sumR, S: sumS}

	if err := VerifyHeaderSignature(headerStub, vs); err != nil {
		t.Fatalf("expected valid 2-of-3 majority signature to verify: %v", err)
	}

	headerStub.Validators = NewBitmask(len(vs))
	headerStub.Validators.Set(0)
	if err := VerifyHeaderSignature(headerStub, vs); err == nil {
		t.Fatalf("expected 1-of-3 to fail the majority rule")
	}
}

func mustScalar(seed byte) crypto.Scalar {
	var h crypto.Hash
	h[0] = seed
	return crypto.ScalarFromHash(h)
}
