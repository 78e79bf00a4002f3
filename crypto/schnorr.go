package crypto

// SignatureSize is the canonical encoded width of a Signature (R ∥ s).
const SignatureSize = PointSize + ScalarSize

// Signature is a Schnorr signature (spec.md §3): R is the signer's nonce
// point, S is the scalar response.
type Signature struct {
	R Point
	S Scalar
}

// Bytes returns the canonical 64-byte encoding R(32) ∥ S(32).
func (sig Signature) Bytes() []byte {
	out := make([]byte, 0, SignatureSize)
	out = append(out, sig.R.Bytes()...)
	out = append(out, sig.S.Bytes()...)
	return out
}

// challengeScalar reduces a 64-byte challenge hash to a scalar.
func challengeScalar(challenge Hash) Scalar {
	return ScalarFromHash(challenge)
}

// Sign produces a single-signer Schnorr signature over challenge using the
// standard construction s = r + e*x, R = r*G (spec.md §4.1 Key-lock
// verification). The nonce must be unpredictable and unique per (priv,
// challenge) pair; callers that need deterministic nonces should derive one
// from HashBytes(priv-dependent material, challenge[:]) before calling.
func Sign(priv Scalar, nonce Scalar, challenge Hash) Signature {
	e := challengeScalar(challenge)
	r := ScalarBaseMult(nonce)
	s := nonce.Add(e.Multiply(priv))
	return Signature{R: r, S: s}
}

// Verify checks a single-signer Schnorr signature: s*G == R + e*K.
func Verify(pub PublicKey, challenge Hash, sig Signature) bool {
	e := challengeScalar(challenge)
	lhs := ScalarBaseMult(sig.S)
	rhs := sig.R.Add(ScalarMult(e, pub))
	return lhs.Equal(rhs)
}

// VerifyAggregate checks the block-header aggregate signature scheme of
// spec.md §4.5: each active, non-slashed validator i contributes its
// revealed pre-image scalar p_i directly as its "partial signature"; the
// aggregate is valid iff
//
//	sig.S == sumS   (the declared total equals the sum of revealed pre-images)
//	sumS*G == e*sig.R + sumK
//
// where e = ScalarFromHash(headerHash) and sumK/sumS are accumulated by the
// caller over the header's validator bitmask (see block.VerifyHeaderSignature).
func VerifyAggregate(headerHash Hash, sumK Point, sumS Scalar, sig Signature) bool {
	if !sig.S.Equal(sumS) {
		return false
	}
	e := challengeScalar(headerHash)
	lhs := ScalarBaseMult(sumS)
	rhs := ScalarMult(e, sig.R).Add(sumK)
	return lhs.Equal(rhs)
}

// PartialNonce derives the per-validator nonce scalar r_i that makes the
// aggregate equation hold for a validator signing with private key priv and
// revealed pre-image scalar p (its partial signature): r_i = (p - priv) *
// e^-1. Exposed for test fixture construction; the consensus/nomination
// layer that actually produces these signatures is outside the core
// (spec.md §1).
func PartialNonce(priv Scalar, preimageScalar Scalar, headerHash Hash) Scalar {
	e := challengeScalar(headerHash)
	return preimageScalar.Subtract(priv).Multiply(e.Invert())
}
