package crypto

import (
	"fmt"

	"filippo.io/edwards25519"
)

// ScalarSize is the canonical encoded width of a Scalar.
const ScalarSize = 32

// Scalar is an integer modulo the Ed25519 group order.
type Scalar struct {
	s *edwards25519.Scalar
}

// ZeroScalar returns the additive identity.
func ZeroScalar() Scalar {
	return Scalar{s: edwards25519.NewScalar()}
}

// ScalarFromHash reduces a 64-byte hash to a scalar. Used to derive Schnorr
// pre-images and challenges (spec.md §4.5) from the 64-byte Hash type.
func ScalarFromHash(h Hash) Scalar {
	s, err := edwards25519.NewScalar().SetUniformBytes(h[:])
	if err != nil {
		// SetUniformBytes only fails when given != 64 bytes.
		panic("crypto: ScalarFromHash: " + err.Error())
	}
	return Scalar{s: s}
}

// ScalarFromCanonicalBytes parses a canonical, reduced 32-byte scalar
// encoding. Returns an error if b is not a valid reduced representation.
func ScalarFromCanonicalBytes(b []byte) (Scalar, error) {
	if len(b) != ScalarSize {
		return Scalar{}, fmt.Errorf("crypto: scalar must be %d bytes, got %d", ScalarSize, len(b))
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return Scalar{}, fmt.Errorf("crypto: non-canonical scalar: %w", err)
	}
	return Scalar{s: s}, nil
}

// IsZero reports whether the scalar is the additive identity.
func (s Scalar) IsZero() bool {
	if s.s == nil {
		return true
	}
	return s.s.Equal(edwards25519.NewScalar()) == 1
}

// Bytes returns the canonical 32-byte little-endian encoding.
func (s Scalar) Bytes() []byte {
	if s.s == nil {
		return make([]byte, ScalarSize)
	}
	return s.s.Bytes()
}

// Add returns s + other.
func (s Scalar) Add(other Scalar) Scalar {
	return Scalar{s: edwards25519.NewScalar().Add(s.scalarOrZero(), other.scalarOrZero())}
}

// Subtract returns s - other.
func (s Scalar) Subtract(other Scalar) Scalar {
	return Scalar{s: edwards25519.NewScalar().Subtract(s.scalarOrZero(), other.scalarOrZero())}
}

// Multiply returns s * other.
func (s Scalar) Multiply(other Scalar) Scalar {
	return Scalar{s: edwards25519.NewScalar().Multiply(s.scalarOrZero(), other.scalarOrZero())}
}

// Invert returns the multiplicative inverse of s. s must be non-zero.
func (s Scalar) Invert() Scalar {
	return Scalar{s: edwards25519.NewScalar().Invert(s.scalarOrZero())}
}

// Equal reports whether s and other represent the same value.
func (s Scalar) Equal(other Scalar) bool {
	return s.scalarOrZero().Equal(other.scalarOrZero()) == 1
}

func (s Scalar) scalarOrZero() *edwards25519.Scalar {
	if s.s == nil {
		return edwards25519.NewScalar()
	}
	return s.s
}
