package crypto

import (
	"fmt"

	"filippo.io/edwards25519"
)

// PointSize is the canonical encoded width of a Point / PublicKey.
const PointSize = 32

// Point is a Curve25519 curve point, encoded the way Ed25519 public keys
// are (spec.md §3, "PublicKey / Point — 32-byte Curve25519 point").
type Point struct {
	p *edwards25519.Point
}

// PublicKey is a Point used as a validator's or spender's signing key.
type PublicKey = Point

// IdentityPoint returns the curve's identity element.
func IdentityPoint() Point {
	return Point{p: edwards25519.NewIdentityPoint()}
}

// basePoint returns the standard Ed25519 basepoint G.
func basePoint() *edwards25519.Point {
	return edwards25519.NewGeneratorPoint()
}

// PointFromBytes decodes a 32-byte canonical point encoding. Validity means
// the bytes decode to a point on the curve in canonical form (spec.md §3).
func PointFromBytes(b []byte) (Point, error) {
	if len(b) != PointSize {
		return Point{}, fmt.Errorf("crypto: point must be %d bytes, got %d", PointSize, len(b))
	}
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return Point{}, fmt.Errorf("crypto: point not on curve: %w", err)
	}
	if string(p.Bytes()) != string(b) {
		return Point{}, fmt.Errorf("crypto: point encoding is not canonical")
	}
	return Point{p: p}, nil
}

// Bytes returns the canonical 32-byte encoding.
func (pt Point) Bytes() []byte {
	if pt.p == nil {
		return make([]byte, PointSize)
	}
	return pt.p.Bytes()
}

// Add returns pt + other.
func (pt Point) Add(other Point) Point {
	return Point{p: new(edwards25519.Point).Add(pt.pointOrIdentity(), other.pointOrIdentity())}
}

// ScalarBaseMult returns s*G, the basepoint scaled by s. Used both to derive
// a public key from a private scalar and as the "preimage_point" check in
// Schnorr aggregate verification (spec.md §4.5).
func ScalarBaseMult(s Scalar) Point {
	return Point{p: new(edwards25519.Point).ScalarBaseMult(s.scalarOrZero())}
}

// ScalarMult returns s*pt.
func ScalarMult(s Scalar, pt Point) Point {
	return Point{p: new(edwards25519.Point).ScalarMult(s.scalarOrZero(), pt.pointOrIdentity())}
}

// Equal reports whether pt and other encode the same point.
func (pt Point) Equal(other Point) bool {
	return pt.pointOrIdentity().Equal(other.pointOrIdentity()) == 1
}

func (pt Point) pointOrIdentity() *edwards25519.Point {
	if pt.p == nil {
		return edwards25519.NewIdentityPoint()
	}
	return pt.p
}
