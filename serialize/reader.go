// Package serialize implements the deterministic binary encoding used for
// every consensus object (spec.md §6, "Wire/serialization format"):
// integers are variable-length by default, lengths precede arrays, and
// order-sensitive containers are encoded in their stored order.
package serialize

import (
	"encoding/binary"
	"fmt"
)

// Reader is a forward-only cursor over a byte slice, mirroring the
// teacher's wire.go cursor but generalized to the varint-length-prefixed
// format this data model uses.
type Reader struct {
	b   []byte
	pos int
}

// NewReader creates a Reader over b starting at position 0.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.pos >= len(r.b) {
		return 0
	}
	return len(r.b) - r.pos
}

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

func (r *Reader) readExact(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("serialize: truncated input: want %d bytes, have %d", n, r.Remaining())
	}
	start := r.pos
	r.pos += n
	return r.b[start:r.pos], nil
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() (byte, error) {
	b, err := r.readExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU32LE reads a little-endian uint32.
func (r *Reader) ReadU32LE() (uint32, error) {
	b, err := r.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64LE reads a little-endian uint64.
func (r *Reader) ReadU64LE() (uint64, error) {
	b, err := r.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadVarInt reads a variable-length unsigned integer using the same
// CompactSize-style tagged encoding as the teacher's compactsize.go, and
// rejects non-minimal encodings so the wire format has a unique
// representation for every value (a consensus-determinism requirement).
func (r *Reader) ReadVarInt() (uint64, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	switch {
	case tag < 0xfd:
		return uint64(tag), nil
	case tag == 0xfd:
		b, err := r.readExact(2)
		if err != nil {
			return 0, err
		}
		v := uint64(binary.LittleEndian.Uint16(b))
		if v < 0xfd {
			return 0, fmt.Errorf("serialize: non-minimal varint (0xfd)")
		}
		return v, nil
	case tag == 0xfe:
		b, err := r.readExact(4)
		if err != nil {
			return 0, err
		}
		v := uint64(binary.LittleEndian.Uint32(b))
		if v <= 0xffff {
			return 0, fmt.Errorf("serialize: non-minimal varint (0xfe)")
		}
		return v, nil
	default:
		b, err := r.readExact(8)
		if err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint64(b)
		if v <= 0xffff_ffff {
			return 0, fmt.Errorf("serialize: non-minimal varint (0xff)")
		}
		return v, nil
	}
}

// ReadFixed reads exactly n bytes and returns a fresh copy.
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	b, err := r.readExact(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadVarBytes reads a varint length prefix followed by that many bytes.
func (r *Reader) ReadVarBytes(maxLen int) ([]byte, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if maxLen >= 0 && n > uint64(maxLen) {
		return nil, fmt.Errorf("serialize: length %d exceeds max %d", n, maxLen)
	}
	return r.ReadFixed(int(n))
}

// Done reports whether every byte has been consumed. Callers use this to
// reject trailing garbage after parsing a top-level object.
func (r *Reader) Done() bool { return r.Remaining() == 0 }
