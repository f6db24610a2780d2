// Package morton implements the Z-order (Morton) curve used to turn D-dimensional grid cells into
// ordered 64-bit storage keys.
//
// Bits are interleaved round-robin, most significant bit first, with axis 0 taking the highest bit
// of every round. Encoding is a bijection on [0, 2^bits)^D. Keys are only locality preserving: the
// key range [Encode(lo), Encode(hi)] covers every cell of the box lo..hi but may also cover cells
// outside it, so range scans must be post-filtered with InBox.
package morton

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// KeySize is the length of an encoded storage key in bytes.
const KeySize = 8

var (
	// ErrOutOfDomain is returned for a coordinate that does not fit the curve's bit width.
	ErrOutOfDomain = errors.New("coordinate out of domain")
	// ErrDimensionMismatch is returned for a coordinate with the wrong number of axes.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidCurve is returned by New for unsupported shapes.
	ErrInvalidCurve = errors.New("invalid curve")
	// ErrInvalidKey is returned by ParseKey for keys of the wrong length.
	ErrInvalidKey = errors.New("invalid curve key")
)

// Curve encodes coordinates of a fixed dimensionality and bit width.
type Curve struct {
	dims int
	bits int
}

// New creates a curve for dims axes of bits bits each. dims*bits must not exceed 64.
func New(dims, bits int) (*Curve, error) {
	if dims < 1 || bits < 1 || bits > 32 || dims*bits > 64 {
		return nil, fmt.Errorf("%w: %d axes x %d bits", ErrInvalidCurve, dims, bits)
	}
	return &Curve{dims: dims, bits: bits}, nil
}

// DefaultBits returns the widest per-axis width, capped at 16, that fits dims axes into 64 bits.
func DefaultBits(dims int) int {
	if dims < 1 {
		return 0
	}
	b := 64 / dims
	if b > 16 {
		b = 16
	}
	return b
}

// Dims returns the number of axes.
func (c *Curve) Dims() int { return c.dims }

// Bits returns the per-axis bit width.
func (c *Curve) Bits() int { return c.bits }

// MaxCoord returns the largest representable per-axis value.
func (c *Curve) MaxCoord() uint32 {
	return uint32(uint64(1)<<c.bits - 1)
}

// Encode interleaves coord into a single key.
func (c *Curve) Encode(coord []uint32) (uint64, error) {
	if len(coord) != c.dims {
		return 0, fmt.Errorf("%w: want %d axes, got %d", ErrDimensionMismatch, c.dims, len(coord))
	}
	max := c.MaxCoord()
	for i, v := range coord {
		if v > max {
			return 0, fmt.Errorf("%w: axis %d value %d exceeds %d", ErrOutOfDomain, i, v, max)
		}
	}

	var key uint64
	for b := c.bits - 1; b >= 0; b-- {
		for i := 0; i < c.dims; i++ {
			key = key<<1 | uint64(coord[i]>>uint(b)&1)
		}
	}
	return key, nil
}

// Decode is the exact inverse of Encode. Bits above dims*bits are ignored.
func (c *Curve) Decode(key uint64) []uint32 {
	coord := make([]uint32, c.dims)
	shift := c.dims*c.bits - 1
	for b := c.bits - 1; b >= 0; b-- {
		for i := 0; i < c.dims; i++ {
			coord[i] |= uint32(key>>uint(shift)&1) << uint(b)
			shift--
		}
	}
	return coord
}

// Range returns the key interval covering the box lo..hi (inclusive on every axis).
func (c *Curve) Range(lo, hi []uint32) (uint64, uint64, error) {
	for i := range lo {
		if i < len(hi) && lo[i] > hi[i] {
			return 0, 0, fmt.Errorf("%w: axis %d lo %d > hi %d", ErrOutOfDomain, i, lo[i], hi[i])
		}
	}
	zmin, err := c.Encode(lo)
	if err != nil {
		return 0, 0, err
	}
	zmax, err := c.Encode(hi)
	if err != nil {
		return 0, 0, err
	}
	return zmin, zmax, nil
}

// InBox reports whether key decodes to a cell inside lo..hi.
func (c *Curve) InBox(key uint64, lo, hi []uint32) bool {
	for i, v := range c.Decode(key) {
		if v < lo[i] || v > hi[i] {
			return false
		}
	}
	return true
}

// NextInBox returns the smallest key greater than z whose cell lies inside the box spanned by
// zmin = Encode(lo) and zmax = Encode(hi) (the BIGMIN of Tropf and Herzog). ok is false when no
// such key exists. z itself is expected to be outside the box.
func (c *Curve) NextInBox(z, zmin, zmax uint64) (next uint64, ok bool) {
	var bigmin uint64
	found := false
	for p := c.dims*c.bits - 1; p >= 0; p-- {
		bit := uint64(1) << uint(p)
		zb, minb, maxb := z&bit != 0, zmin&bit != 0, zmax&bit != 0
		switch {
		case !zb && !minb && !maxb:
		case !zb && !minb && maxb:
			bigmin = c.load1000(zmin, p)
			found = true
			zmax = c.load0111(zmax, p)
		case !zb && minb && maxb:
			return zmin, true
		case zb && !minb && !maxb:
			return bigmin, found
		case zb && !minb && maxb:
			zmin = c.load1000(zmin, p)
		case zb && minb && maxb:
		default:
			// minb set without maxb: zmin > zmax on this axis, the box is empty.
			return 0, false
		}
	}
	return bigmin, found
}

// load1000 sets bit p of v and clears the lower bits of the same axis.
func (c *Curve) load1000(v uint64, p int) uint64 {
	v |= 1 << uint(p)
	for q := p - c.dims; q >= 0; q -= c.dims {
		v &^= 1 << uint(q)
	}
	return v
}

// load0111 clears bit p of v and sets the lower bits of the same axis.
func (c *Curve) load0111(v uint64, p int) uint64 {
	v &^= 1 << uint(p)
	for q := p - c.dims; q >= 0; q -= c.dims {
		v |= 1 << uint(q)
	}
	return v
}

// Key renders a curve key as big-endian bytes so that byte order equals numeric order.
func Key(k uint64) []byte {
	buf := make([]byte, KeySize)
	binary.BigEndian.PutUint64(buf, k)
	return buf
}

// ParseKey is the inverse of Key.
func ParseKey(b []byte) (uint64, error) {
	if len(b) != KeySize {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
