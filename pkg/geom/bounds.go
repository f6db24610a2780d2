// Package geom provides the axis-aligned box arithmetic used by the partition tree and the
// persistent index.
//
// A Bounds is a node region: lower bound exclusive, upper bound inclusive on every axis, so the
// 2^D children produced by Bisect partition their parent with no gaps and no overlaps. A Window is
// a closed query box.
package geom

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrDimensionMismatch is returned when a point or box has the wrong number of axes.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// ErrInvalidBounds is returned when min > max on some axis or a value is NaN.
var ErrInvalidBounds = errors.New("invalid bounds")

// MaxDims caps the dimensionality. Every bisection allocates 2^D children, so 8 axes already
// means 256 nodes per split.
const MaxDims = 8

// Bounds is an immutable hyper-rectangle (min, max] per axis.
type Bounds struct {
	min []float64
	max []float64
}

// NewBounds creates a Bounds from per-axis minimum and maximum. The slices are copied.
func NewBounds(min, max []float64) (Bounds, error) {
	if len(min) != len(max) {
		return Bounds{}, fmt.Errorf("%w: min has %d axes, max has %d", ErrDimensionMismatch, len(min), len(max))
	}
	if len(min) == 0 || len(min) > MaxDims {
		return Bounds{}, fmt.Errorf("%w: %d axes", ErrInvalidBounds, len(min))
	}
	for i := range min {
		if math.IsNaN(min[i]) || math.IsNaN(max[i]) || min[i] > max[i] {
			return Bounds{}, fmt.Errorf("%w: axis %d [%v, %v]", ErrInvalidBounds, i, min[i], max[i])
		}
	}
	return Bounds{min: clone(min), max: clone(max)}, nil
}

// Unbounded returns the root region (-inf, +inf] on every axis. Every finite point is inside it.
func Unbounded(dims int) Bounds {
	b := Bounds{min: make([]float64, dims), max: make([]float64, dims)}
	for i := 0; i < dims; i++ {
		b.min[i] = math.Inf(-1)
		b.max[i] = math.Inf(1)
	}
	return b
}

// Dims returns the number of axes.
func (b Bounds) Dims() int { return len(b.min) }

// Min returns a copy of the lower corner.
func (b Bounds) Min() []float64 { return clone(b.min) }

// Max returns a copy of the upper corner.
func (b Bounds) Max() []float64 { return clone(b.max) }

// Contains reports whether min[i] < p[i] <= max[i] on every axis.
// A point with the wrong number of axes is never contained.
func (b Bounds) Contains(p []float64) bool {
	if len(p) != len(b.min) {
		return false
	}
	for i, v := range p {
		if !(v > b.min[i] && v <= b.max[i]) {
			return false
		}
	}
	return true
}

// Mid returns the split coordinate of axis i.
//
// Half-infinite and infinite axes have no arithmetic midpoint, so they split at a finite pivot:
// 0 for (-inf, +inf], and one "width" of max(|edge|, 1) away from the finite edge otherwise.
func (b Bounds) Mid(i int) float64 {
	lo, hi := b.min[i], b.max[i]
	loInf, hiInf := math.IsInf(lo, -1), math.IsInf(hi, 1)
	switch {
	case loInf && hiInf:
		return 0
	case loInf:
		return hi - math.Max(math.Abs(hi), 1)
	case hiInf:
		return lo + math.Max(math.Abs(lo), 1)
	}
	return lo/2 + hi/2
}

// ChildIndex returns the bisection cell that owns p: bit i is set when p[i] > Mid(i).
// It agrees with Contains on the children returned by Bisect.
func (b Bounds) ChildIndex(p []float64) int {
	idx := 0
	for i := range b.min {
		if p[i] > b.Mid(i) {
			idx |= 1 << i
		}
	}
	return idx
}

// Bisect splits b at the midpoint of every axis into 2^D children. Child k takes
// (min[i], mid[i]] on axis i when bit i of k is 0 and (mid[i], max[i]] otherwise.
func (b Bounds) Bisect() []Bounds {
	dims := len(b.min)
	mid := make([]float64, dims)
	for i := range mid {
		mid[i] = b.Mid(i)
	}

	children := make([]Bounds, 1<<dims)
	for k := range children {
		c := Bounds{min: make([]float64, dims), max: make([]float64, dims)}
		for i := 0; i < dims; i++ {
			if k&(1<<i) == 0 {
				c.min[i], c.max[i] = b.min[i], mid[i]
			} else {
				c.min[i], c.max[i] = mid[i], b.max[i]
			}
		}
		children[k] = c
	}
	return children
}

// Intersects reports whether any point of the closed window w lies inside b.
func (b Bounds) Intersects(w Window) bool {
	if w.Dims() != len(b.min) {
		return false
	}
	for i := range b.min {
		if w.max[i] <= b.min[i] || w.min[i] > b.max[i] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (b Bounds) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i := range b.min {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "(%g, %g]", b.min[i], b.max[i])
	}
	sb.WriteByte('}')
	return sb.String()
}

func clone(s []float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
