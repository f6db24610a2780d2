package geom

import (
	"fmt"
	"math"
)

// Window is a closed query box [min, max] per axis.
type Window struct {
	min []float64
	max []float64
}

// NewWindow creates a closed box. The slices are copied.
func NewWindow(min, max []float64) (Window, error) {
	if len(min) != len(max) {
		return Window{}, fmt.Errorf("%w: min has %d axes, max has %d", ErrDimensionMismatch, len(min), len(max))
	}
	if len(min) == 0 {
		return Window{}, fmt.Errorf("%w: empty window", ErrInvalidBounds)
	}
	for i := range min {
		if math.IsNaN(min[i]) || math.IsNaN(max[i]) || min[i] > max[i] {
			return Window{}, fmt.Errorf("%w: axis %d [%v, %v]", ErrInvalidBounds, i, min[i], max[i])
		}
	}
	return Window{min: clone(min), max: clone(max)}, nil
}

// Around returns the box [center-radius, center+radius] on every axis.
func Around(center []float64, radius float64) (Window, error) {
	if math.IsNaN(radius) || radius < 0 {
		return Window{}, fmt.Errorf("%w: radius %v", ErrInvalidBounds, radius)
	}
	min := make([]float64, len(center))
	max := make([]float64, len(center))
	for i, c := range center {
		min[i] = c - radius
		max[i] = c + radius
	}
	return NewWindow(min, max)
}

// Dims returns the number of axes.
func (w Window) Dims() int { return len(w.min) }

// Min returns a copy of the lower corner.
func (w Window) Min() []float64 { return clone(w.min) }

// Max returns a copy of the upper corner.
func (w Window) Max() []float64 { return clone(w.max) }

// Contains reports whether min[i] <= p[i] <= max[i] on every axis.
func (w Window) Contains(p []float64) bool {
	if len(p) != len(w.min) {
		return false
	}
	for i, v := range p {
		if v < w.min[i] || v > w.max[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether w is the zero Window.
func (w Window) IsZero() bool { return len(w.min) == 0 }

// String implements fmt.Stringer.
func (w Window) String() string {
	return fmt.Sprintf("[%v, %v]", w.min, w.max)
}
