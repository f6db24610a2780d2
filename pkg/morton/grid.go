package morton

import (
	"fmt"
	"math"

	"github.com/liliang-cn/quadb/pkg/geom"
)

// Grid maps float positions onto curve cells. Cell c on axis i covers the position
// Origin[i] + c*Resolution; positions are rounded to the nearest cell.
type Grid struct {
	curve      *Curve
	origin     []float64
	resolution float64
}

// NewGrid creates a grid over curve. A nil origin means the zero vector.
func NewGrid(curve *Curve, origin []float64, resolution float64) (*Grid, error) {
	if origin == nil {
		origin = make([]float64, curve.Dims())
	}
	if len(origin) != curve.Dims() {
		return nil, fmt.Errorf("%w: origin has %d axes, curve has %d", ErrDimensionMismatch, len(origin), curve.Dims())
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, fmt.Errorf("%w: resolution %v", ErrInvalidCurve, resolution)
	}
	for i, o := range origin {
		if math.IsNaN(o) || math.IsInf(o, 0) {
			return nil, fmt.Errorf("%w: origin axis %d is %v", ErrInvalidCurve, i, o)
		}
	}
	o := make([]float64, len(origin))
	copy(o, origin)
	return &Grid{curve: curve, origin: o, resolution: resolution}, nil
}

// Curve returns the underlying curve.
func (g *Grid) Curve() *Curve { return g.curve }

// Cell quantizes pos. Non-finite values and cells outside [0, MaxCoord] are ErrOutOfDomain.
func (g *Grid) Cell(pos []float64) ([]uint32, error) {
	if len(pos) != g.curve.Dims() {
		return nil, fmt.Errorf("%w: want %d axes, got %d", ErrDimensionMismatch, g.curve.Dims(), len(pos))
	}
	max := float64(g.curve.MaxCoord())
	cell := make([]uint32, len(pos))
	for i, p := range pos {
		v := math.Round((p - g.origin[i]) / g.resolution)
		if math.IsNaN(v) || v < 0 || v > max {
			return nil, fmt.Errorf("%w: axis %d position %v maps outside [0, %d]", ErrOutOfDomain, i, p, uint32(max))
		}
		cell[i] = uint32(v)
	}
	return cell, nil
}

// Key quantizes pos and encodes it.
func (g *Grid) Key(pos []float64) (uint64, error) {
	cell, err := g.Cell(pos)
	if err != nil {
		return 0, err
	}
	return g.curve.Encode(cell)
}

// Position returns the position a cell stands for.
func (g *Grid) Position(cell []uint32) []float64 {
	pos := make([]float64, len(cell))
	for i, c := range cell {
		pos[i] = g.origin[i] + float64(c)*g.resolution
	}
	return pos
}

// cellSlack is how far, in cells, a window edge may miss a cell position and still include it.
// It absorbs the rounding of (p-origin)/resolution at non-integer resolutions.
const cellSlack = 1e-9

// CellBox returns the cells whose positions fall inside w, saturated to the grid. ok is false
// when w does not overlap the grid at all. Membership is decided in cell space, so a cell whose
// position sits on an edge of w is included even when origin+c*resolution rounds past it.
func (g *Grid) CellBox(w geom.Window) (lo, hi []uint32, ok bool) {
	if w.Dims() != g.curve.Dims() {
		return nil, nil, false
	}
	max := float64(g.curve.MaxCoord())
	wmin, wmax := w.Min(), w.Max()
	lo = make([]uint32, len(wmin))
	hi = make([]uint32, len(wmin))
	for i := range wmin {
		l := math.Ceil((wmin[i]-g.origin[i])/g.resolution - cellSlack)
		h := math.Floor((wmax[i]-g.origin[i])/g.resolution + cellSlack)
		l = math.Max(l, 0)
		h = math.Min(h, max)
		if l > h {
			return nil, nil, false
		}
		lo[i], hi[i] = uint32(l), uint32(h)
	}
	return lo, hi, true
}

// SnapWindow returns the window spanning the positions of the cells in CellBox(w). Positions
// produced by Position are inside it exactly when their cell is inside CellBox(w).
func (g *Grid) SnapWindow(w geom.Window) (geom.Window, bool) {
	lo, hi, ok := g.CellBox(w)
	if !ok {
		return geom.Window{}, false
	}
	snapped, err := geom.NewWindow(g.Position(lo), g.Position(hi))
	if err != nil {
		return geom.Window{}, false
	}
	return snapped, true
}
