package morton

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/quadb/pkg/geom"
)

func TestNewCurve(t *testing.T) {
	tests := []struct {
		dims, bits int
		ok         bool
	}{
		{dims: 3, bits: 16, ok: true},
		{dims: 4, bits: 16, ok: true},
		{dims: 2, bits: 32, ok: true},
		{dims: 5, bits: 16, ok: false},
		{dims: 0, bits: 16, ok: false},
		{dims: 1, bits: 33, ok: false},
	}
	for _, tt := range tests {
		_, err := New(tt.dims, tt.bits)
		if tt.ok {
			assert.NoError(t, err, "dims=%d bits=%d", tt.dims, tt.bits)
		} else {
			assert.ErrorIs(t, err, ErrInvalidCurve, "dims=%d bits=%d", tt.dims, tt.bits)
		}
	}
	assert.Equal(t, 16, DefaultBits(3))
	assert.Equal(t, 12, DefaultBits(5))
}

func TestEncodeInterleavesMSBFirst(t *testing.T) {
	c, err := New(2, 2)
	require.NoError(t, err)

	// x = 0b10, y = 0b01 -> rounds (x1 y1)(x0 y0) = 1 0 0 1
	key, err := c.Encode([]uint32{2, 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1001), key)

	key, err = c.Encode([]uint32{3, 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1111), key)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for dims := 1; dims <= 4; dims++ {
		c, err := New(dims, DefaultBits(dims))
		require.NoError(t, err)

		for n := 0; n < 2000; n++ {
			coord := make([]uint32, dims)
			for i := range coord {
				coord[i] = uint32(rng.Int63n(int64(c.MaxCoord()) + 1))
			}
			key, err := c.Encode(coord)
			require.NoError(t, err)
			require.Equal(t, coord, c.Decode(key))
		}

		// Corners of the domain.
		zero := make([]uint32, dims)
		top := make([]uint32, dims)
		for i := range top {
			top[i] = c.MaxCoord()
		}
		for _, coord := range [][]uint32{zero, top} {
			key, err := c.Encode(coord)
			require.NoError(t, err)
			assert.Equal(t, coord, c.Decode(key))
		}
	}
}

func TestEncodeRejectsOutOfDomain(t *testing.T) {
	c, err := New(3, 16)
	require.NoError(t, err)

	_, err = c.Encode([]uint32{1, 1 << 16, 1})
	assert.ErrorIs(t, err, ErrOutOfDomain)

	_, err = c.Encode([]uint32{1, 1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

// Every cell inside a box has a key inside [Encode(lo), Encode(hi)].
func TestRangeCoversBox(t *testing.T) {
	c, err := New(3, 4)
	require.NoError(t, err)

	lo, hi := []uint32{2, 5, 1}, []uint32{9, 7, 6}
	zmin, zmax, err := c.Range(lo, hi)
	require.NoError(t, err)

	extra := 0
	for key := zmin; key <= zmax; key++ {
		if !c.InBox(key, lo, hi) {
			extra++
		}
	}
	for x := lo[0]; x <= hi[0]; x++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for z := lo[2]; z <= hi[2]; z++ {
				key, err := c.Encode([]uint32{x, y, z})
				require.NoError(t, err)
				assert.True(t, key >= zmin && key <= zmax)
				assert.True(t, c.InBox(key, lo, hi))
			}
		}
	}
	assert.Greater(t, extra, 0, "z-order ranges over-approximate boxes")
}

func TestNextInBoxMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, shape := range []struct{ dims, bits int }{{2, 4}, {3, 3}, {4, 2}} {
		c, err := New(shape.dims, shape.bits)
		require.NoError(t, err)

		for trial := 0; trial < 40; trial++ {
			lo := make([]uint32, shape.dims)
			hi := make([]uint32, shape.dims)
			for i := range lo {
				a := uint32(rng.Int63n(int64(c.MaxCoord()) + 1))
				b := uint32(rng.Int63n(int64(c.MaxCoord()) + 1))
				if a > b {
					a, b = b, a
				}
				lo[i], hi[i] = a, b
			}
			zmin, zmax, err := c.Range(lo, hi)
			require.NoError(t, err)

			for z := zmin; z <= zmax; z++ {
				if c.InBox(z, lo, hi) {
					continue
				}
				want, wantOK := uint64(0), false
				for k := z + 1; k <= zmax; k++ {
					if c.InBox(k, lo, hi) {
						want, wantOK = k, true
						break
					}
				}
				got, ok := c.NextInBox(z, zmin, zmax)
				require.Equal(t, wantOK, ok, "z=%d lo=%v hi=%v", z, lo, hi)
				if ok {
					require.Equal(t, want, got, "z=%d lo=%v hi=%v", z, lo, hi)
				}
			}
		}
	}
}

func TestKeyBytesPreserveOrder(t *testing.T) {
	a, b := Key(0x00ff), Key(0x0100)
	assert.Equal(t, -1, compareBytes(a, b))

	k, err := ParseKey(Key(0xdeadbeef))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), k)

	_, err = ParseKey([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func compareBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func TestCellBoxAgreesWithCell(t *testing.T) {
	c, err := New(1, 16)
	require.NoError(t, err)

	for _, tt := range []struct {
		origin, resolution float64
		denom              float64
	}{
		{0, 0.1, 10},
		{-1.7, 0.1, 10},
		{0, 0.01, 100},
		{3, 0.25, 4},
	} {
		g, err := NewGrid(c, []float64{tt.origin}, tt.resolution)
		require.NoError(t, err)

		for n := 0; n < 500; n++ {
			p := tt.origin + float64(n)/tt.denom
			cell, err := g.Cell([]float64{p})
			require.NoError(t, err)
			require.Equal(t, uint32(n), cell[0], "position %v", p)

			w, err := geom.NewWindow([]float64{p}, []float64{p})
			require.NoError(t, err)
			lo, hi, ok := g.CellBox(w)
			require.True(t, ok, "position %v", p)
			require.Equal(t, cell, lo, "position %v", p)
			require.Equal(t, cell, hi, "position %v", p)

			snapped, ok := g.SnapWindow(w)
			require.True(t, ok)
			require.True(t, snapped.Contains(g.Position(cell)), "position %v", p)
		}
	}
}

func TestCellBoxEdges(t *testing.T) {
	c, err := New(2, 8)
	require.NoError(t, err)
	g, err := NewGrid(c, nil, 0.1)
	require.NoError(t, err)

	w, err := geom.NewWindow([]float64{0.3, 0.7}, []float64{0.3, 0.9})
	require.NoError(t, err)
	lo, hi, ok := g.CellBox(w)
	require.True(t, ok)
	assert.Equal(t, []uint32{3, 7}, lo)
	assert.Equal(t, []uint32{3, 9}, hi)

	// A window between two cell positions holds no cell.
	w, err = geom.NewWindow([]float64{0.31, 0}, []float64{0.39, 1})
	require.NoError(t, err)
	_, _, ok = g.CellBox(w)
	assert.False(t, ok)
	_, ok = g.SnapWindow(w)
	assert.False(t, ok)

	// Saturated to the grid.
	w, err = geom.NewWindow([]float64{-5, -5}, []float64{100, 0.05})
	require.NoError(t, err)
	lo, hi, ok = g.CellBox(w)
	require.True(t, ok)
	assert.Equal(t, []uint32{0, 0}, lo)
	assert.Equal(t, []uint32{255, 0}, hi)
}
