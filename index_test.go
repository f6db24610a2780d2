package quadb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/quadb/pkg/geom"
	"github.com/liliang-cn/quadb/pkg/kv"
	"github.com/liliang-cn/quadb/pkg/morton"
)

type place struct {
	Name  string  `json:"name" cbor:"name"`
	Score float64 `json:"score" cbor:"score"`
}

func testConfig(t *testing.T, dims int) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "index.db")
	cfg.Dimensions = dims
	return cfg
}

func openTestIndex[E any](t *testing.T, cfg Config) *Index[E] {
	t.Helper()
	ix, err := Open[E](context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func mustGet[E any](t *testing.T, ix *Index[E], pos ...float64) (E, bool) {
	t.Helper()
	v, ok, err := ix.Get(pos)
	require.NoError(t, err)
	return v, ok
}

func TestScenarioStreamRadius(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex[int](t, testConfig(t, 3))

	require.NoError(t, ix.Insert(ctx, []float64{0, 0, 0}, 1))
	require.NoError(t, ix.Insert(ctx, []float64{1, 1, 1}, 2))
	require.NoError(t, ix.Insert(ctx, []float64{5, 5, 5}, 3))
	require.NoError(t, ix.Insert(ctx, []float64{10, 10, 10}, 4))

	require.NoError(t, ix.Stream(ctx, []float64{1, 1, 1}, 1))

	v, ok := mustGet(t, ix, 0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = mustGet(t, ix, 1, 1, 1)
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = mustGet(t, ix, 5, 5, 5)
	assert.False(t, ok)

	t.Run("wider window", func(t *testing.T) {
		require.NoError(t, ix.Stream(ctx, []float64{5, 5, 5}, 10))
		v, ok := mustGet(t, ix, 10, 10, 10)
		require.True(t, ok)
		assert.Equal(t, 4, v)
		assert.Len(t, ix.Cached(), 4)
	})
}

func TestScenarioRemoveThenStream(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex[string](t, testConfig(t, 3))
	pos := []float64{3, 4, 5}

	require.NoError(t, ix.Insert(ctx, pos, "here"))
	require.NoError(t, ix.Stream(ctx, pos, 2))
	_, ok := mustGet(t, ix, pos...)
	require.True(t, ok)

	require.NoError(t, ix.Remove(ctx, pos))

	// Removal does not reach the cached window until the next refresh.
	_, ok = mustGet(t, ix, pos...)
	assert.True(t, ok)

	require.NoError(t, ix.Stream(ctx, pos, 2))
	_, ok = mustGet(t, ix, pos...)
	assert.False(t, ok)

	require.NoError(t, ix.Remove(ctx, pos), "removing an empty cell is not an error")
}

func TestScenarioSubdivision(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex[int](t, testConfig(t, 2))

	items := make([]Item[int], 10)
	for i := range items {
		items[i] = Item[int]{Position: []float64{float64(i), float64(i * i % 7)}, Value: i}
	}
	require.NoError(t, ix.InsertBatch(ctx, items))
	require.NoError(t, ix.Stream(ctx, []float64{50, 50}, 50))

	stats, err := ix.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Stored)
	assert.Equal(t, 10, stats.Cache.Entries)
	assert.GreaterOrEqual(t, stats.Cache.Internal, 1)
	assert.Len(t, ix.Cached(), 10)
	assert.Equal(t, 10, stats.LastScan.Kept)
}

func TestInsertOverwritesCell(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex[string](t, testConfig(t, 2))

	require.NoError(t, ix.Insert(ctx, []float64{7, 7}, "old"))
	require.NoError(t, ix.Insert(ctx, []float64{7, 7}, "new"))

	n, err := ix.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	v, ok, err := ix.Lookup(ctx, []float64{7, 7})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestLookupBypassesCache(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex[place](t, testConfig(t, 2))

	want := place{Name: "well", Score: 0.5}
	require.NoError(t, ix.Insert(ctx, []float64{12, 30}, want))

	_, ok := mustGet(t, ix, 12, 30)
	assert.False(t, ok, "nothing streamed yet")

	got, ok, err := ix.Lookup(ctx, []float64{12, 30})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = ix.Lookup(ctx, []float64{13, 30})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuantizedPositions(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)
	cfg.Origin = []float64{-100, -100}
	cfg.Resolution = 0.5
	ix := openTestIndex[string](t, cfg)

	require.NoError(t, ix.Insert(ctx, []float64{-3.1, 2.26}, "snapped"))

	v, ok, err := ix.Lookup(ctx, []float64{-3, 2.5})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "snapped", v)

	require.NoError(t, ix.Stream(ctx, []float64{-3, 2}, 1))
	items := ix.Cached()
	require.Len(t, items, 1)
	assert.Equal(t, []float64{-3, 2.5}, items[0].Position)

	v, ok = mustGet(t, ix, -3.1, 2.26)
	require.True(t, ok)
	assert.Equal(t, "snapped", v)
}

func TestQueryWindow(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex[int](t, testConfig(t, 2))

	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			require.NoError(t, ix.Insert(ctx, []float64{float64(x), float64(y)}, x*10+y))
		}
	}
	require.NoError(t, ix.Stream(ctx, []float64{3, 3}, 3))
	assert.Len(t, ix.Cached(), 49)

	w, err := geom.NewWindow([]float64{1, 1}, []float64{2, 3})
	require.NoError(t, err)
	items, err := ix.QueryWindow(w)
	require.NoError(t, err)

	var values []int
	for _, it := range items {
		values = append(values, it.Value)
	}
	sort.Ints(values)
	assert.Equal(t, []int{11, 12, 13, 21, 22, 23}, values)

	assert.Equal(t, []float64{0, 0}, ix.Window().Min())
	assert.Equal(t, []float64{6, 6}, ix.Window().Max())
}

// Every stored point inside a window is loaded and nothing outside it is, whether the range is
// read in full or with jumps.
func TestStreamMatchesBruteForce(t *testing.T) {
	for _, skip := range []bool{false, true} {
		t.Run(fmt.Sprintf("skip_scan=%v", skip), func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t, 3)
			cfg.BitsPerAxis = 6
			cfg.SkipScan = skip
			ix := openTestIndex[int](t, cfg)

			rng := rand.New(rand.NewSource(7))
			stored := map[[3]int]int{}
			var items []Item[int]
			for i := 0; i < 400; i++ {
				p := [3]int{rng.Intn(64), rng.Intn(64), rng.Intn(64)}
				stored[p] = i
				items = append(items, Item[int]{Position: []float64{float64(p[0]), float64(p[1]), float64(p[2])}, Value: i})
			}
			require.NoError(t, ix.InsertBatch(ctx, items))

			for round := 0; round < 25; round++ {
				center := []float64{float64(rng.Intn(64)), float64(rng.Intn(64)), float64(rng.Intn(64))}
				radius := float64(rng.Intn(20))
				require.NoError(t, ix.Stream(ctx, center, radius))

				want := map[[3]int]int{}
				for p, v := range stored {
					if math.Abs(float64(p[0])-center[0]) <= radius &&
						math.Abs(float64(p[1])-center[1]) <= radius &&
						math.Abs(float64(p[2])-center[2]) <= radius {
						want[p] = v
					}
				}

				got := map[[3]int]int{}
				for _, it := range ix.Cached() {
					got[[3]int{int(it.Position[0]), int(it.Position[1]), int(it.Position[2])}] = it.Value
				}
				require.Equal(t, want, got, "center %v radius %v", center, radius)
			}
		})
	}
}

// Decimal positions such as 0.3 are not multiples of 0.1 in floating point; the points on the
// window edges must still be found.
func TestStreamKeepsEdgePointsAtFractionalResolution(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)
	cfg.Resolution = 0.1
	ix := openTestIndex[int](t, cfg)

	var items []Item[int]
	for x := 0; x <= 40; x++ {
		for y := 0; y <= 40; y++ {
			items = append(items, Item[int]{Position: []float64{float64(x) / 10, float64(y) / 10}, Value: x*100 + y})
		}
	}
	require.NoError(t, ix.InsertBatch(ctx, items))

	rng := rand.New(rand.NewSource(3))
	for round := 0; round < 30; round++ {
		x0, x1 := rng.Intn(41), rng.Intn(41)
		y0, y1 := rng.Intn(41), rng.Intn(41)
		if x0 > x1 {
			x0, x1 = x1, x0
		}
		if y0 > y1 {
			y0, y1 = y1, y0
		}
		w, err := geom.NewWindow(
			[]float64{float64(x0) / 10, float64(y0) / 10},
			[]float64{float64(x1) / 10, float64(y1) / 10})
		require.NoError(t, err)
		require.NoError(t, ix.StreamWindow(ctx, w))

		want := (x1 - x0 + 1) * (y1 - y0 + 1)
		require.Len(t, ix.Cached(), want, "window %s", w)

		for _, corner := range [][]float64{w.Min(), w.Max(), {w.Min()[0], w.Max()[1]}} {
			v, ok := mustGet(t, ix, corner...)
			require.True(t, ok, "corner %v of %s", corner, w)
			assert.Equal(t, int(math.Round(corner[0]*10))*100+int(math.Round(corner[1]*10)), v)
		}

		got, err := ix.QueryWindow(w)
		require.NoError(t, err)
		assert.Len(t, got, want)
	}

	w, err := geom.NewWindow([]float64{0, 0}, []float64{0.3, 0.3})
	require.NoError(t, err)
	require.NoError(t, ix.StreamWindow(ctx, w))
	v, ok := mustGet(t, ix, 0.3, 0.3)
	require.True(t, ok)
	assert.Equal(t, 303, v)
}

func TestSkipScanReadsFewerKeys(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)
	cfg.BitsPerAxis = 8
	ix := openTestIndex[int](t, cfg)

	var items []Item[int]
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			items = append(items, Item[int]{Position: []float64{float64(x), float64(y)}, Value: x*64 + y})
		}
	}
	require.NoError(t, ix.InsertBatch(ctx, items))

	w, err := geom.NewWindow([]float64{30, 0}, []float64{33, 63})
	require.NoError(t, err)
	require.NoError(t, ix.StreamWindow(ctx, w))

	stats, err := ix.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4*64, stats.LastScan.Kept)
	assert.Positive(t, stats.LastScan.Jumps)
	assert.Less(t, stats.LastScan.Scanned, 64*64)
}

func TestStreamWindowOutsideGrid(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex[int](t, testConfig(t, 2))
	require.NoError(t, ix.Insert(ctx, []float64{1, 1}, 1))

	w, err := geom.NewWindow([]float64{-50, -50}, []float64{-10, -10})
	require.NoError(t, err)
	require.NoError(t, ix.StreamWindow(ctx, w))
	assert.Empty(t, ix.Cached())

	require.NoError(t, ix.Stream(ctx, []float64{-1, -1}, math.Inf(1)))
	assert.Len(t, ix.Cached(), 1)
}

func TestOriginCoversNegativePositions(t *testing.T) {
	ctx := context.Background()

	ix := openTestIndex[int](t, testConfig(t, 2))
	assert.ErrorIs(t, ix.Insert(ctx, []float64{-3, 4}, 1), ErrOutOfDomain)

	cfg := testConfig(t, 2)
	cfg.Origin = []float64{-1000, -1000}
	ix = openTestIndex[int](t, cfg)
	require.NoError(t, ix.Insert(ctx, []float64{-3, 4}, 1))
	require.NoError(t, ix.Stream(ctx, []float64{-3, 4}, 0))
	v, ok := mustGet(t, ix, -3, 4)
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestDimensionAndDomainErrors(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex[int](t, testConfig(t, 3))

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"insert short position", ix.Insert(ctx, []float64{1, 2}, 1), ErrDimensionMismatch},
		{"remove long position", ix.Remove(ctx, []float64{1, 2, 3, 4}), ErrDimensionMismatch},
		{"stream wrong center", ix.Stream(ctx, []float64{1}, 1), ErrDimensionMismatch},
		{"insert negative cell", ix.Insert(ctx, []float64{-1, 0, 0}, 1), ErrOutOfDomain},
		{"insert beyond grid", ix.Insert(ctx, []float64{70000, 0, 0}, 1), ErrOutOfDomain},
		{"insert NaN", ix.Insert(ctx, []float64{math.NaN(), 0, 0}, 1), ErrOutOfDomain},
		{"stream negative radius", ix.Stream(ctx, []float64{1, 1, 1}, -1), ErrInvalidArgument},
		{"stream NaN radius", ix.Stream(ctx, []float64{1, 1, 1}, math.NaN()), ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			assert.ErrorIs(t, tt.err, tt.want)
			var se *StoreError
			assert.ErrorAs(t, tt.err, &se)
		})
	}

	_, _, err := ix.Get([]float64{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, _, err = ix.Lookup(ctx, []float64{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	w, err := geom.NewWindow([]float64{0, 0}, []float64{1, 1})
	require.NoError(t, err)
	_, err = ix.QueryWindow(w)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, ix.StreamWindow(ctx, w), ErrDimensionMismatch)

	_, ok, err := ix.Get([]float64{-5, 0, 0})
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := ix.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "rejected inserts must not reach the store")
}

func TestCorruptRecordIsSerializationError(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)
	store, err := kv.OpenSQLite(ctx, cfg.Path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ix, err := OpenWithStore[int](ctx, store, cfg)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	require.NoError(t, ix.Insert(ctx, []float64{1, 1}, 1))

	curve, err := morton.New(2, morton.DefaultBits(2))
	require.NoError(t, err)
	z, err := curve.Encode([]uint32{2, 2})
	require.NoError(t, err)

	tx, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	tbl, err := tx.Table(cfg.Table)
	require.NoError(t, err)
	require.NoError(t, tbl.Insert(morton.Key(z), []byte{0x7f, 0x01}))
	require.NoError(t, tx.Commit())

	_, _, err = ix.Lookup(ctx, []float64{2, 2})
	assert.ErrorIs(t, err, ErrSerialization)

	err = ix.Stream(ctx, []float64{1, 1}, 2)
	assert.ErrorIs(t, err, ErrSerialization)
	assert.Empty(t, ix.Cached(), "a failed refresh leaves an empty cache")
	assert.True(t, ix.Window().IsZero())
}

func TestWrongEntityTypeIsSerializationError(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)

	strs, err := Open[string](ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, strs.Insert(ctx, []float64{1, 1}, "text"))
	require.NoError(t, strs.Close())

	ints := openTestIndex[int](t, cfg)
	_, _, err = ints.Lookup(ctx, []float64{1, 1})
	assert.ErrorIs(t, err, ErrSerialization)
}

// failingStore fails transactions on demand.
type failingStore struct {
	kv.Store
	failReads  atomic.Bool
	failWrites atomic.Bool
}

var errInjected = errors.New("injected failure")

func (s *failingStore) BeginRead(ctx context.Context) (kv.Txn, error) {
	if s.failReads.Load() {
		return nil, errInjected
	}
	return s.Store.BeginRead(ctx)
}

func (s *failingStore) BeginWrite(ctx context.Context) (kv.Txn, error) {
	if s.failWrites.Load() {
		return nil, errInjected
	}
	return s.Store.BeginWrite(ctx)
}

func TestStorageFailures(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)
	sqlite, err := kv.OpenSQLite(ctx, cfg.Path)
	require.NoError(t, err)
	defer func() { _ = sqlite.Close() }()
	store := &failingStore{Store: sqlite}

	ix, err := OpenWithStore[int](ctx, store, cfg)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	require.NoError(t, ix.Insert(ctx, []float64{1, 1}, 1))
	require.NoError(t, ix.Stream(ctx, []float64{1, 1}, 1))
	_, ok := mustGet(t, ix, 1, 1)
	require.True(t, ok)

	store.failReads.Store(true)
	err = ix.Stream(ctx, []float64{1, 1}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, errInjected)
	_, ok = mustGet(t, ix, 1, 1)
	assert.False(t, ok)

	_, _, err = ix.Lookup(ctx, []float64{1, 1})
	assert.ErrorIs(t, err, ErrStorage)
	_, err = ix.Stats(ctx)
	assert.ErrorIs(t, err, ErrStorage)

	store.failWrites.Store(true)
	assert.ErrorIs(t, ix.Insert(ctx, []float64{2, 2}, 2), ErrStorage)
	assert.ErrorIs(t, ix.Remove(ctx, []float64{1, 1}), ErrStorage)
	assert.ErrorIs(t, ix.InsertBatch(ctx, []Item[int]{{Position: []float64{3, 3}, Value: 3}}), ErrStorage)

	store.failReads.Store(false)
	store.failWrites.Store(false)
	require.NoError(t, ix.Stream(ctx, []float64{1, 1}, 5))
	assert.Len(t, ix.Cached(), 1)
}

func TestInsertBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex[int](t, testConfig(t, 2))

	err := ix.InsertBatch(ctx, []Item[int]{
		{Position: []float64{1, 1}, Value: 1},
		{Position: []float64{-1, 1}, Value: 2},
	})
	assert.ErrorIs(t, err, ErrOutOfDomain)

	n, err := ix.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, ix.InsertBatch(ctx, nil))
}

func TestCompressedRecords(t *testing.T) {
	for _, comp := range []string{"none", "lz4", "zstd"} {
		for _, c := range []string{"cbor", "json"} {
			t.Run(comp+"/"+c, func(t *testing.T) {
				ctx := context.Background()
				cfg := testConfig(t, 2)
				cfg.Compression = comp
				cfg.Codec = c
				ix := openTestIndex[place](t, cfg)

				long := place{Name: fmt.Sprintf("%0200d", 0), Score: 3.25}
				require.NoError(t, ix.Insert(ctx, []float64{4, 4}, long))
				require.NoError(t, ix.Insert(ctx, []float64{5, 4}, place{Name: "x"}))

				got, ok, err := ix.Lookup(ctx, []float64{4, 4})
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, long, got)

				require.NoError(t, ix.Stream(ctx, []float64{4, 4}, 1))
				v, ok := mustGet(t, ix, 5, 4)
				require.True(t, ok)
				assert.Equal(t, "x", v.Name)
			})
		}
	}
}

func TestConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex[int](t, testConfig(t, 2))

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 25; i++ {
				if err := ix.Insert(gctx, []float64{float64(w), float64(i)}, w*100+i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	n, err := ix.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), n)

	g, _ = errgroup.WithContext(ctx)
	g.Go(func() error { return ix.Stream(ctx, []float64{10, 10}, 30) })
	for r := 0; r < 4; r++ {
		g.Go(func() error {
			_, _, err := ix.Get([]float64{1, 1})
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, ix.Cached(), 200)
}

func TestReopenKeepsPointsAndID(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)

	ix, err := Open[int](ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, ix.Insert(ctx, []float64{9, 9}, 99))
	id := ix.ID()
	require.NotEmpty(t, id)
	require.NoError(t, ix.Close())

	ix = openTestIndex[int](t, cfg)
	assert.Equal(t, id, ix.ID())
	v, ok, err := ix.Lookup(ctx, []float64{9, 9})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 99, v)
}

func TestReopenWithDifferentLayout(t *testing.T) {
	ctx := context.Background()
	base := testConfig(t, 2)

	ix, err := Open[int](ctx, base)
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"dimensions", func(c *Config) { c.Dimensions = 3 }},
		{"bits", func(c *Config) { c.BitsPerAxis = 12 }},
		{"resolution", func(c *Config) { c.Resolution = 0.25 }},
		{"origin", func(c *Config) { c.Origin = []float64{1, 1} }},
		{"codec", func(c *Config) { c.Codec = "json" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := Open[int](ctx, cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("compression may change", func(t *testing.T) {
		cfg := base
		cfg.Compression = "zstd"
		ix := openTestIndex[int](t, cfg)
		assert.NotEmpty(t, ix.ID())
	})
}

func TestClosedIndex(t *testing.T) {
	ctx := context.Background()
	ix, err := Open[int](ctx, testConfig(t, 2))
	require.NoError(t, err)
	require.NoError(t, ix.Close())
	require.NoError(t, ix.Close())

	assert.ErrorIs(t, ix.Insert(ctx, []float64{1, 1}, 1), ErrClosed)
	assert.ErrorIs(t, ix.Remove(ctx, []float64{1, 1}), ErrClosed)
	assert.ErrorIs(t, ix.Stream(ctx, []float64{1, 1}, 1), ErrClosed)
	_, _, err = ix.Lookup(ctx, []float64{1, 1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t, 2)
	cfg.Path = ""
	_, err := Open[int](ctx, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig(t, 2)
	cfg.Codec = "gob"
	_, err = Open[int](ctx, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCompactCache(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)
	ix := openTestIndex[int](t, cfg)

	for i := 0; i < 12; i++ {
		require.NoError(t, ix.Insert(ctx, []float64{float64(i), 0}, i))
	}
	require.NoError(t, ix.Stream(ctx, []float64{0, 0}, 20))
	before, err := ix.Stats(ctx)
	require.NoError(t, err)
	require.Positive(t, before.Cache.Internal)

	assert.Zero(t, ix.Compact(), "a full cache has nothing to collapse")
	assert.Len(t, ix.Cached(), 12)
}

func TestReopenRejectsNewerLayout(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)
	store, err := kv.OpenSQLite(ctx, cfg.Path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ix, err := OpenWithStore[int](ctx, store, cfg)
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	tx, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	tbl, err := tx.Table(metaTable(cfg.Table))
	require.NoError(t, err)
	require.NoError(t, tbl.Insert([]byte(metaVersionKey), []byte("2.0.0")))
	require.NoError(t, tx.Commit())

	_, err = OpenWithStore[int](ctx, store, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	tx, err = store.BeginWrite(ctx)
	require.NoError(t, err)
	tbl, err = tx.Table(metaTable(cfg.Table))
	require.NoError(t, err)
	require.NoError(t, tbl.Insert([]byte(metaVersionKey), []byte("1.4.0")))
	require.NoError(t, tx.Commit())

	ix, err = OpenWithStore[int](ctx, store, cfg)
	require.NoError(t, err)
	require.NoError(t, ix.Close())
}
