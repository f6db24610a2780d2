package quadb

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/liliang-cn/quadb/internal/encoding"
	"github.com/liliang-cn/quadb/pkg/codec"
	"github.com/liliang-cn/quadb/pkg/geom"
	"github.com/liliang-cn/quadb/pkg/kv"
	"github.com/liliang-cn/quadb/pkg/morton"
	"github.com/liliang-cn/quadb/pkg/spacetree"
)

// Item is a position and the entity stored there.
type Item[E any] struct {
	Position []float64 `json:"position"`
	Value    E         `json:"value"`
}

// Index persists entities of type E keyed by position and caches the most recently streamed
// window in a partition tree.
//
// Insert, InsertBatch, Remove and Lookup go straight to the store and never touch the cache.
// Get and QueryWindow read the cache only, so points outside the last streamed window (or
// written after it) are invisible until the next Stream.
type Index[E any] struct {
	store     kv.Store
	ownsStore bool
	config    Config
	curve     *morton.Curve
	grid      *morton.Grid
	codec     codec.Codec
	comp      encoding.Compression
	logger    Logger
	id        string
	closed    atomic.Bool

	streamMu sync.Mutex // serializes refreshes

	mu     sync.RWMutex
	tree   *spacetree.Tree[E]
	window geom.Window
	last   ScanStats
}

// Open opens (creating if needed) the SQLite database at cfg.Path and the index inside it.
func Open[E any](ctx context.Context, cfg Config) (*Index[E], error) {
	if cfg.Path == "" {
		return nil, wrapError("open", errors.Mark(errors.New("database path cannot be empty"), ErrInvalidConfig))
	}
	if err := cfg.Validate(); err != nil {
		return nil, wrapError("open", err)
	}

	store, err := kv.OpenSQLite(ctx, cfg.Path)
	if err != nil {
		return nil, wrapError("open", storageError(err))
	}

	ix, err := OpenWithStore[E](ctx, store, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ix.ownsStore = true
	return ix, nil
}

// OpenWithStore opens the index on an existing store. The store stays owned by the caller and
// is not closed by Index.Close.
func OpenWithStore[E any](ctx context.Context, store kv.Store, cfg Config) (*Index[E], error) {
	if err := cfg.Validate(); err != nil {
		return nil, wrapError("open", err)
	}

	curve, err := morton.New(cfg.Dimensions, cfg.bits())
	if err != nil {
		return nil, wrapError("open", err)
	}
	grid, err := morton.NewGrid(curve, cfg.Origin, cfg.Resolution)
	if err != nil {
		return nil, wrapError("open", err)
	}
	c, err := codec.Lookup(cfg.Codec)
	if err != nil {
		return nil, wrapError("open", err)
	}
	comp, err := encoding.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, wrapError("open", errors.Mark(err, ErrInvalidConfig))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}

	ix := &Index[E]{
		store:  store,
		config: cfg,
		curve:  curve,
		grid:   grid,
		codec:  c,
		comp:   comp,
		logger: logger.With("table", cfg.Table),
	}
	ix.tree = ix.newTree()

	for _, name := range []string{cfg.Table, metaTable(cfg.Table)} {
		if err := store.CreateTable(ctx, name); err != nil {
			return nil, wrapError("open", storageError(err))
		}
	}

	id, err := ix.loadMeta(ctx)
	if err != nil {
		return nil, wrapError("open", err)
	}
	ix.id = id
	ix.logger = ix.logger.With("index", id)

	ix.logger.Info("index opened",
		"path", cfg.Path,
		"dimensions", cfg.Dimensions,
		"bits", curve.Bits(),
		"codec", c.Name(),
		"compression", comp.String())

	return ix, nil
}

// ID returns the identifier written when the index was created.
func (ix *Index[E]) ID() string { return ix.id }

// Dims returns the number of axes.
func (ix *Index[E]) Dims() int { return ix.config.Dimensions }

// Config returns the configuration the index was opened with.
func (ix *Index[E]) Config() Config { return ix.config }

func (ix *Index[E]) newTree() *spacetree.Tree[E] {
	t, err := spacetree.New[E](ix.config.Dimensions, spacetree.WithMaxEntries(ix.config.capacity()))
	if err != nil {
		// Dimensions were validated on open.
		panic(err)
	}
	return t
}

// Close releases the store if the index opened it. Closing twice is a no-op.
func (ix *Index[E]) Close() error {
	if !ix.closed.CompareAndSwap(false, true) {
		return nil
	}

	ix.mu.Lock()
	ix.tree = ix.newTree()
	ix.window = geom.Window{}
	ix.mu.Unlock()

	if ix.ownsStore {
		if err := ix.store.Close(); err != nil {
			return wrapError("close", storageError(err))
		}
	}

	ix.logger.Info("index closed")
	return nil
}

func (ix *Index[E]) checkOpen(op string) error {
	if ix.closed.Load() {
		return wrapError(op, ErrClosed)
	}
	return nil
}

// checkDims reports a position or window with the wrong number of axes.
func (ix *Index[E]) checkDims(n int) error {
	if n != ix.config.Dimensions {
		return errors.Mark(errors.Newf("want %d axes, got %d", ix.config.Dimensions, n), ErrDimensionMismatch)
	}
	return nil
}
