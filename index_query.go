package quadb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/liliang-cn/quadb/pkg/geom"
	"github.com/liliang-cn/quadb/pkg/kv"
	"github.com/liliang-cn/quadb/pkg/morton"
	"github.com/liliang-cn/quadb/pkg/spacetree"
)

// ScanStats describes the last window refresh.
type ScanStats struct {
	Scanned  int           `json:"scanned"`  // keys read from the store
	Kept     int           `json:"kept"`     // keys inside the window
	Rejected int           `json:"rejected"` // keys inside the curve range but outside the window
	Jumps    int           `json:"jumps"`    // range restarts at the next in-window key
	Duration time.Duration `json:"duration"`
}

// Stream replaces the cached window with every stored point inside the closed box
// [center-radius, center+radius] on every axis. A negative or NaN radius is ErrInvalidArgument.
func (ix *Index[E]) Stream(ctx context.Context, center []float64, radius float64) error {
	if err := ix.checkOpen("stream"); err != nil {
		return err
	}
	if err := ix.checkDims(len(center)); err != nil {
		return wrapError("stream", err)
	}
	w, err := geom.Around(center, radius)
	if err != nil {
		return wrapError("stream", errors.Mark(err, ErrInvalidArgument))
	}
	return ix.streamWindow(ctx, "stream", w)
}

// StreamWindow replaces the cached window with every stored point inside w.
func (ix *Index[E]) StreamWindow(ctx context.Context, w geom.Window) error {
	if err := ix.checkOpen("stream_window"); err != nil {
		return err
	}
	if err := ix.checkDims(w.Dims()); err != nil {
		return wrapError("stream_window", err)
	}
	return ix.streamWindow(ctx, "stream_window", w)
}

func (ix *Index[E]) streamWindow(ctx context.Context, op string, w geom.Window) error {
	ix.streamMu.Lock()
	defer ix.streamMu.Unlock()

	// The previous window is gone whether or not this refresh succeeds.
	ix.mu.Lock()
	ix.tree = ix.newTree()
	ix.window = geom.Window{}
	ix.last = ScanStats{}
	ix.mu.Unlock()

	start := time.Now()
	tree := ix.newTree()
	stats, err := ix.scan(ctx, w, tree)
	stats.Duration = time.Since(start)
	if err != nil {
		ix.logger.Warn("window refresh failed", "window", w.String(), "error", err)
		return wrapError(op, err)
	}

	ix.mu.Lock()
	ix.tree = tree
	ix.window = w
	ix.last = stats
	ix.mu.Unlock()

	ix.logger.Debug("window refreshed",
		"window", w.String(),
		"scanned", stats.Scanned,
		"kept", stats.Kept,
		"rejected", stats.Rejected,
		"jumps", stats.Jumps,
		"duration", stats.Duration)
	return nil
}

// scan reads the curve key range covering w in one read transaction and inserts every point
// whose grid cell lies inside w into tree.
func (ix *Index[E]) scan(ctx context.Context, w geom.Window, tree *spacetree.Tree[E]) (ScanStats, error) {
	var stats ScanStats

	lo, hi, ok := ix.grid.CellBox(w)
	if !ok {
		return stats, nil
	}
	zmin, zmax, err := ix.curve.Range(lo, hi)
	if err != nil {
		return stats, err
	}

	tx, err := ix.store.BeginRead(ctx)
	if err != nil {
		return stats, storageError(err)
	}
	defer func() { _ = tx.Rollback() }()

	tbl, err := tx.Table(ix.config.Table)
	if err != nil {
		return stats, storageError(err)
	}

	high := morton.Key(zmax)
	from := zmin
	for {
		var next uint64
		jump := false

		err := tbl.Range(morton.Key(from), high, func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.Scanned++

			z, err := morton.ParseKey(k)
			if err != nil {
				return errors.Mark(err, ErrSerialization)
			}
			if !ix.curve.InBox(z, lo, hi) {
				stats.Rejected++
				if !ix.config.SkipScan {
					return nil
				}
				n, found := ix.curve.NextInBox(z, zmin, zmax)
				if found {
					next, jump = n, true
				}
				return kv.ErrStop
			}

			pos := ix.grid.Position(ix.curve.Decode(z))
			e, err := ix.decodeValue(v)
			if err != nil {
				return errors.Wrapf(err, "key %x", k)
			}
			if _, err := tree.Insert(pos, e); err != nil {
				return err
			}
			stats.Kept++
			return nil
		})
		if err != nil {
			if errors.IsAny(err, ErrSerialization, context.Canceled, context.DeadlineExceeded) {
				return stats, err
			}
			return stats, storageError(err)
		}
		if !jump {
			return stats, nil
		}
		stats.Jumps++
		from = next
	}
}

// Get returns the cached entity at pos. Positions are snapped to the grid the same way Insert
// snaps them, and positions the grid cannot represent are simply absent.
func (ix *Index[E]) Get(pos []float64) (E, bool, error) {
	var zero E
	if err := ix.checkDims(len(pos)); err != nil {
		return zero, false, wrapError("get", err)
	}
	cell, err := ix.grid.Cell(pos)
	if err != nil {
		return zero, false, nil
	}
	snapped := ix.grid.Position(cell)

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.tree.Get(snapped)
	return e, ok, nil
}

// QueryWindow returns the cached points whose grid cell lies inside w.
func (ix *Index[E]) QueryWindow(w geom.Window) ([]Item[E], error) {
	if err := ix.checkDims(w.Dims()); err != nil {
		return nil, wrapError("query_window", err)
	}

	// Cached positions are cell positions; compare them against cell positions too.
	snapped, ok := ix.grid.SnapWindow(w)
	if !ok {
		return nil, nil
	}

	ix.mu.RLock()
	entries := ix.tree.QueryWindow(snapped)
	ix.mu.RUnlock()

	items := make([]Item[E], len(entries))
	for i, en := range entries {
		items[i] = Item[E]{Position: en.Position, Value: en.Value}
	}
	return items, nil
}

// Cached returns every point of the cached window.
func (ix *Index[E]) Cached() []Item[E] {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	items := make([]Item[E], 0, ix.tree.Len())
	ix.tree.Walk(func(en spacetree.Entry[E]) bool {
		items = append(items, Item[E]{Position: en.Position, Value: en.Value})
		return true
	})
	return items
}

// Window returns the last successfully streamed window, or the zero Window if there is none.
func (ix *Index[E]) Window() geom.Window {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.window
}
