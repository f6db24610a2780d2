package quadb

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/liliang-cn/quadb/internal/encoding"
	"github.com/liliang-cn/quadb/pkg/kv"
	"github.com/liliang-cn/quadb/pkg/morton"
)

// Insert stores e at pos, replacing whatever was stored at the same grid cell. The cached
// window is not updated.
func (ix *Index[E]) Insert(ctx context.Context, pos []float64, e E) error {
	if err := ix.checkOpen("insert"); err != nil {
		return err
	}

	key, err := ix.key(pos)
	if err != nil {
		return wrapError("insert", err)
	}
	val, err := ix.encodeValue(e)
	if err != nil {
		return wrapError("insert", err)
	}

	err = ix.update(ctx, func(tbl kv.Table) error {
		return tbl.Insert(key, val)
	})
	return wrapError("insert", err)
}

// InsertBatch stores all items in a single write transaction. Either every item is stored or,
// on error, none is.
func (ix *Index[E]) InsertBatch(ctx context.Context, items []Item[E]) error {
	if err := ix.checkOpen("insert_batch"); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	keys := make([][]byte, len(items))
	vals := make([][]byte, len(items))
	for i, it := range items {
		key, err := ix.key(it.Position)
		if err != nil {
			return wrapError("insert_batch", errors.Wrapf(err, "item %d", i))
		}
		val, err := ix.encodeValue(it.Value)
		if err != nil {
			return wrapError("insert_batch", errors.Wrapf(err, "item %d", i))
		}
		keys[i], vals[i] = key, val
	}

	err := ix.update(ctx, func(tbl kv.Table) error {
		for i := range keys {
			if err := tbl.Insert(keys[i], vals[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapError("insert_batch", err)
	}

	ix.logger.Debug("batch stored", "items", len(items))
	return nil
}

// Remove deletes whatever is stored at pos. Removing an empty cell is not an error. The cached
// window is not updated.
func (ix *Index[E]) Remove(ctx context.Context, pos []float64) error {
	if err := ix.checkOpen("remove"); err != nil {
		return err
	}

	key, err := ix.key(pos)
	if err != nil {
		return wrapError("remove", err)
	}

	err = ix.update(ctx, func(tbl kv.Table) error {
		return tbl.Remove(key)
	})
	return wrapError("remove", err)
}

// Lookup reads the entity stored at pos directly from the store, bypassing the cache.
func (ix *Index[E]) Lookup(ctx context.Context, pos []float64) (E, bool, error) {
	var zero E
	if err := ix.checkOpen("lookup"); err != nil {
		return zero, false, err
	}

	key, err := ix.key(pos)
	if err != nil {
		return zero, false, wrapError("lookup", err)
	}

	tx, err := ix.store.BeginRead(ctx)
	if err != nil {
		return zero, false, wrapError("lookup", storageError(err))
	}
	defer func() { _ = tx.Rollback() }()

	tbl, err := tx.Table(ix.config.Table)
	if err != nil {
		return zero, false, wrapError("lookup", storageError(err))
	}
	raw, ok, err := tbl.Get(key)
	if err != nil {
		return zero, false, wrapError("lookup", storageError(err))
	}
	if !ok {
		return zero, false, nil
	}

	e, err := ix.decodeValue(raw)
	if err != nil {
		return zero, false, wrapError("lookup", err)
	}
	return e, true, nil
}

// Len returns the number of stored points.
func (ix *Index[E]) Len(ctx context.Context) (int64, error) {
	if err := ix.checkOpen("len"); err != nil {
		return 0, err
	}

	tx, err := ix.store.BeginRead(ctx)
	if err != nil {
		return 0, wrapError("len", storageError(err))
	}
	defer func() { _ = tx.Rollback() }()

	tbl, err := tx.Table(ix.config.Table)
	if err != nil {
		return 0, wrapError("len", storageError(err))
	}
	n, err := tbl.Len()
	if err != nil {
		return 0, wrapError("len", storageError(err))
	}
	return n, nil
}

// update runs fn in one write transaction on the point table and commits it.
func (ix *Index[E]) update(ctx context.Context, fn func(kv.Table) error) error {
	tx, err := ix.store.BeginWrite(ctx)
	if err != nil {
		return storageError(err)
	}
	defer func() { _ = tx.Rollback() }()

	tbl, err := tx.Table(ix.config.Table)
	if err != nil {
		return storageError(err)
	}
	if err := fn(tbl); err != nil {
		return storageError(err)
	}
	if err := tx.Commit(); err != nil {
		return storageError(err)
	}
	return nil
}

// key quantizes pos and renders its curve key.
func (ix *Index[E]) key(pos []float64) ([]byte, error) {
	if err := ix.checkDims(len(pos)); err != nil {
		return nil, err
	}
	z, err := ix.grid.Key(pos)
	if err != nil {
		return nil, err
	}
	return morton.Key(z), nil
}

func (ix *Index[E]) encodeValue(e E) ([]byte, error) {
	payload, err := ix.codec.Marshal(e)
	if err != nil {
		return nil, serializationError(err, "failed to encode entity with %s", ix.codec.Name())
	}
	rec, err := encoding.EncodeRecord(payload, ix.comp)
	if err != nil {
		return nil, serializationError(err, "failed to compress entity")
	}
	return rec, nil
}

func (ix *Index[E]) decodeValue(raw []byte) (E, error) {
	var e E
	payload, err := encoding.DecodeRecord(raw)
	if err != nil {
		return e, serializationError(err, "failed to read stored record")
	}
	if err := ix.codec.Unmarshal(payload, &e); err != nil {
		return e, serializationError(err, "failed to decode entity with %s", ix.codec.Name())
	}
	return e, nil
}
