// Package quadb provides an embedded spatial index for Go: entities are stored in a SQLite
// database keyed by their position in D-dimensional space, and windowed queries are answered
// from an in-memory partition tree.
//
// quadb is 100% pure Go (modernc.org/sqlite, no cgo). Positions are snapped to a regular grid,
// encoded as Morton (Z-order) keys and written as 8-byte big-endian keys, so the points of any
// axis-aligned box live in one contiguous key range. A window refresh scans that range in a
// single read transaction, drops the keys the range over-approximates, and loads the rest into
// a 2^D-ary tree that answers Get and QueryWindow until the next refresh.
//
// # Quick Start
//
//	cfg := quadb.DefaultConfig()
//	cfg.Path = "points.db"
//	cfg.Dimensions = 3
//
//	ix, err := quadb.Open[string](ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ix.Close()
//
//	_ = ix.Insert(ctx, []float64{1, 1, 1}, "tree")
//	_ = ix.Stream(ctx, []float64{0, 0, 0}, 2)
//	v, ok, _ := ix.Get([]float64{1, 1, 1})
//
// # Cache Semantics
//
// Insert, InsertBatch and Remove write through to the store and leave the cached window alone.
// Get, QueryWindow and Cached see only what the last Stream or StreamWindow loaded. Lookup reads
// a single point from the store.
//
// # Errors
//
// Errors carry the operation that failed and can be matched with errors.Is against
// ErrStorage, ErrSerialization, ErrDimensionMismatch, ErrOutOfDomain, ErrInvalidArgument,
// ErrInvalidConfig and ErrClosed. Absent points are reported with ok == false, never as errors.
//
// # Packages
//
//   - pkg/geom: bounds and query windows
//   - pkg/spacetree: the partition tree
//   - pkg/morton: Z-order curve, BIGMIN and the quantization grid
//   - pkg/kv: the ordered transactional store interface and its SQLite implementation
//   - pkg/codec: entity codecs (CBOR, JSON)
package quadb
