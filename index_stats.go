package quadb

import (
	"context"

	"github.com/liliang-cn/quadb/pkg/spacetree"
)

// IndexStats represents statistics about the index
type IndexStats struct {
	ID          string          `json:"id"`
	Table       string          `json:"table"`
	Dimensions  int             `json:"dimensions"`
	BitsPerAxis int             `json:"bits_per_axis"`
	Codec       string          `json:"codec"`
	Compression string          `json:"compression"`
	Stored      int64           `json:"stored"`           // points in the store
	Window      string          `json:"window,omitempty"` // last streamed window
	Cache       spacetree.Stats `json:"cache"`
	LastScan    ScanStats       `json:"last_scan"`
}

// Stats returns statistics about the store and the cached window.
func (ix *Index[E]) Stats(ctx context.Context) (IndexStats, error) {
	n, err := ix.Len(ctx)
	if err != nil {
		return IndexStats{}, err
	}

	s := IndexStats{
		ID:          ix.id,
		Table:       ix.config.Table,
		Dimensions:  ix.config.Dimensions,
		BitsPerAxis: ix.curve.Bits(),
		Codec:       ix.codec.Name(),
		Compression: ix.comp.String(),
		Stored:      n,
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.window.IsZero() {
		s.Window = ix.window.String()
	}
	s.Cache = ix.tree.Stats()
	s.LastScan = ix.last
	return s, nil
}

// Compact collapses cached subtrees that fit in a single leaf again and returns the number of
// internal nodes removed. Insert and Remove never do this on their own.
func (ix *Index[E]) Compact() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	removed := ix.tree.Compact()
	if removed > 0 {
		ix.logger.Debug("cache compacted", "removed", removed)
	}
	return removed
}
