// Package spacetree implements an adaptive space partitioning tree: a 2^D-ary tree whose leaves
// hold at most a fixed number of entities keyed by exact position, and which bisects a leaf the
// moment an insert of a new position would overflow it.
//
// A node turns from leaf into internal node exactly once and never back on the insert/remove path.
// Compact is a separate maintenance pass. A Tree is not safe for concurrent mutation; callers that
// share one must guard it, e.g. with a sync.RWMutex.
package spacetree

import (
	"errors"
	"fmt"
	"math"

	"github.com/liliang-cn/quadb/pkg/geom"
)

var (
	// ErrDimensionMismatch is returned for positions with the wrong number of axes.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidPosition is returned for positions containing NaN or infinite values.
	ErrInvalidPosition = errors.New("invalid position")
)

// maxDepth stops subdivision once float midpoints can no longer separate positions.
const maxDepth = 1024

// Entry is a stored position and its payload.
type Entry[E any] struct {
	Position []float64
	Value    E
}

// Stats describes the shape of a tree.
type Stats struct {
	Entries  int `json:"entries"`
	Leaves   int `json:"leaves"`
	Internal int `json:"internal"`
	Depth    int `json:"depth"`
}

// Option configures a Tree.
type Option func(*options)

type options struct {
	maxEntries int
}

// WithMaxEntries overrides the per-leaf capacity (default 2^D). Values below 1 are ignored.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// Tree is the partition tree.
type Tree[E any] struct {
	dims     int
	capacity int
	root     *node[E]
	size     int
}

type node[E any] struct {
	bounds   geom.Bounds
	entries  []Entry[E]
	children []*node[E]
}

func (n *node[E]) leaf() bool { return n.children == nil }

// New creates an empty tree over (-inf, +inf]^dims.
func New[E any](dims int, opts ...Option) (*Tree[E], error) {
	if dims < 1 || dims > geom.MaxDims {
		return nil, fmt.Errorf("%w: %d axes", ErrDimensionMismatch, dims)
	}
	o := options{maxEntries: 1 << dims}
	for _, opt := range opts {
		opt(&o)
	}
	return &Tree[E]{
		dims:     dims,
		capacity: o.maxEntries,
		root:     &node[E]{bounds: geom.Unbounded(dims)},
	}, nil
}

// Dims returns the dimensionality.
func (t *Tree[E]) Dims() int { return t.dims }

// Capacity returns the per-leaf entry limit.
func (t *Tree[E]) Capacity() int { return t.capacity }

// Len returns the number of distinct positions stored.
func (t *Tree[E]) Len() int { return t.size }

// Insert stores value at pos, replacing any payload already at exactly that position.
// It reports whether a payload was replaced.
func (t *Tree[E]) Insert(pos []float64, value E) (bool, error) {
	if err := t.check(pos); err != nil {
		return false, err
	}
	p := make([]float64, len(pos))
	copy(p, pos)

	n, depth := t.root, 0
	for {
		for !n.leaf() {
			n = n.child(p)
			depth++
		}
		if i := n.find(p); i >= 0 {
			n.entries[i].Value = value
			return true, nil
		}
		if len(n.entries) < t.capacity || depth >= maxDepth {
			n.entries = append(n.entries, Entry[E]{Position: p, Value: value})
			t.size++
			return false, nil
		}
		n.subdivide()
	}
}

// Remove deletes the entry at pos. Emptied leaves stay in place.
func (t *Tree[E]) Remove(pos []float64) (bool, error) {
	if err := t.check(pos); err != nil {
		return false, err
	}
	n := t.locate(pos)
	i := n.find(pos)
	if i < 0 {
		return false, nil
	}
	last := len(n.entries) - 1
	n.entries[i] = n.entries[last]
	n.entries[last] = Entry[E]{}
	n.entries = n.entries[:last]
	t.size--
	return true, nil
}

// Get returns the payload stored at exactly pos.
func (t *Tree[E]) Get(pos []float64) (E, bool) {
	var zero E
	if t.check(pos) != nil {
		return zero, false
	}
	n := t.locate(pos)
	if i := n.find(pos); i >= 0 {
		return n.entries[i].Value, true
	}
	return zero, false
}

// QueryWindow returns every entry inside the closed window w, visiting only intersecting nodes.
func (t *Tree[E]) QueryWindow(w geom.Window) []Entry[E] {
	if w.Dims() != t.dims {
		return nil
	}
	var out []Entry[E]
	var visit func(n *node[E])
	visit = func(n *node[E]) {
		if !n.bounds.Intersects(w) {
			return
		}
		if n.leaf() {
			for _, e := range n.entries {
				if w.Contains(e.Position) {
					out = append(out, e)
				}
			}
			return
		}
		for _, c := range n.children {
			visit(c)
		}
	}
	visit(t.root)
	return out
}

// Walk calls fn for every entry in depth-first child order until fn returns false.
func (t *Tree[E]) Walk(fn func(Entry[E]) bool) {
	var visit func(n *node[E]) bool
	visit = func(n *node[E]) bool {
		for _, e := range n.entries {
			if !fn(e) {
				return false
			}
		}
		for _, c := range n.children {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	visit(t.root)
}

// Stats reports the node counts and depth of the tree.
func (t *Tree[E]) Stats() Stats {
	var s Stats
	var visit func(n *node[E], depth int)
	visit = func(n *node[E], depth int) {
		if depth > s.Depth {
			s.Depth = depth
		}
		if n.leaf() {
			s.Leaves++
			s.Entries += len(n.entries)
			return
		}
		s.Internal++
		for _, c := range n.children {
			visit(c, depth+1)
		}
	}
	visit(t.root, 0)
	return s
}

// Compact collapses internal nodes whose children are all leaves holding no more than Capacity
// entries in total, bottom up. It returns the number of internal nodes removed.
func (t *Tree[E]) Compact() int {
	var collapse func(n *node[E]) int
	collapse = func(n *node[E]) int {
		if n.leaf() {
			return 0
		}
		removed := 0
		total := 0
		mergeable := true
		for _, c := range n.children {
			removed += collapse(c)
			if !c.leaf() {
				mergeable = false
			}
			total += len(c.entries)
		}
		if !mergeable || total > t.capacity {
			return removed
		}
		entries := make([]Entry[E], 0, total)
		for _, c := range n.children {
			entries = append(entries, c.entries...)
		}
		n.entries = entries
		n.children = nil
		return removed + 1
	}
	return collapse(t.root)
}

func (t *Tree[E]) check(pos []float64) error {
	if len(pos) != t.dims {
		return fmt.Errorf("%w: want %d axes, got %d", ErrDimensionMismatch, t.dims, len(pos))
	}
	for i, v := range pos {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: axis %d is %v", ErrInvalidPosition, i, v)
		}
	}
	return nil
}

func (t *Tree[E]) locate(pos []float64) *node[E] {
	n := t.root
	for !n.leaf() {
		n = n.child(pos)
	}
	return n
}

func (n *node[E]) child(pos []float64) *node[E] {
	c := n.children[n.bounds.ChildIndex(pos)]
	if !c.bounds.Contains(pos) {
		panic(fmt.Sprintf("spacetree: position %v not inside child %s of %s", pos, c.bounds, n.bounds))
	}
	return c
}

func (n *node[E]) find(pos []float64) int {
	for i, e := range n.entries {
		if samePosition(e.Position, pos) {
			return i
		}
	}
	return -1
}

// subdivide turns a full leaf into an internal node and moves every entry into its owning child.
func (n *node[E]) subdivide() {
	cells := n.bounds.Bisect()
	n.children = make([]*node[E], len(cells))
	for i, b := range cells {
		n.children[i] = &node[E]{bounds: b}
	}
	entries := n.entries
	n.entries = nil
	for _, e := range entries {
		c := n.child(e.Position)
		c.entries = append(c.entries, e)
	}
}

func samePosition(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
