// Package cell implements the fixed-capacity, thread-safe point bucket that
// backs one octree node while it is resident in the ChunkCache.
package cell

import (
	"sync"

	"github.com/wkalt/ept/schema"
)

// Kind distinguishes a shallow base cell, which reserves overflow capacity
// for rebalancing, from an ordinary overflow (leaf) cell.
type Kind int

const (
	Overflow Kind = iota
	Base
)

// Cell is an ordered sequence of points belonging to one ChunkKey. len(points)
// never exceeds capacity at any state observable by a caller, with one
// deliberate exception: points beyond maxDepth are force-appended and the
// cell is allowed to exceed capacity (see Builder.insertPoint).
type Cell struct {
	mu sync.Mutex

	kind     Kind
	capacity int // total slots; for base cells, half are reserved overflow
	points   []schema.Point
	forced   bool // true once a maxDepth force-append has occurred
}

// New constructs an empty cell of the given kind and capacity.
func New(kind Kind, capacity int) *Cell {
	return &Cell{kind: kind, capacity: capacity}
}

// mainCapacity is the portion of a base cell's capacity available to
// ordinary inserts; the rest is reserved overflow.
func (c *Cell) mainCapacity() int {
	if c.kind == Base {
		return c.capacity / 2
	}
	return c.capacity
}

// TryInsert appends p if the cell has free capacity, returning false when
// full. For a base cell, capacity includes its reserved overflow region;
// the caller drains that region with SwapOutOverflow to make room and
// retries. Overflow is a normal signal to the caller, not an error.
func (c *Cell) TryInsert(p schema.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.points) >= c.capacity {
		return false
	}
	c.points = append(c.points, p)
	return true
}

// ForceInsert appends p unconditionally, used once a point has reached
// maxDepth. The cell is marked forced so hierarchy/chunk writers know it may
// exceed capacity legitimately.
func (c *Cell) ForceInsert(p schema.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, p)
	c.forced = true
}

// Size returns the current point count.
func (c *Cell) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

// Forced reports whether this cell has ever received a force-appended,
// over-capacity point.
func (c *Cell) Forced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forced
}

// Points returns a copy of the cell's current contents, in insertion order.
// Ordering within a cell carries no semantic meaning (the tree is a
// multiset); callers must not rely on it beyond determinism for tests.
func (c *Cell) Points() []schema.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schema.Point, len(c.points))
	copy(out, c.points)
	return out
}

// SwapOutOverflow hands out the reserved overflow region of a base cell in
// bulk and clears it, so the builder can re-descend each point one level
// rather than draining one at a time. Calling this on a non-base cell
// returns nil.
func (c *Cell) SwapOutOverflow() []schema.Point {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.kind != Base {
		return nil
	}
	main := c.mainCapacity()
	if len(c.points) <= main {
		return nil
	}
	overflow := make([]schema.Point, len(c.points)-main)
	copy(overflow, c.points[main:])
	c.points = c.points[:main]
	return overflow
}

// Kind returns the cell's kind.
func (c *Cell) Kind() Kind {
	return c.kind
}
