package chunkcache

import "github.com/wkalt/ept/spatial"

// Clipper tracks every ChunkKey a worker has acquired while processing one
// point batch, so the worker can release them all in a single pass at
// batch commit. This amortizes cache lookups and guarantees that an error
// partway through a batch still releases every pin the worker is holding.
type Clipper struct {
	cache *Cache
	marks map[spatial.ChunkKey]int // one count per outstanding Acquire, not per distinct key
}

// NewClipper returns a Clipper bound to cache.
func NewClipper(cache *Cache) *Clipper {
	return &Clipper{cache: cache, marks: map[spatial.ChunkKey]int{}}
}

// Mark records one pin acquired on key through this clipper. Each Acquire
// call on the cache must be paired with exactly one Mark so that Clip
// releases precisely as many pins as were taken.
func (c *Clipper) Mark(key spatial.ChunkKey) {
	c.marks[key]++
}

// Clip releases every pin this clipper has marked, once per Mark call, and
// clears its state, making it ready for the next batch.
func (c *Clipper) Clip() {
	for key, n := range c.marks {
		for i := 0; i < n; i++ {
			c.cache.Release(key)
		}
	}
	clear(c.marks)
}

// Len reports how many distinct keys are currently pinned by this clipper.
func (c *Clipper) Len() int {
	return len(c.marks)
}
