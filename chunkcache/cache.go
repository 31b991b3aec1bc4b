// Package chunkcache implements the ChunkCache: an LRU of materialized
// Cells keyed by ChunkKey, guaranteeing at most one in-flight load per key
// and spilling evicted cells through the ChunkStore.
package chunkcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wkalt/ept/cell"
	"github.com/wkalt/ept/chunkstore"
	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/spatial"
)

// entry is one resident cell's bookkeeping: the cell itself, its pin count,
// and its node in the recency list. The index mutex guards everything in
// entry except the cell's own contents, which the cell locks itself.
type entry struct {
	key     spatial.ChunkKey
	subset  uint64
	cell    *cell.Cell
	pins    int
	elem    *list.Element // position in the unpinned recency list; nil while pinned
	loading chan struct{} // non-nil while a load for this key is in flight
}

// Cache is the ChunkCache. Its index (residency map + recency list) is
// guarded by one mutex with strictly O(1) lock scope, per the core's
// locking discipline; cell contents are never touched while the index lock
// is held.
type Cache struct {
	mu        sync.Mutex
	resident  map[spatial.ChunkKey]*entry
	unpinned  *list.List // least-recently-released at the back
	softCap   int
	store     *chunkstore.Store
	baseCap   int
	overflow  int
	subsetID  uint64
	evictions int
}

// Config carries the parameters needed to materialize cells and to decide
// when to spill to storage.
type Config struct {
	Store           *chunkstore.Store
	SoftCap         int // resident cell count above which evict() is expected to run
	ChunkCapacity   int
	BaseCapacity    int // capacity of base (shallow) cells; 0 disables base cells
	SubsetID        uint64
}

// New constructs a Cache over the given chunk store.
func New(cfg Config) *Cache {
	c := &Cache{
		resident: map[spatial.ChunkKey]*entry{},
		unpinned: list.New(),
		softCap:  cfg.SoftCap,
		store:    cfg.Store,
		baseCap:  cfg.BaseCapacity,
		overflow: cfg.ChunkCapacity,
		subsetID: cfg.SubsetID,
	}
	return c
}

// Acquire returns a pinned handle to the cell at key, loading it from
// storage if necessary. Concurrent Acquire calls for the same key block on
// the single in-flight load; all other callers see either the resident
// cell or a freshly created empty one.
func (c *Cache) Acquire(ctx context.Context, key spatial.ChunkKey) (*cell.Cell, error) {
	return c.acquire(ctx, key, false)
}

// AcquireBase is Acquire for a key known to be within the builder's base
// depth, so a freshly created cell reserves overflow capacity.
func (c *Cache) AcquireBase(ctx context.Context, key spatial.ChunkKey) (*cell.Cell, error) {
	return c.acquire(ctx, key, true)
}

func (c *Cache) acquire(ctx context.Context, key spatial.ChunkKey, base bool) (*cell.Cell, error) {
	for {
		c.mu.Lock()
		e, ok := c.resident[key]
		if ok {
			if e.loading != nil {
				ch := e.loading
				c.mu.Unlock()
				select {
				case <-ch:
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			c.pin(e)
			c.mu.Unlock()
			return e.cell, nil
		}

		// Reawaken: nothing resident, but also nothing mid-eviction to race
		// with, since eviction removes from the map only after the write
		// completes (see Evict). Register a loading placeholder and
		// load outside the lock.
		ch := make(chan struct{})
		e = &entry{key: key, subset: c.subsetID, pins: 1, loading: ch}
		c.resident[key] = e
		c.mu.Unlock()

		loaded, err := c.load(ctx, key, base)
		c.mu.Lock()
		e.loading = nil
		close(ch)
		if err != nil {
			delete(c.resident, key)
			c.mu.Unlock()
			return nil, err
		}
		e.cell = loaded
		c.mu.Unlock()
		return e.cell, nil
	}
}

func (c *Cache) load(ctx context.Context, key spatial.ChunkKey, base bool) (*cell.Cell, error) {
	exists, err := c.store.Exists(ctx, key, c.subsetID)
	if err != nil {
		return nil, fmt.Errorf("check chunk existence %s: %w", key, err)
	}
	var target *cell.Cell
	if base {
		target = cell.New(cell.Base, c.baseCap)
	} else {
		target = cell.New(cell.Overflow, c.overflow)
	}
	if !exists {
		return target, nil
	}
	points, err := c.store.Read(ctx, key, c.subsetID)
	if err != nil {
		if errors.Is(err, endpoint.ErrNotFound) {
			return target, nil
		}
		return nil, err
	}
	for _, p := range points {
		if !target.TryInsert(p) {
			target.ForceInsert(p)
		}
	}
	return target, nil
}

func (c *Cache) pin(e *entry) {
	if e.elem != nil {
		c.unpinned.Remove(e.elem)
		e.elem = nil
	}
	e.pins++
}

// Release decrements key's pin count. Once it reaches zero the cell
// becomes eligible for eviction and moves to the front of the unpinned
// recency list (most-recently-released).
func (c *Cache) Release(key spatial.ChunkKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.resident[key]
	if !ok {
		return
	}
	e.pins--
	if e.pins < 0 {
		e.pins = 0
	}
	if e.pins == 0 {
		e.elem = c.unpinned.PushFront(e)
	}
}

// Evict writes through and drops resident, unpinned cells until the
// resident count is at or below the soft cap, or no unpinned cells remain.
func (c *Cache) Evict(ctx context.Context) error {
	for {
		c.mu.Lock()
		if len(c.resident) <= c.softCap || c.unpinned.Len() == 0 {
			c.mu.Unlock()
			return nil
		}
		back := c.unpinned.Back()
		e := back.Value.(*entry) //nolint:errcheck
		c.unpinned.Remove(back)
		e.elem = nil
		c.mu.Unlock()

		if err := c.flush(ctx, e); err != nil {
			return err
		}

		c.mu.Lock()
		if e.pins > 0 || e.loading != nil || e.elem != nil {
			// Re-pinned (or pinned and released again, which puts it back
			// on the unpinned list) by a concurrent Acquire while we
			// flushed: the just-written chunk doesn't reflect whatever the
			// entry accumulates from here on, so it must stay resident
			// rather than be deleted out from under its new owner.
			c.mu.Unlock()
			continue
		}
		delete(c.resident, e.key)
		c.evictions++
		c.mu.Unlock()
	}
}

func (c *Cache) flush(ctx context.Context, e *entry) error {
	points := e.cell.Points()
	if len(points) == 0 {
		return nil
	}
	if err := c.store.Write(ctx, e.key, e.subset, points); err != nil {
		return fmt.Errorf("flush cell %s: %w", e.key, err)
	}
	return nil
}

// Drain flushes every resident cell regardless of pin state. Builder.Run
// calls it when a build completes; a cancelled Run returns without
// draining, so cells not written by a batch checkpoint or an eviction are
// not flushed. Pinned cells at drain time indicate a
// worker did not release its clipper; Drain flushes them anyway since the
// build is ending.
func (c *Cache) Drain(ctx context.Context) error {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.resident))
	for _, e := range c.resident {
		entries = append(entries, e)
	}
	c.resident = map[spatial.ChunkKey]*entry{}
	c.unpinned = list.New()
	c.mu.Unlock()

	for _, e := range entries {
		if err := c.flush(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Resident returns the current resident cell count, for tests and metrics.
func (c *Cache) Resident() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resident)
}
