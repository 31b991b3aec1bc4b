package chunkcache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkalt/ept/chunkcache"
	"github.com/wkalt/ept/chunkstore"
	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/spatial"
)

func newCache(t *testing.T) *chunkcache.Cache {
	t.Helper()
	ep := endpoint.NewMemory("test")
	store := chunkstore.New(ep, "out", schema.DefaultSchema(), false)
	return chunkcache.New(chunkcache.Config{Store: store, SoftCap: 2, ChunkCapacity: 4})
}

func TestAcquireCreatesEmptyCell(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)
	key := spatial.ChunkKey{Depth: 1, X: 0, Y: 0, Z: 0}

	cl, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, cl.Size())
	assert.Equal(t, 1, c.Resident())
}

func TestAcquireReleaseEviction(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	keys := []spatial.ChunkKey{
		{Depth: 1, X: 0, Y: 0, Z: 0},
		{Depth: 1, X: 1, Y: 0, Z: 0},
		{Depth: 1, X: 0, Y: 1, Z: 0},
	}
	for _, k := range keys {
		cl, err := c.Acquire(ctx, k)
		require.NoError(t, err)
		cl.TryInsert(schema.Point{X: 1, Y: 1, Z: 1})
		c.Release(k)
	}
	assert.Equal(t, 3, c.Resident())

	require.NoError(t, c.Evict(ctx))
	assert.LessOrEqual(t, c.Resident(), 2)
}

func TestPinnedCellNotEvicted(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory("test")
	store := chunkstore.New(ep, "out", schema.DefaultSchema(), false)
	c := chunkcache.New(chunkcache.Config{Store: store, SoftCap: 1, ChunkCapacity: 4})

	pinned := spatial.ChunkKey{Depth: 1, X: 0, Y: 0, Z: 0}
	cl, err := c.Acquire(ctx, pinned)
	require.NoError(t, err)
	cl.TryInsert(schema.Point{X: 1, Y: 1, Z: 1})
	// deliberately do not release `pinned`

	for i := 1; i <= 3; i++ {
		k := spatial.ChunkKey{Depth: 1, X: uint64(i), Y: 0, Z: 0}
		c2, err := c.Acquire(ctx, k)
		require.NoError(t, err)
		c2.TryInsert(schema.Point{X: 1, Y: 1, Z: 1})
		c.Release(k)
	}

	require.NoError(t, c.Evict(ctx))
	assert.Equal(t, 1, c.Resident(), "the pinned cell must survive eviction")
}

func TestDrainFlushesEverything(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	key := spatial.ChunkKey{Depth: 0, X: 0, Y: 0, Z: 0}
	cl, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	cl.TryInsert(schema.Point{X: 1, Y: 1, Z: 1})

	require.NoError(t, c.Drain(ctx))
	assert.Equal(t, 0, c.Resident())
}

func TestClipperReleasesAllMarkedPins(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)
	clip := chunkcache.NewClipper(c)

	key := spatial.ChunkKey{Depth: 0, X: 0, Y: 0, Z: 0}
	for i := 0; i < 3; i++ {
		_, err := c.Acquire(ctx, key)
		require.NoError(t, err)
		clip.Mark(key)
	}
	assert.Equal(t, 1, clip.Len())
	clip.Clip()
	assert.Equal(t, 0, clip.Len())
}
