package hierarchy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/hierarchy"
	"github.com/wkalt/ept/spatial"
)

func TestIncrementAndCount(t *testing.T) {
	h := hierarchy.New(6)
	k := spatial.ChunkKey{Depth: 2, X: 1, Y: 0, Z: 3}
	h.Increment(k, 4)
	h.Increment(k, 6)
	assert.Equal(t, uint64(10), h.Count(k))
}

func TestPartitionGroupsByStep(t *testing.T) {
	h := hierarchy.New(2)
	h.Increment(spatial.ChunkKey{Depth: 0, X: 0, Y: 0, Z: 0}, 1)
	h.Increment(spatial.ChunkKey{Depth: 1, X: 0, Y: 0, Z: 0}, 1)
	h.Increment(spatial.ChunkKey{Depth: 3, X: 1, Y: 0, Z: 0}, 1)

	blocks := h.Partition()
	require.Len(t, blocks, 2)

	var sawRoot, sawDeep bool
	for _, b := range blocks {
		if b.Root == spatial.RootKey {
			sawRoot = true
			assert.Len(t, b.Entries, 2)
		} else {
			sawDeep = true
			assert.Equal(t, uint32(2), b.Root.Depth)
		}
	}
	assert.True(t, sawRoot)
	assert.True(t, sawDeep)
}

func TestFlushAndReadBlock(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory("test")
	h := hierarchy.New(6)
	k := spatial.ChunkKey{Depth: 1, X: 1, Y: 0, Z: 0}
	h.Increment(k, 5)

	require.NoError(t, h.Flush(ctx, ep, "out", 0))

	block, err := hierarchy.ReadBlock(ctx, ep, "out", spatial.RootKey, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), block[k])
}
