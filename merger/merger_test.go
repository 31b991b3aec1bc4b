package merger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkalt/ept/builder"
	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/hierarchy"
	"github.com/wkalt/ept/manifest"
	"github.com/wkalt/ept/merger"
	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/source"
	"github.com/wkalt/ept/spatial"
)

func cubeBounds() spatial.Bounds {
	return spatial.NewBounds(spatial.Point3{}, spatial.Point3{X: 16, Y: 16, Z: 16})
}

func pt(x, y, z float64) schema.Point { return schema.Point{X: x, Y: y, Z: z} }

// buildShard runs a real subset build for shard id of four, with points
// confined to its own XY quadrant so the build has no cross-shard overlap
// to reject.
func buildShard(t *testing.T, bounds spatial.Bounds, id, of uint64, points []schema.Point) endpoint.Endpoint {
	t.Helper()
	ctx := context.Background()
	reader := source.NewMemReader("")
	reader.Add("s", points)

	ep := endpoint.NewMemory("shard")
	b, err := builder.New(ctx, ep, "shard", reader, []string{"s"},
		builder.WithGlobalBounds(bounds),
		builder.WithSubset(id, of),
		builder.WithThreads(1),
		builder.WithBuildLogDir(t.TempDir()),
	)
	require.NoError(t, err)
	_, err = b.Run(ctx, []string{"s"})
	require.NoError(t, err)
	return ep
}

// Four shards, each owning one XY quadrant, merge into a single manifest
// whose point count is the sum of all four and whose subset is nil; every
// chunk each shard wrote lands in the merged namespace with its postfix
// stripped.
func TestMergeFourShardsRoundTrip(t *testing.T) {
	ctx := context.Background()
	bounds := cubeBounds()

	quadrantPoints := [][]schema.Point{
		{pt(2, 2, 2), pt(3, 3, 3)},       // id 1: low-X, low-Y
		{pt(2, 10, 2), pt(3, 11, 3)},     // id 2: low-X, high-Y
		{pt(10, 2, 2), pt(11, 3, 3)},     // id 3: high-X, low-Y
		{pt(10, 10, 2), pt(11, 11, 3)},   // id 4: high-X, high-Y
	}

	shards := make([]merger.Shard, 4)
	wantPoints := uint64(0)
	for i, pts := range quadrantPoints {
		id := uint64(i + 1)
		ep := buildShard(t, bounds, id, 4, pts)
		shards[i] = merger.Shard{Endpoint: ep, Prefix: "shard"}
		wantPoints += uint64(len(pts))
	}

	dst := endpoint.NewMemory("merged")
	res, err := merger.Merge(ctx, dst, "merged", shards)
	require.NoError(t, err)

	assert.Equal(t, wantPoints, res.Manifest.Points)
	assert.Nil(t, res.Manifest.Subset)

	keys, err := dst.List(ctx, "merged/ept-data/")
	require.NoError(t, err)
	assert.NotEmpty(t, keys)
	for _, k := range keys {
		assert.NotContains(t, k, "-1.ewck")
		assert.NotContains(t, k, "-2.ewck")
	}
}

// Running Merge twice against the same shards and destination produces the
// same manifest and does not error the second time, since every shard is
// already marked merged.
func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bounds := cubeBounds()

	quadrantPoints := []schema.Point{pt(2, 2, 2), pt(2, 10, 2), pt(10, 2, 2), pt(10, 10, 2)}
	shards := make([]merger.Shard, 4)
	for i, p := range quadrantPoints {
		ep := buildShard(t, bounds, uint64(i+1), 4, []schema.Point{p})
		shards[i] = merger.Shard{Endpoint: ep, Prefix: "shard"}
	}

	dst := endpoint.NewMemory("merged")
	first, err := merger.Merge(ctx, dst, "merged", shards)
	require.NoError(t, err)

	second, err := merger.Merge(ctx, dst, "merged", shards)
	require.NoError(t, err)

	assert.Equal(t, first.Manifest, second.Manifest)
}

// Two shards whose hierarchies both claim the same ChunkKey fail the merge
// with MergeCollisionError: shards are supposed to own disjoint regions.
func TestMergeDetectsCollision(t *testing.T) {
	ctx := context.Background()
	bounds := cubeBounds()
	collidingKey := spatial.ChunkKey{Depth: 1, X: 0, Y: 0, Z: 0}

	epA := endpoint.NewMemory("a")
	writeFakeShard(t, epA, "s", 1, 2, bounds, collidingKey, 3)

	epB := endpoint.NewMemory("b")
	writeFakeShard(t, epB, "s", 2, 2, bounds, collidingKey, 5)

	dst := endpoint.NewMemory("merged")
	_, err := merger.Merge(ctx, dst, "merged", []merger.Shard{
		{Endpoint: epA, Prefix: "s"},
		{Endpoint: epB, Prefix: "s"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, merger.MergeCollisionError{})
}

// A shard set whose manifests claim an `of` larger than the number of
// shards supplied (missing coverage of the claimed id range) is rejected
// before any chunk or hierarchy data is touched.
func TestMergeRejectsIncompleteShardSet(t *testing.T) {
	ctx := context.Background()
	bounds := cubeBounds()

	epA := endpoint.NewMemory("a")
	writeFakeShard(t, epA, "s", 1, 4, bounds, spatial.ChunkKey{Depth: 2, X: 0, Y: 0, Z: 0}, 3)

	dst := endpoint.NewMemory("merged")
	_, err := merger.Merge(ctx, dst, "merged", []merger.Shard{{Endpoint: epA, Prefix: "s"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, merger.ShardMismatchError{})
}

// writeFakeShard hand-writes a manifest and a single hierarchy entry for a
// shard, bypassing the builder entirely, so collision and mismatch tests
// can construct exact scenarios without real point ingestion.
func writeFakeShard(
	t *testing.T,
	ep endpoint.Endpoint,
	prefix string,
	id, of uint64,
	bounds spatial.Bounds,
	key spatial.ChunkKey,
	count uint64,
) {
	t.Helper()
	ctx := context.Background()

	h := hierarchy.New(6)
	h.Set(key, count)
	require.NoError(t, h.Flush(ctx, ep, prefix, id))

	m := manifest.Manifest{
		Schema:        schema.DefaultSchema(),
		Bounds:        bounds,
		Points:        count,
		Span:          256,
		HierarchyStep: 6,
		ChunkCapacity: 20000,
		DataType:      manifest.DataTypeZstandard,
		Version:       "1",
		Subset:        &manifest.SubsetInfo{ID: id, Of: of},
	}
	require.NoError(t, manifest.Write(ctx, ep, prefix, m))
}
