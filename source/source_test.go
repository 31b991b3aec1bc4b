package source_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/source"
	"github.com/wkalt/ept/spatial"
)

func TestMemReaderRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := source.NewMemReader("EPSG:4326")
	points := []schema.Point{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}}
	r.Add("a.las", points)

	info, err := r.Info(ctx, "a.las")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Points)

	h, err := r.Open(ctx, "a.las", 0)
	require.NoError(t, err)
	defer h.Close()

	batch, err := h.NextBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = h.NextBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 1)

	batch, err = h.NextBatch(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestInfoMerge(t *testing.T) {
	b0 := spatial.NewBounds(spatial.Point3{}, spatial.Point3{X: 1, Y: 1, Z: 1})
	a := source.Info{Points: 2, Bounds: b0}
	b := source.Info{Points: 3, Bounds: b0}
	a.Merge(b)
	assert.Equal(t, uint64(5), a.Points)
}
