package manifest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/manifest"
	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/source"
	"github.com/wkalt/ept/spatial"
)

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory("test")

	m := manifest.Manifest{
		Schema:        schema.DefaultSchema(),
		Bounds:        spatial.NewBounds(spatial.Point3{}, spatial.Point3{X: 16, Y: 16, Z: 16}),
		Points:        8,
		Span:          16,
		HierarchyStep: 6,
		ChunkCapacity: 4,
		DataType:      manifest.DataTypeZstandard,
		Version:       "0.1.0",
		Sources: []source.Source{
			{Path: "b.las", Status: source.StatusInserted},
			{Path: "a.las", Status: source.StatusInserted},
		},
	}

	require.NoError(t, manifest.Write(ctx, ep, "out", m))

	got, err := manifest.Read(ctx, ep, "out")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), got.Points)
	require.Len(t, got.Sources, 2)
	assert.Equal(t, "a.las", got.Sources[0].Path, "sources are written in sorted order")
}
