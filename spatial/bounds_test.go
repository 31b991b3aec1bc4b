package spatial_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkalt/ept/spatial"
)

func TestBoundsOctants(t *testing.T) {
	b := spatial.NewBounds(spatial.Point3{X: 0, Y: 0, Z: 0}, spatial.Point3{X: 16, Y: 16, Z: 16})
	require.True(t, b.Valid())

	o0 := b.GetOctant(0)
	assert.Equal(t, spatial.Point3{X: 0, Y: 0, Z: 0}, o0.Min)
	assert.Equal(t, spatial.Point3{X: 8, Y: 8, Z: 8}, o0.Max)

	o7 := b.GetOctant(7)
	assert.Equal(t, spatial.Point3{X: 8, Y: 8, Z: 8}, o7.Min)
	assert.Equal(t, spatial.Point3{X: 16, Y: 16, Z: 16}, o7.Max)
}

func TestOctantLowSideTiebreak(t *testing.T) {
	b := spatial.NewBounds(spatial.Point3{X: 0, Y: 0, Z: 0}, spatial.Point3{X: 16, Y: 16, Z: 16})
	// exact center belongs to the low-side octant on every axis.
	i := b.Octant(spatial.Point3{X: 8, Y: 8, Z: 8})
	assert.Equal(t, 0, i)
}

func TestGrowBy(t *testing.T) {
	b := spatial.NewBounds(spatial.Point3{X: 0, Y: 0, Z: 0}, spatial.Point3{X: 10, Y: 10, Z: 10})
	grown := b.GrowBy(0.1)
	assert.InDelta(t, -0.5, grown.Min.X, 1e-9)
	assert.InDelta(t, 10.5, grown.Max.X, 1e-9)
}

func TestPoint3Finite(t *testing.T) {
	assert.True(t, spatial.Point3{X: 1, Y: 2, Z: 3}.IsFinite())
}
