package spatial_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wkalt/ept/spatial"
)

func TestPointKeyDescentDeterminism(t *testing.T) {
	root := spatial.NewBounds(spatial.Point3{X: 0, Y: 0, Z: 0}, spatial.Point3{X: 16, Y: 16, Z: 16})
	p := spatial.Point3{X: 1.5, Y: 9.2, Z: 12.1}

	pk1 := spatial.NewPointKey(root)
	for i := 0; i < 4; i++ {
		pk1.Step(p)
	}

	pk2 := spatial.NewPointKey(root)
	for i := 0; i < 4; i++ {
		pk2.Step(p)
	}

	assert.Equal(t, pk1.Key, pk2.Key)
	assert.Equal(t, pk1.Bounds, pk2.Bounds)
}

func TestPointKeyCenterTiebreak(t *testing.T) {
	root := spatial.NewBounds(spatial.Point3{X: 0, Y: 0, Z: 0}, spatial.Point3{X: 16, Y: 16, Z: 16})
	pk := spatial.NewPointKey(root)
	octant := pk.Step(spatial.Point3{X: 8, Y: 8, Z: 8})
	assert.Equal(t, 0, octant)
	assert.Equal(t, uint32(1), pk.Depth())
}
