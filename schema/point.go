package schema

import (
	"math"

	"github.com/wkalt/ept/spatial"
)

// Point is one input record: a 3-D coordinate plus auxiliary dimension
// values, ordered to match a Schema (auxiliary values align to Dims[3:]).
type Point struct {
	X, Y, Z float64
	Aux     []float64
}

// Position returns the point's coordinate as a spatial.Point3.
func (p Point) Position() spatial.Point3 {
	return spatial.Point3{X: p.X, Y: p.Y, Z: p.Z}
}

// IsFinite reports whether the point's coordinates and auxiliary values are
// all finite.
func (p Point) IsFinite() bool {
	if !p.Position().IsFinite() {
		return false
	}
	for _, v := range p.Aux {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
