// Package spatial implements the addressing primitives of the octree: axis
// aligned Bounds, the depth/position ChunkKey that names a node, and the
// PointKey descent that locates a point within the tree.
package spatial

import (
	"fmt"
	"math"
)

// Point3 is a 3-D coordinate triple.
type Point3 struct {
	X, Y, Z float64
}

func (p Point3) String() string {
	return fmt.Sprintf("(%g,%g,%g)", p.X, p.Y, p.Z)
}

// IsFinite reports whether all three components are non-NaN, non-Inf.
func (p Point3) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) &&
		!math.IsNaN(p.Z) && !math.IsInf(p.Z, 0)
}

// Bounds is an axis-aligned box [Min.X,Max.X] x [Min.Y,Max.Y] x [Min.Z,Max.Z].
// The zero value is not meaningful; construct with NewBounds.
type Bounds struct {
	Min, Max Point3
}

// NewBounds constructs a Bounds, swapping components so Min <= Max
// componentwise.
func NewBounds(min, max Point3) Bounds {
	if min.X > max.X {
		min.X, max.X = max.X, min.X
	}
	if min.Y > max.Y {
		min.Y, max.Y = max.Y, min.Y
	}
	if min.Z > max.Z {
		min.Z, max.Z = max.Z, min.Z
	}
	return Bounds{Min: min, Max: max}
}

// Valid reports whether Min <= Max on every axis.
func (b Bounds) Valid() bool {
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z
}

// Mid returns the bounds' midpoint.
func (b Bounds) Mid() Point3 {
	return Point3{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Contains reports whether p lies within the closed box.
func (b Bounds) Contains(p Point3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// GrowBy expands the box symmetrically around its center by factor (e.g.
// 0.01 grows each side by 1%, split evenly on both ends).
func (b Bounds) GrowBy(factor float64) Bounds {
	mid := b.Mid()
	halfX := (b.Max.X - b.Min.X) / 2 * (1 + factor)
	halfY := (b.Max.Y - b.Min.Y) / 2 * (1 + factor)
	halfZ := (b.Max.Z - b.Min.Z) / 2 * (1 + factor)
	return Bounds{
		Min: Point3{mid.X - halfX, mid.Y - halfY, mid.Z - halfZ},
		Max: Point3{mid.X + halfX, mid.Y + halfY, mid.Z + halfZ},
	}
}

// Cube returns the smallest cube centered on b's midpoint that contains b,
// used to derive the root bounds from source stats so that every depth
// divides evenly into cubic octants.
func (b Bounds) Cube() Bounds {
	mid := b.Mid()
	half := math.Max(b.Max.X-b.Min.X, math.Max(b.Max.Y-b.Min.Y, b.Max.Z-b.Min.Z)) / 2
	return Bounds{
		Min: Point3{mid.X - half, mid.Y - half, mid.Z - half},
		Max: Point3{mid.X + half, mid.Y + half, mid.Z + half},
	}
}

// Octant indices: bit 0 = x, bit 1 = y, bit 2 = z. Bit set means the upper
// half of that axis.
const (
	OctantLowLowLow = iota
	OctantHighLowLow
	OctantLowHighLow
	OctantHighHighLow
	OctantLowLowHigh
	OctantHighLowHigh
	OctantLowHighHigh
	OctantHighHighHigh
)

// GetOctant returns one of the eight equal sub-boxes of b, selected by i in
// [0,8).
func (b Bounds) GetOctant(i int) Bounds {
	mid := b.Mid()
	min, max := b.Min, b.Max
	if i&1 != 0 {
		min.X = mid.X
	} else {
		max.X = mid.X
	}
	if i&2 != 0 {
		min.Y = mid.Y
	} else {
		max.Y = mid.Y
	}
	if i&4 != 0 {
		min.Z = mid.Z
	} else {
		max.Z = mid.Z
	}
	return Bounds{Min: min, Max: max}
}

// Octant returns the index i in [0,8) of the octant of b containing p, using
// the low-side tie-break: a point exactly on the midpoint of an axis is
// assigned to the low (bit unset) side of that axis.
func (b Bounds) Octant(p Point3) int {
	mid := b.Mid()
	i := 0
	if p.X > mid.X {
		i |= 1
	}
	if p.Y > mid.Y {
		i |= 2
	}
	if p.Z > mid.Z {
		i |= 4
	}
	return i
}
