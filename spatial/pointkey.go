package spatial

// PointKey is a ChunkKey paired with the Bounds of that node, used to walk a
// point down the tree one level at a time. Descent is a pure function of the
// point's coordinates: equal points descend to equal keys at equal depths.
type PointKey struct {
	Key    ChunkKey
	Bounds Bounds
}

// NewPointKey returns the PointKey for the root of a tree with the given
// root bounds.
func NewPointKey(root Bounds) PointKey {
	return PointKey{Key: RootKey, Bounds: root}
}

// Step descends one level toward p, returning the octant index taken. The
// caller is expected to have already verified p lies within pk.Bounds;
// Step does not itself validate containment since overflow descent may be
// called many times in sequence for the same point.
func (pk *PointKey) Step(p Point3) int {
	i := pk.Bounds.Octant(p)
	pk.Bounds = pk.Bounds.GetOctant(i)
	pk.Key = pk.Key.Child(i)
	return i
}

// StepXY descends one level toward p, splitting only X and Y and leaving Z
// untouched, for the shared levels of a subset build above the split depth:
// a subset's bounds divide only the XY plane there, keeping the full Z
// extent (see subset.splitXY), so ordinary three-axis Step cannot be used
// until the split depth is reached.
func (pk *PointKey) StepXY(p Point3) int {
	mid := pk.Bounds.Mid()
	digit := 0
	if p.X > mid.X {
		digit |= 1
	}
	if p.Y > mid.Y {
		digit |= 2
	}
	min, max := pk.Bounds.Min, pk.Bounds.Max
	if digit&1 != 0 {
		min.X = mid.X
	} else {
		max.X = mid.X
	}
	if digit&2 != 0 {
		min.Y = mid.Y
	} else {
		max.Y = mid.Y
	}
	pk.Bounds = Bounds{Min: min, Max: max}
	pk.Key = pk.Key.Child(digit)
	return digit
}

// Depth returns the current descent depth.
func (pk PointKey) Depth() uint32 {
	return pk.Key.Depth
}
