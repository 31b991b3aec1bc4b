// Package subset implements the spatial sharding of a build into disjoint
// sub-trees, grounded directly in Entwine's subset.hpp: the global bounds
// are split alternately along X then Y, k times, for of = 4^k shards.
package subset

import (
	"fmt"
	"math/bits"

	"github.com/wkalt/ept/spatial"
)

// Subset is one shard of a sharded build: id in [1,of], of a power of four.
// Internally it tracks the 0-indexed id0 = id-1 used to locate its cell in
// the depth-k Morton quadrant grid, matching the original implementation's
// zero-based id with "primary" at index 0.
type Subset struct {
	id, of uint64
	k      uint32 // of = 4^k

	global spatial.Bounds
	sub    spatial.Bounds // m_sub

	minimumNullDepth uint32
}

// New validates (id, of) and computes the shard's bounds by recursively
// quadrant-splitting global in XY, k times.
func New(global spatial.Bounds, id, of uint64) (*Subset, error) {
	k, ok := log4(of)
	if !ok {
		return nil, fmt.Errorf("subset: of=%d is not a power of four", of)
	}
	if id < 1 || id > of {
		return nil, fmt.Errorf("subset: id=%d out of range [1,%d]", id, of)
	}

	id0 := id - 1
	sub := global
	// Decode id0 as a k-digit base-4 Morton index, peeling off the two
	// highest bits (one X split, one Y split) per level, matching the
	// depth-first quadrant enumeration order used by calcSpans.
	for level := int(k) - 1; level >= 0; level-- {
		shift := uint(level) * 2
		digit := (id0 >> shift) & 0b11
		sub = splitXY(sub, int(digit))
	}

	return &Subset{
		id: id, of: of, k: k,
		global:           global,
		sub:              sub,
		minimumNullDepth: k,
	}, nil
}

// splitXY returns the X/Y quadrant of b selected by digit (bit1=x, bit0=y —
// X is the more significant bit, matching the "alternating X then Y, X
// first" split order), leaving Z untouched: subsets shard the XY plane
// only and build the full Z extent, matching aerial-survey point clouds
// where Z range is shallow relative to the ground footprint.
func splitXY(b spatial.Bounds, digit int) spatial.Bounds {
	mid := b.Mid()
	min, max := b.Min, b.Max
	if digit&2 != 0 {
		min.X = mid.X
	} else {
		max.X = mid.X
	}
	if digit&1 != 0 {
		min.Y = mid.Y
	} else {
		max.Y = mid.Y
	}
	return spatial.Bounds{Min: min, Max: max}
}

func log4(of uint64) (uint32, bool) {
	if of == 0 || bits.OnesCount64(of) != 1 {
		return 0, false
	}
	trailing := bits.TrailingZeros64(of)
	if trailing%2 != 0 {
		return 0, false
	}
	return uint32(trailing / 2), true
}

// ID returns the 1-indexed shard id.
func (s *Subset) ID() uint64 { return s.id }

// Of returns the total shard count.
func (s *Subset) Of() uint64 { return s.of }

// Bounds returns m_sub, the shard's owned region.
func (s *Subset) Bounds() spatial.Bounds { return s.sub }

// Postfix returns the chunk-key suffix this shard's writes use to avoid
// cross-shard collisions during the build.
func (s *Subset) Postfix() string { return fmt.Sprintf("-%d", s.id) }

// Primary reports whether this is shard id 1 (the original's zero-indexed
// id==0), the one shard whose builder tallies invalid and out-of-bounds
// points, so a rejected point is not counted once per shard.
func (s *Subset) Primary() bool { return s.id == 1 }

// MinimumNullDepth is the depth at which this subset's owned region
// begins; above it, no subset build writes anything, the primary shard
// included.
func (s *Subset) MinimumNullDepth() uint32 { return s.k }

// RootKey returns the ChunkKey a builder should start PointKey descent
// from for this subset: depth k, with X/Y set to this shard's grid
// coordinate in the depth-k Morton quadrant grid and Z left at zero,
// since subsets shard only the XY plane and Z is not split above
// MinimumNullDepth. A PointKey seeded with (RootKey, Bounds) continues
// ordinary three-axis octree descent from there.
func (s *Subset) RootKey() spatial.ChunkKey {
	id0 := s.id - 1
	return spatial.ChunkKey{Depth: s.k, X: xIndexAtK(id0, s.k), Y: yIndexAtK(id0, s.k), Z: 0}
}

// MinimumBaseDepth returns the shallowest depth at which a single
// subset-owned cell could plausibly hold pointsPerChunk points without
// needing overflow descent, given this shard covers 1/of of the root
// volume. This is parameter-driven per the original and chosen empirically
// here rather than derived exactly.
func (s *Subset) MinimumBaseDepth(pointsPerChunk int) uint32 {
	d := s.k
	for cellsAtDepth(d) < uint64(pointsPerChunk) {
		d++
	}
	return d
}

func cellsAtDepth(d uint32) uint64 {
	return uint64(1) << (3 * d)
}

// Owns reports whether key's (x, y) position at its own depth falls within
// this shard's region, and its depth is at or below MinimumNullDepth only
// if it is exactly the shard's own cell (shallower keys belong to no
// shard's build).
func (s *Subset) Owns(key spatial.ChunkKey) bool {
	if key.Depth < s.k {
		return false
	}
	shift := key.Depth - s.k
	xlo, xhi := s.xRangeAtDepth(shift)
	ylo, yhi := s.yRangeAtDepth(shift)
	return key.X >= xlo && key.X < xhi && key.Y >= ylo && key.Y < yhi
}

func (s *Subset) xRangeAtDepth(shift uint32) (lo, hi uint64) {
	base := xIndexAtK(s.id-1, s.k)
	lo = base << shift
	hi = (base + 1) << shift
	return
}

func (s *Subset) yRangeAtDepth(shift uint32) (lo, hi uint64) {
	base := yIndexAtK(s.id-1, s.k)
	lo = base << shift
	hi = (base + 1) << shift
	return
}

// xIndexAtK and yIndexAtK decode the X/Y grid coordinate of a depth-k
// Morton index, deinterleaving the 2-bit-per-level digits produced by New.
func xIndexAtK(id0 uint64, k uint32) uint64 {
	var x uint64
	for level := uint32(0); level < k; level++ {
		shift := (k - 1 - level) * 2
		digit := (id0 >> shift) & 0b11
		x = (x << 1) | ((digit >> 1) & 1)
	}
	return x
}

func yIndexAtK(id0 uint64, k uint32) uint64 {
	var y uint64
	for level := uint32(0); level < k; level++ {
		shift := (k - 1 - level) * 2
		digit := (id0 >> shift) & 0b11
		y = (y << 1) | (digit & 1)
	}
	return y
}
