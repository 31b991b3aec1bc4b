package subset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkalt/ept/spatial"
	"github.com/wkalt/ept/subset"
)

func globalBounds() spatial.Bounds {
	return spatial.NewBounds(spatial.Point3{X: 0, Y: 0, Z: 0}, spatial.Point3{X: 16, Y: 16, Z: 16})
}

// E4: Subset{of:4, id:3} of [0,0,0]-[16,16,16] has m_sub = [8,0,0]-[16,8,16],
// minimumNullDepth = 1.
func TestE4SubsetBounds(t *testing.T) {
	s, err := subset.New(globalBounds(), 3, 4)
	require.NoError(t, err)

	want := spatial.NewBounds(spatial.Point3{X: 8, Y: 0, Z: 0}, spatial.Point3{X: 16, Y: 8, Z: 16})
	assert.Equal(t, want, s.Bounds())
	assert.Equal(t, uint32(1), s.MinimumNullDepth())
}

func TestRejectsNonPowerOfFour(t *testing.T) {
	_, err := subset.New(globalBounds(), 1, 3)
	require.Error(t, err)
}

func TestRejectsOutOfRangeID(t *testing.T) {
	_, err := subset.New(globalBounds(), 5, 4)
	require.Error(t, err)
	_, err = subset.New(globalBounds(), 0, 4)
	require.Error(t, err)
}

// Invariant 6: subset coverage. Union of calcSpans outputs over all
// id in [1..of] equals the full set of keys at each depth.
func TestSubsetCoverage(t *testing.T) {
	const of = uint64(16) // k=2
	const depthEnd = uint32(5)

	covered := map[uint32]map[uint64]bool{}
	for id := uint64(1); id <= of; id++ {
		s, err := subset.New(globalBounds(), id, of)
		require.NoError(t, err)
		for d, span := range s.CalcSpans(depthEnd) {
			depth := s.MinimumNullDepth() + uint32(d)
			if covered[depth] == nil {
				covered[depth] = map[uint64]bool{}
			}
			for m := span.Begin; m < span.End; m++ {
				require.False(t, covered[depth][m], "depth %d position %d claimed by more than one shard", depth, m)
				covered[depth][m] = true
			}
		}
	}

	for d := uint32(2); d < depthEnd; d++ {
		expected := uint64(1) << (2 * (d))
		assert.Len(t, covered[d], int(expected), "depth %d should have full 2D morton coverage", d)
	}
}

func TestSpanUpAndMerge(t *testing.T) {
	a := subset.Span{Begin: 0, End: 4}
	b := subset.Span{Begin: 4, End: 8}
	require.NoError(t, a.Merge(b))
	assert.Equal(t, subset.Span{Begin: 0, End: 8}, a)

	a.Up()
	assert.Equal(t, subset.Span{Begin: 0, End: 2}, a)

	bad := subset.Span{Begin: 0, End: 1}
	require.Error(t, bad.Merge(subset.Span{Begin: 5, End: 9}))
}
