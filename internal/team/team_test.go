package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexOfAffineMembership(t *testing.T) {
	in := Info{Start: 2, Stride: 3, Size: 4} // PEs 2,5,8,11

	cases := []struct {
		pe   int
		want int
	}{
		{2, 0},
		{5, 1},
		{8, 2},
		{11, 3},
		{0, InvalidPE},  // below start
		{1, InvalidPE},  // below start
		{3, InvalidPE},  // off stride
		{14, InvalidPE}, // past last member
		{12, InvalidPE},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, in.IndexOf(c.pe), "pe=%d", c.pe)
	}
}

func TestSplitValidationOrder(t *testing.T) {
	world := Info{Start: 0, Stride: 1, Size: 8}

	for name, args := range map[string][3]int{
		"negative start":    {-1, 1, 4},
		"start past parent": {8, 1, 4},
		"zero size":         {0, 1, 0},
		"size past parent":  {0, 1, 9},
		"zero stride":       {0, 0, 4},
		"negative stride":   {0, -2, 4},
	} {
		_, err := Split(world, args[0], args[1], args[2], 8)
		assert.ErrorIs(t, err, ErrBadSplit, name)
	}

	// Last member would land outside the world.
	_, err := Split(world, 4, 2, 4, 8) // PEs 4,6,8,10
	assert.ErrorIs(t, err, ErrBadSplit)

	// Largest set that still fits.
	info, err := Split(world, 0, 2, 4, 8) // PEs 0,2,4,6
	require.NoError(t, err)
	assert.Equal(t, Info{Start: 0, Stride: 2, Size: 4}, info)
	assert.Equal(t, 6, info.End())
}

func TestSplitComposesStrides(t *testing.T) {
	world := Info{Start: 0, Stride: 1, Size: 16}

	evens, err := Split(world, 0, 2, 8, 16) // 0,2,..,14
	require.NoError(t, err)

	// Every other even, starting from the second: 2,6,10,14.
	sub, err := Split(evens, 1, 2, 4, 16)
	require.NoError(t, err)
	assert.Equal(t, Info{Start: 2, Stride: 4, Size: 4}, sub)
	assert.Equal(t, 1, sub.IndexOf(6))
	assert.Equal(t, InvalidPE, sub.IndexOf(4))
}

func TestTranslateInvertsDerivation(t *testing.T) {
	world := Info{Start: 0, Stride: 1, Size: 8}
	sub, err := Split(world, 0, 2, 4, 8)
	require.NoError(t, err)

	for i := 0; i < sub.Size; i++ {
		assert.Equal(t, sub.WorldPE(i), Translate(sub, i, world))
	}
	assert.Equal(t, 2, Translate(sub, 1, world))
	assert.Equal(t, InvalidPE, Translate(sub, 4, world))
	assert.Equal(t, InvalidPE, Translate(sub, -1, world))

	// World index 3 has no image among the evens.
	assert.Equal(t, InvalidPE, Translate(world, 3, sub))
	assert.Equal(t, 2, Translate(world, 4, sub))
}

func TestIdenticalSplitIsIsomorphicToParent(t *testing.T) {
	world := Info{Start: 0, Stride: 1, Size: 8}
	copyInfo, err := Split(world, 0, 1, world.Size, 8)
	require.NoError(t, err)

	for i := 0; i < world.Size; i++ {
		assert.Equal(t, i, copyInfo.IndexOf(world.WorldPE(i)))
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tr, err := NewTracker(4, nil) // world + 3 user slots
	require.NoError(t, err)

	assert.Equal(t, 1, tr.Count())
	assert.Equal(t, uint64(0b1110), tr.FreeMask())

	id, err := PickFrom(tr.FreeMask())
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	require.NoError(t, tr.Reserve(id))
	assert.ErrorIs(t, tr.Reserve(id), ErrExhausted)

	require.NoError(t, tr.Reserve(2))
	require.NoError(t, tr.Reserve(3))
	_, err = PickFrom(tr.FreeMask())
	assert.ErrorIs(t, err, ErrExhausted)

	tr.Release(2)
	id, err = PickFrom(tr.FreeMask())
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	assert.ElementsMatch(t, []int{1, 3}, tr.Live())

	// World is never released, unknown IDs are ignored.
	tr.Release(WorldID)
	tr.Release(9)
	assert.Equal(t, 3, tr.Count())
}

func TestPickFromReducedMask(t *testing.T) {
	// Peer A has {1,2,5} free, peer B has {2,3,5}: the agreement is
	// the lowest common bit.
	a := uint64(0b100110)
	b := uint64(0b101100)
	id, err := PickFrom(a & b)
	require.NoError(t, err)
	assert.Equal(t, 2, id)
}
