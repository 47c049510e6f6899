package indextree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParent(t *testing.T) {
	cases := map[uint64]uint64{
		1: 0, 2: 0, 3: 2, 4: 0, 5: 4, 6: 4, 7: 6, 8: 0,
		12: 8, 13: 12, 20: 16, 96: 64,
	}
	for i, want := range cases {
		assert.Equal(t, want, Parent(i), "parent of %d", i)
	}
	assert.Panics(t, func() { Parent(0) })
}

func TestSubtreeSize(t *testing.T) {
	cases := map[uint64]uint64{
		1: 1, 2: 2, 3: 1, 4: 4, 5: 1, 6: 2, 7: 1, 8: 8, 12: 4,
	}
	for i, want := range cases {
		assert.Equal(t, want, SubtreeSize(i), "subtree size of %d", i)
		assert.Equal(t, i+want-1, LargestDescendant(i))
	}
}

func TestClippedForms(t *testing.T) {
	// Root of a 6-element array spans all of it.
	assert.Equal(t, uint64(5), LargestDescendantN(0, 6))
	assert.Equal(t, uint64(6), SubtreeSizeN(0, 6))
	// Node 4 in a 6-element array only has leaves 4 and 5.
	assert.Equal(t, uint64(5), LargestDescendantN(4, 6))
	assert.Equal(t, uint64(2), SubtreeSizeN(4, 6))
	// Unclipped nodes are unaffected.
	assert.Equal(t, uint64(2), SubtreeSizeN(2, 6))
}

func TestLevelAndRootHeight(t *testing.T) {
	for _, odd := range []uint64{1, 3, 5, 7, 1337} {
		assert.Equal(t, uint32(0), Level(odd))
	}
	assert.Equal(t, uint32(1), Level(2))
	assert.Equal(t, uint32(2), Level(4))
	assert.Equal(t, uint32(3), Level(8))
	assert.Equal(t, uint32(2), Level(12))

	assert.Equal(t, uint32(0), RootHeight(0))
	assert.Equal(t, uint32(0), RootHeight(1))
	assert.Equal(t, uint32(1), RootHeight(2))
	assert.Equal(t, uint32(2), RootHeight(3))
	assert.Equal(t, uint32(2), RootHeight(4))
	assert.Equal(t, uint32(3), RootHeight(5))
	assert.Equal(t, uint32(5), RootHeight(20))
}

func TestCoverageEnd(t *testing.T) {
	assert.Equal(t, uint64(8), CoverageEnd(0, 3, 9))
	assert.Equal(t, uint64(9), CoverageEnd(0, 4, 9))
	assert.Equal(t, uint64(9), CoverageEnd(8, 3, 9))
	assert.Equal(t, uint64(5), CoverageEnd(4, 0, 9))
}

// Every node's parent relation must be consistent with subtree
// containment: a node is inside its parent's subtree.
func TestParentContainsChild(t *testing.T) {
	for i := uint64(1); i < 4096; i++ {
		p := Parent(i)
		if p == 0 {
			continue
		}
		assert.LessOrEqual(t, p, i)
		assert.GreaterOrEqual(t, LargestDescendant(p), LargestDescendant(i))
	}
}
