// Package indextree defines the binary reduction tree over the global
// index space [0, N).
//
// Every array element is a leaf, and every index i > 0 doubles as the
// interior node holding the sum of the subtree rooted at i. The parent
// of a node is obtained by clearing its lowest set bit, which makes the
// tree left-perfect for powers of two and right-ragged otherwise. All
// functions here are closed forms over the index; none touch data. The
// pairing of any two siblings is therefore determined solely by their
// indices, which is what makes the summation order reproducible.
package indextree

import "math/bits"

// Parent returns the tree parent of node i.
//
// Parent(0) is undefined; callers must not ask for it.
func Parent(i uint64) uint64 {
	if i == 0 {
		panic("indextree: node 0 has no parent")
	}
	return i & (i - 1)
}

// LargestDescendant returns the largest index inside the subtree rooted
// at node i, ignoring the global array bound.
func LargestDescendant(i uint64) uint64 {
	if i == 0 {
		panic("indextree: use LargestDescendantN for the root")
	}
	return i | (i - 1)
}

// LargestDescendantN is like LargestDescendant but clips the result to
// the global array size n. It is also defined for the root, whose
// subtree spans the entire array.
func LargestDescendantN(i, n uint64) uint64 {
	if i == 0 {
		return n - 1
	}
	if ld := i | (i - 1); ld < n {
		return ld
	}
	return n - 1
}

// SubtreeSize returns the number of leaves under node i, ignoring the
// global array bound. The result is a power of two.
func SubtreeSize(i uint64) uint64 {
	return LargestDescendant(i) + 1 - i
}

// SubtreeSizeN returns the number of leaves under node i that actually
// exist in an array of n elements.
func SubtreeSizeN(i, n uint64) uint64 {
	return LargestDescendantN(i, n) + 1 - i
}

// Level returns the height of node i above the leaf layer, which equals
// the number of trailing zero bits of i. Odd indices are always leaves.
//
// Level(0) is undefined; the root's height depends on N (see RootHeight).
func Level(i uint64) uint32 {
	if i == 0 {
		panic("indextree: level of node 0 depends on N, use RootHeight")
	}
	return uint32(bits.TrailingZeros64(i))
}

// RootHeight returns the height of node 0 in an array of n elements,
// ⌈log₂ n⌉. Arrays of zero or one element have a root of height 0.
func RootHeight(n uint64) uint32 {
	if n <= 1 {
		return 0
	}
	return uint32(bits.Len64(n - 1))
}

// MaxHeight returns the largest valid coordinate height at index x in an
// array of n elements: RootHeight(n) at the root, Level(x) elsewhere.
func MaxHeight(x, n uint64) uint32 {
	if x == 0 {
		return RootHeight(n)
	}
	return Level(x)
}

// CoverageEnd returns the exclusive end of the index range covered by
// the subtree of height y rooted at x, clipped to an array of n
// elements.
func CoverageEnd(x uint64, y uint32, n uint64) uint64 {
	if y >= 64 {
		return n
	}
	end := x + 1<<uint64(y)
	if end > n || end < x {
		return n
	}
	return end
}
