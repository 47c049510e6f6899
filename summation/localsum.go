package summation

import (
	"github.com/stelzch/binary-tree-summation/indextree"
)

// accumulateLocal reduces the fully-owned subtree of height y rooted at
// global index x to a single double. work holds the process's local
// elements (work[0] is global index begin) and is consumed
// destructively within the subtree's range.
func accumulateLocal(work []float64, begin, x uint64, y uint32, n uint64) float64 {
	if y == 0 {
		// Leaves, odd indices in particular, need no arithmetic.
		return work[x-begin]
	}
	end := indextree.CoverageEnd(x, y, n)
	return reduce8Tree(work[x-begin : x-begin+(end-x)])
}

// reduce8Tree collapses buf to a single value with the index-tree
// pairing order. Each outer pass folds three tree levels at once:
// blocks of eight consecutive values become ((a0+a1)+(a2+a3)) +
// ((a4+a5)+(a6+a7)), mirroring two horizontal-add rounds and a final
// add of a vectorized implementation. The pairing order is load-
// bearing: any other association changes the result at the ulp level.
func reduce8Tree(buf []float64) float64 {
	m := len(buf)
	for m > 1 {
		written := 0
		i := 0
		for ; i+8 <= m; i += 8 {
			s01 := buf[i] + buf[i+1]
			s23 := buf[i+2] + buf[i+3]
			s45 := buf[i+4] + buf[i+5]
			s67 := buf[i+6] + buf[i+7]
			buf[written] = (s01 + s23) + (s45 + s67)
			written++
		}
		if i < m {
			buf[written] = sumRemaining8Tree(buf[i:m])
			written++
		}
		m = written
	}
	return buf[0]
}

// sumRemaining8Tree reduces a ragged tail of fewer than eight values
// through the same three pairing levels as a full block. An unpaired
// element is carried to the next level as-is: zero-padding or
// duplicating it would change the sum.
func sumRemaining8Tree(buf []float64) float64 {
	rem := len(buf)
	for level := 0; level < 3 && rem > 1; level++ {
		written := 0
		for i := 0; i+1 < rem; i += 2 {
			buf[written] = buf[i] + buf[i+1]
			written++
		}
		if rem%2 == 1 {
			buf[written] = buf[rem-1]
			written++
		}
		rem = written
	}
	return buf[0]
}
