// Package topology derives the communication structure of a
// reproducible reduction from the global index tree and a partitioning.
//
// For each process it computes the subtree roots it can evaluate
// locally, the coordinates it ships to its comm-parent, the comm-parent
// and comm-children edges of the process-level reduction tree, and the
// postfix operation program that assembles its outgoing values from
// local and incoming partial sums.
//
// Everything here is a pure function of (N, regions): every rank
// derives the identical global structure, so only the coordinate values
// themselves ever cross the wire.
package topology

import (
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/stelzch/binary-tree-summation/indextree"
	"github.com/stelzch/binary-tree-summation/partition"
)

// A Coordinate names the subtree of height Y rooted at global index X.
// X must be divisible by 2^Y. The subtree covers the leaves
// [X, min(X+2^Y, N)).
type Coordinate struct {
	X uint64
	Y uint32
}

// A Topology holds one process's view of the reduction structure. It is
// immutable after construction.
type Topology struct {
	n         uint64
	arrayRank int
	part      *partition.Partitioning

	localRoots []Coordinate
	outgoing   []Coordinate

	commParent   int // array order, -1 for the root process
	commChildren []int
}

// New computes the topology for the process at the given array-order
// rank.
//
// The comm tree is derived bottom-up over all ranks: each non-root
// rank's merged coordinate set determines its comm-parent (the owner of
// the tree parent of its topmost outgoing coordinate), and the merged
// set is handed to that parent before the parent itself is processed.
func New(arrayRank int, part *partition.Partitioning) (*Topology, error) {
	n := part.GlobalSize()
	regions := part.Regions()
	p := len(regions)

	t := &Topology{
		n:          n,
		arrayRank:  arrayRank,
		part:       part,
		localRoots: localRoots(regions[arrayRank], n),
		commParent: -1,
	}
	if n == 0 {
		return t, nil
	}

	pending := make([][]Coordinate, p)
	children := make([][]int, p)
	for a := p - 1; a >= 1; a-- {
		coords := insertSorted(localRoots(regions[a], n), pending[a]...)
		merged := mergeCoordinates(coords, n)

		cp := 0
		if len(merged) > 0 {
			// The topmost coordinate is the tallest one; lower
			// trailing coordinates may have parents inside this very
			// region and simply ride along until the values they are
			// missing appear further up the comm tree.
			top := merged[0]
			for _, c := range merged[1:] {
				if c.Y >= top.Y {
					top = c
				}
			}
			dest := indextree.Parent(top.X)
			owner, err := part.RankOf(dest)
			if err != nil {
				return nil, errors.Wrapf(err, "topology: rank %d outgoing destination", a)
			}
			if owner >= a {
				return nil, errors.Errorf(
					"topology: rank %d would send coordinate (%d,%d) to rank %d",
					a, top.X, top.Y, owner)
			}
			cp = owner
		}
		children[cp] = append(children[cp], a)
		pending[cp] = insertSorted(pending[cp], merged...)

		if a == arrayRank {
			t.outgoing = merged
			t.commParent = cp
		}
	}

	// The root must be able to assemble the single global value.
	rootCoords := mergeCoordinates(insertSorted(localRoots(regions[0], n), pending[0]...), n)
	want := Coordinate{X: 0, Y: indextree.RootHeight(n)}
	if len(rootCoords) != 1 || rootCoords[0] != want {
		return nil, errors.Errorf(
			"topology: regions do not reduce to a single root, got %v", rootCoords)
	}
	if arrayRank == 0 {
		t.outgoing = rootCoords
	}

	t.commChildren = children[arrayRank]
	sort.Ints(t.commChildren)

	klog.V(2).Infof(
		"topology rank %d: local=%v outgoing=%v parent=%d children=%v",
		arrayRank, t.localRoots, t.outgoing, t.commParent, t.commChildren)
	return t, nil
}

// localRoots returns the minimal set of fully-owned subtree roots
// covering the region, by a greedy left-to-right walk that always picks
// the tallest coordinate whose (clipped) coverage fits in the region.
func localRoots(r partition.Region, n uint64) []Coordinate {
	var roots []Coordinate
	for x := r.Start; x < r.End(); {
		y := uint32(0)
		for y+1 <= indextree.MaxHeight(x, n) &&
			indextree.CoverageEnd(x, y+1, n) <= r.End() {
			y++
		}
		roots = append(roots, Coordinate{X: x, Y: y})
		x = indextree.CoverageEnd(x, y, n)
	}
	return roots
}

// mergeCoordinates collapses adjacent sibling coordinates until no pair
// can be joined, yielding the maximal subtree decomposition of the
// covered range.
func mergeCoordinates(coords []Coordinate, n uint64) []Coordinate {
	out := append([]Coordinate(nil), coords...)
	for i := 0; i+1 < len(out); {
		if mergeable(out[i], out[i+1], n) {
			out[i].Y++
			out = append(out[:i+1], out[i+2:]...)
			if i > 0 {
				i--
			}
		} else {
			i++
		}
	}
	return out
}

// mergeable reports whether b completes a's sibling, so that both can
// be replaced by their common parent (a.X, a.Y+1).
func mergeable(a, b Coordinate, n uint64) bool {
	if a.Y+1 > indextree.MaxHeight(a.X, n) {
		// a is the right child of its parent; it cannot absorb a
		// right sibling.
		return false
	}
	sibling := a.X + 1<<uint64(a.Y)
	if b.X != sibling {
		return false
	}
	if b.Y == a.Y {
		return true
	}
	// Heights may differ where the array bound clips both to the same
	// leaf range.
	return indextree.CoverageEnd(b.X, b.Y, n) == indextree.CoverageEnd(b.X, a.Y, n)
}

// insertSorted merges extra coordinates into a list sorted by X.
func insertSorted(coords []Coordinate, extra ...Coordinate) []Coordinate {
	out := append(coords, extra...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].X < out[j].X
	})
	return out
}

// N returns the global array size.
func (t *Topology) N() uint64 {
	return t.n
}

// Region returns this process's region.
func (t *Topology) Region() partition.Region {
	return t.part.Regions()[t.arrayRank]
}

// LocalRoots returns the fully-owned subtree roots in ascending order.
func (t *Topology) LocalRoots() []Coordinate {
	return t.localRoots
}

// Outgoing returns the coordinates this process ships to its
// comm-parent, in ascending order. For the root process it holds the
// single global root coordinate.
func (t *Topology) Outgoing() []Coordinate {
	return t.outgoing
}

// IsRoot reports whether this process assembles the final result.
func (t *Topology) IsRoot() bool {
	return t.arrayRank == 0
}

// CommParent returns the array-order rank this process sends its
// outgoing values to, or -1 for the root.
func (t *Topology) CommParent() int {
	return t.commParent
}

// CommChildren returns the array-order ranks this process receives
// from, in ascending order.
func (t *Topology) CommChildren() []int {
	return t.commChildren
}
