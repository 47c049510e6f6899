package topology

import (
	"github.com/pkg/errors"

	"github.com/stelzch/binary-tree-summation/indextree"
)

// An Op is one token of the operation program.
type Op byte

const (
	// OpPush takes the next value from the inbox and pushes it.
	OpPush Op = iota

	// OpReduce pops two values b then a and pushes a+b.
	OpReduce
)

// A Program reduces interleaved local and incoming partial sums in a
// fixed order. Executing Ops against the inbox leaves the outgoing
// values on the stack in ascending global-index order.
type Program struct {
	Ops []Op

	// Outgoing is the merged coordinate set the stack holds after
	// execution.
	Outgoing []Coordinate

	// MaxStack is the largest stack depth the program reaches.
	MaxStack int
}

// CompileProgram builds the operation program for this process given
// the coordinates advertised by its comm-children.
//
// The program is a depth-first left-to-right traversal of the index
// tree restricted to the union of local-root subtrees and incoming
// coordinates: every leaf of the walk is a PUSH, every interior node a
// REDUCE after both children. PUSH consumption order equals ascending
// coordinate order, which is exactly how the driver lays out its inbox.
func (t *Topology) CompileProgram(incoming []Coordinate) (*Program, error) {
	inputs := insertSorted(append([]Coordinate(nil), t.localRoots...), incoming...)
	merged := mergeCoordinates(inputs, t.n)

	if t.IsRoot() && t.n > 0 {
		want := Coordinate{X: 0, Y: indextree.RootHeight(t.n)}
		if len(merged) != 1 || merged[0] != want {
			return nil, errors.Errorf(
				"topology: root cannot assemble global sum from %v", inputs)
		}
	}
	if len(t.outgoing) != len(merged) {
		return nil, errors.Errorf(
			"topology: advertised coordinates %v do not merge to the expected set %v",
			inputs, t.outgoing)
	}
	for i, c := range merged {
		if c != t.outgoing[i] {
			return nil, errors.Errorf(
				"topology: merged coordinate %v differs from expected %v", c, t.outgoing[i])
		}
	}

	prog := &Program{Outgoing: merged}
	for _, root := range merged {
		if err := prog.emit(root.X, root.Y, inputs, t.n); err != nil {
			return nil, err
		}
	}

	depth, max := 0, 0
	for _, op := range prog.Ops {
		if op == OpPush {
			depth++
		} else {
			depth--
		}
		if depth > max {
			max = depth
		}
	}
	prog.MaxStack = max
	return prog, nil
}

func (p *Program) emit(x uint64, y uint32, inputs []Coordinate, n uint64) error {
	if i := findCoordinate(inputs, x); i >= 0 {
		c := inputs[i]
		walkEnd := indextree.CoverageEnd(x, y, n)
		inputEnd := indextree.CoverageEnd(c.X, c.Y, n)
		if inputEnd == walkEnd {
			p.Ops = append(p.Ops, OpPush)
			return nil
		}
		if inputEnd > walkEnd {
			return errors.Errorf(
				"topology: input coordinate (%d,%d) exceeds walk node (%d,%d)",
				c.X, c.Y, x, y)
		}
		// The input is a descendant rooted at the same index; keep
		// descending along the left spine.
	}
	if y == 0 {
		return errors.Errorf(
			"topology: leaf (%d,0) of the reduction walk has no input value", x)
	}
	right := x + 1<<uint64(y-1)
	if right >= n {
		// The right half is clipped away entirely; the node's value
		// is its left child's.
		return p.emit(x, y-1, inputs, n)
	}
	if err := p.emit(x, y-1, inputs, n); err != nil {
		return err
	}
	if err := p.emit(right, y-1, inputs, n); err != nil {
		return err
	}
	p.Ops = append(p.Ops, OpReduce)
	return nil
}

func findCoordinate(sorted []Coordinate, x uint64) int {
	lo, hi := 0, len(sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		if sorted[mid].X < x {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(sorted) && sorted[lo].X == x {
		return lo
	}
	return -1
}
