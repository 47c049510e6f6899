package summation

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/stelzch/binary-tree-summation/comm"
	"github.com/stelzch/binary-tree-summation/partition"
	"github.com/stelzch/binary-tree-summation/topology"
)

// A DualTreeSummation reduces over two nested trees: the index tree
// over array positions fixes every pairwise addition, and a comm tree
// over processes routes partial sums to where they are combined. The
// whole communication schedule is compiled into a postfix operation
// program at construction; Accumulate only executes it.
type DualTreeSummation struct {
	transport comm.Transport
	part      *partition.Partitioning
	topo      *topology.Topology
	prog      *topology.Program
	mode      ReduceMode

	n          uint64
	begin, end uint64

	buffer  []float64
	scratch []float64
	inbox   []float64
	stack   []float64

	// Comm-children that actually transfer values, ascending.
	transferChildren []int // physical ranks
	incomingCounts   []int
	recvBufs         [][]byte
	reqs             []comm.Request

	parentPhys int
	rootPhys   int
}

var _ Summation = (*DualTreeSummation)(nil)

// NewDualTree constructs the reducer and runs the coordinate exchange.
// regions holds each physical rank's (start, size); together they must
// tile the global array exactly.
func NewDualTree(t comm.Transport, regions []partition.Region, opts Options) (*DualTreeSummation, error) {
	if len(regions) != t.Size() {
		return nil, errors.Errorf(
			"summation: %d regions for %d ranks", len(regions), t.Size())
	}
	part, err := partition.New(regions)
	if err != nil {
		return nil, err
	}
	arrayRank := part.ArrayOrder(t.Rank())
	topo, err := topology.New(arrayRank, part)
	if err != nil {
		return nil, err
	}

	region := part.Regions()[arrayRank]
	d := &DualTreeSummation{
		transport: t,
		part:      part,
		topo:      topo,
		mode:      opts.Mode,
		n:         part.GlobalSize(),
		begin:     region.Start,
		end:       region.End(),
		buffer:    make([]float64, region.Size),
		scratch:   make([]float64, region.Size),
		rootPhys:  part.Physical(0),
	}
	if d.n == 0 {
		d.prog = &topology.Program{}
		return d, nil
	}
	if !topo.IsRoot() {
		d.parentPhys = part.Physical(topo.CommParent())
	}

	incoming, err := d.exchangeCoordinates()
	if err != nil {
		return nil, err
	}
	d.prog, err = topo.CompileProgram(incoming)
	if err != nil {
		return nil, err
	}

	totalIncoming := 0
	for _, c := range d.incomingCounts {
		totalIncoming += c
	}
	d.inbox = make([]float64, len(topo.LocalRoots())+totalIncoming)
	d.stack = make([]float64, 0, d.prog.MaxStack)
	d.reqs = make([]comm.Request, 0, len(d.transferChildren))

	klog.V(2).Infof(
		"dualtree rank %d (array %d): region [%d,%d) inbox %d stack %d ops %d",
		t.Rank(), arrayRank, d.begin, d.end, len(d.inbox), d.prog.MaxStack, len(d.prog.Ops))
	return d, nil
}

// exchangeCoordinates receives the advertised coordinates of every
// comm-child in ascending array-rank order, then advertises this
// process's own outgoing set upward. Receiving first is essential: a
// mid-tree process's outgoing set aggregates what its children ship.
func (d *DualTreeSummation) exchangeCoordinates() ([]topology.Coordinate, error) {
	var incoming []topology.Coordinate
	var prevX uint64
	for _, child := range d.topo.CommChildren() {
		phys := d.part.Physical(child)

		var cntBuf [8]byte
		if _, err := d.transport.Recv(phys, comm.TagOutgoingSize, cntBuf[:]); err != nil {
			return nil, errors.Wrapf(err, "summation: coordinate count from rank %d", phys)
		}
		count := comm.Uint64(cntBuf[:])

		buf := make([]byte, count*12)
		status, err := d.transport.Recv(phys, comm.TagOutgoing, buf)
		if err != nil {
			return nil, errors.Wrapf(err, "summation: coordinates from rank %d", phys)
		}
		coords, err := topology.DecodeCoordinates(buf[:status.Count], count)
		if err != nil {
			return nil, err
		}
		for _, c := range coords {
			if len(incoming) > 0 && c.X <= prevX {
				return nil, errors.Errorf(
					"summation: coordinate (%d,%d) from rank %d breaks ascending inbox order",
					c.X, c.Y, phys)
			}
			prevX = c.X
			incoming = append(incoming, c)
		}
		if count > 0 {
			d.transferChildren = append(d.transferChildren, phys)
			d.incomingCounts = append(d.incomingCounts, int(count))
			d.recvBufs = append(d.recvBufs, make([]byte, count*8))
		}
	}

	if !d.topo.IsRoot() {
		out := d.topo.Outgoing()
		if err := d.transport.Send(d.parentPhys, comm.TagOutgoingSize,
			comm.AppendUint64(nil, uint64(len(out)))); err != nil {
			return nil, errors.Wrap(err, "summation: advertising coordinate count")
		}
		if err := d.transport.Send(d.parentPhys, comm.TagOutgoing,
			topology.EncodeCoordinates(out)); err != nil {
			return nil, errors.Wrap(err, "summation: advertising coordinates")
		}
	}
	return incoming, nil
}

// Buffer returns the local accumulation buffer.
func (d *DualTreeSummation) Buffer() []float64 {
	return d.buffer
}

// Accumulate runs one reduction. The result is returned on the root
// and, in ReduceBcast mode, on every rank.
func (d *DualTreeSummation) Accumulate() (float64, error) {
	if d.n == 0 {
		return 0, nil
	}

	// 1. Post receives for the values of all transferring children.
	d.reqs = d.reqs[:0]
	for i, phys := range d.transferChildren {
		req, err := d.transport.Irecv(phys, comm.TagTransfer, d.recvBufs[i])
		if err != nil {
			return 0, errors.Wrapf(err, "summation: posting receive from rank %d", phys)
		}
		d.reqs = append(d.reqs, req)
	}

	// 2. Reduce all fully-local subtrees into the inbox. The scratch
	// copy keeps the caller's buffer intact across calls.
	copy(d.scratch, d.buffer)
	for i, c := range d.topo.LocalRoots() {
		d.inbox[i] = accumulateLocal(d.scratch, d.begin, c.X, c.Y, d.n)
	}

	// 3. Execute the operation program.
	stack, err := d.executeProgram()
	if err != nil {
		return 0, err
	}

	// 4. Ship the outgoing values, ascending by global index.
	var result float64
	if d.topo.IsRoot() {
		if len(stack) != 1 {
			return 0, errors.Errorf(
				"summation: root program left %d values on the stack", len(stack))
		}
		result = stack[0]
	} else if len(stack) > 0 {
		if len(stack) != len(d.topo.Outgoing()) {
			return 0, errors.Errorf(
				"summation: program left %d values for %d outgoing coordinates",
				len(stack), len(d.topo.Outgoing()))
		}
		if err := d.transport.Send(d.parentPhys, comm.TagTransfer,
			comm.EncodeFloat64s(stack)); err != nil {
			return 0, errors.Wrap(err, "summation: sending partial sums")
		}
	}

	// 5. Publish the result.
	if d.mode == ReduceBcast {
		var buf [8]byte
		if d.transport.Rank() == d.rootPhys {
			copy(buf[:], comm.EncodeFloat64s([]float64{result}))
		}
		if err := d.transport.Bcast(d.rootPhys, buf[:]); err != nil {
			return 0, errors.Wrap(err, "summation: broadcasting result")
		}
		out := make([]float64, 1)
		comm.DecodeFloat64s(buf[:], out)
		result = out[0]
	}
	return result, nil
}

// executeProgram runs the postfix token stream against the inbox. A
// PUSH that would read past the confirmed prefix of the inbox first
// waits on the next outstanding receive, so the schedule suspends at
// most once per incoming message group.
func (d *DualTreeSummation) executeProgram() ([]float64, error) {
	stack := d.stack[:0]
	inboxIndex := 0
	nextPending := len(d.topo.LocalRoots())
	reqIndex := 0

	for _, op := range d.prog.Ops {
		switch op {
		case topology.OpPush:
			if inboxIndex >= nextPending {
				if reqIndex >= len(d.reqs) {
					return nil, errors.Errorf(
						"summation: inbox index %d exceeds all received values", inboxIndex)
				}
				status, err := d.transport.Wait(d.reqs[reqIndex])
				if err != nil {
					return nil, errors.Wrap(err, "summation: waiting for partial sums")
				}
				count := d.incomingCounts[reqIndex]
				if status.Count != 8*count {
					return nil, errors.Errorf(
						"summation: rank %d sent %d bytes, expected %d values",
						d.transferChildren[reqIndex], status.Count, count)
				}
				comm.DecodeFloat64s(d.recvBufs[reqIndex][:status.Count],
					d.inbox[nextPending:nextPending+count])
				nextPending += count
				reqIndex++
			}
			stack = append(stack, d.inbox[inboxIndex])
			inboxIndex++
		case topology.OpReduce:
			if len(stack) < 2 {
				return nil, errors.New("summation: reduce on a stack of fewer than two values")
			}
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-1]
			stack[len(stack)-1] = a + b
		}
	}
	if reqIndex != len(d.reqs) {
		return nil, errors.Errorf(
			"summation: program consumed %d of %d child transfers", reqIndex, len(d.reqs))
	}
	return stack, nil
}

// Close drains nothing for the dual-tree reducer: all of its sends are
// completed within Accumulate.
func (d *DualTreeSummation) Close() error {
	return nil
}

// Region returns this process's region of the global array.
func (d *DualTreeSummation) Region() partition.Region {
	return partition.Region{Start: d.begin, Size: d.end - d.begin}
}

// GlobalSize returns N.
func (d *DualTreeSummation) GlobalSize() uint64 {
	return d.n
}
