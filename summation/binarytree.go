package summation

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/stelzch/binary-tree-summation/comm"
	"github.com/stelzch/binary-tree-summation/indextree"
	"github.com/stelzch/binary-tree-summation/partition"
)

// Roots whose subtrees hold more leaves than this flush the outbox
// before being evaluated, so
// peers blocked on already-computed values are not kept waiting.
const eagerFlushSubtreeSize = 16

// A BinaryTreeSummation is the single-tree reducer: every process
// evaluates the subtree roots whose parents lie on other processes and
// ships each value to the parent's owner through a MessageBuffer;
// boundary subtrees pull the missing remote halves on demand with Get.
//
// It computes bit-identical results to DualTreeSummation. The dual-tree
// schedule is usually preferable because its communication pattern is
// fixed up front; this variant is kept for its much simpler topology
// and as the consumer of the MessageBuffer protocol.
type BinaryTreeSummation struct {
	transport comm.Transport
	part      *partition.Partitioning
	mode      ReduceMode

	n          uint64
	arrayRank  int
	begin, end uint64

	buffer  []float64
	scratch []float64

	// Subtree roots whose parent lies left of begin, ascending. Their
	// subtree sizes strictly grow along the walk.
	rankIntersecting []uint64

	msgBuffer *MessageBuffer
	rootPhys  int
}

var _ Summation = (*BinaryTreeSummation)(nil)

// NewBinaryTree constructs the single-tree reducer.
func NewBinaryTree(t comm.Transport, regions []partition.Region, opts Options) (*BinaryTreeSummation, error) {
	if len(regions) != t.Size() {
		return nil, errors.Errorf(
			"summation: %d regions for %d ranks", len(regions), t.Size())
	}
	part, err := partition.New(regions)
	if err != nil {
		return nil, err
	}
	arrayRank := part.ArrayOrder(t.Rank())
	region := part.Regions()[arrayRank]

	b := &BinaryTreeSummation{
		transport: t,
		part:      part,
		mode:      opts.Mode,
		n:         part.GlobalSize(),
		arrayRank: arrayRank,
		begin:     region.Start,
		end:       region.End(),
		buffer:    make([]float64, region.Size),
		scratch:   make([]float64, region.Size),
		msgBuffer: NewMessageBuffer(t, opts.MaxMessageLength),
		rootPhys:  part.Physical(0),
	}
	if arrayRank != 0 {
		for x := b.begin; x < b.end; x += indextree.SubtreeSize(x) {
			b.rankIntersecting = append(b.rankIntersecting, x)
		}
	}
	klog.V(2).Infof(
		"binarytree rank %d (array %d): region [%d,%d) intersecting %v",
		t.Rank(), arrayRank, b.begin, b.end, b.rankIntersecting)
	return b, nil
}

// Buffer returns the local accumulation buffer.
func (b *BinaryTreeSummation) Buffer() []float64 {
	return b.buffer
}

// Accumulate runs one reduction.
func (b *BinaryTreeSummation) Accumulate() (float64, error) {
	if b.n == 0 {
		return 0, nil
	}
	copy(b.scratch, b.buffer)

	for _, x := range b.rankIntersecting {
		if indextree.SubtreeSize(x) > eagerFlushSubtreeSize {
			// About to do considerable work; clear the outbox so
			// nobody waits on values we already hold.
			if err := b.msgBuffer.Flush(); err != nil {
				return 0, err
			}
		}
		value, err := b.accumulateNode(x)
		if err != nil {
			return 0, err
		}
		owner, err := b.part.RankOf(indextree.Parent(x))
		if err != nil {
			return 0, err
		}
		if err := b.msgBuffer.Put(b.part.Physical(owner), x, value); err != nil {
			return 0, err
		}
	}
	if err := b.msgBuffer.Flush(); err != nil {
		return 0, err
	}
	if err := b.msgBuffer.Wait(); err != nil {
		return 0, err
	}

	var result float64
	if b.arrayRank == 0 {
		var err error
		if result, err = b.accumulateNode(0); err != nil {
			return 0, err
		}
	}

	if b.mode == ReduceBcast {
		var buf [8]byte
		if b.transport.Rank() == b.rootPhys {
			copy(buf[:], comm.EncodeFloat64s([]float64{result}))
		}
		if err := b.transport.Bcast(b.rootPhys, buf[:]); err != nil {
			return 0, errors.Wrap(err, "summation: broadcasting result")
		}
		out := make([]float64, 1)
		comm.DecodeFloat64s(buf[:], out)
		result = out[0]
	}
	return result, nil
}

// accumulateNode evaluates the subtree rooted at x. The largest
// fully-local prefix goes through the vectorizable fast path; each
// taller level then adds the partner subtree, which is either evaluated
// recursively (it starts locally) or fetched from the rank that owns
// it. Fetches happen in ascending index order, matching the order in
// which owners compute and ship their values.
func (b *BinaryTreeSummation) accumulateNode(x uint64) (float64, error) {
	if x&1 == 1 {
		return b.scratch[x-b.begin], nil
	}
	maxY := indextree.MaxHeight(x, b.n)

	yLocal := uint32(0)
	for yLocal+1 <= maxY && indextree.CoverageEnd(x, yLocal+1, b.n) <= b.end {
		yLocal++
	}
	acc := accumulateLocal(b.scratch, b.begin, x, yLocal, b.n)

	for y := yLocal + 1; y <= maxY; y++ {
		partner := x + 1<<uint64(y-1)
		if partner >= b.n {
			continue
		}
		var rhs float64
		var err error
		if partner < b.end {
			rhs, err = b.accumulateNode(partner)
		} else {
			var owner int
			if owner, err = b.part.RankOf(partner); err == nil {
				rhs, err = b.msgBuffer.Get(b.part.Physical(owner), partner)
			}
		}
		if err != nil {
			return 0, err
		}
		acc = acc + rhs
	}
	return acc, nil
}

// Stats returns the MessageBuffer traffic counters.
func (b *BinaryTreeSummation) Stats() MessageStats {
	return b.msgBuffer.Stats()
}

// Close drains any sends still in flight.
func (b *BinaryTreeSummation) Close() error {
	if err := b.msgBuffer.Flush(); err != nil {
		return err
	}
	return b.msgBuffer.Wait()
}
