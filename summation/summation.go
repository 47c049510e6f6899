// Package summation implements distributed, bit-reproducible summation
// of a double-precision array partitioned across processes.
//
// The result of a reduction depends only on the array length and the
// values, never on the number of processes, the partitioning, or
// message timing: every pairwise addition is fixed by the binary index
// tree over global array positions. Two reducers provide this
// guarantee: DualTreeSummation, which compiles a per-process operation
// program ahead of time, and BinaryTreeSummation, which fetches remote
// subtree values on demand through a coalescing MessageBuffer.
// AllreduceSummation is a non-reproducible baseline for comparison.
package summation

import (
	"github.com/pkg/errors"

	"github.com/stelzch/binary-tree-summation/comm"
	"github.com/stelzch/binary-tree-summation/partition"
)

// A ReduceMode selects where the final value becomes visible.
type ReduceMode int

const (
	// ReduceBcast broadcasts the result so Accumulate returns it on
	// every rank.
	ReduceBcast ReduceMode = iota

	// ReduceOnly returns the result on the root rank only; other
	// ranks receive zero.
	ReduceOnly
)

// A Summation reduces a distributed array to a single double.
type Summation interface {
	// Buffer returns the writable array of this process's local
	// elements, at offsets 0 through size-1 of its region.
	Buffer() []float64

	// Accumulate runs one reduction over the current buffer contents.
	// Accumulate never modifies the buffer, so calling it twice in a
	// row returns the same bits.
	Accumulate() (float64, error)

	// Close drains any in-flight sends and releases the object.
	Close() error
}

// Options configure a reducer at construction time.
type Options struct {
	// Mode defaults to ReduceBcast.
	Mode ReduceMode

	// MaxMessageLength caps the entries per coalesced message of the
	// single-tree variant. Zero means DefaultMaxMessageLength.
	MaxMessageLength int
}

// GatherRegions reconstructs the full region table from each rank's
// local element count, assigning ranks to ascending index ranges. This
// is the convenience path for callers that only know their own count.
func GatherRegions(t comm.Transport, localCount uint64) ([]partition.Region, error) {
	counts, err := t.AllgatherUint64(localCount)
	if err != nil {
		return nil, errors.Wrap(err, "summation: gathering element counts")
	}
	regions := make([]partition.Region, len(counts))
	var start uint64
	for i, n := range counts {
		regions[i] = partition.Region{Start: start, Size: n}
		start += n
	}
	return regions, nil
}
