package summation

import (
	"github.com/pkg/errors"

	"github.com/stelzch/binary-tree-summation/comm"
)

// An AllreduceSummation folds its local elements left to right and
// combines the per-rank sums in rank order at rank 0.
//
// It is deterministic for a fixed cluster size but NOT reproducible
// across different P or partitionings; it exists as a baseline for
// benchmarks and tests, never as a default.
type AllreduceSummation struct {
	transport comm.Transport
	buffer    []float64
}

var _ Summation = (*AllreduceSummation)(nil)

// NewAllreduce constructs the baseline reducer for localSize elements.
func NewAllreduce(t comm.Transport, localSize uint64) *AllreduceSummation {
	return &AllreduceSummation{
		transport: t,
		buffer:    make([]float64, localSize),
	}
}

// Buffer returns the local accumulation buffer.
func (a *AllreduceSummation) Buffer() []float64 {
	return a.buffer
}

// Accumulate returns the combined sum on every rank.
func (a *AllreduceSummation) Accumulate() (float64, error) {
	var local float64
	for _, v := range a.buffer {
		local += v
	}

	var result [8]byte
	if a.transport.Rank() == 0 {
		sum := local
		buf := make([]byte, 8)
		val := make([]float64, 1)
		for r := 1; r < a.transport.Size(); r++ {
			if _, err := a.transport.Recv(r, comm.TagTransfer, buf); err != nil {
				return 0, errors.Wrapf(err, "summation: local sum of rank %d", r)
			}
			comm.DecodeFloat64s(buf, val)
			sum += val[0]
		}
		copy(result[:], comm.EncodeFloat64s([]float64{sum}))
	} else {
		if err := a.transport.Send(0, comm.TagTransfer, comm.EncodeFloat64s([]float64{local})); err != nil {
			return 0, errors.Wrap(err, "summation: sending local sum")
		}
	}

	if err := a.transport.Bcast(0, result[:]); err != nil {
		return 0, errors.Wrap(err, "summation: broadcasting result")
	}
	out := make([]float64, 1)
	comm.DecodeFloat64s(result[:], out)
	return out[0], nil
}

// Close is a no-op.
func (a *AllreduceSummation) Close() error {
	return nil
}
