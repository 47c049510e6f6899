package summation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stelzch/binary-tree-summation/partition"
	"github.com/stelzch/binary-tree-summation/simcomm"
	"github.com/stelzch/binary-tree-summation/simulator"
)

func TestGatherRegions(t *testing.T) {
	loop := simulator.NewEventLoop()
	network := simulator.NewLinkNetwork(1e9, 1e-6)
	counts := []uint64{3, 0, 5}
	simcomm.Spawn(loop, network, 3, func(tr *simcomm.Transport) {
		regions, err := GatherRegions(tr, counts[tr.Rank()])
		assert.NoError(t, err)
		assert.Equal(t, []partition.Region{{Start: 0, Size: 3}, {Start: 3, Size: 0}, {Start: 3, Size: 5}}, regions)
	})
	require.NoError(t, loop.Run())
}

// The count-based constructor path must reach the same result as the
// explicit region table.
func TestGatherRegionsDrivesReduction(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7}
	counts := []uint64{3, 4}
	want := ReferenceTreeSum(values)

	loop := simulator.NewEventLoop()
	network := simulator.NewLinkNetwork(1e9, 1e-6)
	results := make([]float64, 2)
	simcomm.Spawn(loop, network, 2, func(tr *simcomm.Transport) {
		regions, err := GatherRegions(tr, counts[tr.Rank()])
		if !assert.NoError(t, err) {
			return
		}
		s, err := NewDualTree(tr, regions, Options{})
		if !assert.NoError(t, err) {
			return
		}
		r := regions[tr.Rank()]
		copy(s.Buffer(), values[r.Start:r.End()])
		results[tr.Rank()], err = s.Accumulate()
		assert.NoError(t, err)
	})
	require.NoError(t, loop.Run())

	for _, got := range results {
		assert.Equal(t, math.Float64bits(want), math.Float64bits(got))
	}
}

func TestAllreduceBaseline(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	regions := []partition.Region{{Start: 0, Size: 3}, {Start: 3, Size: 3}}

	loop := simulator.NewEventLoop()
	network := simulator.NewLinkNetwork(1e9, 1e-6)
	results := make([]float64, 2)
	simcomm.Spawn(loop, network, 2, func(tr *simcomm.Transport) {
		s := NewAllreduce(tr, regions[tr.Rank()].Size)
		r := regions[tr.Rank()]
		copy(s.Buffer(), values[r.Start:r.End()])
		var err error
		results[tr.Rank()], err = s.Accumulate()
		assert.NoError(t, err)
	})
	require.NoError(t, loop.Run())

	assert.Equal(t, 21.0, results[0])
	assert.Equal(t, results[0], results[1])
}
