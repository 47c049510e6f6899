package summation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stelzch/binary-tree-summation/comm"
	"github.com/stelzch/binary-tree-summation/partition"
)

func binaryTreeFactory(t comm.Transport, regions []partition.Region) (Summation, error) {
	return NewBinaryTree(t, regions, Options{})
}

func TestBinaryTreeBattery(t *testing.T) {
	RunSummationTests(t, binaryTreeFactory)
}

// Both reducers implement the same pairing order, so they must agree
// bit for bit on identical inputs and partitionings.
func TestBinaryTreeAgreesWithDualTree(t *testing.T) {
	rng := rand.New(rand.NewSource(77))
	for trial := 0; trial < 20; trial++ {
		n := rng.Intn(40)
		values := make([]float64, n)
		for i := range values {
			values[i] = rng.NormFloat64()
		}
		regions := RandomRegions(rng, uint64(n), 1+rng.Intn(4))

		dual, err := RunSummation(dualTreeFactory, regions, values)
		require.NoError(t, err)
		binary, err := RunSummation(binaryTreeFactory, regions, values)
		require.NoError(t, err)

		assert.Equal(t, math.Float64bits(dual[0]), math.Float64bits(binary[0]),
			"regions %v", regions)
	}
}

// Tiny coalescing buffers force many small messages through the
// protocol without changing the result.
func TestBinaryTreeTinyMessages(t *testing.T) {
	factory := func(t comm.Transport, regions []partition.Region) (Summation, error) {
		return NewBinaryTree(t, regions, Options{MaxMessageLength: 1})
	}

	rng := rand.New(rand.NewSource(3))
	values := make([]float64, 20)
	for i := range values {
		values[i] = rng.NormFloat64()
	}
	want := ReferenceTreeSum(values)

	results, err := RunSummation(factory,
		[]partition.Region{{Start: 0, Size: 3}, {Start: 3, Size: 5}, {Start: 8, Size: 5}, {Start: 13, Size: 7}}, values)
	require.NoError(t, err)
	for _, got := range results {
		assert.Equal(t, math.Float64bits(want), math.Float64bits(got))
	}
}
