package summation

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/pkg/errors"

	"github.com/stelzch/binary-tree-summation/comm"
	"github.com/stelzch/binary-tree-summation/indextree"
	"github.com/stelzch/binary-tree-summation/partition"
	"github.com/stelzch/binary-tree-summation/simcomm"
	"github.com/stelzch/binary-tree-summation/simulator"
)

// A Factory builds a reproducible reducer for one rank of a cluster.
type Factory func(t comm.Transport, regions []partition.Region) (Summation, error)

// ReferenceTreeSum folds values with the index-tree pairing order in a
// single process. It is the ground truth every distributed reduction
// must match bit for bit.
func ReferenceTreeSum(values []float64) float64 {
	n := uint64(len(values))
	if n == 0 {
		return 0
	}
	var walk func(x uint64, y uint32) float64
	walk = func(x uint64, y uint32) float64 {
		if y == 0 {
			return values[x]
		}
		right := x + 1<<uint64(y-1)
		if right >= n {
			return walk(x, y-1)
		}
		return walk(x, y-1) + walk(right, y-1)
	}
	return walk(0, indextree.RootHeight(n))
}

// RunSummation scatters values over the given regions, runs one
// reduction per rank on a simulated cluster, and returns each rank's
// result.
func RunSummation(factory Factory, regions []partition.Region, values []float64) ([]float64, error) {
	numRanks := len(regions)
	loop := simulator.NewEventLoop()
	network := simulator.NewLinkNetwork(1e9, 1e-6)

	results := make([]float64, numRanks)
	errs := make([]error, numRanks)
	simcomm.Spawn(loop, network, numRanks, func(t *simcomm.Transport) {
		s, err := factory(t, regions)
		if err != nil {
			errs[t.Rank()] = err
			return
		}
		defer s.Close()

		r := regions[t.Rank()]
		copy(s.Buffer(), values[r.Start:r.End()])

		results[t.Rank()], errs[t.Rank()] = s.Accumulate()
	})
	if err := loop.Run(); err != nil {
		return nil, err
	}
	for rank, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "rank %d", rank)
		}
	}
	return results, nil
}

// RunSummationTests runs a battery of cross-partition reproducibility
// tests: for many array lengths, cluster sizes and random
// partitionings, every rank must return the reference sum bit for bit.
func RunSummationTests(t *testing.T, factory Factory) {
	rng := rand.New(rand.NewSource(0x5eed))

	for _, n := range []int{0, 1, 2, 3, 4, 7, 8, 9, 13, 16, 20} {
		values := make([]float64, n)
		for i := range values {
			values[i] = rng.NormFloat64()
		}
		want := ReferenceTreeSum(values)

		for numRanks := 1; numRanks <= 4; numRanks++ {
			testName := fmt.Sprintf("N=%d,P=%d", n, numRanks)
			t.Run(testName, func(t *testing.T) {
				for trial := 0; trial < 8; trial++ {
					regions := RandomRegions(rng, uint64(n), numRanks)
					results, err := RunSummation(factory, regions, values)
					if err != nil {
						t.Fatalf("regions %v: %v", regions, err)
					}
					for rank, got := range results {
						if math.Float64bits(got) != math.Float64bits(want) {
							t.Fatalf("regions %v rank %d: got %x want %x",
								regions, rank, got, want)
						}
					}
				}
			})
		}
	}
}

// RandomRegions partitions [0, n) into numRanks contiguous regions at
// random cut points, then shuffles which rank owns which region so
// that rank order and array order disagree.
func RandomRegions(rng *rand.Rand, n uint64, numRanks int) []partition.Region {
	points := make([]uint64, numRanks+1)
	points[numRanks] = n
	for i := 1; i < numRanks; i++ {
		points[i] = uint64(rng.Int63n(int64(n) + 1))
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })

	regions := make([]partition.Region, numRanks)
	for i := range regions {
		regions[i] = partition.Region{
			Start: points[i],
			Size:  points[i+1] - points[i],
		}
	}
	rng.Shuffle(numRanks, func(i, j int) {
		regions[i], regions[j] = regions[j], regions[i]
	})
	return regions
}
