// Command bench_summation compares the reducers' virtual completion
// times over a range of cluster shapes, printing a Markdown table.
package main

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/unixpickle/essentials"

	"github.com/stelzch/binary-tree-summation/comm"
	"github.com/stelzch/binary-tree-summation/partition"
	"github.com/stelzch/binary-tree-summation/simcomm"
	"github.com/stelzch/binary-tree-summation/simulator"
	"github.com/stelzch/binary-tree-summation/summation"
)

// RunInfo describes one simulated cluster configuration.
type RunInfo struct {
	NumProcs int
	Latency  float64
	Rate     float64
}

// Run reduces size elements over the cluster and returns the virtual
// time the reduction took.
func (r *RunInfo) Run(size int, factory func(t comm.Transport, regions []partition.Region) (summation.Summation, error)) float64 {
	rng := rand.New(rand.NewSource(42))
	values := make([]float64, size)
	for i := range values {
		values[i] = rng.NormFloat64()
	}
	regions := evenRegions(uint64(size), r.NumProcs)

	loop := simulator.NewEventLoop()
	network := simulator.NewLinkNetwork(r.Rate, r.Latency)
	simcomm.Spawn(loop, network, r.NumProcs, func(t *simcomm.Transport) {
		s, err := factory(t, regions)
		essentials.Must(err)
		defer s.Close()
		reg := regions[t.Rank()]
		copy(s.Buffer(), values[reg.Start:reg.End()])
		_, err = s.Accumulate()
		essentials.Must(err)
	})
	essentials.Must(loop.Run())
	return loop.Time()
}

func evenRegions(n uint64, p int) []partition.Region {
	regions := make([]partition.Region, p)
	per := n / uint64(p)
	rem := n % uint64(p)
	var start uint64
	for i := range regions {
		size := per
		if uint64(i) < rem {
			size++
		}
		regions[i] = partition.Region{Start: start, Size: size}
		start += size
	}
	return regions
}

func main() {
	factories := map[string]func(t comm.Transport, regions []partition.Region) (summation.Summation, error){
		"DualTree": func(t comm.Transport, regions []partition.Region) (summation.Summation, error) {
			return summation.NewDualTree(t, regions, summation.Options{})
		},
		"BinaryTree": func(t comm.Transport, regions []partition.Region) (summation.Summation, error) {
			return summation.NewBinaryTree(t, regions, summation.Options{})
		},
		"Allreduce": func(t comm.Transport, regions []partition.Region) (summation.Summation, error) {
			return summation.NewAllreduce(t, regions[t.Rank()].Size), nil
		},
	}
	names := []string{"DualTree", "BinaryTree", "Allreduce"}

	runs := []RunInfo{
		{NumProcs: 2, Latency: 1e-4, Rate: 1e6},
		{NumProcs: 8, Latency: 1e-4, Rate: 1e6},
		{NumProcs: 8, Latency: 1e-3, Rate: 1e9},
		{NumProcs: 32, Latency: 1e-4, Rate: 1e9},
	}
	sizes := []int{100, 100000, 1000000}

	fmt.Print("| Procs | Latency | Rate | Size ")
	for _, name := range names {
		fmt.Printf("| %s ", name)
	}
	fmt.Println("|")
	for i := 0; i < 4+len(names); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	for _, runInfo := range runs {
		for _, size := range sizes {
			fmt.Printf(
				"| %d | %s | %s/s | %s ",
				runInfo.NumProcs,
				strconv.FormatFloat(runInfo.Latency, 'E', -1, 64),
				humanize.Bytes(uint64(runInfo.Rate)),
				humanize.Comma(int64(size)),
			)
			for _, name := range names {
				fmt.Printf("| %f ", runInfo.Run(size, factories[name]))
			}
			fmt.Println("|")
		}
	}
}
