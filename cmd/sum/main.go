// Command sum reproducibly sums a file of doubles across a simulated
// cluster.
//
// Usage: sum [flags] <file.psllh|file.binpsllh> <k>
//
// The array is distributed evenly over the simulated processes with
// the remainder on the trailing ranks, and reduced with the dual-tree
// schedule by default; the -reducer flag selects the single-tree or the
// all-reduce reducer instead. With the dual-tree and single-tree
// reducers the result is independent of the process count. k is the
// reduction arity accepted for interface compatibility; the pairing
// is always binary.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/unixpickle/essentials"
	"k8s.io/klog/v2"

	"github.com/stelzch/binary-tree-summation/partition"
	"github.com/stelzch/binary-tree-summation/simcomm"
	"github.com/stelzch/binary-tree-summation/simulator"
	"github.com/stelzch/binary-tree-summation/sumio"
	"github.com/stelzch/binary-tree-summation/summation"
)

const (
	exitArgError  = -1
	exitFileError = -2
)

func main() {
	var numProcs int
	var reducer string
	flag.IntVar(&numProcs, "p", 2, "number of simulated processes")
	flag.StringVar(&reducer, "reducer", "dualtree", "dualtree, binarytree or allreduce")
	klog.InitFlags(nil)
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] file.psllh|file.binpsllh <k>\n", os.Args[0])
		os.Exit(exitArgError)
	}
	k, err := strconv.Atoi(flag.Arg(1))
	if err != nil || k <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid value for k: %s\n", flag.Arg(1))
		os.Exit(exitArgError)
	}
	if numProcs <= 0 {
		fmt.Fprintln(os.Stderr, "Invalid process count")
		os.Exit(exitArgError)
	}

	data, err := sumio.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFileError)
	}
	fmt.Printf("Summing %d summands over %d processes\n", len(data), numProcs)

	regions := distributeEvenly(uint64(len(data)), numProcs)

	loop := simulator.NewEventLoop()
	network := simulator.NewLinkNetwork(1e9, 1e-6)
	results := make([]float64, numProcs)
	errs := make([]error, numProcs)
	simcomm.Spawn(loop, network, numProcs, func(t *simcomm.Transport) {
		var s summation.Summation
		var err error
		switch reducer {
		case "dualtree":
			s, err = summation.NewDualTree(t, regions, summation.Options{})
		case "binarytree":
			s, err = summation.NewBinaryTree(t, regions, summation.Options{})
		case "allreduce":
			s = summation.NewAllreduce(t, regions[t.Rank()].Size)
		default:
			err = fmt.Errorf("unknown reducer %q", reducer)
		}
		if err != nil {
			errs[t.Rank()] = err
			return
		}
		defer s.Close()

		r := regions[t.Rank()]
		copy(s.Buffer(), data[r.Start:r.End()])
		results[t.Rank()], errs[t.Rank()] = s.Accumulate()
	})
	essentials.Must(loop.Run())
	for rank, err := range errs {
		if err != nil {
			essentials.Die(fmt.Sprintf("rank %d: %v", rank, err))
		}
	}

	fmt.Printf("%.32f\n", results[0])
}

// distributeEvenly assigns ⌊n/p⌋ elements per rank with the remainder
// on the trailing ranks.
func distributeEvenly(n uint64, p int) []partition.Region {
	perRank := n / uint64(p)
	remainder := n % uint64(p)

	regions := make([]partition.Region, p)
	var start uint64
	for i := 0; i < p; i++ {
		size := perRank
		if uint64(i) >= uint64(p)-remainder {
			size++
		}
		regions[i] = partition.Region{Start: start, Size: size}
		start += size
	}
	return regions
}
