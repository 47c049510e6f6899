// Package partition maps global array indices to process ranks and back
// for an arbitrary contiguous partitioning of [0, N).
//
// Physical ranks may own regions in any order; the summation core always
// reasons about ranks sorted by their region's start offset (the "array
// order"). This package computes that permutation, its inverse, and the
// owner of any global index.
package partition

import (
	"sort"

	"github.com/pkg/errors"
)

// A Region is a half-open range [Start, Start+Size) of global array
// indices assigned to one process. A Region may be empty; empty regions
// are normalized to carry the sentinel Start = N.
type Region struct {
	Start uint64
	Size  uint64
}

// End returns the exclusive end of the region.
func (r Region) End() uint64 {
	return r.Start + r.Size
}

// A Partitioning holds the normalized regions of all processes together
// with the array-order permutation. It is immutable after construction.
type Partitioning struct {
	globalSize uint64

	// regions is indexed by physical rank, normalized.
	regions []Region

	// rankOrder maps array order -> physical rank;
	// inverseOrder maps physical rank -> array order.
	rankOrder    []int
	inverseOrder []int

	// permuted is indexed by array order.
	permuted []Region
}

// New validates the per-rank regions and computes the array order.
//
// The regions must tile [0, N) exactly, where N is the sum of all
// region sizes; gaps and overlaps are configuration errors. The rank in
// array position 0 must own elements; if the partitioning assigns zero
// elements to the lowest start offset, the first rank that does own
// elements is promoted to the front.
func New(regions []Region) (*Partitioning, error) {
	if len(regions) == 0 {
		return nil, errors.New("partition: no regions")
	}

	var n uint64
	for _, r := range regions {
		n += r.Size
	}

	p := &Partitioning{
		globalSize: n,
		regions:    normalize(regions, n),
	}

	p.rankOrder = computeRankOrder(p.regions)
	if n > 0 && p.regions[p.rankOrder[0]].Size == 0 {
		if err := promoteFirstNonEmpty(p.regions, p.rankOrder); err != nil {
			return nil, err
		}
	}
	p.inverseOrder = make([]int, len(p.rankOrder))
	for a, phys := range p.rankOrder {
		p.inverseOrder[phys] = a
	}
	p.permuted = make([]Region, len(p.rankOrder))
	for a, phys := range p.rankOrder {
		p.permuted[a] = p.regions[phys]
	}

	if err := p.validateTiling(); err != nil {
		return nil, err
	}
	return p, nil
}

func normalize(regions []Region, n uint64) []Region {
	result := make([]Region, len(regions))
	for i, r := range regions {
		if r.Size == 0 {
			result[i] = Region{Start: n}
		} else {
			result[i] = r
		}
	}
	return result
}

func computeRankOrder(regions []Region) []int {
	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	// Stable so that empty regions (all sharing the sentinel start)
	// keep their physical-rank order deterministically.
	sort.SliceStable(order, func(a, b int) bool {
		return regions[order[a]].Start < regions[order[b]].Start
	})
	return order
}

func promoteFirstNonEmpty(regions []Region, order []int) error {
	for i, phys := range order {
		if regions[phys].Size == 0 {
			continue
		}
		if regions[phys].Start != 0 {
			return errors.Errorf(
				"partition: first non-empty region starts at %d, not 0",
				regions[phys].Start)
		}
		order[0], order[i] = order[i], order[0]
		return nil
	}
	return errors.New("partition: empty region at array order 0 and no promotable rank")
}

func (p *Partitioning) validateTiling() error {
	var next uint64
	for a, r := range p.permuted {
		if r.Size == 0 {
			continue
		}
		if r.Start < next {
			return errors.Errorf(
				"partition: regions overlap at index %d (array rank %d)", r.Start, a)
		}
		if r.Start > next {
			return errors.Errorf(
				"partition: gap in [%d, %d) not covered by any region", next, r.Start)
		}
		next = r.End()
	}
	if next != p.globalSize {
		return errors.Errorf(
			"partition: regions cover %d of %d elements", next, p.globalSize)
	}
	return nil
}

// GlobalSize returns N, the total number of array elements.
func (p *Partitioning) GlobalSize() uint64 {
	return p.globalSize
}

// Ranks returns the number of processes.
func (p *Partitioning) Ranks() int {
	return len(p.regions)
}

// Physical translates an array-order position to a physical rank.
func (p *Partitioning) Physical(arrayRank int) int {
	return p.rankOrder[arrayRank]
}

// ArrayOrder translates a physical rank to its array-order position.
func (p *Partitioning) ArrayOrder(physRank int) int {
	return p.inverseOrder[physRank]
}

// Regions returns the normalized regions in array order.
func (p *Partitioning) Regions() []Region {
	return p.permuted
}

// RegionOf returns the normalized region of a physical rank.
func (p *Partitioning) RegionOf(physRank int) Region {
	return p.regions[physRank]
}

// RankOf returns the array-order rank owning global index i.
func (p *Partitioning) RankOf(i uint64) (int, error) {
	if i >= p.globalSize {
		return 0, errors.Errorf("partition: index %d out of range [0, %d)", i, p.globalSize)
	}
	// Upper bound over the permuted start offsets: the owner is the
	// last region starting at or before i. Empty regions sit at the
	// sentinel start N and can never win because i < N.
	a := sort.Search(len(p.permuted), func(a int) bool {
		return p.permuted[a].Start > i
	})
	return a - 1, nil
}
