package partitions

import (
	"sync"
)

// Communicator is the global reduction primitive the well model relies on.
// Every method is collective: all ranks must call it, in the same order.
type Communicator interface {
	Rank() int
	Size() int
	// SumFloat64s returns the element-wise sum of values over all ranks
	SumFloat64s(values []float64) []float64
	// AllGatherStrings returns every rank's values, indexed by rank
	AllGatherStrings(values []string) [][]string
}

// Serial is the single process communicator
type Serial struct{}

func (Serial) Rank() int { return 0 }
func (Serial) Size() int { return 1 }

func (Serial) SumFloat64s(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	return out
}

func (Serial) AllGatherStrings(values []string) [][]string {
	out := make([]string, len(values))
	copy(out, values)
	return [][]string{out}
}

// LocalGroup runs a fixed number of ranks inside one process, each on its own
// goroutine. Rank(i) hands out the communicator for rank i.
type LocalGroup struct {
	size int

	mu         sync.Mutex
	cond       *sync.Cond
	parts      []any
	arrived    int
	generation int
	result     any
}

// NewLocalGroup creates a group of size ranks
func NewLocalGroup(size int) *LocalGroup {
	if size < 1 {
		size = 1
	}
	g := &LocalGroup{size: size, parts: make([]any, size)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Rank returns the communicator of rank r
func (g *LocalGroup) Rank(r int) Communicator {
	if r < 0 || r >= g.size {
		panic("partitions: rank out of range")
	}
	return &localRank{group: g, rank: r}
}

// Size is the number of ranks in the group
func (g *LocalGroup) Size() int { return g.size }

// exchange deposits v for rank and blocks until all ranks have arrived; the
// last rank to arrive computes the shared result.
func (g *LocalGroup) exchange(rank int, v any, reduce func(parts []any) any) any {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.parts[rank] = v
	g.arrived++
	gen := g.generation
	if g.arrived == g.size {
		g.result = reduce(g.parts)
		g.parts = make([]any, g.size)
		g.arrived = 0
		g.generation++
		g.cond.Broadcast()
	} else {
		for gen == g.generation {
			g.cond.Wait()
		}
	}
	return g.result
}

type localRank struct {
	group *LocalGroup
	rank  int
}

func (l *localRank) Rank() int { return l.rank }
func (l *localRank) Size() int { return l.group.size }

func (l *localRank) SumFloat64s(values []float64) []float64 {
	res := l.group.exchange(l.rank, values, func(parts []any) any {
		sum := make([]float64, len(values))
		for _, p := range parts {
			for i, v := range p.([]float64) {
				sum[i] += v
			}
		}
		return sum
	}).([]float64)
	out := make([]float64, len(res))
	copy(out, res)
	return out
}

func (l *localRank) AllGatherStrings(values []string) [][]string {
	res := l.group.exchange(l.rank, values, func(parts []any) any {
		all := make([][]string, len(parts))
		for r, p := range parts {
			vals := p.([]string)
			all[r] = make([]string, len(vals))
			copy(all[r], vals)
		}
		return all
	}).([][]string)
	out := make([][]string, len(res))
	for r := range res {
		out[r] = append([]string(nil), res[r]...)
	}
	return out
}

// CountGlobalCells returns the number of interior cells over all ranks
func CountGlobalCells(comm Communicator, interiorCells int) int {
	return int(comm.SumFloat64s([]float64{float64(interiorCells)})[0])
}

// AnyRank reports whether flag is set on at least one rank
func AnyRank(comm Communicator, flag bool) bool {
	v := 0.0
	if flag {
		v = 1
	}
	return comm.SumFloat64s([]float64{v})[0] > 0
}

// AllRanks reports whether flag is set on every rank
func AllRanks(comm Communicator, flag bool) bool {
	v := 0.0
	if !flag {
		v = 1
	}
	return comm.SumFloat64s([]float64{v})[0] == 0
}
