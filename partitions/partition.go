package partitions

import (
	"fmt"
	"math"
)

// Partition is the set of reservoir cells owned by one process
type Partition struct {
	// Unique identifier for this partition, equal to the owning rank
	ID int

	// Cell membership
	Cells    []int // Global cell indices in this partition, ascending
	NumCells int   // Number of owned (interior) cells
}

// PartitionLayout manages the complete decomposition of the grid
type PartitionLayout struct {
	// All partitions of the grid
	Partitions []Partition

	// Global sizing information
	TotalCells    int // Sum of owned cells across partitions
	NumPartitions int // Total number of partitions

	// Cell to partition mapping
	CToP []int // Length TotalCells: cell c belongs to partition CToP[c]
}

// GetPartition returns the partition owning cell c
func (pl *PartitionLayout) GetPartition(cell int) int {
	if cell < 0 || cell >= len(pl.CToP) {
		return -1
	}
	return pl.CToP[cell]
}

// Owns reports whether partition p owns cell c
func (pl *PartitionLayout) Owns(p, cell int) bool {
	return pl.GetPartition(cell) == p
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.CToP) != pl.TotalCells {
		return fmt.Errorf("CToP length %d != TotalCells %d", len(pl.CToP), pl.TotalCells)
	}
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("%d partitions stored, NumPartitions %d", len(pl.Partitions), pl.NumPartitions)
	}

	// Every cell is owned exactly once
	total := 0
	for _, p := range pl.Partitions {
		if p.NumCells != len(p.Cells) {
			return fmt.Errorf("partition %d: NumCells %d != len(Cells) %d", p.ID, p.NumCells, len(p.Cells))
		}
		for _, c := range p.Cells {
			if pl.GetPartition(c) != p.ID {
				return fmt.Errorf("partition %d lists cell %d owned by %d", p.ID, c, pl.GetPartition(c))
			}
		}
		total += p.NumCells
	}
	if total != pl.TotalCells {
		return fmt.Errorf("partitions hold %d cells, expected %d", total, pl.TotalCells)
	}
	return nil
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinCells:      math.MaxInt32,
		MaxCells:      0,
		AvgCells:      float64(pl.TotalCells) / float64(pl.NumPartitions),
	}

	for _, p := range pl.Partitions {
		if p.NumCells < stats.MinCells {
			stats.MinCells = p.NumCells
		}
		if p.NumCells > stats.MaxCells {
			stats.MaxCells = p.NumCells
		}
	}

	stats.Imbalance = float64(stats.MaxCells) / stats.AvgCells

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinCells      int
	MaxCells      int
	AvgCells      float64
	Imbalance     float64 // MaxCells / AvgCells
}
