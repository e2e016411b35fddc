package partitions

import (
	"fmt"
	"math"
)

// PartitionBuilder distributes reservoir cells over processes
type PartitionBuilder struct {
	// Grid description
	NumCells int
	CartDims [3]int // Logical dimensions, required by ColumnPartition
	Global   []int  // Compressed cell -> cartesian index; nil means identity

	// Partitioning parameters
	NumPartitions int
	Strategy      PartitionStrategy
}

// PartitionStrategy defines how cells are grouped
type PartitionStrategy int

const (
	BlockPartition  PartitionStrategy = iota // Consecutive cells
	RoundRobin                               // Distribute cyclically
	ColumnPartition                          // Whole (i,j) columns per partition, keeps vertical wells local
)

// BuildPartitions creates a partition layout
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.NumCells <= 0 {
		return nil, fmt.Errorf("invalid cell count %d", pb.NumCells)
	}
	numPartitions := pb.NumPartitions
	if numPartitions < 1 {
		numPartitions = 1
	}
	if numPartitions > pb.NumCells {
		return nil, fmt.Errorf("%d partitions requested for %d cells", numPartitions, pb.NumCells)
	}

	// Partition the cells
	cToP, err := pb.partitionCells(numPartitions)
	if err != nil {
		return nil, err
	}

	// Create the layout
	layout := &PartitionLayout{
		Partitions:    pb.createPartitions(cToP, numPartitions),
		TotalCells:    pb.NumCells,
		NumPartitions: numPartitions,
		CToP:          cToP,
	}

	// Validate the layout
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}

	return layout, nil
}

// partitionCells assigns cells to partitions
func (pb *PartitionBuilder) partitionCells(numPartitions int) ([]int, error) {
	cToP := make([]int, pb.NumCells)

	switch pb.Strategy {
	case BlockPartition:
		cellsPerPartition := int(math.Ceil(float64(pb.NumCells) / float64(numPartitions)))
		for i := 0; i < pb.NumCells; i++ {
			cToP[i] = i / cellsPerPartition
			if cToP[i] >= numPartitions {
				cToP[i] = numPartitions - 1
			}
		}

	case RoundRobin:
		for i := 0; i < pb.NumCells; i++ {
			cToP[i] = i % numPartitions
		}

	case ColumnPartition:
		nx, ny := pb.CartDims[0], pb.CartDims[1]
		if nx <= 0 || ny <= 0 {
			return nil, fmt.Errorf("column partitioning needs cartesian dimensions, got %v", pb.CartDims)
		}
		numColumns := nx * ny
		columnsPerPartition := int(math.Ceil(float64(numColumns) / float64(numPartitions)))
		for c := 0; c < pb.NumCells; c++ {
			cart := c
			if pb.Global != nil {
				cart = pb.Global[c]
			}
			column := cart % numColumns
			cToP[c] = column / columnsPerPartition
			if cToP[c] >= numPartitions {
				cToP[c] = numPartitions - 1
			}
		}

	default:
		return nil, fmt.Errorf("unknown partition strategy %d", pb.Strategy)
	}

	return cToP, nil
}

// createPartitions builds partition structures from cell assignments
func (pb *PartitionBuilder) createPartitions(cToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	for i := range partitions {
		partitions[i] = Partition{
			ID:    i,
			Cells: make([]int, 0),
		}
	}

	for cell, part := range cToP {
		partitions[part].Cells = append(partitions[part].Cells, cell)
		partitions[part].NumCells++
	}

	return partitions
}
