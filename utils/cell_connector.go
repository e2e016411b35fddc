package utils

import (
	"fmt"
)

// CellConnector manages global <-> local cell numbering for a partitioned grid
type CellConnector struct {
	// Grid dimensions
	NumPartitions int
	K             int // Total active cells

	// Input connectivity
	CToP []int // Cell -> partition mapping

	// Partition mappings
	CellsPerPartition []int         // Cells per partition
	GlobalToLocalCell []map[int]int // [partition][globalCell] -> localCell
	LocalToGlobalCell [][]int       // [partition][localCell] -> globalCell
}

// NewCellConnector creates the numbering maps from a cell -> partition assignment
func NewCellConnector(K int, CToP []int) (*CellConnector, error) {
	// Validate inputs
	if K <= 0 {
		return nil, fmt.Errorf("invalid dimensions: K=%d", K)
	}

	if len(CToP) != K {
		return nil, fmt.Errorf("CToP length %d does not match K=%d", len(CToP), K)
	}

	// Determine number of partitions
	numPartitions := 0
	for c, p := range CToP {
		if p < 0 {
			return nil, fmt.Errorf("cell %d has negative partition %d", c, p)
		}
		if p+1 > numPartitions {
			numPartitions = p + 1
		}
	}

	cc := &CellConnector{
		NumPartitions: numPartitions,
		K:             K,
		CToP:          CToP,
	}

	cc.buildPartitionMappings()

	return cc, nil
}

// buildPartitionMappings creates bidirectional mappings between global and local cell numbering
func (cc *CellConnector) buildPartitionMappings() {
	// Count cells per partition
	cc.CellsPerPartition = make([]int, cc.NumPartitions)
	for _, p := range cc.CToP {
		cc.CellsPerPartition[p]++
	}

	// Initialize mapping structures
	cc.GlobalToLocalCell = make([]map[int]int, cc.NumPartitions)
	cc.LocalToGlobalCell = make([][]int, cc.NumPartitions)
	for p := 0; p < cc.NumPartitions; p++ {
		cc.GlobalToLocalCell[p] = make(map[int]int)
		cc.LocalToGlobalCell[p] = make([]int, 0, cc.CellsPerPartition[p])
	}

	// Build mappings
	for globalCell := 0; globalCell < cc.K; globalCell++ {
		partition := cc.CToP[globalCell]
		localCell := len(cc.LocalToGlobalCell[partition])

		cc.GlobalToLocalCell[partition][globalCell] = localCell
		cc.LocalToGlobalCell[partition] = append(cc.LocalToGlobalCell[partition], globalCell)
	}
}

// View returns the numbering seen by one partition
func (cc *CellConnector) View(partition int) *PartitionView {
	return &PartitionView{connector: cc, partition: partition}
}

// PartitionView translates between global and one partition's local numbering
type PartitionView struct {
	connector *CellConnector
	partition int
}

// ToLocal maps a global cell to the partition's local index
func (v *PartitionView) ToLocal(globalCell int) (int, bool) {
	local, ok := v.connector.GlobalToLocalCell[v.partition][globalCell]
	return local, ok
}

// ToGlobal maps a local cell back to its global index
func (v *PartitionView) ToGlobal(localCell int) int {
	return v.connector.LocalToGlobalCell[v.partition][localCell]
}

// NumCells is the number of cells owned by the partition
func (v *PartitionView) NumCells() int {
	return v.connector.CellsPerPartition[v.partition]
}
