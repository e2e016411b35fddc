package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellConnectorMappings(t *testing.T) {
	cToP := []int{0, 1, 0, 2, 1, 0}
	cc, err := NewCellConnector(len(cToP), cToP)
	require.NoError(t, err)

	assert.Equal(t, 3, cc.NumPartitions)
	assert.Equal(t, []int{3, 2, 1}, cc.CellsPerPartition)
	assert.Equal(t, []int{0, 2, 5}, cc.LocalToGlobalCell[0])

	// Round trip every cell through its owner's view
	for global, p := range cToP {
		v := cc.View(p)
		local, ok := v.ToLocal(global)
		require.True(t, ok)
		if got := v.ToGlobal(local); got != global {
			t.Errorf("cell %d: round trip through partition %d gave %d", global, p, got)
		}
	}

	_, ok := cc.View(2).ToLocal(0)
	assert.False(t, ok)
	assert.Equal(t, 2, cc.View(1).NumCells())
}

func TestCellConnectorValidation(t *testing.T) {
	_, err := NewCellConnector(0, nil)
	assert.Error(t, err)
	_, err = NewCellConnector(3, []int{0, 1})
	assert.Error(t, err)
	_, err = NewCellConnector(2, []int{0, -1})
	assert.Error(t, err)
}
