// Package grid describes the reservoir grid geometry the well model reads:
// logical dimensions, the compressed to cartesian cell map, face centroids
// and cell depths. CartesianGrid is a regular box grid implementing Grid.
package grid

import (
	"fmt"
	"math"
)

// Grid is the geometry collaborator
type Grid interface {
	NumCells() int
	CartDims() [3]int
	// GlobalCell maps a compressed (active) cell index to its cartesian index
	GlobalCell(cell int) int
	CellFaces(cell int) []int
	FaceCentroid(face int) [3]float64
	CellCenterDepth(cell int) float64
	CellVolume(cell int) float64
}

// CartesianIndex is the logical index of (i, j, k) for dims
func CartesianIndex(dims [3]int, i, j, k int) int {
	return i + dims[0]*(j+dims[1]*k)
}

// CartesianToCompressed builds the cartesian -> compressed cell map
func CartesianToCompressed(g Grid) map[int]int {
	m := make(map[int]int, g.NumCells())
	for c := 0; c < g.NumCells(); c++ {
		m[g.GlobalCell(c)] = c
	}
	return m
}

// CubeDims returns the extent of cell along x, y and z, measured between the
// outermost face centroids in each direction.
func CubeDims(g Grid, cell int) [3]float64 {
	var lo, hi [3]float64
	for d := 0; d < 3; d++ {
		lo[d] = math.Inf(1)
		hi[d] = math.Inf(-1)
	}
	for _, f := range g.CellFaces(cell) {
		c := g.FaceCentroid(f)
		for d := 0; d < 3; d++ {
			lo[d] = math.Min(lo[d], c[d])
			hi[d] = math.Max(hi[d], c[d])
		}
	}
	var cube [3]float64
	for d := 0; d < 3; d++ {
		cube[d] = hi[d] - lo[d]
	}
	return cube
}

const facesPerCell = 6

// CartesianGrid is a regular box grid with optional inactive cells. Depth
// increases with k; cell (i,j,0) has its top at TopDepth.
type CartesianGrid struct {
	Dims     [3]int
	CellSize [3]float64 // dx, dy, dz
	TopDepth float64

	global []int // compressed -> cartesian
}

// NewCartesian builds a grid; active may be nil (all cells active) or hold
// one flag per cartesian cell.
func NewCartesian(dims [3]int, cellSize [3]float64, topDepth float64, active []bool) (*CartesianGrid, error) {
	n := dims[0] * dims[1] * dims[2]
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 {
		return nil, fmt.Errorf("invalid dimensions %v", dims)
	}
	for d, s := range cellSize {
		if s <= 0 {
			return nil, fmt.Errorf("cell size %d must be positive, got %g", d, s)
		}
	}
	if active != nil && len(active) != n {
		return nil, fmt.Errorf("active flags length %d does not match %d cells", len(active), n)
	}
	g := &CartesianGrid{Dims: dims, CellSize: cellSize, TopDepth: topDepth}
	for c := 0; c < n; c++ {
		if active == nil || active[c] {
			g.global = append(g.global, c)
		}
	}
	return g, nil
}

func (g *CartesianGrid) NumCells() int           { return len(g.global) }
func (g *CartesianGrid) CartDims() [3]int        { return g.Dims }
func (g *CartesianGrid) GlobalCell(cell int) int { return g.global[cell] }

// IJK returns the logical coordinates of a compressed cell
func (g *CartesianGrid) IJK(cell int) (i, j, k int) {
	cart := g.global[cell]
	i = cart % g.Dims[0]
	j = (cart / g.Dims[0]) % g.Dims[1]
	k = cart / (g.Dims[0] * g.Dims[1])
	return
}

// CellFaces returns the six faces of cell, ordered -x, +x, -y, +y, -z, +z
func (g *CartesianGrid) CellFaces(cell int) []int {
	faces := make([]int, facesPerCell)
	for f := range faces {
		faces[f] = cell*facesPerCell + f
	}
	return faces
}

func (g *CartesianGrid) center(cell int) [3]float64 {
	i, j, k := g.IJK(cell)
	return [3]float64{
		(float64(i) + 0.5) * g.CellSize[0],
		(float64(j) + 0.5) * g.CellSize[1],
		g.TopDepth + (float64(k)+0.5)*g.CellSize[2],
	}
}

func (g *CartesianGrid) FaceCentroid(face int) [3]float64 {
	cell, f := face/facesPerCell, face%facesPerCell
	c := g.center(cell)
	d := f / 2
	if f%2 == 0 {
		c[d] -= 0.5 * g.CellSize[d]
	} else {
		c[d] += 0.5 * g.CellSize[d]
	}
	return c
}

func (g *CartesianGrid) CellCenterDepth(cell int) float64 { return g.center(cell)[2] }

func (g *CartesianGrid) CellVolume(int) float64 {
	return g.CellSize[0] * g.CellSize[1] * g.CellSize[2]
}
