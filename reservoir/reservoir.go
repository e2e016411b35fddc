// Package reservoir defines what the well model needs from the reservoir
// simulator: per-cell intensive quantities with derivatives, block vectors and
// a sink for the wells' residual and Jacobian contributions. Model is a small
// black-oil reservoir implementing Simulator.
package reservoir

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/wellsim/ad"
	"github.com/notargets/wellsim/phases"
)

// IntensiveQuantities is the fluid state of one cell. Derivatives are taken
// with respect to the cell's primary variables [pressure, Sw, Sg].
type IntensiveQuantities struct {
	Pressure ad.Eval                   // Pa
	Mobility [phases.MaxPhases]ad.Eval // relative permeability over viscosity
	InvB     [phases.MaxPhases]ad.Eval // inverse formation volume factor
	Density  [phases.MaxPhases]float64 // reservoir condition density, kg/m^3
}

// Linearization receives the wells' contributions to the reservoir system
type Linearization interface {
	AddResidual(cell, eq int, v float64)
	AddJacobian(cell, eq, pv int, v float64) // diagonal block of cell
}

// Simulator is the reservoir collaborator
type Simulator interface {
	NumCells() int
	NumEq() int
	Intensive(cell int) *IntensiveQuantities
	// Interior reports whether the cell is owned by this process
	Interior(cell int) bool
	Linearization() Linearization
}

// BlockVector is a vector of NumBlocks blocks of BlockSize entries
type BlockVector struct {
	BlockSize int
	Data      []float64
}

// NewBlockVector allocates a zero vector
func NewBlockVector(numBlocks, blockSize int) BlockVector {
	return BlockVector{BlockSize: blockSize, Data: make([]float64, numBlocks*blockSize)}
}

// NumBlocks is the number of blocks
func (v BlockVector) NumBlocks() int { return len(v.Data) / v.BlockSize }

// Block returns block i, aliasing Data
func (v BlockVector) Block(i int) []float64 {
	return v.Data[i*v.BlockSize : (i+1)*v.BlockSize]
}

// Clone returns a deep copy
func (v BlockVector) Clone() BlockVector {
	d := make([]float64, len(v.Data))
	copy(d, v.Data)
	return BlockVector{BlockSize: v.BlockSize, Data: d}
}

// Zero clears all entries
func (v BlockVector) Zero() {
	for i := range v.Data {
		v.Data[i] = 0
	}
}

// AddScaled sets v += alpha*x
func (v BlockVector) AddScaled(alpha float64, x BlockVector) {
	floats.AddScaled(v.Data, alpha, x.Data)
}

// BlockSystem collects residual and diagonal Jacobian blocks per cell
type BlockSystem struct {
	NumEq    int
	Residual BlockVector
	Diag     []*mat.Dense
}

// NewBlockSystem allocates a zero system
func NewBlockSystem(numCells, numEq int) *BlockSystem {
	s := &BlockSystem{
		NumEq:    numEq,
		Residual: NewBlockVector(numCells, numEq),
		Diag:     make([]*mat.Dense, numCells),
	}
	for c := range s.Diag {
		s.Diag[c] = mat.NewDense(numEq, numEq, nil)
	}
	return s
}

func (s *BlockSystem) AddResidual(cell, eq int, v float64) {
	s.Residual.Data[cell*s.NumEq+eq] += v
}

func (s *BlockSystem) AddJacobian(cell, eq, pv int, v float64) {
	d := s.Diag[cell]
	d.Set(eq, pv, d.At(eq, pv)+v)
}

// Reset zeroes residual and Jacobian
func (s *BlockSystem) Reset() {
	s.Residual.Zero()
	for _, d := range s.Diag {
		d.Zero()
	}
}

// Matrix assembles the block diagonal into a dense matrix
func (s *BlockSystem) Matrix() *mat.Dense {
	n := len(s.Diag) * s.NumEq
	m := mat.NewDense(n, n, nil)
	for c, d := range s.Diag {
		off := c * s.NumEq
		m.Slice(off, off+s.NumEq, off, off+s.NumEq).(*mat.Dense).Copy(d)
	}
	return m
}
