package wellmodel

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/wellsim/reservoir"
	"github.com/notargets/wellsim/wellstate"
)

// Apply subtracts the contribution of every local well from Ax:
// Ax -= sum_w C_w^T D_w^-1 B_w x
func (m *Model) Apply(x, Ax reservoir.BlockVector) {
	if len(m.wells) == 0 {
		return
	}
	for _, w := range m.wells {
		w.Apply(x, Ax)
	}
}

// ApplyScaleAdd sets Ax += alpha * (well contribution applied to x)
func (m *Model) ApplyScaleAdd(alpha float64, x, Ax reservoir.BlockVector) {
	if len(m.wells) == 0 {
		return
	}
	scratch := reservoir.NewBlockVector(Ax.NumBlocks(), Ax.BlockSize)
	m.Apply(x, scratch)
	Ax.AddScaled(alpha, scratch)
}

// ApplyResidual eliminates the well residuals from the reservoir residual r
func (m *Model) ApplyResidual(r reservoir.BlockVector) {
	for _, w := range m.wells {
		w.ApplyResidual(r)
	}
}

// RecoverWellSolution updates the well state from the reservoir update x
func (m *Model) RecoverWellSolution(x reservoir.BlockVector, ws *wellstate.WellState) error {
	for _, w := range m.wells {
		if err := w.RecoverWellSolution(x, ws); err != nil {
			return err
		}
	}
	return nil
}

// AddWellContributions subtracts C^T D^-1 B of every well explicitly from a
// dense reservoir matrix, for solvers that need the matrix itself
func (m *Model) AddWellContributions(A *mat.Dense) {
	for _, w := range m.wells {
		w.AddContributions(A)
	}
}

// Operator is the reservoir matrix with the wells eliminated,
// y = A x - C^T D^-1 B x, as seen by the outer linear solver
type Operator struct {
	A     mat.Matrix
	Wells *Model
}

// NewOperator couples A with the wells of m
func NewOperator(A mat.Matrix, m *Model) (*Operator, error) {
	r, c := A.Dims()
	if r != c {
		return nil, fmt.Errorf("reservoir matrix is %dx%d, not square", r, c)
	}
	return &Operator{A: A, Wells: m}, nil
}

// Apply sets y = A x minus the well contributions
func (o *Operator) Apply(x, y reservoir.BlockVector) {
	n, _ := o.A.Dims()
	if len(x.Data) != n || len(y.Data) != n {
		panic(fmt.Sprintf("wellmodel: operator of size %d applied to vectors of %d and %d", n, len(x.Data), len(y.Data)))
	}
	yv := mat.NewVecDense(n, y.Data)
	yv.MulVec(o.A, mat.NewVecDense(n, x.Data))
	o.Wells.Apply(x, y)
}

// ApplyScaleAdd sets y += alpha * (A x minus the well contributions)
func (o *Operator) ApplyScaleAdd(alpha float64, x, y reservoir.BlockVector) {
	tmp := reservoir.NewBlockVector(y.NumBlocks(), y.BlockSize)
	o.Apply(x, tmp)
	y.AddScaled(alpha, tmp)
}
