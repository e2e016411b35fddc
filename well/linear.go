package well

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/wellsim/reservoir"
	"github.com/notargets/wellsim/wellcontrol"
	"github.com/notargets/wellsim/wellstate"
)

// Apply subtracts the well's Schur complement contribution: Ax -= C^T D^-1 B x
func (w *StandardWell) Apply(x, Ax reservoir.BlockVector) {
	if w.bMat == nil || w.cMat == nil {
		return
	}
	bx := mat.NewVecDense(w.numWellEq, nil)
	w.bMat.DoNonZero(func(i, j int, v float64) {
		bx.SetVec(i, bx.AtVec(i)+v*x.Data[j])
	})
	w.subtractCT(bx, Ax)
}

// ApplyResidual eliminates the well residual from r: r -= C^T D^-1 resWell
func (w *StandardWell) ApplyResidual(r reservoir.BlockVector) {
	if w.cMat == nil {
		return
	}
	w.subtractCT(mat.NewVecDense(w.numWellEq, append([]float64(nil), w.resWell...)), r)
}

// subtractCT sets y -= C^T D^-1 v
func (w *StandardWell) subtractCT(v *mat.VecDense, y reservoir.BlockVector) {
	var invDv mat.VecDense
	invDv.MulVec(w.invD, v)
	w.cMat.DoNonZero(func(i, j int, c float64) {
		y.Data[j] -= c * invDv.AtVec(i)
	})
}

// AddContributions subtracts C^T D^-1 B explicitly from a dense reservoir
// matrix with one row and column per reservoir unknown
func (w *StandardWell) AddContributions(A *mat.Dense) {
	if w.bMat == nil || w.cMat == nil {
		return
	}
	_, cols := A.Dims()
	var invDB mat.Dense
	invDB.Mul(w.invD, w.bMat.ToDense())
	w.cMat.DoNonZero(func(i, row int, c float64) {
		for col := 0; col < cols; col++ {
			if v := invDB.At(i, col); v != 0 {
				A.Set(row, col, A.At(row, col)-c*v)
			}
		}
	})
}

// RecoverWellSolution computes the well update from the reservoir update x,
// dx = D^-1 (resWell - B x), and applies it to the well state
func (w *StandardWell) RecoverWellSolution(x reservoir.BlockVector, ws *wellstate.WellState) error {
	if w.bMat == nil {
		return nil
	}
	rhs := mat.NewVecDense(w.numWellEq, append([]float64(nil), w.resWell...))
	w.bMat.DoNonZero(func(i, j int, v float64) {
		rhs.SetVec(i, rhs.AtVec(i)-v*x.Data[j])
	})
	var dx mat.VecDense
	dx.MulVec(w.invD, rhs)
	return w.updateWellState(dx.RawVector().Data, ws)
}

// WellEqIteration is one Newton step on the well unknowns alone, using the
// last assembled residual and D
func (w *StandardWell) WellEqIteration(ws *wellstate.WellState) error {
	var dx mat.VecDense
	dx.MulVec(w.invD, mat.NewVecDense(w.numWellEq, append([]float64(nil), w.resWell...)))
	return w.updateWellState(dx.RawVector().Data, ws)
}

// updateWellState applies a damped Newton update to the primary variables and
// refreshes bhp, surface rates and thp
func (w *StandardWell) updateWellState(dx []float64, ws *wellstate.WellState) error {
	np := w.ctx.Phases.NumPhases
	p := w.ctx.Params
	old := make([]float64, w.numWellEq)
	for v := range old {
		old[v] = ws.Solution(v, w.index)
	}

	limit := func(d float64) float64 {
		return math.Copysign(math.Min(math.Abs(d), p.DWellFractionMax), d)
	}
	fw := math.Max(old[WFrac]-limit(dx[WFrac]), 0)
	fg := 0.0
	if w.hasGas() {
		fg = math.Max(old[w.gasIdx()]-limit(dx[w.gasIdx()]), 0)
	}
	fo := 1 - fw - fg
	if fo < 0 {
		fw /= 1 - fo
		fg /= 1 - fo
	}
	ws.SetSolution(WFrac, w.index, fw)
	if w.hasGas() {
		ws.SetSolution(w.gasIdx(), w.index, fg)
	}

	ws.SetSolution(WQTotal, w.index, old[WQTotal]-dx[WQTotal])

	b := w.bhpIdx()
	dBhp := math.Copysign(math.Min(math.Abs(dx[b]), math.Abs(old[b])*p.DBHPMaxRel), dx[b])
	bhp := math.Max(old[b]-dBhp, 1e5)
	ws.SetSolution(b, w.index, bhp)
	ws.BHP[w.index] = bhp

	w.SetWellVariables(ws)
	g := w.scalingFactors(w.controls.CurrentControl())
	rates := ws.Rates(w.index)
	for pos := 0; pos < np; pos++ {
		rates[pos] = w.surfaceRate(pos, g).Value
	}
	return w.updateTHP(ws)
}

// Converged checks the scaled mass balance rows and the control row
func (w *StandardWell) Converged(bAvg []float64) bool {
	p := w.ctx.Params
	np := w.ctx.Phases.NumPhases
	for i := 0; i < np; i++ {
		r := math.Abs(w.resWell[i])
		if math.IsNaN(r) {
			return false
		}
		if !(r/bAvg[i] < p.ToleranceWells || r < p.ResidualFloor) {
			return false
		}
	}

	ctrl := math.Abs(w.resWell[w.bhpIdx()])
	if math.IsNaN(ctrl) {
		return false
	}
	c := w.controls.CurrentControl()
	if w.stopped || c == nil || !wellcontrol.IsRate(c) {
		ctrl /= 1e5 // bar
	} else {
		ctrl *= 86400 // m^3/day
	}
	return ctrl < p.ToleranceWellControl || ctrl < p.ResidualFloor
}
