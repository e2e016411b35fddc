package well

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/wellsim/ad"
	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/reservoir"
	"github.com/notargets/wellsim/wellcontrol"
	"github.com/notargets/wellsim/wellstate"
)

// computePerfRate returns the surface rate of each phase through perforation
// k, with derivatives with respect to the cell's reservoir variables followed
// by the well variables. Production is negative.
func (w *StandardWell) computePerfRate(iq *reservoir.IntensiveQuantities, k int, bhp ad.Eval, g []float64) []ad.Eval {
	pu := w.ctx.Phases
	n := w.numDeriv()
	np := pu.NumPhases
	cq := make([]ad.Eval, np)
	for i := range cq {
		cq[i] = ad.Constant(0, n)
	}
	if w.stopped {
		return cq
	}

	pressure := iq.Pressure.Extend(0, n)
	perfPressure := bhp.AddConst(w.perfPressureDiff[k])
	drawdown := pressure.Sub(perfPressure)
	tw := w.perfs[k].TransFactor
	allowCF := w.ctx.Params.AllowCrossFlow

	if drawdown.Value > 0 {
		// inflow from the reservoir
		if w.injector && !allowCF {
			return cq
		}
		for _, p := range pu.Phases() {
			mob := iq.Mobility[p].Extend(0, n)
			b := iq.InvB[p].Extend(0, n)
			cq[pu.Pos[p]] = mob.Mul(b).Mul(drawdown).Scale(-tw)
		}
		return cq
	}

	// injection into the reservoir: the wellbore mixture leaves with the
	// total mobility of the cell
	if !w.injector && !allowCF {
		return cq
	}
	totalMob := ad.Constant(0, n)
	for _, p := range pu.Phases() {
		totalMob = totalMob.Add(iq.Mobility[p].Extend(0, n))
	}
	cqt := totalMob.Mul(drawdown).Scale(-tw)

	volumeRatio := ad.Constant(0, n)
	wsf := make([]ad.Eval, np)
	for _, p := range pu.Phases() {
		pos := pu.Pos[p]
		wsf[pos] = w.surfaceVolumeFraction(pos, g)
		volumeRatio = volumeRatio.Add(wsf[pos].Div(iq.InvB[p].Extend(0, n)))
	}
	for pos := range cq {
		cq[pos] = wsf[pos].Mul(cqt).Div(volumeRatio)
	}
	return cq
}

// AssembleWellEq linearises the well equations. Unless wellsOnly is set the
// perforation sources are also added to the reservoir residual and Jacobian
// and the coupling blocks B and C are rebuilt.
func (w *StandardWell) AssembleWellEq(sim reservoir.Simulator, dt float64, ws *wellstate.WellState, wellsOnly bool) error {
	if !w.initialized {
		return fmt.Errorf("well %s assembled before Init", w.name)
	}
	np := w.ctx.Phases.NumPhases
	numEq := w.ctx.NumEq
	cols := w.ctx.NumCells * numEq

	for i := range w.resWell {
		w.resWell[i] = 0
	}
	w.dMat.Zero()

	var lin reservoir.Linearization
	var bDOK, cDOK *sparse.DOK
	if !wellsOnly {
		lin = sim.Linearization()
		bDOK = sparse.NewDOK(w.numWellEq, cols)
		cDOK = sparse.NewDOK(w.numWellEq, cols)
	}

	g := w.scalingFactors(w.controls.CurrentControl())
	bhp := w.evals[w.bhpIdx()]
	for k, perf := range w.perfs {
		cell := perf.Cell
		cq := w.computePerfRate(sim.Intensive(cell), k, bhp, g)
		perfRates := ws.PerfRates(w.firstPerf + k)
		for p := 0; p < np; p++ {
			cqEff := cq[p].Scale(w.efficiency)
			w.resWell[p] -= cqEff.Value
			for pv := 0; pv < w.numWellEq; pv++ {
				d := cqEff.Deriv[numEq+pv]
				w.dMat.Set(p, pv, w.dMat.At(p, pv)-d)
				if !wellsOnly && d != 0 {
					col := cell*numEq + p
					cDOK.Set(pv, col, cDOK.At(pv, col)-d)
				}
			}
			if !wellsOnly {
				lin.AddResidual(cell, p, -cqEff.Value)
				for pv := 0; pv < numEq; pv++ {
					d := cqEff.Deriv[pv]
					if d == 0 {
						continue
					}
					lin.AddJacobian(cell, p, pv, -d)
					col := cell*numEq + pv
					bDOK.Set(p, col, bDOK.At(p, col)-d)
				}
			}
			perfRates[p] = cq[p].Value
		}
		ws.PerfPress[w.firstPerf+k] = bhp.Value + w.perfPressureDiff[k]
	}

	// accumulation in the wellbore and the well's surface rate
	for p := 0; p < np; p++ {
		acc := w.surfaceVolumeFraction(p, g).AddConst(-w.F0[p]).Scale(wellboreVolume / dt)
		loc := acc.Add(w.surfaceRate(p, g).Scale(w.efficiency))
		w.resWell[p] += loc.Value
		for pv := 0; pv < w.numWellEq; pv++ {
			w.dMat.Set(p, pv, w.dMat.At(p, pv)+loc.Deriv[numEq+pv])
		}
	}

	ctrl, err := w.controlEquation(sim)
	if err != nil {
		return err
	}
	last := w.bhpIdx()
	w.resWell[last] = ctrl.Value
	for pv := 0; pv < w.numWellEq; pv++ {
		w.dMat.Set(last, pv, ctrl.Deriv[numEq+pv])
	}

	if err := w.invD.Inverse(w.dMat); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return fmt.Errorf("well %s: inverting well block: %w", w.name, err)
		}
	}

	if wellsOnly {
		w.bMat, w.cMat = nil, nil
	} else {
		w.bMat = bDOK.ToCSR()
		w.cMat = cDOK.ToCSR()
	}
	return nil
}

// controlEquation returns the residual of the control in force
func (w *StandardWell) controlEquation(sim reservoir.Simulator) (ad.Eval, error) {
	n := w.numDeriv()
	bhp := w.evals[w.bhpIdx()]
	np := w.ctx.Phases.NumPhases

	if w.stopped {
		// closed at surface: the bottom-hole pressure follows the top perforation
		if len(w.perfs) == 0 {
			return w.evals[WQTotal].Clone(), nil
		}
		p := sim.Intensive(w.perfs[0].Cell).Pressure.Value
		return bhp.AddConst(-(p - w.perfPressureDiff[0])), nil
	}

	ctrl := w.controls.CurrentControl()
	g := w.scalingFactors(ctrl)
	switch c := ctrl.(type) {
	case wellcontrol.BHP:
		return bhp.AddConst(-c.Value), nil

	case wellcontrol.THP:
		rates := make([]ad.Eval, np)
		values := make([]float64, np)
		for p := range rates {
			rates[p] = w.surfaceRate(p, g)
			values[p] = rates[p].Value
		}
		target, grad, err := w.bhpFromTHPGradient(c, values)
		if err != nil {
			return ad.Eval{}, err
		}
		// linearise the table around the current rates
		lin := ad.Constant(target, n)
		for p := range rates {
			lin = lin.Add(rates[p].AddConst(-values[p]).Scale(grad[p]))
		}
		return bhp.Sub(lin), nil

	case wellcontrol.SurfaceRate, wellcontrol.ReservoirRate:
		distr := wellcontrol.Distribution(ctrl)
		sum := ad.Constant(0, n)
		for p := 0; p < np; p++ {
			if distr[p] != 0 {
				sum = sum.Add(w.surfaceRate(p, g).Scale(distr[p]))
			}
		}
		return sum.AddConst(-ctrl.Target()), nil
	}
	return ad.Eval{}, fmt.Errorf("well %s has no control in force", w.name)
}

// ComputeWellConnectionPressures updates the wellbore mixture density at each
// perforation from the flow entering below it, and the perforation pressure
// offsets from the bhp. Perforations are ordered top to bottom.
func (w *StandardWell) ComputeWellConnectionPressures(sim reservoir.Simulator, ws *wellstate.WellState) {
	pu := w.ctx.Phases
	np := pu.NumPhases
	nperf := len(w.perfs)
	if nperf == 0 {
		return
	}

	g := w.scalingFactors(w.controls.CurrentControl())
	fallback := make([]float64, np)
	for p := range fallback {
		fallback[p] = w.surfaceVolumeFraction(p, g).Value
	}

	mix := make([]float64, np)
	weights := make([]float64, np)
	for k := nperf - 1; k >= 0; k-- {
		perfRates := ws.PerfRates(w.firstPerf + k)
		total := 0.0
		for p := range mix {
			mix[p] += math.Abs(perfRates[p])
			total += mix[p]
		}
		switch {
		case w.injector:
			copy(weights, w.comp)
		case total > 0:
			copy(weights, mix)
		default:
			copy(weights, fallback)
		}

		iq := sim.Intensive(w.perfs[k].Cell)
		volume, mass, sumRho := 0.0, 0.0, 0.0
		for _, p := range pu.Phases() {
			pos := pu.Pos[p]
			sumRho += iq.Density[p]
			if iq.InvB[p].Value <= 0 {
				continue
			}
			v := weights[pos] / iq.InvB[p].Value
			volume += v
			mass += v * iq.Density[p]
		}
		if volume > 0 {
			w.perfDensity[k] = mass / volume
		} else {
			w.perfDensity[k] = sumRho / float64(np)
		}
	}

	grav := w.ctx.Gravity
	w.perfPressureDiff[0] = w.perfDensity[0] * grav * (w.perfs[0].Depth - w.refDepth)
	for k := 1; k < nperf; k++ {
		rho := 0.5 * (w.perfDensity[k] + w.perfDensity[k-1])
		w.perfPressureDiff[k] = w.perfPressureDiff[k-1] + rho*grav*(w.perfs[k].Depth-w.perfs[k-1].Depth)
	}
}

// activeRates splits compact rates into water, oil and gas
func activeRates(pu phases.Usage, rates []float64) (aqua, liquid, vapour float64) {
	return pu.Rate(rates, phases.Water), pu.Rate(rates, phases.Oil), pu.Rate(rates, phases.Gas)
}
