package well

import (
	"fmt"
	"math"

	"github.com/notargets/wellsim/ad"
	"github.com/notargets/wellsim/logger"
	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/reservoir"
	"github.com/notargets/wellsim/wellcontrol"
	"github.com/notargets/wellsim/wellstate"
)

// Default bhp limits when a well carries no BHP constraint, Pa
const (
	defaultProducerBHPLimit = 101325.0
	defaultInjectorBHPLimit = 6000e5
	potentialTolerance      = 100.0 // Pa
)

// UpdateWellStateWithTarget moves the well state onto the target of control
// ctrlIdx and rebuilds the primary variables from the resulting rates
func (w *StandardWell) UpdateWellStateWithTarget(ctrlIdx int, ws *wellstate.WellState) error {
	if w.stopped || ctrlIdx < 0 {
		return nil
	}
	np := w.ctx.Phases.NumPhases
	rates := ws.Rates(w.index)
	ctrl := w.controls.At(ctrlIdx)
	target := ctrl.Target()

	switch c := ctrl.(type) {
	case wellcontrol.BHP:
		ws.BHP[w.index] = target
	case wellcontrol.THP:
		ws.THP[w.index] = target
		bhp, err := w.bhpFromTHP(c, rates)
		if err != nil {
			return fmt.Errorf("well %s: %w", w.name, err)
		}
		ws.BHP[w.index] = bhp
	case wellcontrol.SurfaceRate, wellcontrol.ReservoirRate:
		distr := wellcontrol.Distribution(ctrl)
		if w.injector {
			if err := w.injectorRates(distr, target, rates); err != nil {
				return err
			}
		} else {
			producerRates(distr, target, rates)
		}
	}

	g := w.scalingFactors(ctrl)
	total := 0.0
	for p := 0; p < np; p++ {
		total += g[p] * rates[p]
	}
	fractions := make([]float64, np)
	switch {
	case total != 0:
		for p := range fractions {
			fractions[p] = g[p] * rates[p] / total
		}
	case w.injector:
		copy(fractions, w.comp)
	default:
		for p := range fractions {
			fractions[p] = 1 / float64(np)
		}
	}

	pu := w.ctx.Phases
	ws.SetSolution(WQTotal, w.index, total)
	ws.SetSolution(WFrac, w.index, fractions[pu.Pos[phases.Water]])
	if w.hasGas() {
		ws.SetSolution(w.gasIdx(), w.index, fractions[pu.Pos[phases.Gas]])
	}
	ws.SetSolution(w.bhpIdx(), w.index, ws.BHP[w.index])
	return nil
}

func (w *StandardWell) injectorRates(distr []float64, target float64, rates []float64) error {
	controlled := -1
	for p, d := range distr {
		if d == 0 {
			continue
		}
		if controlled >= 0 {
			return fmt.Errorf("well %s: injection rate control on more than one phase", w.name)
		}
		controlled = p
	}
	for p := range rates {
		rates[p] = 0
	}
	if controlled >= 0 {
		rates[controlled] = target / distr[controlled]
	}
	return nil
}

// producerRates rescales the current rates onto target, keeping their ratios.
// Without flow the target is split equally among the controlled phases.
func producerRates(distr []float64, target float64, rates []float64) {
	current := 0.0
	numControlled := 0
	for p, d := range distr {
		current += d * rates[p]
		if d > 0 {
			numControlled++
		}
	}
	if current != 0 {
		scale := target / current
		for p := range rates {
			rates[p] *= scale
		}
		return
	}
	if numControlled == 0 {
		return
	}
	share := target / float64(numControlled)
	for p, d := range distr {
		if d > 0 {
			rates[p] = share / d
		} else {
			rates[p] = share
		}
	}
}

// UpdateWellControl switches to the first broken constraint, if any, and
// moves the well state onto its target
func (w *StandardWell) UpdateWellControl(ws *wellstate.WellState) (switched bool, from, to int, err error) {
	from = ws.CurrentControls[w.index]
	if w.stopped {
		return false, from, from, nil
	}
	bhp, thp := ws.BHP[w.index], ws.THP[w.index]
	rates := ws.Rates(w.index)
	to = from
	for i := 0; i < w.controls.Len(); i++ {
		if i == from {
			continue
		}
		if wellcontrol.Violated(w.controls.At(i), w.injector, bhp, thp, rates) {
			to = i
			break
		}
	}
	if to == from {
		return false, from, to, nil
	}
	ws.CurrentControls[w.index] = to
	w.controls.SetCurrent(to)
	if err := w.UpdateWellStateWithTarget(to, ws); err != nil {
		return true, from, to, err
	}
	return true, from, to, nil
}

// WellRatesWithBhp returns the surface rates the well would produce or inject
// at a fixed bhp, with the current reservoir state and wellbore mixture
func (w *StandardWell) WellRatesWithBhp(sim reservoir.Simulator, bhp float64) []float64 {
	np := w.ctx.Phases.NumPhases
	rates := make([]float64, np)
	g := w.scalingFactors(w.controls.CurrentControl())
	fixed := ad.Constant(bhp, w.numDeriv())
	for k, perf := range w.perfs {
		cq := w.computePerfRate(sim.Intensive(perf.Cell), k, fixed, g)
		for p := range rates {
			rates[p] += cq[p].Value
		}
	}
	return rates
}

// bhpLimit is the most restrictive BHP constraint of the well
func (w *StandardWell) bhpLimit() float64 {
	limit := defaultProducerBHPLimit
	if w.injector {
		limit = defaultInjectorBHPLimit
	}
	found := false
	for i := 0; i < w.controls.Len(); i++ {
		c, ok := w.controls.At(i).(wellcontrol.BHP)
		if !ok {
			continue
		}
		switch {
		case !found:
			limit = c.Value
		case w.injector:
			limit = math.Min(limit, c.Value)
		default:
			limit = math.Max(limit, c.Value)
		}
		found = true
	}
	return limit
}

// ComputeWellPotentials returns the rates the well would flow at its most
// restrictive pressure limit, honouring a THP constraint when there is one
func (w *StandardWell) ComputeWellPotentials(sim reservoir.Simulator, ws *wellstate.WellState) ([]float64, error) {
	limit := w.bhpLimit()
	bhp := limit
	rates := w.WellRatesWithBhp(sim, bhp)

	idx := w.controls.Find(wellcontrol.KindTHP)
	if idx < 0 {
		return rates, nil
	}
	thp := w.controls.At(idx).(wellcontrol.THP)
	for it := 0; it < w.ctx.Params.MaxPotentialIterations; it++ {
		fromTHP, err := w.bhpFromTHP(thp, rates)
		if err != nil {
			return nil, fmt.Errorf("well %s potentials: %w", w.name, err)
		}
		next := math.Max(limit, fromTHP)
		if w.injector {
			next = math.Min(limit, fromTHP)
		}
		if math.Abs(next-bhp) < potentialTolerance {
			return rates, nil
		}
		bhp = next
		rates = w.WellRatesWithBhp(sim, bhp)
	}
	logger.OrDefault(w.ctx.Log).Warn("well potentials did not converge",
		"well", w.name, "iterations", w.ctx.Params.MaxPotentialIterations, "bhp", bhp)
	return rates, nil
}
