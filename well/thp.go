package well

import (
	"math"

	"github.com/notargets/wellsim/wellcontrol"
	"github.com/notargets/wellsim/wellstate"
)

// vfpBHP looks the table up at datum depth
func (w *StandardWell) vfpBHP(c wellcontrol.THP, rates []float64, thp float64) (float64, error) {
	aqua, liquid, vapour := activeRates(w.ctx.Phases, rates)
	if w.injector {
		return w.ctx.VFP.InjBHP(c.Table, aqua, liquid, vapour, thp)
	}
	return w.ctx.VFP.ProdBHP(c.Table, aqua, liquid, vapour, thp, c.ALQ)
}

// hydrostatic is the pressure difference between the table's datum depth and
// the well's reference depth, using the mixture density at the top perforation
func (w *StandardWell) hydrostatic(table int) (float64, error) {
	datum, err := w.ctx.VFP.DatumDepth(table, w.injector)
	if err != nil {
		return 0, err
	}
	rho := 0.0
	if len(w.perfDensity) > 0 {
		rho = w.perfDensity[0]
	}
	return rho * w.ctx.Gravity * (datum - w.refDepth), nil
}

// bhpFromTHP is the bottom-hole pressure at reference depth giving c's thp at
// the supplied surface rates
func (w *StandardWell) bhpFromTHP(c wellcontrol.THP, rates []float64) (float64, error) {
	bhp, err := w.vfpBHP(c, rates, c.Value)
	if err != nil {
		return 0, err
	}
	dp, err := w.hydrostatic(c.Table)
	if err != nil {
		return 0, err
	}
	return bhp - dp, nil
}

// bhpFromTHPGradient returns bhpFromTHP and its central difference gradient
// with respect to each phase rate
func (w *StandardWell) bhpFromTHPGradient(c wellcontrol.THP, rates []float64) (float64, []float64, error) {
	bhp, err := w.bhpFromTHP(c, rates)
	if err != nil {
		return 0, nil, err
	}
	grad := make([]float64, len(rates))
	shifted := make([]float64, len(rates))
	for p := range rates {
		h := math.Max(1e-4*math.Abs(rates[p]), 1e-9)
		copy(shifted, rates)
		shifted[p] = rates[p] + h
		hi, err := w.bhpFromTHP(c, shifted)
		if err != nil {
			return 0, nil, err
		}
		shifted[p] = rates[p] - h
		lo, err := w.bhpFromTHP(c, shifted)
		if err != nil {
			return 0, nil, err
		}
		grad[p] = (hi - lo) / (2 * h)
	}
	return bhp, grad, nil
}

// updateTHP recomputes the well's thp from its bhp and rates when it carries
// a THP constraint; otherwise thp is zero
func (w *StandardWell) updateTHP(ws *wellstate.WellState) error {
	idx := w.controls.Find(wellcontrol.KindTHP)
	if idx < 0 {
		ws.THP[w.index] = 0
		return nil
	}
	c := w.controls.At(idx).(wellcontrol.THP)
	dp, err := w.hydrostatic(c.Table)
	if err != nil {
		return err
	}
	aqua, liquid, vapour := activeRates(w.ctx.Phases, ws.Rates(w.index))
	bhp := ws.BHP[w.index] + dp
	var thp float64
	if w.injector {
		thp, err = w.ctx.VFP.InjTHP(c.Table, aqua, liquid, vapour, bhp)
	} else {
		thp, err = w.ctx.VFP.ProdTHP(c.Table, aqua, liquid, vapour, bhp, c.ALQ)
	}
	if err != nil {
		return err
	}
	ws.THP[w.index] = thp
	return nil
}
