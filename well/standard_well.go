// Package well implements a standard (single segment) well: its primary
// variables, the coupled well/reservoir equations and the Schur complement
// operations used to eliminate the well unknowns from the reservoir system.
package well

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/wellsim/ad"
	"github.com/notargets/wellsim/config"
	"github.com/notargets/wellsim/logger"
	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/schedule"
	"github.com/notargets/wellsim/vfp"
	"github.com/notargets/wellsim/wellcontrol"
	"github.com/notargets/wellsim/wellstate"
)

// Primary variable layout: total weighted surface rate, water fraction, gas
// fraction (three phase only) and bottom-hole pressure last.
const (
	WQTotal = 0
	WFrac   = 1
)

// wellboreVolume is the storage volume used in the accumulation term, m^3
const wellboreVolume = 0.002831684659200

// Gas rates are scaled down in the total rate so that all phases contribute
// with comparable magnitude.
var defaultScaling = [phases.MaxPhases]float64{1, 1, 0.01}

var ErrNoPerforations = errors.New("well has no perforations")

// Perforation is one connection of the well to a reservoir cell
type Perforation struct {
	Cell         int     // compressed cell index
	TransFactor  float64 // connection transmissibility
	Depth        float64 // m
	RepRadius    float64 // representative radius, m
	Length       float64 // perforation length, m
	BoreDiameter float64 // m
}

// Spec is everything needed to instantiate a well
type Spec struct {
	Name         string
	Schedule     *schedule.Well
	Injector     bool
	Stopped      bool
	RefDepth     float64
	Perforations []Perforation
	Controls     *wellcontrol.Controls
	Composition  []float64 // injected surface composition per active phase
}

// Context binds a well to the run
type Context struct {
	Phases   phases.Usage
	VFP      *vfp.Properties
	Gravity  float64
	NumCells int // reservoir cells the linear system spans
	NumEq    int // reservoir equations per cell
	Params   config.Wells
	Log      *slog.Logger
	Notices  *logger.Notices
}

// StandardWell is one well with np+1 primary variables
type StandardWell struct {
	name      string
	sched     *schedule.Well
	injector  bool
	stopped   bool
	index     int // position in the well state
	firstPerf int // first perforation in the well state
	refDepth  float64
	perfs     []Perforation
	controls  *wellcontrol.Controls
	comp      []float64

	efficiency float64

	ctx         Context
	initialized bool
	numWellEq   int

	primary []float64
	evals   []ad.Eval
	F0      []float64

	perfDensity      []float64
	perfPressureDiff []float64

	resWell []float64
	dMat    *mat.Dense
	invD    *mat.Dense
	bMat    *sparse.CSR // numWellEq x NumCells*NumEq
	cMat    *sparse.CSR // numWellEq x NumCells*NumEq, applied transposed
}

// New creates a well at position index of the well state, whose
// perforations start at firstPerf.
func New(spec Spec, index, firstPerf int) *StandardWell {
	controls := spec.Controls
	if controls == nil {
		controls = wellcontrol.NewControls()
	}
	return &StandardWell{
		name:       spec.Name,
		sched:      spec.Schedule,
		injector:   spec.Injector,
		stopped:    spec.Stopped,
		index:      index,
		firstPerf:  firstPerf,
		refDepth:   spec.RefDepth,
		perfs:      append([]Perforation(nil), spec.Perforations...),
		controls:   controls,
		comp:       append([]float64(nil), spec.Composition...),
		efficiency: 1,
	}
}

// Init binds the well to the run's phase usage, VFP tables, gravity and
// reservoir size.
func (w *StandardWell) Init(ctx Context) error {
	if len(w.perfs) == 0 && ctx.Params.RequireGeometry {
		return fmt.Errorf("%w: %s", ErrNoPerforations, w.name)
	}
	np := ctx.Phases.NumPhases
	if np != 2 && np != 3 {
		return fmt.Errorf("well %s: unsupported number of phases %d", w.name, np)
	}
	if len(w.comp) == 0 {
		w.comp = make([]float64, np)
	}
	if len(w.comp) != np {
		return fmt.Errorf("well %s: composition has %d entries for %d phases", w.name, len(w.comp), np)
	}
	ctx.Log = logger.OrDefault(ctx.Log)
	w.ctx = ctx
	w.numWellEq = np + 1
	w.primary = make([]float64, w.numWellEq)
	w.evals = make([]ad.Eval, w.numWellEq)
	for v := range w.evals {
		w.evals[v] = ad.Variable(0, w.numDeriv(), ctx.NumEq+v)
	}
	w.F0 = make([]float64, np)
	w.perfDensity = make([]float64, len(w.perfs))
	w.perfPressureDiff = make([]float64, len(w.perfs))
	w.resWell = make([]float64, w.numWellEq)
	w.dMat = mat.NewDense(w.numWellEq, w.numWellEq, nil)
	w.invD = mat.NewDense(w.numWellEq, w.numWellEq, nil)
	w.initialized = true
	return nil
}

func (w *StandardWell) Name() string                    { return w.name }
func (w *StandardWell) Index() int                      { return w.index }
func (w *StandardWell) FirstPerf() int                  { return w.firstPerf }
func (w *StandardWell) IsInjector() bool                { return w.injector }
func (w *StandardWell) IsStopped() bool                 { return w.stopped }
func (w *StandardWell) Perforations() []Perforation     { return w.perfs }
func (w *StandardWell) Controls() *wellcontrol.Controls { return w.controls }
func (w *StandardWell) Schedule() *schedule.Well        { return w.sched }
func (w *StandardWell) NumWellEq() int                  { return w.numWellEq }
func (w *StandardWell) EfficiencyFactor() float64       { return w.efficiency }
func (w *StandardWell) ResidualNorm() []float64         { return append([]float64(nil), w.resWell...) }

// SetEfficiencyFactor sets the accumulated efficiency applied to all perforations
func (w *StandardWell) SetEfficiencyFactor(f float64) { w.efficiency = f }

// PerfDensities returns the wellbore mixture density at each perforation
func (w *StandardWell) PerfDensities() []float64 { return w.perfDensity }

// PerfPressureDiffs returns each perforation's pressure offset from the bhp
func (w *StandardWell) PerfPressureDiffs() []float64 { return w.perfPressureDiff }

func (w *StandardWell) numDeriv() int { return w.ctx.NumEq + w.numWellEq }

func (w *StandardWell) bhpIdx() int { return w.numWellEq - 1 }

func (w *StandardWell) gasIdx() int { return WFrac + 1 }

func (w *StandardWell) hasGas() bool { return w.ctx.Phases.IsActive(phases.Gas) }

// SetWellVariables loads the primary variables from the well state
func (w *StandardWell) SetWellVariables(ws *wellstate.WellState) {
	n := w.numDeriv()
	for v := 0; v < w.numWellEq; v++ {
		w.primary[v] = ws.Solution(v, w.index)
		w.evals[v] = ad.Variable(w.primary[v], n, w.ctx.NumEq+v)
	}
}

// scalingFactors returns the weights g_p of the total rate for control c
func (w *StandardWell) scalingFactors(c wellcontrol.Control) []float64 {
	pu := w.ctx.Phases
	g := make([]float64, pu.NumPhases)
	for _, p := range pu.Phases() {
		g[pu.Pos[p]] = defaultScaling[p]
	}
	if c != nil && c.Kind() == wellcontrol.KindReservoirRate {
		for i, d := range wellcontrol.Distribution(c) {
			if d > 0 {
				g[i] = d
			}
		}
	}
	return g
}

// volumeFraction is F_p in compact phase position pos
func (w *StandardWell) volumeFraction(pos int) ad.Eval {
	pu := w.ctx.Phases
	switch pos {
	case pu.Pos[phases.Water]:
		return w.evals[WFrac]
	case pu.Pos[phases.Gas]:
		return w.evals[w.gasIdx()]
	}
	oil := ad.Constant(1, w.numDeriv()).Sub(w.evals[WFrac])
	if w.hasGas() {
		oil = oil.Sub(w.evals[w.gasIdx()])
	}
	return oil
}

func (w *StandardWell) scaledFraction(pos int, g []float64) ad.Eval {
	return w.volumeFraction(pos).Scale(1 / g[pos])
}

// surfaceVolumeFraction is the share of phase pos in the well's surface volume
func (w *StandardWell) surfaceVolumeFraction(pos int, g []float64) ad.Eval {
	np := w.ctx.Phases.NumPhases
	sum := ad.Constant(0, w.numDeriv())
	for i := 0; i < np; i++ {
		sum = sum.Add(w.scaledFraction(i, g))
	}
	return w.scaledFraction(pos, g).Div(sum)
}

// surfaceRate is q_p = WQTotal * F_p / g_p
func (w *StandardWell) surfaceRate(pos int, g []float64) ad.Eval {
	return w.evals[WQTotal].Mul(w.scaledFraction(pos, g))
}

// ComputeAccumWell stores the surface volume fractions at the start of the step
func (w *StandardWell) ComputeAccumWell() {
	g := w.scalingFactors(w.controls.CurrentControl())
	for p := range w.F0 {
		w.F0[p] = w.surfaceVolumeFraction(p, g).Value
	}
}
