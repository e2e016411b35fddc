// Package wellmodel coordinates the wells of one process. It builds the well
// container from the schedule, prepares each time step (group targets,
// voidage replacement, guide rates), runs the well-only inner solve and
// exposes the Schur complement operations that eliminate the well unknowns
// from the reservoir system.
//
// Methods that communicate (Init, ComputeAverageFormationFactor,
// PrepareTimeStep, Assemble, SolveWellEq, UpdateWellControls,
// UpdateGroupControls, FinalizeControlSync) are collective: every rank must
// call them in the same order, also ranks without local wells.
package wellmodel

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/wellsim/config"
	"github.com/notargets/wellsim/econ"
	"github.com/notargets/wellsim/grid"
	"github.com/notargets/wellsim/group"
	"github.com/notargets/wellsim/logger"
	"github.com/notargets/wellsim/partitions"
	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/reservoir"
	"github.com/notargets/wellsim/schedule"
	"github.com/notargets/wellsim/vfp"
	"github.com/notargets/wellsim/well"
	"github.com/notargets/wellsim/wellcontrol"
	"github.com/notargets/wellsim/wellstate"
)

var (
	ErrUnknownWell  = errors.New("well is not in the schedule")
	ErrMultiSegment = errors.New("multi-segment wells are not supported")
)

// Context is what the coordinator shares with its wells
type Context struct {
	Config config.Config
	Phases phases.Usage
	Comm   partitions.Communicator // nil means a single process
	VFP    *vfp.Properties
	// Wells lists the wells of this process in well state order. nil means
	// every schedule well.
	Wells []string
	// Converter turns surface rates into voidage rates. nil uses the field
	// averaged formation volume factors.
	Converter group.RateConverter
	Log       *slog.Logger
	Notices   *logger.Notices
}

// Report is the outcome of an assembly or inner solve
type Report struct {
	Converged           bool // false when the inner well solve hit its iteration bound
	TotalWellIterations int
}

type Model struct {
	ctx        Context
	params     config.Wells
	sched      *schedule.Schedule
	grid       grid.Grid
	collection *group.WellCollection

	wells   []*well.StandardWell
	layout  []wellstate.WellLayout
	numPerf int

	wellsActive bool // wells on any rank
	globalCells int
	numEq       int

	formation    group.FormationFactorConverter
	switches     []string
	lastSwitches []string
}

// New builds the local well container. Shut wells are left out; the
// remaining wells get their perforation geometry, controls and injected
// composition from the schedule and are bound to their leaf in collection.
func New(ctx Context, sched *schedule.Schedule, g grid.Grid, collection *group.WellCollection) (*Model, error) {
	if ctx.Comm == nil {
		ctx.Comm = partitions.Serial{}
	}
	ctx.Log = logger.OrDefault(ctx.Log)
	if ctx.Notices == nil {
		ctx.Notices = logger.NewNotices(ctx.Log)
	}
	m := &Model{
		ctx:        ctx,
		params:     ctx.Config.Wells,
		sched:      sched,
		grid:       g,
		collection: collection,
	}

	names := ctx.Wells
	if names == nil {
		for i := range sched.Wells {
			names = append(names, sched.Wells[i].Name)
		}
	}
	cartToComp := grid.CartesianToCompressed(g)
	for _, name := range names {
		sw, ok := sched.Well(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownWell, name)
		}
		if sw.Status == schedule.Shut {
			continue
		}
		if sw.MultiSegment {
			return nil, fmt.Errorf("%w: %s", ErrMultiSegment, name)
		}
		if sw.Type != schedule.Producer && sw.Type != schedule.Injector {
			return nil, fmt.Errorf("%w: well %s has type %q", schedule.ErrWellType, name, sw.Type)
		}
		if err := m.addWell(sw, cartToComp); err != nil {
			return nil, err
		}
	}
	ctx.Log.Debug("well container built", "wells", len(m.wells), "perforations", m.numPerf)
	return m, nil
}

func (m *Model) addWell(sw *schedule.Well, cartToComp map[int]int) error {
	perfs, err := well.ComputePerfGeometry(m.grid, sw, cartToComp, m.ctx.Notices)
	if err != nil {
		return err
	}
	list, err := sw.BuildControls(m.ctx.Phases)
	if err != nil {
		return err
	}
	comp, err := sw.Composition(m.ctx.Phases)
	if err != nil {
		return err
	}
	refDepth := sw.RefDepth
	if refDepth == 0 && len(perfs) > 0 {
		refDepth = perfs[0].Depth
	}
	controls := wellcontrol.NewControls(list...)
	index := len(m.wells)
	w := well.New(well.Spec{
		Name:         sw.Name,
		Schedule:     sw,
		Injector:     sw.IsInjector(),
		Stopped:      sw.Status == schedule.Stopped,
		RefDepth:     refDepth,
		Perforations: perfs,
		Controls:     controls,
		Composition:  comp,
	}, index, m.numPerf)
	if err := m.collection.BindWell(sw.Name, index, controls); err != nil {
		return fmt.Errorf("well %s: %w", sw.Name, err)
	}
	m.wells = append(m.wells, w)
	m.layout = append(m.layout, wellstate.WellLayout{Name: sw.Name, NumPerf: len(perfs)})
	m.numPerf += len(perfs)
	return nil
}

// Init binds the wells to the reservoir. It counts the global cells and
// whether any rank has wells.
func (m *Model) Init(sim reservoir.Simulator) error {
	interior := 0
	for c := 0; c < sim.NumCells(); c++ {
		if sim.Interior(c) {
			interior++
		}
	}
	m.globalCells = partitions.CountGlobalCells(m.ctx.Comm, interior)
	m.wellsActive = partitions.AnyRank(m.ctx.Comm, len(m.wells) > 0)
	m.numEq = sim.NumEq()

	wctx := well.Context{
		Phases:   m.ctx.Phases,
		VFP:      m.ctx.VFP,
		Gravity:  m.ctx.Config.Gravity,
		NumCells: sim.NumCells(),
		NumEq:    m.numEq,
		Params:   m.params,
		Log:      m.ctx.Log,
		Notices:  m.ctx.Notices,
	}
	for _, w := range m.wells {
		if err := w.Init(wctx); err != nil {
			return err
		}
	}
	return m.CalculateEfficiencyFactors()
}

func (m *Model) Wells() []*well.StandardWell           { return m.wells }
func (m *Model) NumWells() int                         { return len(m.wells) }
func (m *Model) Collection() *group.WellCollection     { return m.collection }
func (m *Model) WellsActive() bool                     { return m.wellsActive }
func (m *Model) LocalWellsActive() bool                { return len(m.wells) > 0 }
func (m *Model) GlobalCells() int                      { return m.globalCells }
func (m *Model) Layout() []wellstate.WellLayout        { return m.layout }
func (m *Model) Communicator() partitions.Communicator { return m.ctx.Comm }

// LastSwitches returns the control switches gathered over all ranks since
// the last Assemble began
func (m *Model) LastSwitches() []string { return m.lastSwitches }

// NewWellState returns the state a run starts from: the first control of
// each well in force, bhp at the control's target or just off the pressure
// of the top perforation, and rates from the inflow at that bhp.
func (m *Model) NewWellState(sim reservoir.Simulator) (*wellstate.WellState, error) {
	np := m.ctx.Phases.NumPhases
	ws := wellstate.New(m.layout, np, np+1)
	for _, w := range m.wells {
		i := w.Index()
		cur := w.Controls().Current()
		ws.CurrentControls[i] = cur

		bhp := 0.0
		if perfs := w.Perforations(); len(perfs) > 0 {
			p := sim.Intensive(perfs[0].Cell).Pressure.Value
			if w.IsInjector() {
				bhp = 1.01 * p
			} else {
				bhp = 0.99 * p
			}
		}
		if c, ok := w.Controls().CurrentControl().(wellcontrol.BHP); ok {
			bhp = c.Value
		}
		ws.BHP[i] = bhp
		if !w.IsStopped() {
			copy(ws.Rates(i), w.WellRatesWithBhp(sim, bhp))
		}
		seedSolution(m.ctx.Phases, w, ws)
		if err := w.UpdateWellStateWithTarget(cur, ws); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

// seedSolution gives a well equal fractions, no total rate and its bhp.
// UpdateWellStateWithTarget overwrites this for wells with a control in force.
func seedSolution(pu phases.Usage, w *well.StandardWell, ws *wellstate.WellState) {
	i := w.Index()
	share := 1 / float64(pu.NumPhases)
	ws.SetSolution(well.WQTotal, i, 0)
	ws.SetSolution(well.WFrac, i, share)
	if pu.IsActive(phases.Gas) {
		ws.SetSolution(well.WFrac+1, i, share)
	}
	ws.SetSolution(w.NumWellEq()-1, i, ws.BHP[i])
}

// CalculateEfficiencyFactors applies each well's accumulated efficiency
// from the group tree to its perforations
func (m *Model) CalculateEfficiencyFactors() error {
	for _, w := range m.wells {
		f, err := m.collection.AccumulativeEfficiencyFactor(w.Name())
		if err != nil {
			return fmt.Errorf("well %s: %w", w.Name(), err)
		}
		w.SetEfficiencyFactor(f)
	}
	return nil
}

// ComputeAverageFormationFactor returns the formation volume factor of each
// active phase averaged over the interior cells of all ranks
func (m *Model) ComputeAverageFormationFactor(sim reservoir.Simulator) []float64 {
	pu := m.ctx.Phases
	sums := make([]float64, pu.NumPhases)
	for c := 0; c < sim.NumCells(); c++ {
		if !sim.Interior(c) {
			continue
		}
		iq := sim.Intensive(c)
		for _, p := range pu.Phases() {
			sums[pu.Pos[p]] += 1 / iq.InvB[p].Value
		}
	}
	avg := m.ctx.Comm.SumFloat64s(sums)
	if m.globalCells > 0 {
		floats.Scale(1/float64(m.globalCells), avg)
	}
	return avg
}

func (m *Model) converter() group.RateConverter {
	if m.ctx.Converter != nil {
		return m.ctx.Converter
	}
	return &m.formation
}

// SetWellVariables loads every well's primary variables from ws
func (m *Model) SetWellVariables(ws *wellstate.WellState) {
	for _, w := range m.wells {
		w.SetWellVariables(ws)
	}
}

// ComputeWellConnectionPressures refreshes the wellbore densities and the
// perforation pressure offsets
func (m *Model) ComputeWellConnectionPressures(sim reservoir.Simulator, ws *wellstate.WellState) {
	for _, w := range m.wells {
		w.ComputeWellConnectionPressures(sim, ws)
	}
}

// ComputeAccumWells stores the start of step surface volume fractions
func (m *Model) ComputeAccumWells() {
	for _, w := range m.wells {
		w.ComputeAccumWell()
	}
}

// ComputeWellPotentials returns the magnitude of each well's potential rates, nw*np
func (m *Model) ComputeWellPotentials(sim reservoir.Simulator, ws *wellstate.WellState) ([]float64, error) {
	np := m.ctx.Phases.NumPhases
	out := make([]float64, len(m.wells)*np)
	for _, w := range m.wells {
		pot, err := w.ComputeWellPotentials(sim, ws)
		if err != nil {
			return nil, err
		}
		for p := 0; p < np; p++ {
			out[w.Index()*np+p] = math.Abs(pot[p])
		}
	}
	return out, nil
}

// ComputeWellVoidageRates returns the reservoir voidage rate of each
// producer (zero for injectors) and the surface to reservoir conversion
// coefficients of each injector (one for producers), nw*np.
func (m *Model) ComputeWellVoidageRates(ws *wellstate.WellState) (voidage, coeffs []float64) {
	np := m.ctx.Phases.NumPhases
	voidage = make([]float64, len(m.wells))
	coeffs = make([]float64, len(m.wells)*np)
	for i := range coeffs {
		coeffs[i] = 1
	}
	conv := m.converter()
	rates := make([]float64, np)
	coeff := make([]float64, np)
	for _, w := range m.wells {
		i := w.Index()
		copy(rates, ws.Rates(i))
		if w.IsInjector() {
			conv.CalcCoeff(rates, 0, coeff)
			copy(coeffs[i*np:(i+1)*np], coeff)
			continue
		}
		floats.Scale(-1, rates)
		conv.CalcCoeff(rates, 0, coeff)
		voidage[i] = floats.Dot(rates, coeff)
	}
	return voidage, coeffs
}

// ApplyVREPGroupControl sets the voidage replacement targets and puts the
// affected injectors under group control
func (m *Model) ApplyVREPGroupControl(ws *wellstate.WellState) error {
	if !m.collection.HavingVREPGroups() {
		return nil
	}
	np := m.ctx.Phases.NumPhases
	voidage, coeffs := m.ComputeWellVoidageRates(ws)
	m.collection.ApplyVREPGroupControls(voidage, coeffs, np)
	for _, leaf := range m.collection.LeafNodes() {
		if !leaf.Injector || leaf.IndividualControl || leaf.SelfIndex < 0 {
			continue
		}
		w := m.wells[leaf.SelfIndex]
		if err := m.setControl(w, ws, leaf.GroupControlIndex); err != nil {
			return err
		}
	}
	return nil
}

// setControl puts w on control idx, recording the switch
func (m *Model) setControl(w *well.StandardWell, ws *wellstate.WellState, idx int) error {
	i := w.Index()
	if from := ws.CurrentControls[i]; from != idx {
		m.recordSwitch(w, from, idx)
	}
	ws.CurrentControls[i] = idx
	w.Controls().SetCurrent(idx)
	return m.collection.UpdateIndividualControl(w.Name(), idx)
}

func (m *Model) recordSwitch(w *well.StandardWell, from, to int) {
	kind := func(i int) string {
		if i < 0 || i >= w.Controls().Len() {
			return "NONE"
		}
		return w.Controls().At(i).Kind().String()
	}
	m.switches = append(m.switches, fmt.Sprintf("%s: %s -> %s", w.Name(), kind(from), kind(to)))
}

// refreshReservoirRateControls weights the individual reservoir rate
// controls with the current conversion coefficients
func (m *Model) refreshReservoirRateControls(ws *wellstate.WellState) error {
	np := m.ctx.Phases.NumPhases
	conv := m.converter()
	coeff := make([]float64, np)
	for _, w := range m.wells {
		ctrls := w.Controls()
		node, err := m.collection.FindWellNode(w.Name())
		if err != nil {
			return err
		}
		base, err := w.Schedule().Composition(m.ctx.Phases)
		if err != nil {
			return err
		}
		if !w.IsInjector() {
			for p := range base {
				base[p] = 1
			}
		}
		rates := append([]float64(nil), ws.Rates(w.Index())...)
		if !w.IsInjector() {
			floats.Scale(-1, rates)
		}
		conv.CalcCoeff(rates, 0, coeff)
		for i := 0; i < ctrls.Len(); i++ {
			c, ok := ctrls.At(i).(wellcontrol.ReservoirRate)
			if !ok || i == node.GroupControlIndex {
				continue
			}
			distr := make([]float64, np)
			floats.MulTo(distr, base, coeff)
			ctrls.Set(i, wellcontrol.ReservoirRate{Distr: distr, Value: c.Value})
		}
	}
	return nil
}

// PrepareTimeStep synchronises the controls with the state, distributes the
// group targets and moves every well onto the target of its control
func (m *Model) PrepareTimeStep(sim reservoir.Simulator, ws *wellstate.WellState) error {
	if m.ctx.Converter == nil {
		m.formation.SetAverage(m.ComputeAverageFormationFactor(sim))
	}
	if err := m.refreshReservoirRateControls(ws); err != nil {
		return err
	}

	coll := m.collection
	for _, w := range m.wells {
		i := w.Index()
		ctrls := w.Controls()
		// after a restart the state's control index wins
		if ws.CurrentControls[i] != ctrls.Current() {
			ctrls.SetCurrent(ws.CurrentControls[i])
		}
		if !coll.GroupControlActive() {
			continue
		}
		node, err := coll.FindWellNode(w.Name())
		if err != nil {
			return err
		}
		if gi := node.GroupControlIndex; gi >= 0 && ctrls.Current() < 0 {
			if err := m.setControl(w, ws, gi); err != nil {
				return err
			}
			continue
		}
		if err := coll.UpdateIndividualControl(w.Name(), ctrls.Current()); err != nil {
			return err
		}
	}

	if coll.GroupControlActive() {
		np := m.ctx.Phases.NumPhases
		if coll.RequireWellPotentials() {
			m.SetWellVariables(ws)
			m.ComputeWellConnectionPressures(sim, ws)
			pot, err := m.ComputeWellPotentials(sim, ws)
			if err != nil {
				return err
			}
			coll.SetGuideRatesWithPotentials(pot, np)
		}
		if err := m.ApplyVREPGroupControl(ws); err != nil {
			return err
		}
		if !coll.GroupControlApplied() {
			coll.ApplyGroupControls()
		} else {
			coll.UpdateWellTargets(ws.WellRates, np)
		}
	}

	for _, w := range m.wells {
		i := w.Index()
		cur := w.Controls().Current()
		ws.CurrentControls[i] = cur
		if err := w.UpdateWellStateWithTarget(cur, ws); err != nil {
			return err
		}
		ws.SetNewWell(i, false)
	}
	return nil
}

// Assemble linearizes the wells for Newton iteration iterationIdx. The
// first iteration prepares the time step and, when configured, solves the
// well equations alone before the coupled assembly. The report carries the
// outcome of that inner solve and is converged when none ran.
func (m *Model) Assemble(sim reservoir.Simulator, iterationIdx int, dt float64, ws *wellstate.WellState) (Report, error) {
	m.lastSwitches = nil
	if iterationIdx == 0 {
		if err := m.PrepareTimeStep(sim, ws); err != nil {
			return Report{}, err
		}
	}
	report := Report{Converged: true}
	if !m.wellsActive {
		return report, nil
	}

	if err := m.UpdateWellControls(ws); err != nil {
		return report, err
	}
	if err := m.UpdateGroupControls(ws); err != nil {
		return report, err
	}
	m.SetWellVariables(ws)

	if iterationIdx == 0 {
		m.ComputeWellConnectionPressures(sim, ws)
		m.ComputeAccumWells()
	}
	if m.params.SolveWellEqInitially && iterationIdx == 0 {
		r, err := m.SolveWellEq(sim, dt, ws)
		if err != nil {
			return r, err
		}
		report = r
		if !r.Converged {
			m.ctx.Log.Debug("well equations did not converge, continuing with the previous well state",
				"iterations", r.TotalWellIterations)
		}
	}
	if err := m.assembleWellEq(sim, dt, ws, false); err != nil {
		return report, err
	}
	return report, nil
}

func (m *Model) assembleWellEq(sim reservoir.Simulator, dt float64, ws *wellstate.WellState, wellsOnly bool) error {
	for _, w := range m.wells {
		if err := w.AssembleWellEq(sim, dt, ws, wellsOnly); err != nil {
			return err
		}
	}
	return nil
}

// wellsConverged reports, on every rank alike, whether all wells converged
func (m *Model) wellsConverged(bAvg []float64, ws *wellstate.WellState) bool {
	local := true
	for _, w := range m.wells {
		if !w.Converged(bAvg) {
			local = false
		}
	}
	if local && m.collection.GroupControlActive() {
		local = m.collection.GroupTargetConverged(ws.WellRates, m.ctx.Phases.NumPhases)
	}
	return partitions.AllRanks(m.ctx.Comm, local)
}

// SolveWellEq iterates on the well equations with the reservoir frozen. When
// it fails to converge within the iteration bound the well state, the
// current controls and the group control flags are restored.
func (m *Model) SolveWellEq(sim reservoir.Simulator, dt float64, ws *wellstate.WellState) (Report, error) {
	saved := ws.Clone()
	groups := m.collection.Snapshot()
	bAvg := m.ComputeAverageFormationFactor(sim)

	maxIter := m.params.MaxInnerIterWells
	it := 0
	converged := false
	for {
		if err := m.assembleWellEq(sim, dt, ws, true); err != nil {
			return Report{}, err
		}
		if converged = m.wellsConverged(bAvg, ws); converged {
			break
		}
		it++
		for _, w := range m.wells {
			if err := w.WellEqIteration(ws); err != nil {
				return Report{}, err
			}
		}
		if err := m.UpdateWellControls(ws); err != nil {
			return Report{}, err
		}
		if err := m.UpdateGroupControls(ws); err != nil {
			return Report{}, err
		}
		m.SetWellVariables(ws)
		if it >= maxIter {
			break
		}
	}

	if !converged {
		ws.CopyFrom(saved)
		for _, w := range m.wells {
			w.Controls().SetCurrent(ws.CurrentControls[w.Index()])
		}
		m.collection.Restore(groups)
		m.SetWellVariables(ws)
	}
	return Report{Converged: converged, TotalWellIterations: it}, nil
}

// UpdateWellControls switches every well whose constraints are broken and
// synchronises the switch log
func (m *Model) UpdateWellControls(ws *wellstate.WellState) error {
	if !m.wellsActive {
		return nil
	}
	var firstErr error
	for _, w := range m.wells {
		switched, from, to, err := w.UpdateWellControl(ws)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if !switched {
			continue
		}
		m.recordSwitch(w, from, to)
		if err := m.collection.UpdateIndividualControl(w.Name(), to); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.FinalizeControlSync()
	return firstErr
}

// UpdateGroupControls refreshes voidage replacement and the group targets
// and moves the wells onto their updated targets
func (m *Model) UpdateGroupControls(ws *wellstate.WellState) error {
	if !m.wellsActive {
		return nil
	}
	var firstErr error
	if m.collection.GroupControlActive() {
		if err := m.ApplyVREPGroupControl(ws); err != nil {
			firstErr = err
		}
		m.collection.UpdateWellTargets(ws.WellRates, m.ctx.Phases.NumPhases)
		for _, w := range m.wells {
			if err := w.UpdateWellStateWithTarget(ws.CurrentControls[w.Index()], ws); err != nil {
				firstErr = err
				break
			}
		}
	}
	m.FinalizeControlSync()
	return firstErr
}

// FinalizeControlSync gathers the control switches recorded since the last
// call from all ranks, logs them on rank 0 and returns them
func (m *Model) FinalizeControlSync() []string {
	all := m.ctx.Comm.AllGatherStrings(m.switches)
	m.switches = m.switches[:0]
	var gathered []string
	for rank, records := range all {
		for _, r := range records {
			gathered = append(gathered, r)
			if m.ctx.Comm.Rank() == 0 {
				m.ctx.Log.Info("well control switched", "from_rank", rank, "switch", r)
			}
		}
	}
	m.lastSwitches = append(m.lastSwitches, gathered...)
	return gathered
}

// UpdateListEconLimited evaluates the economic limits of the local wells
func (m *Model) UpdateListEconLimited(sched *schedule.Schedule, ws *wellstate.WellState) (*econ.DynamicListEconLimited, error) {
	infos := make([]econ.WellInfo, len(m.wells))
	for i, w := range m.wells {
		infos[i] = econ.WellInfo{Name: w.Name(), Injector: w.IsInjector()}
		for _, perf := range w.Perforations() {
			infos[i].PerfCells = append(infos[i].PerfCells, perf.Cell)
		}
	}
	return econ.NewEvaluator(m.ctx.Phases, m.ctx.Log, m.ctx.Notices).Evaluate(sched, infos, ws)
}
