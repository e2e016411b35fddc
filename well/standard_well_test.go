package well

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/wellsim/config"
	"github.com/notargets/wellsim/grid"
	"github.com/notargets/wellsim/logger"
	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/reservoir"
	"github.com/notargets/wellsim/schedule"
	"github.com/notargets/wellsim/vfp"
	"github.com/notargets/wellsim/wellcontrol"
	"github.com/notargets/wellsim/wellstate"
)

const refDepth = 1000.0

func testColumn(t *testing.T) (*grid.CartesianGrid, *reservoir.Model) {
	g, err := grid.NewCartesian([3]int{1, 1, 3}, [3]float64{10, 20, 5}, refDepth, nil)
	require.NoError(t, err)
	cells := make([]reservoir.CellState, 3)
	for c := range cells {
		cells[c] = reservoir.CellState{Pressure: 200e5, Sw: 0.3, Sg: 0.1}
	}
	m, err := reservoir.NewModel(phases.MustUsage(true, true, true), reservoir.DefaultFluid(), cells)
	require.NoError(t, err)
	return g, m
}

func testVFP(t *testing.T) *vfp.Properties {
	props, err := vfp.NewProperties(nil, []vfp.Table{{
		ID:         1,
		DatumDepth: refDepth,
		Flo:        vfp.FloOil,
		THP:        []float64{10e5, 20e5},
		Rates:      []float64{0, 0.01},
		BHP:        [][]float64{{100e5, 120e5}, {110e5, 130e5}},
	}})
	require.NoError(t, err)
	return props
}

func newTestWell(t *testing.T, injector bool, ctrls ...wellcontrol.Control) (*StandardWell, *wellstate.WellState, *reservoir.Model) {
	g, m := testColumn(t)
	pu := m.Phases
	sw := &schedule.Well{Name: "P1", Type: schedule.Producer, RefDepth: refDepth}
	comp := []float64{0, 0, 0}
	if injector {
		sw.Name, sw.Type, sw.InjectedPhase = "I1", schedule.Injector, "WATER"
		comp = []float64{1, 0, 0}
	}
	for k := 0; k < 3; k++ {
		sw.Completions = append(sw.Completions, schedule.Completion{
			K: k, Diameter: 0.2, Direction: schedule.DirZ, State: schedule.CompletionOpen, TransFactor: 1e-12,
		})
	}
	perfs, err := ComputePerfGeometry(g, sw, grid.CartesianToCompressed(g), nil)
	require.NoError(t, err)

	w := New(Spec{
		Name:         sw.Name,
		Schedule:     sw,
		Injector:     injector,
		RefDepth:     refDepth,
		Perforations: perfs,
		Controls:     wellcontrol.NewControls(ctrls...),
		Composition:  comp,
	}, 0, 0)
	require.NoError(t, w.Init(Context{
		Phases:   pu,
		VFP:      testVFP(t),
		Gravity:  9.80665,
		NumCells: m.NumCells(),
		NumEq:    m.NumEq(),
		Params:   config.Default().Wells,
	}))
	ws := wellstate.New([]wellstate.WellLayout{{Name: sw.Name, NumPerf: len(perfs)}}, pu.NumPhases, w.NumWellEq())
	return w, ws, m
}

func TestInitRequiresPerforations(t *testing.T) {
	w := New(Spec{Name: "EMPTY"}, 0, 0)
	err := w.Init(Context{Phases: phases.MustUsage(true, true, false), Params: config.Default().Wells})
	assert.ErrorIs(t, err, ErrNoPerforations)

	params := config.Default().Wells
	params.RequireGeometry = false
	assert.NoError(t, w.Init(Context{Phases: phases.MustUsage(true, true, false), Params: params}))
	assert.Equal(t, 3, w.NumWellEq())
}

func TestUpdateWellStateWithTargetReproducesRates(t *testing.T) {
	tests := []struct {
		name     string
		injector bool
		ctrl     wellcontrol.Control
		rates    []float64
	}{
		{"producer oil rate", false, wellcontrol.SurfaceRate{Distr: []float64{0, 1, 0}, Value: -0.003}, []float64{-0.002, -0.006, -0.5}},
		{"producer liquid rate from rest", false, wellcontrol.SurfaceRate{Distr: []float64{1, 1, 0}, Value: -0.02}, []float64{0, 0, 0}},
		{"producer reservoir rate", false, wellcontrol.ReservoirRate{Distr: []float64{1.0, 1.2, 0.005}, Value: -0.01}, []float64{-0.001, -0.004, -0.2}},
		{"producer bhp", false, wellcontrol.BHP{Value: 150e5}, []float64{-0.001, -0.003, -0.1}},
		{"water injector", true, wellcontrol.SurfaceRate{Distr: []float64{1, 0, 0}, Value: 0.01}, []float64{0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ws, _ := newTestWell(t, tt.injector, tt.ctrl)
			copy(ws.Rates(0), tt.rates)
			ws.BHP[0] = 180e5
			require.NoError(t, w.UpdateWellStateWithTarget(0, ws))

			w.SetWellVariables(ws)
			g := w.scalingFactors(w.Controls().At(0))
			for p, q := range ws.Rates(0) {
				assert.InDelta(t, q, w.surfaceRate(p, g).Value, 1e-12, "phase %d", p)
			}
			assert.Equal(t, ws.BHP[0], ws.Solution(w.bhpIdx(), 0))
			if wellcontrol.IsRate(tt.ctrl) {
				sum := 0.0
				for p, d := range wellcontrol.Distribution(tt.ctrl) {
					sum += d * ws.Rates(0)[p]
				}
				assert.InDelta(t, tt.ctrl.Target(), sum, 1e-12)
			}
		})
	}
}

func TestUpdateWellStateWithTargetKeepsRatios(t *testing.T) {
	w, ws, _ := newTestWell(t, false, wellcontrol.SurfaceRate{Distr: []float64{0, 1, 0}, Value: -0.003})
	copy(ws.Rates(0), []float64{-0.002, -0.006, -0.5})
	require.NoError(t, w.UpdateWellStateWithTarget(0, ws))
	assert.InDeltaSlice(t, []float64{-0.001, -0.003, -0.25}, ws.Rates(0), 1e-12)
}

func TestInjectorRateOnTwoPhasesFails(t *testing.T) {
	w, ws, _ := newTestWell(t, true, wellcontrol.SurfaceRate{Distr: []float64{1, 1, 0}, Value: 0.01})
	assert.Error(t, w.UpdateWellStateWithTarget(0, ws))
}

func TestTHPTarget(t *testing.T) {
	w, ws, _ := newTestWell(t, false, wellcontrol.THP{Table: 1, Value: 15e5})
	copy(ws.Rates(0), []float64{0, -0.005, 0})
	require.NoError(t, w.UpdateWellStateWithTarget(0, ws))
	// datum and reference depth coincide, so no hydrostatic correction
	assert.InDelta(t, 115e5, ws.BHP[0], 1)
	assert.Equal(t, 15e5, ws.THP[0])

	ws.THP[0] = 0
	require.NoError(t, w.updateTHP(ws))
	assert.InDelta(t, 15e5, ws.THP[0], 1)
}

func TestConnectionPressuresOfInjector(t *testing.T) {
	w, ws, m := newTestWell(t, true, wellcontrol.BHP{Value: 250e5})
	w.ComputeWellConnectionPressures(m, ws)

	rho := m.Intensive(0).Density[phases.Water]
	for k, perf := range w.Perforations() {
		assert.InDelta(t, rho, w.PerfDensities()[k], 1e-9)
		assert.InDelta(t, rho*9.80665*(perf.Depth-refDepth), w.PerfPressureDiffs()[k], 1e-6)
	}
}

func TestAssembleProducer(t *testing.T) {
	w, ws, m := newTestWell(t, false, wellcontrol.BHP{Value: 150e5})
	require.NoError(t, w.UpdateWellStateWithTarget(0, ws))
	w.SetWellVariables(ws)
	w.ComputeWellConnectionPressures(m, ws)
	w.ComputeAccumWell()
	require.NoError(t, w.AssembleWellEq(m, 86400, ws, false))

	for k, perf := range w.Perforations() {
		for p, q := range ws.PerfRates(k) {
			assert.Less(t, q, 0.0, "perf %d phase %d", k, p)
			assert.InDelta(t, -q, m.System.Residual.Block(perf.Cell)[p], 1e-15)
		}
		assert.InDelta(t, 150e5+w.PerfPressureDiffs()[k], ws.PerfPress[k], 1e-6)
	}
	// control row
	assert.InDelta(t, 0, w.ResidualNorm()[w.bhpIdx()], 1e-9)
}

func TestApplyMatchesExplicitContributions(t *testing.T) {
	w, ws, m := newTestWell(t, false, wellcontrol.BHP{Value: 150e5})
	copy(ws.Rates(0), []float64{-0.001, -0.003, -0.2})
	require.NoError(t, w.UpdateWellStateWithTarget(0, ws))
	w.SetWellVariables(ws)
	w.ComputeWellConnectionPressures(m, ws)
	w.ComputeAccumWell()
	require.NoError(t, w.AssembleWellEq(m, 86400, ws, false))

	n := m.NumCells() * m.NumEq()
	x := reservoir.NewBlockVector(m.NumCells(), m.NumEq())
	for i := range x.Data {
		x.Data[i] = float64(i%4) * 1e4
		if i%3 == 1 {
			x.Data[i] = 0.01 * float64(i)
		}
	}
	y := reservoir.NewBlockVector(m.NumCells(), m.NumEq())
	w.Apply(x, y)

	A := mat.NewDense(n, n, nil)
	w.AddContributions(A)
	var explicit mat.VecDense
	explicit.MulVec(A, mat.NewVecDense(n, x.Data))

	scale := 0.0
	for _, v := range y.Data {
		scale = math.Max(scale, math.Abs(v))
	}
	require.Greater(t, scale, 0.0)
	for i, v := range y.Data {
		assert.InDelta(t, explicit.AtVec(i), v, 1e-9*scale, "row %d", i)
	}

	// a well-only assembly drops the coupling
	require.NoError(t, w.AssembleWellEq(m, 86400, ws, true))
	z := reservoir.NewBlockVector(m.NumCells(), m.NumEq())
	w.Apply(x, z)
	assert.Equal(t, make([]float64, n), z.Data)
}

func TestWellOnlyNewton(t *testing.T) {
	w, ws, m := newTestWell(t, false, wellcontrol.BHP{Value: 150e5})
	require.NoError(t, w.UpdateWellStateWithTarget(0, ws))
	w.SetWellVariables(ws)
	w.ComputeWellConnectionPressures(m, ws)

	expected := w.WellRatesWithBhp(m, 150e5)
	for p, q := range expected {
		ws.Rates(0)[p] = 1.1 * q
	}
	require.NoError(t, w.UpdateWellStateWithTarget(0, ws))
	w.SetWellVariables(ws)
	w.ComputeAccumWell()

	bAvg := []float64{1, 1, 1}
	converged := false
	for it := 0; it < 15; it++ {
		require.NoError(t, w.AssembleWellEq(m, 86400, ws, true))
		if converged = w.Converged(bAvg); converged {
			break
		}
		require.NoError(t, w.WellEqIteration(ws))
	}
	require.True(t, converged)
	assert.InDeltaSlice(t, expected, ws.Rates(0), 1e-6)
	assert.InDelta(t, 150e5, ws.BHP[0], 1e-3)

	w.resWell[0] = math.NaN()
	assert.False(t, w.Converged(bAvg))
}

func TestUpdateWellControl(t *testing.T) {
	w, ws, _ := newTestWell(t, false,
		wellcontrol.SurfaceRate{Distr: []float64{0, 1, 0}, Value: -0.001},
		wellcontrol.BHP{Value: 150e5},
	)
	w.Controls().SetCurrent(1)
	ws.CurrentControls[0] = 1
	ws.BHP[0] = 150e5
	copy(ws.Rates(0), []float64{-0.002, -0.01, -0.5})

	switched, from, to, err := w.UpdateWellControl(ws)
	require.NoError(t, err)
	assert.True(t, switched)
	assert.Equal(t, 1, from)
	assert.Equal(t, 0, to)
	assert.Equal(t, 0, w.Controls().Current())
	assert.InDelta(t, -0.001, ws.Rates(0)[1], 1e-15)
	assert.InDelta(t, -0.0002, ws.Rates(0)[0], 1e-15)

	switched, _, _, err = w.UpdateWellControl(ws)
	require.NoError(t, err)
	assert.False(t, switched)
	assert.Equal(t, 0, ws.CurrentControls[0])
}

func TestComputeWellPotentials(t *testing.T) {
	w, ws, m := newTestWell(t, false, wellcontrol.BHP{Value: 150e5})
	require.NoError(t, w.UpdateWellStateWithTarget(0, ws))
	w.SetWellVariables(ws)

	pot, err := w.ComputeWellPotentials(m, ws)
	require.NoError(t, err)
	assert.Equal(t, w.WellRatesWithBhp(m, 150e5), pot)

	open, _, m2 := newTestWell(t, false, wellcontrol.SurfaceRate{Distr: []float64{0, 1, 0}, Value: -0.001})
	pot2, err := open.ComputeWellPotentials(m2, nil)
	require.NoError(t, err)
	// one atmosphere drawdown exceeds the 150 bar limit
	assert.Less(t, pot2[1], pot[1])
}

func TestComputePerfGeometry(t *testing.T) {
	g, _ := testColumn(t)
	cart := grid.CartesianToCompressed(g)
	notices := logger.NewNotices(logger.New(&discard{}, "error", "text"))

	sw := &schedule.Well{Name: "W", Completions: []schedule.Completion{
		{K: 0, Direction: schedule.DirZ, State: schedule.CompletionOpen, TransFactor: 2},
		{K: 1, Direction: schedule.DirZ, State: schedule.CompletionShut},
		{K: 2, Diameter: 0.3, Direction: schedule.DirX, State: schedule.CompletionOpen},
	}}
	perfs, err := ComputePerfGeometry(g, sw, cart, notices)
	require.NoError(t, err)
	require.Len(t, perfs, 2)
	assert.Equal(t, 1, notices.Count(logger.TagDefaultWellRadius))

	re := math.Sqrt(10 * 20 / math.Pi)
	assert.InDelta(t, math.Sqrt(re*defaultRadius), perfs[0].RepRadius, 1e-12)
	assert.InDelta(t, 5, perfs[0].Length, 1e-12)
	assert.InDelta(t, 2*defaultRadius, perfs[0].BoreDiameter, 1e-12)
	assert.Equal(t, 2.0, perfs[0].TransFactor)

	reX := math.Sqrt(20 * 5 / math.Pi)
	assert.Equal(t, 2, perfs[1].Cell)
	assert.InDelta(t, math.Sqrt(reX*0.15), perfs[1].RepRadius, 1e-12)
	assert.InDelta(t, 10, perfs[1].Length, 1e-12)
	assert.InDelta(t, 1012.5, perfs[1].Depth, 1e-12)

	errs := []struct {
		name       string
		completion schedule.Completion
		expected   error
	}{
		{"direction", schedule.Completion{Direction: "W", State: schedule.CompletionOpen}, ErrDirection},
		{"cell", schedule.Completion{K: 7, Direction: schedule.DirZ, State: schedule.CompletionOpen}, ErrCellNotFound},
		{"state", schedule.Completion{Direction: schedule.DirZ, State: schedule.CompletionAuto}, ErrCompletionState},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputePerfGeometry(g, &schedule.Well{Name: "BAD", Completions: []schedule.Completion{tt.completion}}, cart, nil)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
