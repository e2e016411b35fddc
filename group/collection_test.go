package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/schedule"
	"github.com/notargets/wellsim/wellcontrol"
)

var pu = phases.MustUsage(true, true, true)

func TestAccumulativeEfficiency(t *testing.T) {
	tests := []struct {
		name     string
		chain    []float64 // group efficiencies from FIELD's child downwards
		well     float64
		expected float64
	}{
		{"directly under field", nil, 0.9, 0.9},
		{"one group", []float64{0.5}, 1, 0.5},
		{"deep chain", []float64{0.9, 0.8, 0.5, 0.25}, 0.95, 0.9 * 0.8 * 0.5 * 0.25 * 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := &schedule.Schedule{}
			parent := ""
			for i, e := range tt.chain {
				name := string(rune('A' + i))
				sched.Groups = append(sched.Groups, schedule.Group{Name: name, Parent: parent, Efficiency: e})
				parent = name
			}
			sched.Wells = []schedule.Well{{Name: "W", Type: schedule.Producer, Group: parent, Efficiency: tt.well}}
			c, err := New(sched, pu, 1e-3)
			require.NoError(t, err)
			f, err := c.AccumulativeEfficiencyFactor("W")
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, f, 1e-15)
		})
	}
}

func TestHierarchyErrors(t *testing.T) {
	_, err := New(&schedule.Schedule{Groups: []schedule.Group{
		{Name: "A", Parent: "B"}, {Name: "B", Parent: "A"},
	}}, pu, 1e-3)
	assert.ErrorIs(t, err, ErrCycle)

	_, err = New(&schedule.Schedule{Groups: []schedule.Group{{Name: "A", Parent: "NOPE"}}}, pu, 1e-3)
	assert.ErrorIs(t, err, ErrUnknownParent)

	c, err := New(&schedule.Schedule{Wells: []schedule.Well{
		{Name: "P1", Type: schedule.Producer, Group: "NEW"},
		{Name: "P2", Type: schedule.Producer, Status: schedule.Shut},
	}}, pu, 1e-3)
	require.NoError(t, err)
	g, ok := c.FindNode("NEW")
	require.True(t, ok)
	assert.Equal(t, 0, g.Parent)
	_, err = c.FindWellNode("P2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, c.LeafNodes(), 1)
	assert.False(t, c.GroupControlActive())
}

func platform(t *testing.T) (*WellCollection, []*wellcontrol.Controls) {
	sched := &schedule.Schedule{
		Groups: []schedule.Group{
			{Name: "PLAT", Production: &schedule.GroupProduction{Mode: "ORAT", Target: 0.03}},
			{Name: schedule.FieldGroup, Injection: &schedule.GroupInjection{Phase: "WATER", Mode: "VREP", VoidageFraction: 1}},
		},
		Wells: []schedule.Well{
			{Name: "P1", Type: schedule.Producer, Group: "PLAT", GuideRate: 1},
			{Name: "P2", Type: schedule.Producer, Group: "PLAT", GuideRate: 2},
			{Name: "I1", Type: schedule.Injector, InjectedPhase: "WATER", GuideRate: 1},
		},
	}
	c, err := New(sched, pu, 1e-3)
	require.NoError(t, err)
	ctrls := []*wellcontrol.Controls{
		wellcontrol.NewControls(),
		wellcontrol.NewControls(),
		wellcontrol.NewControls(wellcontrol.BHP{Value: 400e5}),
	}
	for i, name := range []string{"P1", "P2", "I1"} {
		require.NoError(t, c.BindWell(name, i, ctrls[i]))
	}
	return c, ctrls
}

func TestApplyGroupControls(t *testing.T) {
	c, ctrls := platform(t)
	assert.True(t, c.GroupControlActive())
	assert.True(t, c.HavingVREPGroups())
	assert.False(t, c.RequireWellPotentials())

	p1, err := c.FindWellNode("P1")
	require.NoError(t, err)
	assert.Equal(t, 0, p1.GroupControlIndex)
	assert.Equal(t, wellcontrol.KindSurfaceRate, ctrls[0].At(0).Kind())

	c.ApplyGroupControls()
	assert.True(t, c.GroupControlApplied())
	assert.Equal(t, 0, ctrls[0].Current())
	assert.False(t, p1.IndividualControl)
	assert.InDelta(t, -0.01, ctrls[0].At(0).Target(), 1e-15)
	assert.InDelta(t, -0.02, ctrls[1].At(0).Target(), 1e-15)

	// the injector keeps its own control until voidage replacement is applied
	i1, _ := c.FindWellNode("I1")
	assert.Equal(t, 1, i1.GroupControlIndex)
	assert.Equal(t, 0, ctrls[2].Current())
	assert.True(t, i1.IndividualControl)
}

func TestUpdateWellTargetsWithIndividualWell(t *testing.T) {
	c, ctrls := platform(t)
	c.ApplyGroupControls()
	require.NoError(t, c.SetIndividualControl("P1", true))

	rates := []float64{
		-0.001, -0.012, -1,
		0, -0.01, -1,
		0.02, 0, 0,
	}
	c.UpdateWellTargets(rates, 3)
	assert.InDelta(t, -0.018, ctrls[1].At(0).Target(), 1e-15)
	assert.InDelta(t, -0.01, ctrls[0].At(0).Target(), 1e-15)
}

func TestGroupTargetConverged(t *testing.T) {
	c, _ := platform(t)
	c.ApplyGroupControls()
	rates := []float64{
		0, -0.01, 0,
		0, -0.02, 0,
		0, 0, 0,
	}
	assert.True(t, c.GroupTargetConverged(rates, 3))
	rates[4] = -0.015
	assert.False(t, c.GroupTargetConverged(rates, 3))
}

func TestApplyVREPGroupControls(t *testing.T) {
	c, ctrls := platform(t)
	voidage := []float64{0.02, 0.01, 0}
	coeffs := []float64{
		1, 1, 1,
		1, 1, 1,
		1.02, 1.2, 0.005,
	}
	c.ApplyVREPGroupControls(voidage, coeffs, 3)

	i1, _ := c.FindWellNode("I1")
	assert.False(t, i1.IndividualControl)
	ctrl := ctrls[2].At(i1.GroupControlIndex)
	assert.Equal(t, wellcontrol.KindReservoirRate, ctrl.Kind())
	assert.InDelta(t, 0.03, ctrl.Target(), 1e-15)
	assert.Equal(t, []float64{1.02, 0, 0}, wellcontrol.Distribution(ctrl))
}

func TestGuideRatesFromPotentials(t *testing.T) {
	sched := &schedule.Schedule{
		Groups: []schedule.Group{{Name: "PLAT", Production: &schedule.GroupProduction{Mode: "LRAT", Target: 0.03}}},
		Wells: []schedule.Well{
			{Name: "P1", Type: schedule.Producer, Group: "PLAT"},
			{Name: "P2", Type: schedule.Producer, Group: "PLAT"},
		},
	}
	c, err := New(sched, pu, 1e-3)
	require.NoError(t, err)
	ctrls := []*wellcontrol.Controls{wellcontrol.NewControls(), wellcontrol.NewControls()}
	require.NoError(t, c.BindWell("P1", 0, ctrls[0]))
	require.NoError(t, c.BindWell("P2", 1, ctrls[1]))
	require.True(t, c.RequireWellPotentials())

	c.SetGuideRatesWithPotentials([]float64{
		-0.01, -0.01, -5,
		-0.02, -0.04, -5,
	}, 3)
	c.ApplyGroupControls()
	assert.InDelta(t, -0.0075, ctrls[0].At(0).Target(), 1e-12)
	assert.InDelta(t, -0.0225, ctrls[1].At(0).Target(), 1e-12)
}

func TestSnapshotRestore(t *testing.T) {
	c, ctrls := platform(t)
	s := c.Snapshot()
	c.ApplyGroupControls()
	p1, _ := c.FindWellNode("P1")
	assert.False(t, p1.IndividualControl)

	c.Restore(s)
	assert.True(t, p1.IndividualControl)
	assert.False(t, c.GroupControlApplied())
	assert.Equal(t, -1, ctrls[0].Current())
	assert.Equal(t, 0.0, ctrls[0].At(0).Target())

	// targets reshared after the snapshot are rolled back in place
	c.ApplyGroupControls()
	s = c.Snapshot()
	require.NoError(t, c.SetIndividualControl("P1", true))
	c.UpdateWellTargets([]float64{
		0, -0.02, 0,
		0, -0.02, 0,
		0, 0, 0,
	}, 3)
	require.InDelta(t, -0.01, ctrls[1].At(0).Target(), 1e-15)
	c.ApplyVREPGroupControls([]float64{0.02, 0.02, 0}, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}, 3)
	c.Restore(s)
	assert.False(t, p1.IndividualControl)
	assert.InDelta(t, -0.01, ctrls[0].At(0).Target(), 1e-15)
	assert.InDelta(t, -0.02, ctrls[1].At(0).Target(), 1e-15)
	i1, _ := c.FindWellNode("I1")
	assert.True(t, i1.IndividualControl)
	assert.Equal(t, 0.0, ctrls[2].At(i1.GroupControlIndex).Target())
}

// mixed is a group whose first well runs its own bhp limit
func mixed(t *testing.T) (*WellCollection, []*wellcontrol.Controls) {
	sched := &schedule.Schedule{
		Groups: []schedule.Group{
			{Name: "PLAT", Production: &schedule.GroupProduction{Mode: "ORAT", Target: 0.03}},
			{Name: schedule.FieldGroup, Injection: &schedule.GroupInjection{Phase: "WATER", Mode: "VREP", VoidageFraction: 1}},
		},
		Wells: []schedule.Well{
			{Name: "P1", Type: schedule.Producer, Group: "PLAT", GuideRate: 1},
			{Name: "P2", Type: schedule.Producer, Group: "PLAT", GuideRate: 2},
			{Name: "I1", Type: schedule.Injector, InjectedPhase: "WATER", GuideRate: 1},
		},
	}
	c, err := New(sched, pu, 1e-3)
	require.NoError(t, err)
	ctrls := []*wellcontrol.Controls{
		wellcontrol.NewControls(wellcontrol.BHP{Value: 150e5}),
		wellcontrol.NewControls(),
		wellcontrol.NewControls(wellcontrol.BHP{Value: 400e5}),
	}
	for i, name := range []string{"P1", "P2", "I1"} {
		require.NoError(t, c.BindWell(name, i, ctrls[i]))
	}
	return c, ctrls
}

func TestIndividualWellsGetGroupLimit(t *testing.T) {
	c, ctrls := mixed(t)
	c.ApplyGroupControls()

	p1, _ := c.FindWellNode("P1")
	assert.True(t, p1.IndividualControl)
	assert.Equal(t, 0, ctrls[0].Current())
	assert.Equal(t, 1, p1.GroupControlIndex)
	limit := ctrls[0].At(p1.GroupControlIndex)
	assert.InDelta(t, -0.01, limit.Target(), 1e-15)
	assert.InDelta(t, -0.03, ctrls[1].At(0).Target(), 1e-15)

	tests := []struct {
		name     string
		oil      float64
		expected bool
	}{
		{"below its share", -0.004, false},
		{"at its share", -0.01, false},
		{"above its share", -0.02, true},
		{"shut in", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rates := []float64{0, tt.oil, 0}
			assert.Equal(t, tt.expected, wellcontrol.Violated(limit, false, 200e5, 0, rates))
		})
	}

	// the group controlled well picks up what the bhp well leaves
	c.UpdateWellTargets([]float64{
		0, -0.004, 0,
		0, -0.03, 0,
		0, 0, 0,
	}, 3)
	assert.InDelta(t, -0.026, ctrls[1].At(0).Target(), 1e-15)
	assert.InDelta(t, -0.01, ctrls[0].At(p1.GroupControlIndex).Target(), 1e-15)
}

func TestUpdateIndividualControl(t *testing.T) {
	c, ctrls := mixed(t)
	c.ApplyGroupControls()
	c.ApplyVREPGroupControls([]float64{0.01, 0.02, 0}, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}, 3)

	tests := []struct {
		name     string
		well     string
		current  int
		expected bool
	}{
		{"bhp well switched onto the group entry", "P1", 1, false},
		{"bhp well back on its limit", "P1", 0, true},
		{"group well on the group entry", "P2", 0, false},
		{"voidage injector on its bhp limit", "I1", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, c.UpdateIndividualControl(tt.well, tt.current))
			node, err := c.FindWellNode(tt.well)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, node.IndividualControl)
		})
	}
	assert.ErrorIs(t, c.UpdateIndividualControl("NOPE", 0), ErrNotFound)

	// once P1 runs its bhp limit again, P2 alone answers for the remainder
	rates := []float64{
		0, -0.004, 0,
		0, -0.026, 0,
		0, 0, 0,
	}
	c.UpdateWellTargets(rates, 3)
	assert.InDelta(t, -0.026, ctrls[1].At(0).Target(), 1e-15)
	assert.True(t, c.GroupTargetConverged(rates, 3))
}

func TestFormationFactorConverter(t *testing.T) {
	var f FormationFactorConverter
	f.SetAverage([]float64{1.02, 0, 0.005})
	coeff := make([]float64, 3)
	f.CalcCoeff(nil, 0, coeff)
	assert.Equal(t, []float64{1.02, 1, 0.005}, coeff)
}
