package reservoir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/wellsim/phases"
)

func TestIntensiveQuantitiesDerivatives(t *testing.T) {
	pu := phases.MustUsage(true, true, true)
	fluid := DefaultFluid()
	m, err := NewModel(pu, fluid, []CellState{{Pressure: 250e5, Sw: 0.3, Sg: 0.1}})
	require.NoError(t, err)

	iq := m.Intensive(0)
	so := 0.6
	assert.InDelta(t, so*so/fluid.Viscosity[phases.Oil], iq.Mobility[phases.Oil].Value, 1e-9)
	// d(lambda_o)/dSw = -2 So / mu_o
	assert.InDelta(t, -2*so/fluid.Viscosity[phases.Oil], iq.Mobility[phases.Oil].Deriv[1], 1e-6)
	assert.InDelta(t, 2*0.1/fluid.Viscosity[phases.Gas], iq.Mobility[phases.Gas].Deriv[2], 1e-6)
	assert.InDelta(t, fluid.InvBRef[phases.Water]*fluid.Compressibility[phases.Water], iq.InvB[phases.Water].Deriv[0], 1e-20)
	assert.InDelta(t, fluid.SurfaceDensity[phases.Water]*iq.InvB[phases.Water].Value, iq.Density[phases.Water], 1e-9)
}

func TestTwoPhaseModel(t *testing.T) {
	pu := phases.MustUsage(true, true, false)
	m, err := NewModel(pu, DefaultFluid(), []CellState{{Pressure: 200e5, Sw: 0.2, Sg: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumEq())
	// gas saturation is ignored without a gas phase
	assert.InDelta(t, 0.64/2e-3, m.Intensive(0).Mobility[phases.Oil].Value, 1e-6)
	assert.Len(t, m.Intensive(0).Pressure.Deriv, 2)

	_, err = NewModel(pu, DefaultFluid(), []CellState{{Pressure: 200e5, Sw: 1.2}})
	assert.Error(t, err)
}

func TestBlockSystem(t *testing.T) {
	s := NewBlockSystem(2, 2)
	s.AddResidual(1, 0, 3)
	s.AddJacobian(1, 0, 1, 2)
	s.AddJacobian(1, 0, 1, 2)
	assert.Equal(t, []float64{0, 0, 3, 0}, s.Residual.Data)
	m := s.Matrix()
	assert.Equal(t, 4.0, m.At(2, 3))
	s.Reset()
	assert.Equal(t, 0.0, s.Diag[1].At(0, 1))
}

func TestBlockVector(t *testing.T) {
	v := NewBlockVector(2, 3)
	v.Block(1)[2] = 4
	assert.Equal(t, 2, v.NumBlocks())
	c := v.Clone()
	c.AddScaled(0.5, v)
	assert.Equal(t, 6.0, c.Data[5])
	assert.Equal(t, 4.0, v.Data[5])
	v.Zero()
	assert.Equal(t, 0.0, v.Data[5])
}

func TestInteriorFlags(t *testing.T) {
	m, err := NewModel(phases.MustUsage(true, true, false), DefaultFluid(), make([]CellState, 3))
	require.NoError(t, err)
	require.NoError(t, m.SetInterior([]bool{true, false, true}))
	assert.False(t, m.Interior(1))
	assert.Error(t, m.SetInterior([]bool{true}))
}
