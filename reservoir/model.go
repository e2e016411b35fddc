package reservoir

import (
	"fmt"

	"github.com/notargets/wellsim/ad"
	"github.com/notargets/wellsim/phases"
)

// Fluid is an immiscible black-oil description: quadratic relative
// permeabilities, constant viscosities and linearly compressible phases.
type Fluid struct {
	Viscosity       [phases.MaxPhases]float64 // Pa s
	RefPressure     float64                   // Pa
	InvBRef         [phases.MaxPhases]float64 // inverse formation volume factor at RefPressure
	Compressibility [phases.MaxPhases]float64 // 1/Pa
	SurfaceDensity  [phases.MaxPhases]float64 // kg/m^3
}

// DefaultFluid returns a light oil, water and gas description
func DefaultFluid() Fluid {
	return Fluid{
		Viscosity:       [phases.MaxPhases]float64{0.5e-3, 2e-3, 0.02e-3},
		RefPressure:     200e5,
		InvBRef:         [phases.MaxPhases]float64{1 / 1.02, 1 / 1.2, 1 / 0.005},
		Compressibility: [phases.MaxPhases]float64{4.5e-10, 1.5e-9, 5e-8},
		SurfaceDensity:  [phases.MaxPhases]float64{1020, 850, 0.9},
	}
}

// CellState is the primary solution of one cell
type CellState struct {
	Pressure float64 `yaml:"pressure"`
	Sw       float64 `yaml:"sw"`
	Sg       float64 `yaml:"sg"`
}

// Model is a reservoir of cells with fixed states, enough to drive the well
// model without a flow discretisation.
type Model struct {
	Phases phases.Usage
	Fluid  Fluid
	System *BlockSystem

	cells    []CellState
	interior []bool
	iq       []*IntensiveQuantities
}

// NewModel evaluates intensive quantities for the given cells; all cells are interior
func NewModel(pu phases.Usage, fluid Fluid, cells []CellState) (*Model, error) {
	m := &Model{
		Phases:   pu,
		Fluid:    fluid,
		System:   NewBlockSystem(len(cells), pu.NumPhases),
		cells:    append([]CellState(nil), cells...),
		interior: make([]bool, len(cells)),
	}
	for c := range m.interior {
		m.interior[c] = true
	}
	if err := m.Update(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) NumCells() int                           { return len(m.cells) }
func (m *Model) NumEq() int                              { return m.Phases.NumPhases }
func (m *Model) Intensive(cell int) *IntensiveQuantities { return m.iq[cell] }
func (m *Model) Interior(cell int) bool                  { return m.interior[cell] }
func (m *Model) Linearization() Linearization            { return m.System }

// SetInterior marks which cells this process owns
func (m *Model) SetInterior(flags []bool) error {
	if len(flags) != len(m.cells) {
		return fmt.Errorf("%d interior flags for %d cells", len(flags), len(m.cells))
	}
	copy(m.interior, flags)
	return nil
}

// Cell returns the state of a cell
func (m *Model) Cell(cell int) CellState { return m.cells[cell] }

// SetCell changes a cell state and refreshes its intensive quantities
func (m *Model) SetCell(cell int, s CellState) error {
	m.cells[cell] = s
	iq, err := m.evaluate(s)
	if err != nil {
		return fmt.Errorf("cell %d: %w", cell, err)
	}
	m.iq[cell] = iq
	return nil
}

// Update recomputes all intensive quantities
func (m *Model) Update() error {
	m.iq = make([]*IntensiveQuantities, len(m.cells))
	for c, s := range m.cells {
		iq, err := m.evaluate(s)
		if err != nil {
			return fmt.Errorf("cell %d: %w", c, err)
		}
		m.iq[c] = iq
	}
	return nil
}

func (m *Model) evaluate(s CellState) (*IntensiveQuantities, error) {
	pu := m.Phases
	n := pu.NumPhases
	sg := s.Sg
	if !pu.IsActive(phases.Gas) {
		sg = 0
	}
	so := 1 - s.Sw - sg
	if s.Sw < 0 || sg < 0 || so < 0 {
		return nil, fmt.Errorf("saturations out of range: sw=%g sg=%g", s.Sw, sg)
	}

	iq := &IntensiveQuantities{Pressure: ad.Variable(s.Pressure, n, 0)}
	sat := [phases.MaxPhases]ad.Eval{}
	sat[phases.Water] = ad.Variable(s.Sw, n, 1)
	if pu.IsActive(phases.Gas) {
		sat[phases.Gas] = ad.Variable(sg, n, 2)
	} else {
		sat[phases.Gas] = ad.Constant(0, n)
	}
	sat[phases.Oil] = ad.Constant(1, n).Sub(sat[phases.Water]).Sub(sat[phases.Gas])

	for p := phases.Water; p <= phases.Gas; p++ {
		if !pu.IsActive(p) {
			iq.Mobility[p] = ad.Constant(0, n)
			iq.InvB[p] = ad.Constant(0, n)
			continue
		}
		iq.Mobility[p] = sat[p].Mul(sat[p]).Scale(1 / m.Fluid.Viscosity[p])
		dp := iq.Pressure.AddConst(-m.Fluid.RefPressure)
		iq.InvB[p] = dp.Scale(m.Fluid.Compressibility[p]).AddConst(1).Scale(m.Fluid.InvBRef[p])
		iq.Density[p] = m.Fluid.SurfaceDensity[p] * iq.InvB[p].Value
	}
	return iq, nil
}
