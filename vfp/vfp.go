// Package vfp implements vertical flow performance tables: bottom-hole pressure
// as a function of tubing-head pressure and flow rate, and the inverse lookup.
// Lookups are piecewise linear with constant extrapolation past the table ends.
package vfp

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"

	"github.com/notargets/wellsim/logger"
)

// FloType selects which rate indexes the table's flow axis
type FloType string

const (
	FloOil    FloType = "OIL"
	FloLiquid FloType = "LIQ"
	FloGas    FloType = "GAS"
	FloWater  FloType = "WAT"
)

// Rate returns the flow axis value for surface rates (water, oil, gas)
func (f FloType) Rate(aqua, liquid, vapour float64) (float64, error) {
	switch f {
	case FloOil:
		return math.Abs(liquid), nil
	case FloLiquid:
		return math.Abs(aqua + liquid), nil
	case FloGas:
		return math.Abs(vapour), nil
	case FloWater:
		return math.Abs(aqua), nil
	}
	return 0, fmt.Errorf("unknown flow type %q", f)
}

// Table is one VFP table
type Table struct {
	ID         int         `yaml:"id"`
	DatumDepth float64     `yaml:"datum_depth"`
	Flo        FloType     `yaml:"flo"`
	THP        []float64   `yaml:"thp"`   // ascending
	Rates      []float64   `yaml:"rates"` // ascending, magnitudes
	BHP        [][]float64 `yaml:"bhp"`   // [thp][rate]

	rows []predictor
}

type predictor interface {
	Predict(x float64) float64
}

// constant is a one point table axis
type constant float64

func (c constant) Predict(float64) float64 { return float64(c) }

func fit(xs, ys []float64) (predictor, error) {
	if len(xs) == 1 {
		return constant(ys[0]), nil
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, err
	}
	return &pl, nil
}

func ascending(name string, xs []float64) error {
	if len(xs) == 0 {
		return fmt.Errorf("%s axis is empty", name)
	}
	if !sort.Float64sAreSorted(xs) {
		return fmt.Errorf("%s axis is not ascending", name)
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] == xs[i-1] {
			return fmt.Errorf("%s axis repeats %g", name, xs[i])
		}
	}
	return nil
}

// Init validates the table and prepares the interpolants
func (t *Table) Init() error {
	if _, err := t.Flo.Rate(0, 0, 0); err != nil {
		return fmt.Errorf("table %d: %w", t.ID, err)
	}
	if err := ascending("thp", t.THP); err != nil {
		return fmt.Errorf("table %d: %w", t.ID, err)
	}
	if err := ascending("rate", t.Rates); err != nil {
		return fmt.Errorf("table %d: %w", t.ID, err)
	}
	if len(t.BHP) != len(t.THP) {
		return fmt.Errorf("table %d: %d bhp rows for %d thp values", t.ID, len(t.BHP), len(t.THP))
	}
	t.rows = make([]predictor, len(t.THP))
	for i, row := range t.BHP {
		if len(row) != len(t.Rates) {
			return fmt.Errorf("table %d: bhp row %d has %d values for %d rates", t.ID, i, len(row), len(t.Rates))
		}
		p, err := fit(t.Rates, row)
		if err != nil {
			return fmt.Errorf("table %d row %d: %w", t.ID, i, err)
		}
		t.rows[i] = p
	}
	return nil
}

// column evaluates every thp row at flo
func (t *Table) column(flo float64) []float64 {
	col := make([]float64, len(t.rows))
	for i, r := range t.rows {
		col[i] = r.Predict(flo)
	}
	return col
}

// BHPAt interpolates the bottom-hole pressure at flow flo and thp
func (t *Table) BHPAt(flo, thp float64) (float64, error) {
	p, err := fit(t.THP, t.column(flo))
	if err != nil {
		return 0, fmt.Errorf("table %d: %w", t.ID, err)
	}
	return p.Predict(thp), nil
}

// THPAt inverts the table for thp at flow flo and bhp. The bhp column must be
// strictly increasing in thp.
func (t *Table) THPAt(flo, bhp float64) (float64, error) {
	col := t.column(flo)
	if len(col) == 1 {
		return t.THP[0], nil
	}
	for i := 1; i < len(col); i++ {
		if col[i] <= col[i-1] {
			return 0, fmt.Errorf("table %d: bhp is not increasing in thp at rate %g", t.ID, flo)
		}
	}
	p, err := fit(col, t.THP)
	if err != nil {
		return 0, fmt.Errorf("table %d: %w", t.ID, err)
	}
	return p.Predict(bhp), nil
}

// Properties holds the injection and production tables of a run
type Properties struct {
	Notices *logger.Notices

	inj  map[int]*Table
	prod map[int]*Table
}

// NewProperties validates and indexes the tables by id
func NewProperties(inj, prod []Table) (*Properties, error) {
	p := &Properties{inj: make(map[int]*Table), prod: make(map[int]*Table)}
	for _, set := range []struct {
		tables []Table
		dst    map[int]*Table
	}{{inj, p.inj}, {prod, p.prod}} {
		for i := range set.tables {
			t := set.tables[i]
			if err := t.Init(); err != nil {
				return nil, err
			}
			if _, dup := set.dst[t.ID]; dup {
				return nil, fmt.Errorf("duplicate vfp table %d", t.ID)
			}
			set.dst[t.ID] = &t
		}
	}
	return p, nil
}

func (p *Properties) table(id int, injector bool) (*Table, error) {
	if p == nil {
		return nil, fmt.Errorf("no vfp tables loaded, table %d requested", id)
	}
	set, kind := p.prod, "production"
	if injector {
		set, kind = p.inj, "injection"
	}
	t, ok := set[id]
	if !ok {
		return nil, fmt.Errorf("%s vfp table %d not found", kind, id)
	}
	return t, nil
}

func (p *Properties) checkALQ(alq float64, id int) {
	if alq != 0 && p.Notices != nil {
		p.Notices.Warn(logger.TagVFPALQ, "artificial lift quantity is ignored by vfp lookups", "table", id, "alq", alq)
	}
}

// InjBHP returns the bottom-hole pressure of an injector at datum depth
func (p *Properties) InjBHP(id int, aqua, liquid, vapour, thp float64) (float64, error) {
	t, err := p.table(id, true)
	if err != nil {
		return 0, err
	}
	flo, err := t.Flo.Rate(aqua, liquid, vapour)
	if err != nil {
		return 0, err
	}
	return t.BHPAt(flo, thp)
}

// ProdBHP returns the bottom-hole pressure of a producer at datum depth
func (p *Properties) ProdBHP(id int, aqua, liquid, vapour, thp, alq float64) (float64, error) {
	t, err := p.table(id, false)
	if err != nil {
		return 0, err
	}
	p.checkALQ(alq, id)
	flo, err := t.Flo.Rate(aqua, liquid, vapour)
	if err != nil {
		return 0, err
	}
	return t.BHPAt(flo, thp)
}

// InjTHP returns the tubing-head pressure giving bhp for an injector
func (p *Properties) InjTHP(id int, aqua, liquid, vapour, bhp float64) (float64, error) {
	t, err := p.table(id, true)
	if err != nil {
		return 0, err
	}
	flo, err := t.Flo.Rate(aqua, liquid, vapour)
	if err != nil {
		return 0, err
	}
	return t.THPAt(flo, bhp)
}

// ProdTHP returns the tubing-head pressure giving bhp for a producer
func (p *Properties) ProdTHP(id int, aqua, liquid, vapour, bhp, alq float64) (float64, error) {
	t, err := p.table(id, false)
	if err != nil {
		return 0, err
	}
	p.checkALQ(alq, id)
	flo, err := t.Flo.Rate(aqua, liquid, vapour)
	if err != nil {
		return 0, err
	}
	return t.THPAt(flo, bhp)
}

// DatumDepth returns the reference depth of a table
func (p *Properties) DatumDepth(id int, injector bool) (float64, error) {
	t, err := p.table(id, injector)
	if err != nil {
		return 0, err
	}
	return t.DatumDepth, nil
}
