package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/notargets/wellsim/grid"
	"github.com/notargets/wellsim/logger"
	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/reservoir"
	"github.com/notargets/wellsim/schedule"
	"github.com/notargets/wellsim/vfp"
)

// Case is a run description: a box grid with its initial cell states, the
// wells and groups of the report step and the vfp tables they refer to
type Case struct {
	Grid struct {
		Dims     [3]int     `yaml:"dims"`
		CellSize [3]float64 `yaml:"cell_size"` // m
		TopDepth float64    `yaml:"top_depth"` // m
		Active   []bool     `yaml:"active"`    // one flag per cartesian cell, empty means all active
	} `yaml:"grid"`
	Initial reservoir.CellState   `yaml:"initial"`
	Cells   []reservoir.CellState `yaml:"cells"` // per active cell, overrides initial
	VFP     struct {
		Injection  []vfp.Table `yaml:"injection"`
		Production []vfp.Table `yaml:"production"`
	} `yaml:"vfp"`
	Schedule yaml.Node `yaml:"schedule"`
}

// loadCase reads and checks a case file
func loadCase(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading case: %w", err)
	}
	var c Case
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing case %s: %w", path, err)
	}
	if c.Schedule.Kind == 0 {
		return nil, fmt.Errorf("case %s has no schedule", path)
	}
	return &c, nil
}

// NewSchedule decodes a fresh copy of the schedule. Every process owns its
// copy since economic limits edit it.
func (c *Case) NewSchedule() (*schedule.Schedule, error) {
	data, err := yaml.Marshal(&c.Schedule)
	if err != nil {
		return nil, err
	}
	return schedule.Decode(data)
}

func (c *Case) NewGrid() (*grid.CartesianGrid, error) {
	var active []bool
	if len(c.Grid.Active) > 0 {
		active = c.Grid.Active
	}
	return grid.NewCartesian(c.Grid.Dims, c.Grid.CellSize, c.Grid.TopDepth, active)
}

// NewReservoir builds the cell states of g
func (c *Case) NewReservoir(pu phases.Usage, g grid.Grid) (*reservoir.Model, error) {
	cells := c.Cells
	if len(cells) == 0 {
		cells = make([]reservoir.CellState, g.NumCells())
		for i := range cells {
			cells[i] = c.Initial
		}
	}
	if len(cells) != g.NumCells() {
		return nil, fmt.Errorf("%d cell states for %d active cells", len(cells), g.NumCells())
	}
	return reservoir.NewModel(pu, reservoir.DefaultFluid(), cells)
}

// NewVFP indexes the tables; nil when the case has none
func (c *Case) NewVFP(notices *logger.Notices) (*vfp.Properties, error) {
	if len(c.VFP.Injection) == 0 && len(c.VFP.Production) == 0 {
		return nil, nil
	}
	p, err := vfp.NewProperties(c.VFP.Injection, c.VFP.Production)
	if err != nil {
		return nil, err
	}
	p.Notices = notices
	return p, nil
}
