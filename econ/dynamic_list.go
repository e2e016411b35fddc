package econ

import (
	"sort"

	"github.com/notargets/wellsim/grid"
	"github.com/notargets/wellsim/schedule"
)

// DynamicListEconLimited collects the wells and connections closed by
// economic limits in one evaluation
type DynamicListEconLimited struct {
	ShutWells         []string
	StoppedWells      []string
	ClosedConnections map[string][]int // well -> compressed cell indices
}

// NewDynamicList returns an empty list
func NewDynamicList() *DynamicListEconLimited {
	return &DynamicListEconLimited{ClosedConnections: make(map[string][]int)}
}

func (d *DynamicListEconLimited) AddShutWell(name string)    { d.ShutWells = append(d.ShutWells, name) }
func (d *DynamicListEconLimited) AddStoppedWell(name string) { d.StoppedWells = append(d.StoppedWells, name) }

// AddClosedConnection records a connection of well to close
func (d *DynamicListEconLimited) AddClosedConnection(well string, cell int) {
	d.ClosedConnections[well] = append(d.ClosedConnections[well], cell)
}

func (d *DynamicListEconLimited) WellShutEconLimited(name string) bool {
	return contains(d.ShutWells, name)
}

func (d *DynamicListEconLimited) WellStoppedEconLimited(name string) bool {
	return contains(d.StoppedWells, name)
}

// AnyConnectionClosed reports whether a connection of well is to be closed
func (d *DynamicListEconLimited) AnyConnectionClosed(well string) bool {
	return len(d.ClosedConnections[well]) > 0
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// WellsWithClosedConnections returns the wells losing connections, sorted
func (d *DynamicListEconLimited) WellsWithClosedConnections() []string {
	names := make([]string, 0, len(d.ClosedConnections))
	for name := range d.ClosedConnections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether the evaluation closed nothing
func (d *DynamicListEconLimited) Empty() bool {
	return len(d.ShutWells) == 0 && len(d.StoppedWells) == 0 && len(d.ClosedConnections) == 0
}

// ApplyTo updates the schedule for the next step: shut and stopped wells
// change status and closed connections are marked SHUT. Closing a stopped
// well's connections still applies.
func (d *DynamicListEconLimited) ApplyTo(sched *schedule.Schedule, g grid.Grid) {
	for _, name := range d.StoppedWells {
		if w, ok := sched.Well(name); ok {
			w.Status = schedule.Stopped
		}
	}
	for _, name := range d.ShutWells {
		if w, ok := sched.Well(name); ok {
			w.Status = schedule.Shut
		}
	}

	dims := g.CartDims()
	for _, name := range d.WellsWithClosedConnections() {
		w, ok := sched.Well(name)
		if !ok {
			continue
		}
		closed := make(map[int]bool)
		for _, cell := range d.ClosedConnections[name] {
			closed[g.GlobalCell(cell)] = true
		}
		for i := range w.Completions {
			c := &w.Completions[i]
			if closed[grid.CartesianIndex(dims, c.I, c.J, c.K)] {
				c.State = schedule.CompletionShut
			}
		}
	}
}
