// Package wellstate holds the mutable per-well and per-perforation arrays the
// well model reads and writes each iteration. The caller owns the state and
// persists it across time steps.
package wellstate

import (
	"fmt"
)

// MapEntry locates a well inside the state arrays
type MapEntry struct {
	Index     int // well index
	FirstPerf int // first perforation in the per-perforation arrays
	NumPerf   int
}

// WellLayout describes one well when allocating a state
type WellLayout struct {
	Name    string
	NumPerf int
}

type WellState struct {
	NumPhases int
	NumWellEq int

	BHP             []float64 // per well, Pa
	THP             []float64 // per well, Pa
	WellRates       []float64 // nw*np surface rates, injection positive
	PerfPhaseRates  []float64 // nperf*np surface rates
	PerfPress       []float64 // per perforation, Pa
	CurrentControls []int     // per well, index into the well's control list
	WellSolutions   []float64 // numWellEq*nw primary variables, entry var*nw+w

	names   []string
	wellMap map[string]MapEntry
	isNew   []bool
}

// New allocates a zeroed state for wells in order; every well starts new.
func New(wells []WellLayout, numPhases, numWellEq int) *WellState {
	nw := len(wells)
	ws := &WellState{
		NumPhases:       numPhases,
		NumWellEq:       numWellEq,
		BHP:             make([]float64, nw),
		THP:             make([]float64, nw),
		WellRates:       make([]float64, nw*numPhases),
		CurrentControls: make([]int, nw),
		WellSolutions:   make([]float64, nw*numWellEq),
		names:           make([]string, nw),
		wellMap:         make(map[string]MapEntry, nw),
		isNew:           make([]bool, nw),
	}
	perf := 0
	for w, l := range wells {
		ws.names[w] = l.Name
		ws.wellMap[l.Name] = MapEntry{Index: w, FirstPerf: perf, NumPerf: l.NumPerf}
		ws.isNew[w] = true
		perf += l.NumPerf
	}
	ws.PerfPhaseRates = make([]float64, perf*numPhases)
	ws.PerfPress = make([]float64, perf)
	return ws
}

// NumWells is the number of wells in the state
func (ws *WellState) NumWells() int { return len(ws.names) }

// NumPerforations is the total perforation count
func (ws *WellState) NumPerforations() int { return len(ws.PerfPress) }

// Name returns the name of well w
func (ws *WellState) Name(w int) string { return ws.names[w] }

// Entry looks a well up by name
func (ws *WellState) Entry(name string) (MapEntry, bool) {
	e, ok := ws.wellMap[name]
	return e, ok
}

// MustEntry looks a well up by name and fails when it is absent
func (ws *WellState) MustEntry(name string) (MapEntry, error) {
	e, ok := ws.wellMap[name]
	if !ok {
		return MapEntry{}, fmt.Errorf("well %s is not in the well state", name)
	}
	return e, nil
}

// Rates returns well w's surface rates, aliasing WellRates
func (ws *WellState) Rates(w int) []float64 {
	return ws.WellRates[w*ws.NumPhases : (w+1)*ws.NumPhases]
}

// PerfRates returns perforation perf's surface rates, aliasing PerfPhaseRates
func (ws *WellState) PerfRates(perf int) []float64 {
	return ws.PerfPhaseRates[perf*ws.NumPhases : (perf+1)*ws.NumPhases]
}

// Solution returns primary variable v of well w
func (ws *WellState) Solution(v, w int) float64 {
	return ws.WellSolutions[v*ws.NumWells()+w]
}

// SetSolution stores primary variable v of well w
func (ws *WellState) SetSolution(v, w int, value float64) {
	ws.WellSolutions[v*ws.NumWells()+w] = value
}

// IsNewWell reports whether well w has not yet completed a time step
func (ws *WellState) IsNewWell(w int) bool { return ws.isNew[w] }

// SetNewWell marks well w
func (ws *WellState) SetNewWell(w int, isNew bool) { ws.isNew[w] = isNew }

// Clone returns a deep copy
func (ws *WellState) Clone() *WellState {
	out := &WellState{
		NumPhases:       ws.NumPhases,
		NumWellEq:       ws.NumWellEq,
		BHP:             cloneSlice(ws.BHP),
		THP:             cloneSlice(ws.THP),
		WellRates:       cloneSlice(ws.WellRates),
		PerfPhaseRates:  cloneSlice(ws.PerfPhaseRates),
		PerfPress:       cloneSlice(ws.PerfPress),
		CurrentControls: cloneSlice(ws.CurrentControls),
		WellSolutions:   cloneSlice(ws.WellSolutions),
		names:           cloneSlice(ws.names),
		wellMap:         make(map[string]MapEntry, len(ws.wellMap)),
		isNew:           cloneSlice(ws.isNew),
	}
	for k, v := range ws.wellMap {
		out.wellMap[k] = v
	}
	return out
}

// CopyFrom overwrites the receiver's values with src's, keeping the receiver's
// backing arrays so outstanding slices observe the restored values. Both
// states must share a layout.
func (ws *WellState) CopyFrom(src *WellState) {
	if len(ws.names) != len(src.names) || len(ws.PerfPress) != len(src.PerfPress) ||
		ws.NumPhases != src.NumPhases || ws.NumWellEq != src.NumWellEq {
		panic("wellstate: layout mismatch in CopyFrom")
	}
	copy(ws.BHP, src.BHP)
	copy(ws.THP, src.THP)
	copy(ws.WellRates, src.WellRates)
	copy(ws.PerfPhaseRates, src.PerfPhaseRates)
	copy(ws.PerfPress, src.PerfPress)
	copy(ws.CurrentControls, src.CurrentControls)
	copy(ws.WellSolutions, src.WellSolutions)
	copy(ws.isNew, src.isNew)
}

func cloneSlice[T any](s []T) []T {
	out := make([]T, len(s))
	copy(out, s)
	return out
}
