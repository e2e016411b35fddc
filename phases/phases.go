package phases

import (
	"fmt"
	"strings"
)

// Phase identifies a fluid phase
type Phase int

const (
	Water Phase = iota
	Oil
	Gas
)

// MaxPhases is the number of phases a black-oil model can carry
const MaxPhases = 3

func (p Phase) String() string {
	switch p {
	case Water:
		return "WATER"
	case Oil:
		return "OIL"
	case Gas:
		return "GAS"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Parse maps a phase name (case insensitive) to a Phase
func Parse(name string) (Phase, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "WATER", "WAT", "W":
		return Water, nil
	case "OIL", "O":
		return Oil, nil
	case "GAS", "G":
		return Gas, nil
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

// Usage describes which phases are active and where each active phase sits in
// compact per-phase arrays (rates, fractions, residual rows).
type Usage struct {
	NumPhases int
	Active    [MaxPhases]bool
	Pos       [MaxPhases]int // compact position, -1 when inactive
}

// NewUsage builds the phase usage; oil and water must both be active.
func NewUsage(water, oil, gas bool) (Usage, error) {
	if !oil || !water {
		return Usage{}, fmt.Errorf("oil and water phases must be active (water=%t oil=%t gas=%t)", water, oil, gas)
	}
	u := Usage{Pos: [MaxPhases]int{-1, -1, -1}}
	for p, on := range [MaxPhases]bool{water, oil, gas} {
		if on {
			u.Active[p] = true
			u.Pos[p] = u.NumPhases
			u.NumPhases++
		}
	}
	return u, nil
}

// MustUsage is NewUsage for static setups; it panics on an invalid combination
func MustUsage(water, oil, gas bool) Usage {
	u, err := NewUsage(water, oil, gas)
	if err != nil {
		panic(err)
	}
	return u
}

// IsActive reports whether p is part of the model
func (u Usage) IsActive(p Phase) bool { return u.Active[p] }

// Phases lists the active phases in compact order
func (u Usage) Phases() []Phase {
	out := make([]Phase, 0, u.NumPhases)
	for p := Water; p <= Gas; p++ {
		if u.Active[p] {
			out = append(out, p)
		}
	}
	return out
}

// Rate returns the value of phase p from a compact array, 0 when inactive
func (u Usage) Rate(rates []float64, p Phase) float64 {
	if !u.Active[p] {
		return 0
	}
	return rates[u.Pos[p]]
}
