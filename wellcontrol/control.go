// Package wellcontrol defines the operating controls a well can run under and
// the per-well ordered list with its current selection.
package wellcontrol

import (
	"fmt"
)

// Kind tags the control variant
type Kind int

const (
	KindBHP Kind = iota
	KindTHP
	KindSurfaceRate
	KindReservoirRate
)

func (k Kind) String() string {
	switch k {
	case KindBHP:
		return "BHP"
	case KindTHP:
		return "THP"
	case KindSurfaceRate:
		return "SURFACE_RATE"
	case KindReservoirRate:
		return "RESERVOIR_RATE"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Control is one of BHP, THP, SurfaceRate or ReservoirRate
type Control interface {
	Kind() Kind
	Target() float64
	// WithTarget returns a copy of the control with a new target
	WithTarget(v float64) Control
}

// BHP fixes the bottom-hole pressure (Pa)
type BHP struct {
	Value float64
}

// THP fixes the tubing-head pressure (Pa) through a VFP table
type THP struct {
	Table int
	Value float64
	ALQ   float64
}

// SurfaceRate fixes sum_p Distr[p]*q_p (surface m^3/s, signed)
type SurfaceRate struct {
	Distr []float64
	Value float64
}

// ReservoirRate fixes sum_p Distr[p]*q_p with Distr holding surface to
// reservoir conversion coefficients
type ReservoirRate struct {
	Distr []float64
	Value float64
}

func (c BHP) Kind() Kind                   { return KindBHP }
func (c BHP) Target() float64              { return c.Value }
func (c BHP) WithTarget(v float64) Control { c.Value = v; return c }

func (c THP) Kind() Kind                   { return KindTHP }
func (c THP) Target() float64              { return c.Value }
func (c THP) WithTarget(v float64) Control { c.Value = v; return c }

func (c SurfaceRate) Kind() Kind      { return KindSurfaceRate }
func (c SurfaceRate) Target() float64 { return c.Value }
func (c SurfaceRate) WithTarget(v float64) Control {
	return SurfaceRate{Distr: cloneDistr(c.Distr), Value: v}
}

func (c ReservoirRate) Kind() Kind      { return KindReservoirRate }
func (c ReservoirRate) Target() float64 { return c.Value }
func (c ReservoirRate) WithTarget(v float64) Control {
	return ReservoirRate{Distr: cloneDistr(c.Distr), Value: v}
}

func cloneDistr(d []float64) []float64 {
	if d == nil {
		return nil
	}
	out := make([]float64, len(d))
	copy(out, d)
	return out
}

// Distribution returns the phase weights of a rate control, nil otherwise
func Distribution(c Control) []float64 {
	switch c := c.(type) {
	case SurfaceRate:
		return c.Distr
	case ReservoirRate:
		return c.Distr
	}
	return nil
}

// IsRate reports whether c is a surface or reservoir rate control
func IsRate(c Control) bool {
	k := c.Kind()
	return k == KindSurfaceRate || k == KindReservoirRate
}

// Controls is the ordered control list of one well and the index of the
// control currently in force. Index -1 means no control selected.
type Controls struct {
	list    []Control
	current int
}

// NewControls creates a list with the first control current
func NewControls(list ...Control) *Controls {
	c := &Controls{current: -1}
	for _, ctrl := range list {
		c.Append(ctrl)
	}
	if len(c.list) > 0 {
		c.current = 0
	}
	return c
}

func (c *Controls) Len() int         { return len(c.list) }
func (c *Controls) Current() int     { return c.current }
func (c *Controls) At(i int) Control { return c.list[i] }

// CurrentControl returns the control in force, nil when none is selected
func (c *Controls) CurrentControl() Control {
	if c.current < 0 || c.current >= len(c.list) {
		return nil
	}
	return c.list[c.current]
}

// SetCurrent selects control i; -1 clears the selection
func (c *Controls) SetCurrent(i int) {
	if i < -1 || i >= len(c.list) {
		panic(fmt.Sprintf("wellcontrol: control index %d out of range [-1,%d)", i, len(c.list)))
	}
	c.current = i
}

// Append adds a control and returns its index
func (c *Controls) Append(ctrl Control) int {
	c.list = append(c.list, ctrl)
	return len(c.list) - 1
}

// Set replaces control i
func (c *Controls) Set(i int, ctrl Control) {
	c.list[i] = ctrl
}

// SetTarget changes the target of control i
func (c *Controls) SetTarget(i int, v float64) {
	c.list[i] = c.list[i].WithTarget(v)
}

// Find returns the index of the first control of kind k, or -1
func (c *Controls) Find(k Kind) int {
	for i, ctrl := range c.list {
		if ctrl.Kind() == k {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy
func (c *Controls) Clone() *Controls {
	out := &Controls{current: c.current, list: make([]Control, len(c.list))}
	for i, ctrl := range c.list {
		out.list[i] = ctrl.WithTarget(ctrl.Target())
	}
	return out
}

// CopyFrom overwrites c in place with an independent copy of src
func (c *Controls) CopyFrom(src *Controls) {
	cp := src.Clone()
	c.list, c.current = cp.list, cp.current
}

// Violated reports whether a well running at bhp, thp and surface rates
// breaks constraint c. Injector limits are upper bounds; producer limits are
// lower bounds on pressure and, with production negative, on signed rates.
func Violated(c Control, injector bool, bhp, thp float64, rates []float64) bool {
	var current float64
	switch c := c.(type) {
	case BHP:
		current = bhp
	case THP:
		current = thp
	case SurfaceRate:
		current = weighted(c.Distr, rates)
	case ReservoirRate:
		current = weighted(c.Distr, rates)
	default:
		return false
	}
	if injector {
		return current > c.Target()
	}
	return current < c.Target()
}

func weighted(distr, rates []float64) float64 {
	sum := 0.0
	for p, d := range distr {
		sum += d * rates[p]
	}
	return sum
}
