// Package schedule holds the well and group definitions the well model reads
// for the current report step: completions, controls, economic limits and
// the group tree. It is read-only for the well model.
package schedule

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/wellcontrol"
)

// FieldGroup is the root of every group tree
const FieldGroup = "FIELD"

type WellType string

const (
	Producer WellType = "PRODUCER"
	Injector WellType = "INJECTOR"
)

type WellStatus string

const (
	Open    WellStatus = "OPEN"
	Shut    WellStatus = "SHUT"
	Stopped WellStatus = "STOP"
)

// Direction is the penetration direction of a completion
type Direction string

const (
	DirX Direction = "X"
	DirY Direction = "Y"
	DirZ Direction = "Z"
)

type CompletionState string

const (
	CompletionOpen CompletionState = "OPEN"
	CompletionShut CompletionState = "SHUT"
	CompletionAuto CompletionState = "AUTO"
)

// Completion is one connection of a well to a grid cell, located by its
// logical (i, j, k) coordinates.
type Completion struct {
	I           int             `yaml:"i"`
	J           int             `yaml:"j"`
	K           int             `yaml:"k"`
	Diameter    float64         `yaml:"diameter"` // m
	Direction   Direction       `yaml:"direction"`
	State       CompletionState `yaml:"state"`
	TransFactor float64         `yaml:"trans_factor"` // connection transmissibility factor
}

// ControlSpec is a control as written in the schedule. Targets are
// magnitudes; the sign convention is applied by Well.BuildControls.
type ControlSpec struct {
	Mode     string  `yaml:"mode"` // BHP, THP, ORAT, WRAT, GRAT, LRAT, RESV, RATE
	Target   float64 `yaml:"target"`
	VFPTable int     `yaml:"vfp_table"`
	ALQ      float64 `yaml:"alq"`
}

type Well struct {
	Name            string                `yaml:"name"`
	Type            WellType              `yaml:"type"`
	Status          WellStatus            `yaml:"status"`
	Group           string                `yaml:"group"`
	RefDepth        float64               `yaml:"ref_depth"`
	MultiSegment    bool                  `yaml:"multi_segment"`
	InjectedPhase   string                `yaml:"injected_phase"`
	Efficiency      float64               `yaml:"efficiency"`
	GuideRate       float64               `yaml:"guide_rate"`
	AutomaticShutIn *bool                 `yaml:"automatic_shut_in"`
	Completions     []Completion          `yaml:"completions"`
	Controls        []ControlSpec         `yaml:"controls"`
	Econ            *EconProductionLimits `yaml:"econ"`
}

// IsInjector reports whether the well injects
func (w *Well) IsInjector() bool { return w.Type == Injector }

// AutoShutIn reports whether an economic limit violation shuts (true) or
// stops (false) the well. Wells shut by default.
func (w *Well) AutoShutIn() bool {
	return w.AutomaticShutIn == nil || *w.AutomaticShutIn
}

// EfficiencyFactor is the well's own efficiency, 1 when not given
func (w *Well) EfficiencyFactor() float64 {
	if w.Efficiency <= 0 {
		return 1
	}
	return w.Efficiency
}

// GroupName is the parent group, FIELD when not given
func (w *Well) GroupName() string {
	if w.Group == "" {
		return FieldGroup
	}
	return w.Group
}

// EconLimits returns the well's economic limits, the zero value when none
func (w *Well) EconLimits() EconProductionLimits {
	if w.Econ == nil {
		return EconProductionLimits{}
	}
	return *w.Econ
}

// Composition returns the injected surface composition, one entry per active phase
func (w *Well) Composition(pu phases.Usage) ([]float64, error) {
	comp := make([]float64, pu.NumPhases)
	if !w.IsInjector() {
		return comp, nil
	}
	p, err := phases.Parse(w.InjectedPhase)
	if err != nil {
		return nil, fmt.Errorf("well %s: %w", w.Name, err)
	}
	if !pu.IsActive(p) {
		return nil, fmt.Errorf("well %s injects inactive phase %s", w.Name, p)
	}
	comp[pu.Pos[p]] = 1
	return comp, nil
}

// ProductionDistribution returns the phase weights of a production rate mode
func ProductionDistribution(mode string, pu phases.Usage) ([]float64, error) {
	distr := make([]float64, pu.NumPhases)
	set := func(p phases.Phase) error {
		if !pu.IsActive(p) {
			return fmt.Errorf("rate mode %s needs inactive phase %s", mode, p)
		}
		distr[pu.Pos[p]] = 1
		return nil
	}
	var err error
	switch strings.ToUpper(mode) {
	case "ORAT":
		err = set(phases.Oil)
	case "WRAT":
		err = set(phases.Water)
	case "GRAT":
		err = set(phases.Gas)
	case "LRAT":
		if err = set(phases.Oil); err == nil {
			err = set(phases.Water)
		}
	case "RESV":
		for i := range distr {
			distr[i] = 1
		}
	default:
		err = fmt.Errorf("unknown production rate mode %q", mode)
	}
	if err != nil {
		return nil, err
	}
	return distr, nil
}

// BuildControls converts the control specs into well controls. Producer rate
// targets become negative; reservoir rate controls start with unit weights
// until conversion coefficients are available.
func (w *Well) BuildControls(pu phases.Usage) ([]wellcontrol.Control, error) {
	var out []wellcontrol.Control
	for _, spec := range w.Controls {
		mode := strings.ToUpper(spec.Mode)
		switch {
		case mode == "BHP":
			out = append(out, wellcontrol.BHP{Value: spec.Target})
		case mode == "THP":
			out = append(out, wellcontrol.THP{Table: spec.VFPTable, Value: spec.Target, ALQ: spec.ALQ})
		case w.IsInjector() && (mode == "RATE" || mode == "RESV"):
			comp, err := w.Composition(pu)
			if err != nil {
				return nil, err
			}
			if mode == "RATE" {
				out = append(out, wellcontrol.SurfaceRate{Distr: comp, Value: spec.Target})
			} else {
				out = append(out, wellcontrol.ReservoirRate{Distr: comp, Value: spec.Target})
			}
		case !w.IsInjector():
			distr, err := ProductionDistribution(mode, pu)
			if err != nil {
				return nil, fmt.Errorf("well %s: %w", w.Name, err)
			}
			if mode == "RESV" {
				out = append(out, wellcontrol.ReservoirRate{Distr: distr, Value: -spec.Target})
			} else {
				out = append(out, wellcontrol.SurfaceRate{Distr: distr, Value: -spec.Target})
			}
		default:
			return nil, fmt.Errorf("well %s: control mode %q is not valid for an injector", w.Name, spec.Mode)
		}
	}
	return out, nil
}

// GroupProduction is a group's production control
type GroupProduction struct {
	Mode   string  `yaml:"mode"` // ORAT, WRAT, GRAT, LRAT, RESV
	Target float64 `yaml:"target"`
}

// GroupInjection is a group's injection control
type GroupInjection struct {
	Phase           string  `yaml:"phase"`
	Mode            string  `yaml:"mode"` // RATE, RESV, VREP
	Target          float64 `yaml:"target"`
	VoidageFraction float64 `yaml:"voidage_fraction"`
}

type Group struct {
	Name       string           `yaml:"name"`
	Parent     string           `yaml:"parent"`
	Efficiency float64          `yaml:"efficiency"`
	Production *GroupProduction `yaml:"production"`
	Injection  *GroupInjection  `yaml:"injection"`
}

// ParentName is the parent group, FIELD when not given
func (g *Group) ParentName() string {
	if g.Parent == "" {
		return FieldGroup
	}
	return g.Parent
}

// Schedule is the well and group setup of one report step
type Schedule struct {
	Wells  []Well  `yaml:"wells"`
	Groups []Group `yaml:"groups"`
}

var (
	ErrDuplicateWell = errors.New("duplicate well")
	ErrWellType      = errors.New("invalid well type")
)

// Decode parses a YAML schedule and validates it
func Decode(data []byte) (*Schedule, error) {
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schedule: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate fills defaults and rejects malformed wells
func (s *Schedule) Validate() error {
	seen := make(map[string]bool)
	for i := range s.Wells {
		w := &s.Wells[i]
		if w.Name == "" {
			return fmt.Errorf("well %d has no name", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateWell, w.Name)
		}
		seen[w.Name] = true
		switch w.Type {
		case Producer, Injector:
		default:
			return fmt.Errorf("%w: well %s has type %q", ErrWellType, w.Name, w.Type)
		}
		switch w.Status {
		case "":
			w.Status = Open
		case Open, Shut, Stopped:
		default:
			return fmt.Errorf("well %s has unknown status %q", w.Name, w.Status)
		}
		for j := range w.Completions {
			if w.Completions[j].State == "" {
				w.Completions[j].State = CompletionOpen
			}
			if w.Completions[j].Direction == "" {
				w.Completions[j].Direction = DirZ
			}
		}
	}
	return nil
}

// Well returns the named well
func (s *Schedule) Well(name string) (*Well, bool) {
	for i := range s.Wells {
		if s.Wells[i].Name == name {
			return &s.Wells[i], true
		}
	}
	return nil, false
}
