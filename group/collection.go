// Package group implements the group hierarchy wells report to: a tree rooted
// at FIELD whose groups may carry production or injection targets that are
// shared among their wells by guide rate.
package group

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/schedule"
	"github.com/notargets/wellsim/wellcontrol"
)

var (
	ErrUnknownParent = errors.New("unknown parent group")
	ErrCycle         = errors.New("group hierarchy has a cycle")
	ErrNotFound      = errors.New("no such node")
)

// Node is a group or a well in the hierarchy. Parent and Children are
// indices into the collection's arena.
type Node struct {
	Name       string
	Parent     int // -1 at the root
	Children   []int
	Efficiency float64

	// groups
	Production *schedule.GroupProduction
	Injection  *schedule.GroupInjection

	// wells
	Leaf              bool
	Injector          bool
	SelfIndex         int // index in the well state, -1 when the well is not local
	GroupControlIndex int // index of the group entry in the well's control list, -1 when none
	IndividualControl bool
	GuideRate         float64
	Composition       []float64 // injected surface composition

	guideFromSchedule bool
	controller        int // nearest ancestor with a matching target, -1 when none
	controls          *wellcontrol.Controls
}

// WellCollection owns the hierarchy
type WellCollection struct {
	Phases    phases.Usage
	Tolerance float64 // relative group target tolerance

	nodes   []Node
	index   map[string]int
	applied bool
}

// New builds the hierarchy of a schedule. Groups without a parent hang
// under FIELD; wells referencing an undeclared group create it under FIELD.
func New(sched *schedule.Schedule, pu phases.Usage, tolerance float64) (*WellCollection, error) {
	c := &WellCollection{Phases: pu, Tolerance: tolerance, index: make(map[string]int)}
	c.addNode(Node{Name: schedule.FieldGroup, Parent: -1, Efficiency: 1})

	for i := range sched.Groups {
		g := &sched.Groups[i]
		n, ok := c.index[g.Name]
		if !ok {
			n = c.addNode(Node{Name: g.Name, Parent: -1})
		}
		node := &c.nodes[n]
		node.Efficiency = positiveOr(g.Efficiency, 1)
		node.Production = g.Production
		node.Injection = g.Injection
	}
	for i := range sched.Groups {
		g := &sched.Groups[i]
		if g.Name == schedule.FieldGroup {
			continue
		}
		parent, ok := c.index[g.ParentName()]
		if !ok {
			return nil, fmt.Errorf("%w %s of group %s", ErrUnknownParent, g.ParentName(), g.Name)
		}
		c.link(c.index[g.Name], parent)
	}
	for i := range sched.Groups {
		if err := c.checkAcyclic(c.index[sched.Groups[i].Name]); err != nil {
			return nil, err
		}
	}

	for i := range sched.Wells {
		w := &sched.Wells[i]
		if w.Status == schedule.Shut {
			continue
		}
		parent, ok := c.index[w.GroupName()]
		if !ok {
			parent = c.addNode(Node{Name: w.GroupName(), Parent: -1, Efficiency: 1})
			c.link(parent, 0)
		}
		comp, err := w.Composition(pu)
		if err != nil {
			return nil, err
		}
		leaf := c.addNode(Node{
			Name:              w.Name,
			Parent:            -1,
			Efficiency:        w.EfficiencyFactor(),
			Leaf:              true,
			Injector:          w.IsInjector(),
			SelfIndex:         -1,
			GroupControlIndex: -1,
			IndividualControl: true,
			GuideRate:         w.GuideRate,
			Composition:       comp,
			guideFromSchedule: w.GuideRate > 0,
		})
		c.link(leaf, parent)
		c.nodes[leaf].controller = c.findController(leaf)
	}
	return c, nil
}

func positiveOr(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func (c *WellCollection) addNode(n Node) int {
	c.nodes = append(c.nodes, n)
	c.index[n.Name] = len(c.nodes) - 1
	return len(c.nodes) - 1
}

func (c *WellCollection) link(child, parent int) {
	c.nodes[child].Parent = parent
	c.nodes[parent].Children = append(c.nodes[parent].Children, child)
}

func (c *WellCollection) checkAcyclic(n int) error {
	seen := make(map[int]bool)
	for ; n >= 0; n = c.nodes[n].Parent {
		if seen[n] {
			return fmt.Errorf("%w through %s", ErrCycle, c.nodes[n].Name)
		}
		seen[n] = true
	}
	return nil
}

func (c *WellCollection) findController(leaf int) int {
	injector := c.nodes[leaf].Injector
	for n := c.nodes[leaf].Parent; n >= 0; n = c.nodes[n].Parent {
		g := &c.nodes[n]
		if (injector && g.Injection != nil) || (!injector && g.Production != nil) {
			return n
		}
	}
	return -1
}

// BindWell attaches a local well's control list to its leaf. When a group
// controls the well a group entry is appended to the list and its index kept.
func (c *WellCollection) BindWell(name string, selfIndex int, controls *wellcontrol.Controls) error {
	n, err := c.leafIndex(name)
	if err != nil {
		return err
	}
	leaf := &c.nodes[n]
	leaf.SelfIndex = selfIndex
	leaf.controls = controls
	if leaf.controller < 0 || leaf.GroupControlIndex >= 0 {
		return nil
	}
	ctrl, err := c.groupControl(leaf.controller, leaf)
	if err != nil {
		return err
	}
	leaf.GroupControlIndex = controls.Append(ctrl)
	return nil
}

// groupControl is the control entry group g imposes on leaf, with a zero target
func (c *WellCollection) groupControl(g int, leaf *Node) (wellcontrol.Control, error) {
	grp := &c.nodes[g]
	if leaf.Injector {
		distr := append([]float64(nil), leaf.Composition...)
		switch strings.ToUpper(grp.Injection.Mode) {
		case "RATE":
			return wellcontrol.SurfaceRate{Distr: distr}, nil
		case "RESV", "VREP":
			return wellcontrol.ReservoirRate{Distr: distr}, nil
		}
		return nil, fmt.Errorf("group %s: unknown injection mode %q", grp.Name, grp.Injection.Mode)
	}
	distr, err := schedule.ProductionDistribution(grp.Production.Mode, c.Phases)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", grp.Name, err)
	}
	if strings.ToUpper(grp.Production.Mode) == "RESV" {
		return wellcontrol.ReservoirRate{Distr: distr}, nil
	}
	return wellcontrol.SurfaceRate{Distr: distr}, nil
}

func (c *WellCollection) leafIndex(name string) (int, error) {
	n, ok := c.index[name]
	if !ok || !c.nodes[n].Leaf {
		return -1, fmt.Errorf("%w: well %s", ErrNotFound, name)
	}
	return n, nil
}

// FindWellNode returns the leaf of a well
func (c *WellCollection) FindWellNode(name string) (*Node, error) {
	n, err := c.leafIndex(name)
	if err != nil {
		return nil, err
	}
	return &c.nodes[n], nil
}

// FindNode returns any node by name
func (c *WellCollection) FindNode(name string) (*Node, bool) {
	n, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return &c.nodes[n], true
}

// LeafNodes returns the well leaves in schedule order
func (c *WellCollection) LeafNodes() []*Node {
	var out []*Node
	for i := range c.nodes {
		if c.nodes[i].Leaf {
			out = append(out, &c.nodes[i])
		}
	}
	return out
}

// AccumulativeEfficiencyFactor is the product of the efficiency factors from
// the node up to the root
func (c *WellCollection) AccumulativeEfficiencyFactor(name string) (float64, error) {
	n, ok := c.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	f := 1.0
	for ; n >= 0; n = c.nodes[n].Parent {
		f *= c.nodes[n].Efficiency
	}
	return f, nil
}

// SetIndividualControl marks whether a well runs under its own controls
func (c *WellCollection) SetIndividualControl(name string, individual bool) error {
	leaf, err := c.FindWellNode(name)
	if err != nil {
		return err
	}
	leaf.IndividualControl = individual
	return nil
}

// UpdateIndividualControl sets a well's leaf state from the index of the
// control it runs: group controlled while that is its group entry, otherwise
// individually controlled. Injectors of voidage replacement groups stay
// where ApplyVREPGroupControls put them.
func (c *WellCollection) UpdateIndividualControl(name string, current int) error {
	leaf, err := c.FindWellNode(name)
	if err != nil {
		return err
	}
	if leaf.Injector && leaf.controller >= 0 {
		if inj := c.nodes[leaf.controller].Injection; inj != nil && isVREP(inj) {
			return nil
		}
	}
	leaf.IndividualControl = !(leaf.GroupControlIndex >= 0 && current == leaf.GroupControlIndex)
	return nil
}

// GroupControlActive reports whether any group carries a target
func (c *WellCollection) GroupControlActive() bool {
	for i := range c.nodes {
		if !c.nodes[i].Leaf && (c.nodes[i].Production != nil || c.nodes[i].Injection != nil) {
			return true
		}
	}
	return false
}

// GroupControlApplied reports whether the targets have been shared out once
func (c *WellCollection) GroupControlApplied() bool { return c.applied }

// HavingVREPGroups reports whether any group injects to replace voidage
func (c *WellCollection) HavingVREPGroups() bool {
	for i := range c.nodes {
		if inj := c.nodes[i].Injection; inj != nil && isVREP(inj) {
			return true
		}
	}
	return false
}

func isVREP(inj *schedule.GroupInjection) bool { return strings.ToUpper(inj.Mode) == "VREP" }

// controlled returns the local leaves a group controls
func (c *WellCollection) controlled(g int) []int {
	var out []int
	for i := range c.nodes {
		if c.nodes[i].Leaf && c.nodes[i].controller == g && c.nodes[i].SelfIndex >= 0 {
			out = append(out, i)
		}
	}
	return out
}

// rateTarget returns a non-VREP group target magnitude and its phase weights
func (c *WellCollection) rateTarget(g int, injector bool) (float64, []float64, bool) {
	grp := &c.nodes[g]
	if injector {
		if grp.Injection == nil || isVREP(grp.Injection) {
			return 0, nil, false
		}
		return grp.Injection.Target, nil, true
	}
	if grp.Production == nil {
		return 0, nil, false
	}
	distr, err := schedule.ProductionDistribution(grp.Production.Mode, c.Phases)
	if err != nil {
		return 0, nil, false
	}
	return grp.Production.Target, distr, true
}

// leafRate is the magnitude of a leaf's contribution to its group, weighted
// by the group's phase weights, or by the leaf's composition for injectors
func (c *WellCollection) leafRate(leaf int, distr, rates []float64, np int) float64 {
	n := &c.nodes[leaf]
	if distr == nil {
		distr = n.Composition
	}
	q := rates[n.SelfIndex*np : (n.SelfIndex+1)*np]
	sum := 0.0
	for p, d := range distr {
		sum += d * q[p]
	}
	return math.Abs(sum)
}

// share distributes a group's target over its group controlled leaves by
// guide rate, after subtracting what individually controlled leaves deliver.
// Individually controlled leaves get their guide rate share of the whole
// target as the limit that puts them under group control.
func (c *WellCollection) share(g int, rates []float64, np int) {
	for _, injector := range []bool{false, true} {
		target, distr, ok := c.rateTarget(g, injector)
		if !ok {
			continue
		}
		var grouped, individual []int
		remaining, guides, allGuides := target, 0.0, 0.0
		for _, l := range c.controlled(g) {
			leaf := &c.nodes[l]
			if leaf.Injector != injector || leaf.GroupControlIndex < 0 {
				continue
			}
			allGuides += leaf.GuideRate
			if leaf.IndividualControl {
				individual = append(individual, l)
				if rates != nil {
					eff, _ := c.AccumulativeEfficiencyFactor(leaf.Name)
					remaining -= eff * c.leafRate(l, distr, rates, np)
				}
				continue
			}
			grouped = append(grouped, l)
			guides += leaf.GuideRate
		}
		c.setShares(grouped, guides, len(grouped), math.Max(remaining, 0), injector)
		c.setShares(individual, allGuides, len(grouped)+len(individual), target, injector)
	}
}

// setShares sets the group entry target of leaves to their guide rate
// fraction of total. guides and n are the guide rate sum and the number of
// leaves the fractions refer to.
func (c *WellCollection) setShares(leaves []int, guides float64, n int, total float64, injector bool) {
	for _, l := range leaves {
		leaf := &c.nodes[l]
		frac := 1 / float64(n)
		if guides > 0 {
			frac = leaf.GuideRate / guides
		}
		eff, _ := c.AccumulativeEfficiencyFactor(leaf.Name)
		v := total * frac / eff
		if !injector {
			v = -v
		}
		leaf.controls.SetTarget(leaf.GroupControlIndex, v)
	}
}

// ApplyGroupControls shares every group target out for the first time and
// puts wells without an individual control in force under group control
func (c *WellCollection) ApplyGroupControls() {
	for i := range c.nodes {
		leaf := &c.nodes[i]
		if leaf.Leaf && leaf.controls != nil && leaf.GroupControlIndex >= 0 && leaf.controls.Current() < 0 {
			leaf.controls.SetCurrent(leaf.GroupControlIndex)
			leaf.IndividualControl = false
		}
	}
	for g := range c.nodes {
		if !c.nodes[g].Leaf {
			c.share(g, nil, 0)
		}
	}
	c.applied = true
}

// UpdateWellTargets reshares the group targets given the current surface
// rates (nw*np, well state order)
func (c *WellCollection) UpdateWellTargets(rates []float64, np int) {
	for g := range c.nodes {
		if !c.nodes[g].Leaf {
			c.share(g, rates, np)
		}
	}
}

// GroupTargetConverged reports whether every group with a group controlled
// well meets its target within the relative tolerance
func (c *WellCollection) GroupTargetConverged(rates []float64, np int) bool {
	for g := range c.nodes {
		if c.nodes[g].Leaf {
			continue
		}
		for _, injector := range []bool{false, true} {
			target, distr, ok := c.rateTarget(g, injector)
			if !ok || target <= 0 {
				continue
			}
			actual, anyGrouped := 0.0, false
			for _, l := range c.controlled(g) {
				leaf := &c.nodes[l]
				if leaf.Injector != injector {
					continue
				}
				anyGrouped = anyGrouped || !leaf.IndividualControl
				eff, _ := c.AccumulativeEfficiencyFactor(leaf.Name)
				actual += eff * c.leafRate(l, distr, rates, np)
			}
			if anyGrouped && math.Abs(actual-target) > c.Tolerance*target {
				return false
			}
		}
	}
	return true
}

// RequireWellPotentials reports whether some group controlled well has no
// guide rate from the schedule
func (c *WellCollection) RequireWellPotentials() bool {
	for i := range c.nodes {
		n := &c.nodes[i]
		if n.Leaf && n.controller >= 0 && n.SelfIndex >= 0 && !n.guideFromSchedule {
			return true
		}
	}
	return false
}

// SetGuideRatesWithPotentials uses the wells' potentials (nw*np) as guide
// rates where the schedule gives none
func (c *WellCollection) SetGuideRatesWithPotentials(potentials []float64, np int) {
	for i := range c.nodes {
		n := &c.nodes[i]
		if !n.Leaf || n.controller < 0 || n.SelfIndex < 0 || n.guideFromSchedule {
			continue
		}
		var distr []float64
		if !n.Injector {
			_, distr, _ = c.rateTarget(n.controller, false)
		}
		n.GuideRate = c.leafRate(i, distr, potentials, np)
	}
}

// ApplyVREPGroupControls sets the reservoir rate targets of injectors in
// voidage replacement groups. voidage holds each producer's reservoir rate
// and coeffs each well's surface to reservoir conversion coefficients (nw*np).
func (c *WellCollection) ApplyVREPGroupControls(voidage, coeffs []float64, np int) {
	for g := range c.nodes {
		inj := c.nodes[g].Injection
		if c.nodes[g].Leaf || inj == nil || !isVREP(inj) {
			continue
		}
		total := 0.0
		c.walkLeaves(g, func(l int) {
			leaf := &c.nodes[l]
			if !leaf.Injector && leaf.SelfIndex >= 0 {
				eff, _ := c.AccumulativeEfficiencyFactor(leaf.Name)
				total += eff * voidage[leaf.SelfIndex]
			}
		})
		target := total * positiveOr(inj.VoidageFraction, 1)

		var injectors []int
		guides := 0.0
		for _, l := range c.controlled(g) {
			if c.nodes[l].Injector && c.nodes[l].GroupControlIndex >= 0 {
				injectors = append(injectors, l)
				guides += c.nodes[l].GuideRate
			}
		}
		for _, l := range injectors {
			leaf := &c.nodes[l]
			frac := 1 / float64(len(injectors))
			if guides > 0 {
				frac = leaf.GuideRate / guides
			}
			eff, _ := c.AccumulativeEfficiencyFactor(leaf.Name)
			distr := make([]float64, np)
			for p := range distr {
				distr[p] = leaf.Composition[p] * coeffs[leaf.SelfIndex*np+p]
			}
			leaf.controls.Set(leaf.GroupControlIndex, wellcontrol.ReservoirRate{Distr: distr, Value: target * frac / eff})
			leaf.IndividualControl = false
		}
	}
}

func (c *WellCollection) walkLeaves(n int, fn func(leaf int)) {
	if c.nodes[n].Leaf {
		fn(n)
		return
	}
	for _, ch := range c.nodes[n].Children {
		c.walkLeaves(ch, fn)
	}
}

// Snapshot is the mutable part of the collection: the leaf states and the
// control lists bound to local wells, group entries included
type Snapshot struct {
	individual []bool
	controls   []*wellcontrol.Controls
	applied    bool
}

// Snapshot records the individual control flags and the bound control lists
func (c *WellCollection) Snapshot() Snapshot {
	s := Snapshot{
		individual: make([]bool, len(c.nodes)),
		controls:   make([]*wellcontrol.Controls, len(c.nodes)),
		applied:    c.applied,
	}
	for i := range c.nodes {
		s.individual[i] = c.nodes[i].IndividualControl
		if c.nodes[i].controls != nil {
			s.controls[i] = c.nodes[i].controls.Clone()
		}
	}
	return s
}

// Restore returns the flags and control lists to a snapshot taken from this
// collection. Control lists are restored in place, so the wells sharing them
// see the restored targets.
func (c *WellCollection) Restore(s Snapshot) {
	for i := range c.nodes {
		c.nodes[i].IndividualControl = s.individual[i]
		if c.nodes[i].controls != nil && s.controls[i] != nil {
			c.nodes[i].controls.CopyFrom(s.controls[i])
		}
	}
	c.applied = s.applied
}
