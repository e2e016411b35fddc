// Package econ evaluates producer economic limits against the current well
// rates and decides which wells to shut or stop and which connections to
// close. Evaluation never modifies the well state or the schedule.
package econ

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/notargets/wellsim/logger"
	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/schedule"
	"github.com/notargets/wellsim/wellstate"
)

// WellInfo is what the evaluator needs to know about a local well
type WellInfo struct {
	Name      string
	Injector  bool
	PerfCells []int // compressed cell of each perforation, in well state order
}

// RatioCheck is the outcome of the ratio limit checks of one well
type RatioCheck struct {
	Violated        bool
	LastConnection  bool
	WorstConnection int     // perforation index within the well, -1 when none
	ViolationExtent float64 // value over limit of the worst connection
}

type Evaluator struct {
	Phases  phases.Usage
	Log     *slog.Logger
	Notices *logger.Notices
}

// NewEvaluator returns an evaluator logging to l
func NewEvaluator(pu phases.Usage, l *slog.Logger, notices *logger.Notices) *Evaluator {
	return &Evaluator{Phases: pu, Log: logger.OrDefault(l), Notices: notices}
}

// Evaluate checks every local producer against its economic limits
func (e *Evaluator) Evaluate(sched *schedule.Schedule, wells []WellInfo, ws *wellstate.WellState) (*DynamicListEconLimited, error) {
	list := NewDynamicList()
	for _, info := range wells {
		if info.Injector {
			continue
		}
		sw, ok := sched.Well(info.Name)
		if !ok {
			return nil, fmt.Errorf("well %s is not in the schedule", info.Name)
		}
		limits := sw.EconLimits()
		if !limits.OnAnyEffectiveLimit() {
			continue
		}
		if limits.OnPotential() {
			e.Notices.Warn(logger.TagPotentialLimit, "POTN limits are not supported, evaluating on RATE", "well", info.Name)
		}
		entry, err := ws.MustEntry(info.Name)
		if err != nil {
			return nil, err
		}

		if limits.OnAnyRateLimit() && e.CheckRateLimits(limits, ws.Rates(entry.Index), info.Name) {
			if limits.EndRun {
				e.Notices.Warn(logger.TagEndRun, "ending the run after an economic shut in is not supported", "well", info.Name)
			}
			if limits.ValidFollowonWell() {
				e.Notices.Warn(logger.TagFollowonWell, "opening a follow-on well is not supported", "well", info.Name)
			}
			if sw.AutoShutIn() {
				list.AddShutWell(info.Name)
				e.Log.Info("well will be shut in due to economic limit", "well", info.Name)
			} else {
				list.AddStoppedWell(info.Name)
				e.Log.Info("well will be stopped due to economic limit", "well", info.Name)
			}
			continue
		}

		if !limits.OnAnyRatioLimit() {
			continue
		}
		check := e.CheckRatioLimits(limits, ws, entry, info.Name)
		if !check.Violated {
			continue
		}
		if check.WorstConnection >= len(info.PerfCells) {
			return nil, fmt.Errorf("well %s: worst connection %d out of range", info.Name, check.WorstConnection)
		}
		if check.WorstConnection < 0 {
			e.Log.Warn("ratio limit broken but no connection produces water", "well", info.Name)
			continue
		}
		list.AddClosedConnection(info.Name, info.PerfCells[check.WorstConnection])
		e.Log.Info("connection will be closed due to economic limit", "well", info.Name, "connection", check.WorstConnection)
		if check.LastConnection {
			list.AddShutWell(info.Name)
			e.Log.Info("well will be shut as its last connection is closed", "well", info.Name)
		}
	}
	return list, nil
}

// CheckRateLimits reports whether a minimum rate limit is broken
func (e *Evaluator) CheckRateLimits(limits schedule.EconProductionLimits, rates []float64, well string) bool {
	pu := e.Phases
	if limits.OnMinOilRate() && math.Abs(pu.Rate(rates, phases.Oil)) < limits.MinOilRate {
		return true
	}
	if limits.OnMinGasRate() && pu.IsActive(phases.Gas) && math.Abs(pu.Rate(rates, phases.Gas)) < limits.MinGasRate {
		return true
	}
	if limits.OnMinLiquidRate() {
		liquid := pu.Rate(rates, phases.Oil) + pu.Rate(rates, phases.Water)
		if math.Abs(liquid) < limits.MinLiquidRate {
			return true
		}
	}
	if limits.OnMinReservoirFluidRate() {
		e.Notices.Warn(logger.TagMinReservoirRate, "minimum reservoir fluid rate limit is not supported", "well", well)
	}
	return false
}

// CheckRatioLimits evaluates the ratio limits. Only the water cut is
// enforced. The violation extent is kept so that several broken ratio limits
// could be ranked against each other.
func (e *Evaluator) CheckRatioLimits(limits schedule.EconProductionLimits, ws *wellstate.WellState, entry wellstate.MapEntry, well string) RatioCheck {
	out := RatioCheck{WorstConnection: -1, ViolationExtent: -1}
	if limits.OnMaxWaterCut() {
		wc := e.checkMaxWaterCut(limits.MaxWaterCut, ws, entry)
		if wc.Violated && wc.ViolationExtent > out.ViolationExtent {
			out = wc
		}
	}
	ratios := 0
	if limits.OnMaxWaterCut() {
		ratios++
	}
	if limits.OnMaxGasOilRatio() {
		ratios++
		e.Notices.Warn(logger.TagMaxGOR, "maximum gas-oil ratio limit is not supported", "well", well)
	}
	if limits.OnMaxWaterGasRatio() {
		ratios++
		e.Notices.Warn(logger.TagMaxWGR, "maximum water-gas ratio limit is not supported", "well", well)
	}
	if limits.OnMaxGasLiquidRatio() {
		ratios++
		e.Notices.Warn(logger.TagMaxGLR, "maximum gas-liquid ratio limit is not supported", "well", well)
	}
	if ratios > 1 {
		e.Notices.Warn(logger.TagMultipleRatioLimit, "ranking several ratio limits is not supported, water cut decides", "well", well)
	}
	return out
}

func waterCut(pu phases.Usage, rates []float64) float64 {
	water := pu.Rate(rates, phases.Water)
	liquid := water + pu.Rate(rates, phases.Oil)
	if liquid == 0 {
		return 0
	}
	return water / liquid
}

func (e *Evaluator) checkMaxWaterCut(limit float64, ws *wellstate.WellState, entry wellstate.MapEntry) RatioCheck {
	out := RatioCheck{WorstConnection: -1, ViolationExtent: -1}
	if waterCut(e.Phases, ws.Rates(entry.Index)) <= limit {
		return out
	}
	out.Violated = true
	if entry.NumPerf == 0 {
		return out
	}

	cuts := make([]float64, entry.NumPerf)
	for k := range cuts {
		cuts[k] = waterCut(e.Phases, ws.PerfRates(entry.FirstPerf+k))
	}
	if entry.NumPerf == 1 {
		out.LastConnection = true
		out.WorstConnection = 0
		out.ViolationExtent = cuts[0] / limit
		return out
	}
	worst := 0.0
	for k, c := range cuts {
		if c > worst {
			worst = c
			out.WorstConnection = k
		}
	}
	out.ViolationExtent = worst / limit
	return out
}
