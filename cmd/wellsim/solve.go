package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/wellsim/config"
	"github.com/notargets/wellsim/grid"
	"github.com/notargets/wellsim/group"
	"github.com/notargets/wellsim/logger"
	"github.com/notargets/wellsim/partitions"
	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/reservoir"
	"github.com/notargets/wellsim/schedule"
	"github.com/notargets/wellsim/utils"
	"github.com/notargets/wellsim/wellmodel"
	"github.com/notargets/wellsim/wellstate"
)

var (
	numRanks int
	numSteps int
	stepDays float64
)

var solveCmd = &cobra.Command{
	Use:   "solve <case.yaml>",
	Short: "Assemble and solve the well equations over a number of steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runSolve,
}

func init() {
	solveCmd.Flags().IntVar(&numRanks, "ranks", 1, "Number of in-process ranks the grid is split over")
	solveCmd.Flags().IntVar(&numSteps, "steps", 1, "Number of time steps")
	solveCmd.Flags().Float64Var(&stepDays, "dt", 1, "Time step length in days")
	rootCmd.AddCommand(solveCmd)
}

// WellResult is the state of one well at the end of a step
type WellResult struct {
	Step      int       `json:"step"`
	Rank      int       `json:"rank"`
	Well      string    `json:"well"`
	BHP       float64   `json:"bhp"`       // Pa
	Rates     []float64 `json:"rates"`     // surface m^3/s, production negative
	Converged bool      `json:"converged"` // first-iteration well solve met its tolerances
}

// StepSummary is the rank-independent outcome of one step
type StepSummary struct {
	Step          int      `json:"step"`
	ResidualNorm  float64  `json:"residual_norm"`  // after eliminating the wells
	OperatorNorm  float64  `json:"operator_norm"`  // max row sum of the coupled operator
	ShutWells     []string `json:"shut_wells"`
	StoppedWells  []string `json:"stopped_wells"`
	ClosedInWells []string `json:"closed_connections_in"`
}

type runOutput struct {
	Steps []StepSummary `json:"steps"`
	Wells []WellResult  `json:"wells"`
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, l, err := runLogger()
	if err != nil {
		return err
	}
	c, err := loadCase(args[0])
	if err != nil {
		return err
	}
	if numRanks < 1 || numSteps < 1 || stepDays <= 0 {
		return fmt.Errorf("ranks and steps must be at least 1 and dt positive")
	}
	out, err := solveCase(c, cfg, l, numRanks, numSteps, stepDays*86400)
	if err != nil {
		return err
	}
	return writeOutput(cmd, out)
}

// solveCase runs the case on ranks in-process ranks
func solveCase(c *Case, cfg config.Config, l *slog.Logger, ranks, steps int, dt float64) (*runOutput, error) {
	pu, err := phases.NewUsage(cfg.Phases.Water, cfg.Phases.Oil, cfg.Phases.Gas)
	if err != nil {
		return nil, err
	}
	g, err := c.NewGrid()
	if err != nil {
		return nil, err
	}
	global := make([]int, g.NumCells())
	for i := range global {
		global[i] = g.GlobalCell(i)
	}
	layout, err := (&partitions.PartitionBuilder{
		NumCells:      g.NumCells(),
		CartDims:      g.CartDims(),
		Global:        global,
		NumPartitions: ranks,
		Strategy:      partitions.ColumnPartition,
	}).BuildPartitions()
	if err != nil {
		return nil, err
	}
	stats := layout.PartitionStatistics()
	if stats.MinCells == 0 {
		return nil, fmt.Errorf("grid has too few columns for %d ranks", ranks)
	}
	cc, err := utils.NewCellConnector(g.NumCells(), layout.CToP)
	if err != nil {
		return nil, err
	}
	l.Info("partitioned grid", "cells", g.NumCells(), "ranks", ranks, "imbalance", stats.Imbalance)

	comms := partitions.NewLocalGroup(ranks)
	results := make([][]WellResult, ranks)
	summaries := make([][]StepSummary, ranks)
	var eg errgroup.Group
	for r := 0; r < ranks; r++ {
		r := r
		eg.Go(func() error {
			rr := &rankRun{
				c: c, cfg: cfg, pu: pu, grid: g,
				comm: comms.Rank(r),
				view: cc.View(r),
				log:  l.With("rank", r),
			}
			var err error
			results[r], summaries[r], err = rr.run(steps, dt)
			if err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := &runOutput{Steps: summaries[0]}
	for _, res := range results {
		out.Wells = append(out.Wells, res...)
	}
	sort.SliceStable(out.Wells, func(i, j int) bool {
		if out.Wells[i].Step != out.Wells[j].Step {
			return out.Wells[i].Step < out.Wells[j].Step
		}
		return out.Wells[i].Well < out.Wells[j].Well
	})
	return out, nil
}

// rankRun is the state of one rank
type rankRun struct {
	c    *Case
	cfg  config.Config
	pu   phases.Usage
	grid *grid.CartesianGrid
	comm partitions.Communicator
	view *utils.PartitionView
	log  *slog.Logger

	sched *schedule.Schedule
	sim   *reservoir.Model
	model *wellmodel.Model
	ws    *wellstate.WellState
}

// localWells are the open wells whose first completion lies in an owned
// cell. Wells without completions go to rank 0.
func (rr *rankRun) localWells() []string {
	cartToComp := grid.CartesianToCompressed(rr.grid)
	names := []string{}
	for i := range rr.sched.Wells {
		sw := &rr.sched.Wells[i]
		if len(sw.Completions) == 0 {
			if rr.comm.Rank() == 0 {
				names = append(names, sw.Name)
			}
			continue
		}
		first := sw.Completions[0]
		cell, ok := cartToComp[grid.CartesianIndex(rr.grid.Dims, first.I, first.J, first.K)]
		if !ok {
			if rr.comm.Rank() == 0 {
				names = append(names, sw.Name)
			}
			continue
		}
		if _, owned := rr.view.ToLocal(cell); owned {
			names = append(names, sw.Name)
		}
	}
	return names
}

func (rr *rankRun) setup() error {
	var err error
	if rr.sched, err = rr.c.NewSchedule(); err != nil {
		return err
	}
	if rr.sim, err = rr.c.NewReservoir(rr.pu, rr.grid); err != nil {
		return err
	}
	interior := make([]bool, rr.sim.NumCells())
	for c := range interior {
		_, interior[c] = rr.view.ToLocal(c)
	}
	if err := rr.sim.SetInterior(interior); err != nil {
		return err
	}
	rr.log.Debug("rank owns cells", "cells", rr.view.NumCells())
	return rr.buildModel()
}

// buildModel creates the well container and a fresh well state from the
// current schedule. It is collective.
func (rr *rankRun) buildModel() error {
	notices := logger.NewNotices(rr.log)
	props, err := rr.c.NewVFP(notices)
	if err != nil {
		return err
	}
	coll, err := group.New(rr.sched, rr.pu, rr.cfg.Wells.GroupTargetTolerance)
	if err != nil {
		return err
	}
	rr.model, err = wellmodel.New(wellmodel.Context{
		Config:  rr.cfg,
		Phases:  rr.pu,
		Comm:    rr.comm,
		VFP:     props,
		Wells:   rr.localWells(),
		Log:     rr.log,
		Notices: notices,
	}, rr.sched, rr.grid, coll)
	if err != nil {
		return err
	}
	if err := rr.model.Init(rr.sim); err != nil {
		return err
	}
	rr.ws, err = rr.model.NewWellState(rr.sim)
	return err
}

func (rr *rankRun) run(steps int, dt float64) ([]WellResult, []StepSummary, error) {
	if err := rr.setup(); err != nil {
		return nil, nil, err
	}
	var results []WellResult
	var summaries []StepSummary
	for step := 0; step < steps; step++ {
		rr.sim.System.Reset()
		report, err := rr.model.Assemble(rr.sim, 0, dt, rr.ws)
		if err != nil {
			return nil, nil, err
		}
		summary := StepSummary{Step: step}

		r := rr.sim.System.Residual.Clone()
		rr.model.ApplyResidual(r)
		summary.ResidualNorm = rr.globalNorm(r)
		if summary.OperatorNorm, err = rr.operatorNorm(); err != nil {
			return nil, nil, err
		}

		for w, lay := range rr.model.Layout() {
			results = append(results, WellResult{
				Step:      step,
				Rank:      rr.comm.Rank(),
				Well:      lay.Name,
				BHP:       rr.ws.BHP[w],
				Rates:     append([]float64{}, rr.ws.Rates(w)...),
				Converged: report.Converged,
			})
		}

		list, err := rr.model.UpdateListEconLimited(rr.sched, rr.ws)
		if err != nil {
			return nil, nil, err
		}
		summary.ShutWells = gatherAll(rr.comm, list.ShutWells)
		summary.StoppedWells = gatherAll(rr.comm, list.StoppedWells)
		summary.ClosedInWells = gatherAll(rr.comm, list.WellsWithClosedConnections())
		summaries = append(summaries, summary)

		rr.log.Info("step done", "step", step, "residual", summary.ResidualNorm, "wells", rr.model.NumWells())
		if partitions.AnyRank(rr.comm, !list.Empty()) {
			list.ApplyTo(rr.sched, rr.grid)
			if err := rr.buildModel(); err != nil {
				return nil, nil, err
			}
		}
	}
	return results, summaries, nil
}

// globalNorm is the 2-norm of the owned blocks of v over all ranks
func (rr *rankRun) globalNorm(v reservoir.BlockVector) float64 {
	sum := 0.0
	for c := 0; c < v.NumBlocks(); c++ {
		if rr.sim.Interior(c) {
			n := floats.Norm(v.Block(c), 2)
			sum += n * n
		}
	}
	return math.Sqrt(rr.comm.SumFloat64s([]float64{sum})[0])
}

// operatorNorm applies the coupled operator to a vector of ones and returns
// the largest owned entry over all ranks. With well contributions folded
// into the matrix the dense product is used instead.
func (rr *rankRun) operatorNorm() (float64, error) {
	A := rr.sim.System.Matrix()
	n, _ := A.Dims()
	ones := reservoir.NewBlockVector(rr.sim.NumCells(), rr.sim.NumEq())
	for i := range ones.Data {
		ones.Data[i] = 1
	}
	y := reservoir.NewBlockVector(rr.sim.NumCells(), rr.sim.NumEq())
	if rr.cfg.LinearSolver.MatrixAddWellContributions {
		rr.model.AddWellContributions(A)
		mat.NewVecDense(n, y.Data).MulVec(A, mat.NewVecDense(n, ones.Data))
	} else {
		op, err := wellmodel.NewOperator(A, rr.model)
		if err != nil {
			return 0, err
		}
		op.Apply(ones, y)
	}
	local := 0.0
	for c := 0; c < y.NumBlocks(); c++ {
		if !rr.sim.Interior(c) {
			continue
		}
		for _, v := range y.Block(c) {
			local = math.Max(local, math.Abs(v))
		}
	}
	slots := make([]float64, rr.comm.Size())
	slots[rr.comm.Rank()] = local
	return floats.Max(rr.comm.SumFloat64s(slots)), nil
}

// gatherAll merges the names of every rank in rank order
func gatherAll(comm partitions.Communicator, names []string) []string {
	out := []string{}
	for _, part := range comm.AllGatherStrings(names) {
		out = append(out, part...)
	}
	return out
}

func writeOutput(cmd *cobra.Command, out *runOutput) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, s := range out.Steps {
		fmt.Fprintf(w, "step %d  residual %.6e  operator %.6e\n", s.Step, s.ResidualNorm, s.OperatorNorm)
		for _, name := range s.ShutWells {
			fmt.Fprintf(w, "  shut     %s\n", name)
		}
		for _, name := range s.StoppedWells {
			fmt.Fprintf(w, "  stopped  %s\n", name)
		}
		for _, name := range s.ClosedInWells {
			fmt.Fprintf(w, "  closed connection in %s\n", name)
		}
		for _, wr := range out.Wells {
			if wr.Step != s.Step {
				continue
			}
			fmt.Fprintf(w, "  %-8s rank %d  bhp %10.2f bar  rates %v\n", wr.Well, wr.Rank, wr.BHP/1e5, wr.Rates)
		}
	}
	return nil
}
