package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/notargets/wellsim/config"
	"github.com/notargets/wellsim/econ"
	"github.com/notargets/wellsim/partitions"
	"github.com/notargets/wellsim/phases"
	"github.com/notargets/wellsim/utils"
)

var econCmd = &cobra.Command{
	Use:   "econ <case.yaml>",
	Short: "Report the wells and connections economic limits would close",
	Long: `econ assembles the wells of a case once and evaluates the economic
limits of every producer. Nothing is applied to the schedule.`,
	Args: cobra.ExactArgs(1),
	RunE: runEcon,
}

func init() {
	econCmd.Flags().Float64Var(&stepDays, "dt", 1, "Time step length in days")
	rootCmd.AddCommand(econCmd)
}

// ClosedConnection is a connection the limits would close
type ClosedConnection struct {
	Well string `json:"well"`
	Cell int    `json:"cell"`
	IJK  [3]int `json:"ijk"`
}

// EconReport is the outcome of one evaluation
type EconReport struct {
	ShutWells   []string           `json:"shut_wells"`
	StopWells   []string           `json:"stopped_wells"`
	Connections []ClosedConnection `json:"closed_connections"`
}

func runEcon(cmd *cobra.Command, args []string) error {
	cfg, l, err := runLogger()
	if err != nil {
		return err
	}
	c, err := loadCase(args[0])
	if err != nil {
		return err
	}
	report, err := evaluateCase(c, cfg, l, stepDays*86400)
	if err != nil {
		return err
	}
	return writeEcon(cmd.OutOrStdout(), report)
}

// evaluateCase runs one serial assembly and evaluates the economic limits
func evaluateCase(c *Case, cfg config.Config, l *slog.Logger, dt float64) (*EconReport, error) {
	pu, err := phases.NewUsage(cfg.Phases.Water, cfg.Phases.Oil, cfg.Phases.Gas)
	if err != nil {
		return nil, err
	}
	g, err := c.NewGrid()
	if err != nil {
		return nil, err
	}
	cc, err := utils.NewCellConnector(g.NumCells(), make([]int, g.NumCells()))
	if err != nil {
		return nil, err
	}
	rr := &rankRun{c: c, cfg: cfg, pu: pu, grid: g, comm: partitions.Serial{}, view: cc.View(0), log: l}
	if err := rr.setup(); err != nil {
		return nil, err
	}
	if _, err := rr.model.Assemble(rr.sim, 0, dt, rr.ws); err != nil {
		return nil, err
	}
	list, err := rr.model.UpdateListEconLimited(rr.sched, rr.ws)
	if err != nil {
		return nil, err
	}
	return newEconReport(list, g.IJK), nil
}

func newEconReport(list *econ.DynamicListEconLimited, ijk func(int) (int, int, int)) *EconReport {
	out := &EconReport{
		ShutWells: append([]string{}, list.ShutWells...),
		StopWells: append([]string{}, list.StoppedWells...),
	}
	for _, well := range list.WellsWithClosedConnections() {
		for _, cell := range list.ClosedConnections[well] {
			i, j, k := ijk(cell)
			out.Connections = append(out.Connections, ClosedConnection{Well: well, Cell: cell, IJK: [3]int{i, j, k}})
		}
	}
	return out
}

func writeEcon(w io.Writer, r *EconReport) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	if len(r.ShutWells)+len(r.StopWells)+len(r.Connections) == 0 {
		fmt.Fprintln(w, "no economic limit broken")
		return nil
	}
	for _, name := range r.ShutWells {
		fmt.Fprintf(w, "shut     %s\n", name)
	}
	for _, name := range r.StopWells {
		fmt.Fprintf(w, "stopped  %s\n", name)
	}
	for _, conn := range r.Connections {
		fmt.Fprintf(w, "close    %s connection at (%d,%d,%d)\n", conn.Well, conn.IJK[0]+1, conn.IJK[1]+1, conn.IJK[2]+1)
	}
	return nil
}
