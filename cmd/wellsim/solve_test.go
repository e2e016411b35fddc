package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/wellsim/config"
	"github.com/notargets/wellsim/logger"
)

const twoColumns = `
grid:
  dims: [3, 1, 3]
  cell_size: [10, 20, 5]
  top_depth: 1000
initial: {pressure: 2.0e+7, sw: 0.3, sg: 0.1}
schedule:
  wells:
    - name: P1
      type: PRODUCER
      completions:
        - {i: 0, k: 0, diameter: 0.2, trans_factor: 1.0e-12}
        - {i: 0, k: 1, diameter: 0.2, trans_factor: 1.0e-12}
        - {i: 0, k: 2, diameter: 0.2, trans_factor: 1.0e-12}
      controls:
        - {mode: BHP, target: 1.5e+7}
      econ:
        min_oil_rate: 1
    - name: P2
      type: PRODUCER
      completions:
        - {i: 2, k: 0, diameter: 0.2, trans_factor: 1.0e-12}
        - {i: 2, k: 1, diameter: 0.2, trans_factor: 1.0e-12}
        - {i: 2, k: 2, diameter: 0.2, trans_factor: 1.0e-12}
      controls:
        - {mode: BHP, target: 1.5e+7}
`

func writeCase(t *testing.T, text string) *Case {
	path := filepath.Join(t.TempDir(), "case.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	c, err := loadCase(path)
	require.NoError(t, err)
	return c
}

func quietLog() *slog.Logger { return logger.New(io.Discard, "error", "text") }

func TestLoadCase(t *testing.T) {
	c := writeCase(t, twoColumns)
	sched, err := c.NewSchedule()
	require.NoError(t, err)
	require.Len(t, sched.Wells, 2)
	assert.Equal(t, "OPEN", string(sched.Wells[0].Status))

	// each call decodes an independent copy
	sched.Wells[0].Name = "CHANGED"
	again, err := c.NewSchedule()
	require.NoError(t, err)
	assert.Equal(t, "P1", again.Wells[0].Name)

	g, err := c.NewGrid()
	require.NoError(t, err)
	assert.Equal(t, 9, g.NumCells())

	props, err := c.NewVFP(nil)
	require.NoError(t, err)
	assert.Nil(t, props)

	_, err = loadCase(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grid: {dims: [1, 1, 1]}\n"), 0o644))
	_, err = loadCase(path)
	assert.ErrorContains(t, err, "no schedule")
}

func TestSolveCaseShutsEconomicWells(t *testing.T) {
	c := writeCase(t, twoColumns)
	out, err := solveCase(c, config.Default(), quietLog(), 1, 2, 86400)
	require.NoError(t, err)
	require.Len(t, out.Steps, 2)
	assert.Equal(t, []string{"P1"}, out.Steps[0].ShutWells)
	assert.Empty(t, out.Steps[1].ShutWells)

	var names []string
	for _, w := range out.Wells {
		names = append(names, w.Well)
		assert.InDelta(t, 150e5, w.BHP, 1e-3)
		for _, q := range w.Rates {
			assert.LessOrEqual(t, q, 0.0)
		}
	}
	assert.Equal(t, []string{"P1", "P2", "P2"}, names)
}

func TestSolveCaseReportsInnerSolve(t *testing.T) {
	tests := []struct {
		name      string
		tolerance float64
		expected  bool
	}{
		{"default tolerances", 1e-6, true},
		{"unreachable tolerance", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := writeCase(t, twoColumns)
			cfg := config.Default()
			cfg.Wells.ToleranceWells = tt.tolerance
			if tt.tolerance == 0 {
				cfg.Wells.ResidualFloor = 0
			}
			out, err := solveCase(c, cfg, quietLog(), 1, 1, 86400)
			require.NoError(t, err)
			require.NotEmpty(t, out.Wells)
			for _, w := range out.Wells {
				assert.Equal(t, tt.expected, w.Converged, w.Well)
			}
		})
	}
}

func TestSolveCaseRanksAgree(t *testing.T) {
	c := writeCase(t, twoColumns)
	serial, err := solveCase(c, config.Default(), quietLog(), 1, 2, 86400)
	require.NoError(t, err)
	split, err := solveCase(c, config.Default(), quietLog(), 2, 2, 86400)
	require.NoError(t, err)

	require.Len(t, split.Wells, len(serial.Wells))
	for i := range serial.Wells {
		a, b := serial.Wells[i], split.Wells[i]
		assert.Equal(t, a.Well, b.Well)
		assert.InDelta(t, a.BHP, b.BHP, 1e-6)
		assert.InDeltaSlice(t, a.Rates, b.Rates, 1e-12)
	}
	ranks := map[int]bool{}
	for _, w := range split.Wells {
		ranks[w.Rank] = true
	}
	assert.Len(t, ranks, 2)

	for i := range serial.Steps {
		a, b := serial.Steps[i], split.Steps[i]
		assert.Equal(t, a.ShutWells, b.ShutWells)
		assert.InDelta(t, a.ResidualNorm, b.ResidualNorm, 1e-9*math.Max(1, a.ResidualNorm))
		assert.InDelta(t, a.OperatorNorm, b.OperatorNorm, 1e-9*math.Max(1, a.OperatorNorm))
	}
}

func TestSolveCaseMatrixContributions(t *testing.T) {
	c := writeCase(t, twoColumns)
	cfg := config.Default()
	operator, err := solveCase(c, cfg, quietLog(), 1, 1, 86400)
	require.NoError(t, err)
	cfg.LinearSolver.MatrixAddWellContributions = true
	explicit, err := solveCase(c, cfg, quietLog(), 1, 1, 86400)
	require.NoError(t, err)

	a, b := operator.Steps[0].OperatorNorm, explicit.Steps[0].OperatorNorm
	assert.InDelta(t, a, b, 1e-9*math.Max(1, a))
}

func TestSolveCaseTooManyRanks(t *testing.T) {
	c := writeCase(t, twoColumns)
	_, err := solveCase(c, config.Default(), quietLog(), 4, 1, 86400)
	assert.Error(t, err)
}

func TestEvaluateCase(t *testing.T) {
	c := writeCase(t, twoColumns)
	report, err := evaluateCase(c, config.Default(), quietLog(), 86400)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, report.ShutWells)
	assert.Empty(t, report.StopWells)
	assert.Empty(t, report.Connections)

	var buf bytes.Buffer
	require.NoError(t, writeEcon(&buf, report))
	assert.Contains(t, buf.String(), "shut     P1")
}

func TestWriteOutputJSON(t *testing.T) {
	c := writeCase(t, twoColumns)
	out, err := solveCase(c, config.Default(), quietLog(), 1, 1, 86400)
	require.NoError(t, err)

	jsonOutput = true
	defer func() { jsonOutput = false }()
	var buf bytes.Buffer
	solveCmd.SetOut(&buf)
	defer solveCmd.SetOut(nil)
	require.NoError(t, writeOutput(solveCmd, out))

	var decoded runOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Wells, 2)
	assert.Equal(t, "P1", decoded.Wells[0].Well)
}
