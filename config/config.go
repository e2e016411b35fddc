// Package config holds the explicit run configuration: fluid system, linear
// solver and preconditioner choice, caching toggles and the well model
// parameters. Values come from defaults, an optional YAML file and WELLSIM_*
// environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FluidSystem selects the fluid model
type FluidSystem string

const (
	BlackOil FluidSystem = "blackoil"
)

// Preconditioner selects the linear solver preconditioner
type Preconditioner string

const (
	ILU0 Preconditioner = "ilu0"
	AMG  Preconditioner = "amg"
	CPR  Preconditioner = "cpr"
)

// SystemStrategy selects how the CPR pressure system is formed
type SystemStrategy string

const (
	QuasiImpes SystemStrategy = "quasiimpes"
	Original   SystemStrategy = "original"
)

type Config struct {
	FluidSystem  FluidSystem  `yaml:"fluid_system"`
	Phases       Phases       `yaml:"phases"`
	Gravity      float64      `yaml:"gravity"` // m/s^2
	LinearSolver LinearSolver `yaml:"linear_solver"`
	Caching      Caching      `yaml:"caching"`
	Wells        Wells        `yaml:"wells"`
}

// Phases toggles the active phases
type Phases struct {
	Water bool `yaml:"water"`
	Oil   bool `yaml:"oil"`
	Gas   bool `yaml:"gas"`
}

// LinearSolver configures the linear solver of the host simulator. The well
// model only reads MatrixAddWellContributions; the remaining fields are
// validated and passed through to the solver.
type LinearSolver struct {
	Preconditioner             Preconditioner `yaml:"preconditioner"`
	SystemStrategy             SystemStrategy `yaml:"system_strategy"`
	Reduction                  float64        `yaml:"reduction"`
	MaxIter                    int            `yaml:"max_iter"`
	Verbosity                  int            `yaml:"verbosity"`
	CprMaxEllIter              int            `yaml:"cpr_max_ell_iter"`
	CprEllSolveType            int            `yaml:"cpr_ell_solve_type"`
	CprReuseSetup              int            `yaml:"cpr_reuse_setup"`
	MatrixAddWellContributions bool           `yaml:"matrix_add_well_contributions"` // fold C^T D^-1 B into the matrix instead of the operator
}

// Caching toggles the host simulator's storage and intensive quantity
// caches. The well model does not read them.
type Caching struct {
	StorageCache           bool `yaml:"storage_cache"`
	IntensiveQuantityCache bool `yaml:"intensive_quantity_cache"`
}

// Wells holds the parameters of the well model
type Wells struct {
	ToleranceWells         float64 `yaml:"tolerance_wells"`          // scaled mass balance residual
	ToleranceWellControl   float64 `yaml:"tolerance_well_control"`   // control equation residual (bar or m^3/day)
	ResidualFloor          float64 `yaml:"residual_floor"`           // absolute residual always accepted
	MaxInnerIterWells      int     `yaml:"max_inner_iter_wells"`     // bound on the well-only solve
	SolveWellEqInitially   bool    `yaml:"solve_well_eq_initially"`  // run the well-only solve on the first Newton iteration
	DBHPMaxRel             float64 `yaml:"dbhp_max_rel"`             // max relative BHP change per update
	DWellFractionMax       float64 `yaml:"dwell_fraction_max"`       // max fraction change per update
	AllowCrossFlow         bool    `yaml:"allow_cross_flow"`
	GroupTargetTolerance   float64 `yaml:"group_target_tolerance"`   // relative
	RequireGeometry        bool    `yaml:"require_geometry"`         // compute representative radii and perforation lengths
	MaxPotentialIterations int     `yaml:"max_potential_iterations"` // THP/BHP fixed point bound for potentials
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		FluidSystem: BlackOil,
		Phases:      Phases{Water: true, Oil: true, Gas: true},
		Gravity:     9.80665,
		LinearSolver: LinearSolver{
			Preconditioner:  ILU0,
			SystemStrategy:  QuasiImpes,
			Reduction:       1e-2,
			MaxIter:         100,
			Verbosity:       0,
			CprMaxEllIter:   1,
			CprEllSolveType: 3,
			CprReuseSetup:   3,
		},
		Caching: Caching{StorageCache: true, IntensiveQuantityCache: true},
		Wells: Wells{
			ToleranceWells:         1e-6,
			ToleranceWellControl:   1e-5,
			ResidualFloor:          1e-14,
			MaxInnerIterWells:      15,
			SolveWellEqInitially:   true,
			DBHPMaxRel:             1.0,
			DWellFractionMax:       0.2,
			AllowCrossFlow:         true,
			GroupTargetTolerance:   1e-3,
			RequireGeometry:        true,
			MaxPotentialIterations: 30,
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LinearSolver.Preconditioner = Preconditioner(getEnv("WELLSIM_PRECONDITIONER", string(c.LinearSolver.Preconditioner)))
	c.LinearSolver.MaxIter = getEnvInt("WELLSIM_LINEAR_MAX_ITER", c.LinearSolver.MaxIter)
	c.LinearSolver.MatrixAddWellContributions = getEnvBool("WELLSIM_MATRIX_ADD_WELL_CONTRIBUTIONS", c.LinearSolver.MatrixAddWellContributions)
	c.Wells.ToleranceWells = getEnvFloat("WELLSIM_TOLERANCE_WELLS", c.Wells.ToleranceWells)
	c.Wells.ToleranceWellControl = getEnvFloat("WELLSIM_TOLERANCE_WELL_CONTROL", c.Wells.ToleranceWellControl)
	c.Wells.MaxInnerIterWells = getEnvInt("WELLSIM_MAX_INNER_ITER_WELLS", c.Wells.MaxInnerIterWells)
	c.Wells.SolveWellEqInitially = getEnvBool("WELLSIM_SOLVE_WELLEQ_INITIALLY", c.Wells.SolveWellEqInitially)
	c.Wells.AllowCrossFlow = getEnvBool("WELLSIM_ALLOW_CROSS_FLOW", c.Wells.AllowCrossFlow)
}

// Validate rejects settings the simulator cannot run with
func (c Config) Validate() error {
	if c.FluidSystem != BlackOil {
		return fmt.Errorf("unsupported fluid system %q", c.FluidSystem)
	}
	if !c.Phases.Oil || !c.Phases.Water {
		return fmt.Errorf("oil and water phases must be active")
	}
	switch c.LinearSolver.Preconditioner {
	case ILU0, AMG, CPR:
	default:
		return fmt.Errorf("unknown preconditioner %q", c.LinearSolver.Preconditioner)
	}
	switch c.LinearSolver.SystemStrategy {
	case QuasiImpes, Original:
	default:
		return fmt.Errorf("unknown system strategy %q", c.LinearSolver.SystemStrategy)
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"reduction", c.LinearSolver.Reduction},
		{"dbhp_max_rel", c.Wells.DBHPMaxRel},
		{"dwell_fraction_max", c.Wells.DWellFractionMax},
	} {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive, got %g", v.name, v.value)
		}
	}
	if c.Wells.MaxInnerIterWells < 1 {
		return fmt.Errorf("max_inner_iter_wells must be at least 1, got %d", c.Wells.MaxInnerIterWells)
	}
	if c.Wells.ToleranceWells < 0 || c.Wells.ToleranceWellControl < 0 {
		return fmt.Errorf("well tolerances must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
