package schedule

// QuantityLimit is the basis economic limits are evaluated on
type QuantityLimit string

const (
	QuantityRate      QuantityLimit = "RATE"
	QuantityPotential QuantityLimit = "POTN"
)

// EconProductionLimits are the economic limits of a producer. A zero value
// disables the corresponding limit.
type EconProductionLimits struct {
	MinOilRate            float64       `yaml:"min_oil_rate"`
	MinGasRate            float64       `yaml:"min_gas_rate"`
	MinLiquidRate         float64       `yaml:"min_liquid_rate"`
	MinReservoirFluidRate float64       `yaml:"min_reservoir_fluid_rate"`
	MaxWaterCut           float64       `yaml:"max_water_cut"`
	MaxGasOilRatio        float64       `yaml:"max_gas_oil_ratio"`
	MaxWaterGasRatio      float64       `yaml:"max_water_gas_ratio"`
	MaxGasLiquidRatio     float64       `yaml:"max_gas_liquid_ratio"`
	QuantityLimit         QuantityLimit `yaml:"quantity_limit"`
	EndRun                bool          `yaml:"end_run"`
	FollowonWell          string        `yaml:"followon_well"`
}

func (e EconProductionLimits) OnMinOilRate() bool            { return e.MinOilRate > 0 }
func (e EconProductionLimits) OnMinGasRate() bool            { return e.MinGasRate > 0 }
func (e EconProductionLimits) OnMinLiquidRate() bool         { return e.MinLiquidRate > 0 }
func (e EconProductionLimits) OnMinReservoirFluidRate() bool { return e.MinReservoirFluidRate > 0 }
func (e EconProductionLimits) OnMaxWaterCut() bool           { return e.MaxWaterCut > 0 }
func (e EconProductionLimits) OnMaxGasOilRatio() bool        { return e.MaxGasOilRatio > 0 }
func (e EconProductionLimits) OnMaxWaterGasRatio() bool      { return e.MaxWaterGasRatio > 0 }
func (e EconProductionLimits) OnMaxGasLiquidRatio() bool     { return e.MaxGasLiquidRatio > 0 }

// OnAnyRateLimit reports whether a minimum rate limit is set
func (e EconProductionLimits) OnAnyRateLimit() bool {
	return e.OnMinOilRate() || e.OnMinGasRate() || e.OnMinLiquidRate() || e.OnMinReservoirFluidRate()
}

// OnAnyRatioLimit reports whether a maximum ratio limit is set
func (e EconProductionLimits) OnAnyRatioLimit() bool {
	return e.OnMaxWaterCut() || e.OnMaxGasOilRatio() || e.OnMaxWaterGasRatio() || e.OnMaxGasLiquidRatio()
}

// OnAnyEffectiveLimit reports whether any limit can trigger
func (e EconProductionLimits) OnAnyEffectiveLimit() bool {
	return e.OnAnyRateLimit() || e.OnAnyRatioLimit()
}

// ValidFollowonWell reports whether a follow-on well is named
func (e EconProductionLimits) ValidFollowonWell() bool {
	return e.FollowonWell != "" && e.FollowonWell != "'"
}

// OnPotential reports whether limits are based on well potentials
func (e EconProductionLimits) OnPotential() bool {
	return e.QuantityLimit == QuantityPotential
}
