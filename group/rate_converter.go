package group

// RateConverter gives the coefficients converting surface rates into
// reservoir voidage rates in a region: voidage = sum_p coeff[p]*rates[p].
type RateConverter interface {
	CalcCoeff(rates []float64, region int, coeff []float64)
}

// FormationFactorConverter converts with field averaged formation volume
// factors, one per active phase. Regions are ignored.
type FormationFactorConverter struct {
	B []float64
}

// SetAverage replaces the formation volume factors
func (f *FormationFactorConverter) SetAverage(b []float64) {
	f.B = append(f.B[:0], b...)
}

func (f *FormationFactorConverter) CalcCoeff(_ []float64, _ int, coeff []float64) {
	for p := range coeff {
		coeff[p] = 1
		if p < len(f.B) && f.B[p] > 0 {
			coeff[p] = f.B[p]
		}
	}
}
