package compute

import (
	"math"

	"github.com/cmodtools/cmodparams/pkg/plasma"
)

// Result states.
const (
	StateComplete = "complete"
	StatePartial  = "partial"
	StateFailed   = "failed"
)

// Input holds window-averaged quantities in the units the Greenwald formulas
// expect.
type Input struct {
	// CurrentMA is the plasma current magnitude in MA.
	CurrentMA float64

	// Density20 is the line-averaged density in 10^20 m^-3.
	// NaN when the density is unavailable.
	Density20 float64

	// MinorRadius in metres. Zero or negative selects plasma.DefaultMinorRadius.
	MinorRadius float64
}

// Output is the result of the Greenwald calculation.
type Output struct {
	// Limit is the Greenwald density limit in 10^20 m^-3.
	Limit float64

	// Fraction is Density20 / Limit. NaN propagates from either side.
	Fraction float64
}

// Compute returns the Greenwald limit and fraction for in.
func Compute(in Input) Output {
	a := in.MinorRadius
	if a <= 0 {
		a = plasma.DefaultMinorRadius
	}
	limit := plasma.GreenwaldDensityLimit(in.CurrentMA, a)
	return Output{
		Limit:    limit,
		Fraction: plasma.GreenwaldFraction(in.Density20, limit),
	}
}

// Defined reports whether v is a usable number.
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
