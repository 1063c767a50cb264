package plasma

import "math"

// DefaultMinorRadius is the Alcator C-Mod minor radius in metres.
const DefaultMinorRadius = 0.22

// Unit conversions between what the accessors return and what the Greenwald
// formulas expect.
const (
	// KiloAmpsPerMegaAmp converts the plasma current accessor's kA to MA.
	KiloAmpsPerMegaAmp = 1000.0

	// DensityUnit is the 10^20 m^-3 unit of the Greenwald formulas.
	DensityUnit = 1e20
)

// GreenwaldDensityLimit returns the Greenwald density limit in 10^20 m^-3 for
// an average plasma current in MA and a minor radius in metres:
//
//	n_G = I_p / (π a²)
//
// A zero radius follows IEEE division.
func GreenwaldDensityLimit(currentMA, minorRadius float64) float64 {
	return currentMA / (math.Pi * minorRadius * minorRadius)
}

// GreenwaldFraction returns density / limit, both in 10^20 m^-3. The ratio is
// not clamped; values above 1 mean the plasma ran beyond the empirical limit.
func GreenwaldFraction(density, limit float64) float64 {
	return density / limit
}
