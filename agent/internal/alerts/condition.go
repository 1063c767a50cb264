package alerts

import (
	"math"
	"strconv"
	"strings"

	"github.com/cmodtools/cmodparams/agent/internal/compute"
)

// evalCondition evaluates a rule condition string against a Result.
//
// Supported expressions (field operator value):
//
//	greenwald_fraction > 0.8
//	greenwald_limit < 5
//	plasma_current_ma < 0.5
//	line_averaged_density > 3
//	line_integrated_density > 1
//	toroidal_field < 4
//	availability_pct < 90
//	state == failed
//	state != complete
//
// Returns (fires bool, triggering value float64). An unparsable expression,
// an unknown field or an undefined (NaN) quantity never fires.
func evalCondition(cond string, res *compute.Result) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "state" {
		switch op {
		case "==":
			return res.State == rhs, 0
		case "!=":
			return res.State != rhs, 0
		default:
			return false, 0
		}
	}

	v, ok := numericField(field, res)
	if !ok || math.IsNaN(v) {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value in the result.
func numericField(field string, res *compute.Result) (float64, bool) {
	switch field {
	case "greenwald_fraction":
		return res.GreenwaldFraction, true
	case "greenwald_limit":
		return res.GreenwaldLimit, true
	case "plasma_current_ma":
		return res.PlasmaCurrentMA, true
	case "line_averaged_density":
		return res.LineAveragedDensity, true
	case "line_integrated_density":
		return res.LineIntegratedDensity, true
	case "toroidal_field":
		return res.ToroidalField, true
	case "availability_pct":
		return res.AvailabilityPct, true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
