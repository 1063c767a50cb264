package plasma

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Window selects samples by time. A nil bound means "unset".
//
// Both bounds unset selects the full extent of the time axis. Setting exactly
// one bound is rejected with ErrPartialWindow rather than defaulted.
type Window struct {
	Start *float64
	End   *float64
}

// FullWindow returns a window spanning the whole time axis.
func FullWindow() Window { return Window{} }

// Between returns a window with both bounds set.
func Between(start, end float64) Window {
	return Window{Start: &start, End: &end}
}

// IsFull reports whether neither bound is set.
func (w Window) IsFull() bool { return w.Start == nil && w.End == nil }

func (w Window) String() string {
	switch {
	case w.IsFull():
		return "(full)"
	case w.Start == nil:
		return fmt.Sprintf("(?, %g)", *w.End)
	case w.End == nil:
		return fmt.Sprintf("(%g, ?)", *w.Start)
	default:
		return fmt.Sprintf("(%g, %g)", *w.Start, *w.End)
	}
}

// AveragePlasmaParameter returns the arithmetic mean of the data samples whose
// time lies strictly inside w: start < t < end.
//
// With a full window the bounds are the minimum and maximum of time, so the
// first and last instants themselves are excluded; a NaN anywhere in time leaves
// the extent undefined and the result NaN. If no sample falls inside the window
// the result is NaN and the error is nil.
func AveragePlasmaParameter(data, time []float64, w Window) (float64, error) {
	if len(data) != len(time) {
		return 0, fmt.Errorf("%w: %d samples, %d times", ErrLengthMismatch, len(data), len(time))
	}

	var start, end float64
	switch {
	case w.IsFull():
		if len(time) == 0 {
			return 0, ErrNoSamples
		}
		// A NaN time makes the extent undefined, and nothing lies inside it.
		if floats.HasNaN(time) {
			return math.NaN(), nil
		}
		start, end = floats.Min(time), floats.Max(time)
	case w.Start == nil || w.End == nil:
		return 0, fmt.Errorf("%w %s", ErrPartialWindow, w)
	default:
		start, end = *w.Start, *w.End
	}

	selected := make([]float64, 0, len(data))
	for i, t := range time {
		if t > start && t < end {
			selected = append(selected, data[i])
		}
	}
	// stat.Mean of an empty slice is 0/0.
	return stat.Mean(selected, nil), nil
}
