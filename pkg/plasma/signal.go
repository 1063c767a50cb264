package plasma

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch is returned when data and time slices differ in length.
	ErrLengthMismatch = errors.New("plasma: data and time lengths differ")

	// ErrPartialWindow is returned when only one of a window's bounds is set.
	// The missing bound is never filled in from the time axis.
	ErrPartialWindow = errors.New("plasma: window has only one bound")

	// ErrNoSamples is returned when a default window is requested over an
	// empty time axis, which has no minimum or maximum.
	ErrNoSamples = errors.New("plasma: no samples")
)

// Signal is a diagnostic trace: Data[i] was sampled at Time[i] seconds.
type Signal struct {
	Time []float64
	Data []float64
}

// NewSignal pairs time and data, rejecting slices of different length.
func NewSignal(time, data []float64) (Signal, error) {
	if len(time) != len(data) {
		return Signal{}, fmt.Errorf("%w: %d times, %d samples", ErrLengthMismatch, len(time), len(data))
	}
	return Signal{Time: time, Data: data}, nil
}

// Len returns the number of samples.
func (s Signal) Len() int { return len(s.Data) }

// Scaled returns a copy of s with every sample multiplied by f.
func (s Signal) Scaled(f float64) Signal {
	data := make([]float64, len(s.Data))
	for i, v := range s.Data {
		data[i] = v * f
	}
	return Signal{Time: s.Time, Data: data}
}

// Average returns the mean of the samples inside w.
// See AveragePlasmaParameter.
func (s Signal) Average(w Window) (float64, error) {
	return AveragePlasmaParameter(s.Data, s.Time, w)
}
