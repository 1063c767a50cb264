package compute

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/cmodtools/cmodparams/agent/internal/scraper"
	"github.com/cmodtools/cmodparams/pkg/cmod"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

// availabilityWindow is the number of recent scrape outcomes tracked per shot.
const availabilityWindow = 20

// Result is the derived summary of one shot, ready for the store, the API
// and the exporter. Quantities that could not be derived are NaN.
type Result struct {
	Shot      int
	Timestamp time.Time
	State     string

	Window      plasma.Window
	MinorRadius float64

	// Window averages.
	PlasmaCurrentMA       float64 // magnitude, MA
	FieldDirection        int     // sign of the raw current: +1, -1, or 0 if unknown
	LineAveragedDensity   float64 // 10^20 m^-3
	LineIntegratedDensity float64 // 10^20 m^-2
	ToroidalField         float64 // T

	GreenwaldLimit    float64 // 10^20 m^-3
	GreenwaldFraction float64

	// Samples counts the points of each signal that fell inside Window.
	Samples map[string]int

	// AvailabilityPct is the share of the last 20 scrapes of this shot that
	// returned a plasma current.
	AvailabilityPct float64

	// Errors holds per-signal failure messages keyed by signal name.
	Errors map[string]string

	// ErrorMessage is non-empty when State is failed.
	ErrorMessage string
}

// Engine turns ScrapeResults into Results and remembers per-shot
// availability across scrape cycles.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	states map[int]*shotState
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{states: make(map[int]*shotState)}
}

// Process averages every signal of res over window and derives the Greenwald
// quantities with the given minor radius (zero selects the default).
//
// now is passed explicitly so callers (and tests) control the clock.
func (e *Engine) Process(res *scraper.ScrapeResult, window plasma.Window, minorRadius float64, now time.Time) *Result {
	if minorRadius <= 0 {
		minorRadius = plasma.DefaultMinorRadius
	}

	e.mu.Lock()
	st := e.stateFor(res.Shot)
	st.record(res.Err == nil)
	availability := st.availabilityPct()
	e.mu.Unlock()

	out := &Result{
		Shot:                  res.Shot,
		Timestamp:             now,
		Window:                window,
		MinorRadius:           minorRadius,
		PlasmaCurrentMA:       math.NaN(),
		LineAveragedDensity:   math.NaN(),
		LineIntegratedDensity: math.NaN(),
		ToroidalField:         math.NaN(),
		GreenwaldLimit:        math.NaN(),
		GreenwaldFraction:     math.NaN(),
		Samples:               make(map[string]int),
		AvailabilityPct:       availability,
		Errors:                make(map[string]string),
	}
	for name, err := range res.Errors {
		out.Errors[name] = err.Error()
	}

	if res.Err != nil {
		slog.Warn("compute: scrape failed, marking failed", "shot", res.Shot, "err", res.Err)
		out.State = StateFailed
		out.ErrorMessage = res.Err.Error()
		return out
	}

	avg := func(name string, scale float64) float64 {
		sig, ok := res.Signals[name]
		if !ok {
			return math.NaN()
		}
		v, err := sig.Average(window)
		if err != nil {
			out.Errors[name] = err.Error()
			return math.NaN()
		}
		out.Samples[name] = countInside(sig.Time, window)
		return v * scale
	}

	ipKA := avg(cmod.SignalPlasmaCurrent, 1)
	out.LineAveragedDensity = avg(cmod.SignalLineAveragedDensity, 1/plasma.DensityUnit)
	out.LineIntegratedDensity = avg(cmod.SignalLineIntegratedDensity, 1/plasma.DensityUnit)
	out.ToroidalField = avg(cmod.SignalToroidalField, 1)

	if msg, failed := out.Errors[cmod.SignalPlasmaCurrent]; failed {
		out.State = StateFailed
		out.ErrorMessage = fmt.Sprintf("plasma current: %s", msg)
		return out
	}

	out.PlasmaCurrentMA = math.Abs(ipKA) / plasma.KiloAmpsPerMegaAmp
	out.FieldDirection = sign(ipKA)

	gw := Compute(Input{
		CurrentMA:   out.PlasmaCurrentMA,
		Density20:   out.LineAveragedDensity,
		MinorRadius: minorRadius,
	})
	out.GreenwaldLimit = gw.Limit
	out.GreenwaldFraction = gw.Fraction

	out.State = StateComplete
	if len(out.Errors) > 0 || !Defined(out.GreenwaldFraction) {
		out.State = StatePartial
	}
	return out
}

// Forget drops the availability history of shots not in keep. Called after a
// config reload removes shots.
func (e *Engine) Forget(keep []int) {
	want := make(map[int]bool, len(keep))
	for _, s := range keep {
		want[s] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for shot := range e.states {
		if !want[shot] {
			delete(e.states, shot)
		}
	}
}

// Shots returns the shots the engine has seen, sorted.
func (e *Engine) Shots() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, 0, len(e.states))
	for s := range e.states {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// shotState holds per-shot fetch history.
type shotState struct {
	history []bool // scrape outcomes, newest last
}

func (e *Engine) stateFor(shot int) *shotState {
	if st, ok := e.states[shot]; ok {
		return st
	}
	st := &shotState{}
	e.states[shot] = st
	return st
}

func (st *shotState) record(success bool) {
	if len(st.history) >= availabilityWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *shotState) availabilityPct() float64 {
	if len(st.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}

// countInside returns how many times fall strictly inside w. A full window
// spans the min and max of time, which are themselves excluded.
func countInside(time []float64, w plasma.Window) int {
	if len(time) == 0 {
		return 0
	}
	lo, hi := floats.Min(time), floats.Max(time)
	if w.Start != nil && w.End != nil {
		lo, hi = *w.Start, *w.End
	}
	var n int
	for _, t := range time {
		if lo < t && t < hi {
			n++
		}
	}
	return n
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
