package api

import (
	"fmt"
	"math"
	"sort"

	"github.com/cmodtools/cmodparams/agent/internal/compute"
	"github.com/cmodtools/cmodparams/pkg/cmod"
)

// DiagnosticHint is one human-readable remark about a shot's result.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

// Greenwald fraction levels.
const (
	fractionWarning  = 0.8
	fractionCritical = 1.0
)

// computeDiagnostics derives hints from a result, critical first.
func computeDiagnostics(res *compute.Result) []DiagnosticHint {
	hints := make([]DiagnosticHint, 0, 4)

	if res.State == compute.StateFailed {
		hints = append(hints, DiagnosticHint{
			Key:   "fetch_failed",
			Level: "critical",
			Title: "No plasma current",
			Detail: fmt.Sprintf("The plasma current for shot %d could not be fetched or averaged: %q. "+
				"Without it no Greenwald quantity can be derived. Check that the shot exists "+
				"and the magnetics tree is reachable on the data server.", res.Shot, res.ErrorMessage),
		})
		return hints
	}

	switch f := res.GreenwaldFraction; {
	case math.IsNaN(f):
	case f >= fractionCritical:
		hints = append(hints, DiagnosticHint{
			Key:    "greenwald_exceeded",
			Level:  "critical",
			Title:  fmt.Sprintf("f_GW = %.2f", f),
			Detail: "The window-averaged density is above the Greenwald limit.",
			Value:  num(f),
		})
	case f >= fractionWarning:
		hints = append(hints, DiagnosticHint{
			Key:    "greenwald_near",
			Level:  "warning",
			Title:  fmt.Sprintf("f_GW = %.2f", f),
			Detail: fmt.Sprintf("The window-averaged density is within %.0f%% of the Greenwald limit.", (1-f)*100),
			Value:  num(f),
		})
	default:
		hints = append(hints, DiagnosticHint{
			Key:    "greenwald_ok",
			Level:  "ok",
			Title:  fmt.Sprintf("f_GW = %.2f", f),
			Detail: "The window-averaged density is well below the Greenwald limit.",
			Value:  num(f),
		})
	}

	names := make([]string, 0, len(res.Errors))
	for name := range res.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		detail := fmt.Sprintf("Signal %s is unavailable: %s.", name, res.Errors[name])
		if name == cmod.SignalLineAveragedDensity {
			detail += " The EFIT density inversion is only generated on request for some shots, " +
				"so the Greenwald fraction stays undefined until it exists."
		}
		hints = append(hints, DiagnosticHint{
			Key:    "signal_missing_" + name,
			Level:  "warning",
			Title:  "Missing " + name,
			Detail: detail,
		})
	}

	if n, ok := res.Samples[cmod.SignalPlasmaCurrent]; ok && n == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "empty_window",
			Level:  "warning",
			Title:  "Empty window",
			Detail: fmt.Sprintf("No samples fall strictly inside the averaging window %s.", res.Window),
		})
	}

	if res.AvailabilityPct < 100 {
		level := "info"
		if res.AvailabilityPct < 70 {
			level = "warning"
		}
		hints = append(hints, DiagnosticHint{
			Key:   "availability",
			Level: level,
			Title: fmt.Sprintf("%.0f%% available", res.AvailabilityPct),
			Detail: "Some of the recent fetches of this shot returned no plasma current " +
				"(the last 20 attempts are tracked).",
			Value: num(res.AvailabilityPct),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank(hints[i].Level) < levelRank(hints[j].Level)
	})
	return hints
}

func levelRank(level string) int {
	switch level {
	case "critical":
		return 0
	case "warning":
		return 1
	case "info":
		return 2
	default:
		return 3
	}
}
