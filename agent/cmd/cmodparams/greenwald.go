package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmodtools/cmodparams/agent/internal/compute"
	"github.com/cmodtools/cmodparams/agent/internal/scraper"
	"github.com/cmodtools/cmodparams/pkg/cmod"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

func newGreenwaldCmd(opts *globalOptions) *cobra.Command {
	var (
		shot        int
		minorRadius float64
		format      string
	)
	cmd := &cobra.Command{
		Use:   "greenwald",
		Short: "Compute the Greenwald density limit and fraction for a shot",
		Long: `Average the plasma current and line-averaged density over a window and
derive the Greenwald density limit n_G = I_p / (pi a^2) and the fraction
nebar / n_G.

The fraction is not clamped. It prints NaN when no density sample falls
inside the window or the density signal is missing.`,
		Args: cobra.NoArgs,
	}
	window := windowFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if format != "text" && format != "json" {
			return fmt.Errorf("--format must be text or json, got %q", format)
		}
		if minorRadius <= 0 {
			return fmt.Errorf("--minor-radius must be positive, got %v", minorRadius)
		}
		w := window()
		if (w.Start == nil) != (w.End == nil) {
			return plasma.ErrPartialWindow
		}

		sc, err := scraper.New(opts.client(), cmod.SignalPlasmaCurrent, cmod.SignalLineAveragedDensity)
		if err != nil {
			return err
		}
		raw, err := sc.Scrape(cmd.Context(), shot)
		if err != nil {
			return err
		}
		res := compute.NewEngine().Process(raw, w, minorRadius, time.Now())
		if res.State == compute.StateFailed {
			return fmt.Errorf("shot %d: %s", shot, res.ErrorMessage)
		}
		if format == "json" {
			return writeGreenwaldJSON(cmd.OutOrStdout(), res)
		}
		return writeGreenwaldText(cmd.OutOrStdout(), res)
	}
	shotFlag(cmd, &shot)
	cmd.Flags().Float64Var(&minorRadius, "minor-radius", plasma.DefaultMinorRadius, "plasma minor radius in metres")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text|json")
	return cmd
}

func writeGreenwaldText(w io.Writer, res *compute.Result) error {
	lines := []struct {
		label string
		value float64
		units string
	}{
		{"plasma_current", res.PlasmaCurrentMA, "MA"},
		{"line_averaged_density", res.LineAveragedDensity, "1e20 m^-3"},
		{"greenwald_limit", res.GreenwaldLimit, "1e20 m^-3"},
		{"greenwald_fraction", res.GreenwaldFraction, ""},
	}
	if _, err := fmt.Fprintf(w, "shot\t%d\nwindow\t%s\nminor_radius\t%s m\n",
		res.Shot, res.Window, formatFloat(res.MinorRadius)); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s\t%s %s\n", l.label, formatFloat(l.value), l.units); err != nil {
			return err
		}
	}
	names := make([]string, 0, len(res.Errors))
	for name := range res.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "error\t%s: %s\n", name, res.Errors[name]); err != nil {
			return err
		}
	}
	return nil
}

type greenwaldJSON struct {
	Shot                int               `json:"shot"`
	State               string            `json:"state"`
	Window              string            `json:"window"`
	MinorRadius         float64           `json:"minor_radius_m"`
	PlasmaCurrentMA     *float64          `json:"plasma_current_ma"`
	FieldDirection      int               `json:"field_direction"`
	LineAveragedDensity *float64          `json:"line_averaged_density_1e20"`
	GreenwaldLimit      *float64          `json:"greenwald_limit_1e20"`
	GreenwaldFraction   *float64          `json:"greenwald_fraction"`
	Errors              map[string]string `json:"errors,omitempty"`
}

func writeGreenwaldJSON(w io.Writer, res *compute.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(greenwaldJSON{
		Shot:                res.Shot,
		State:               res.State,
		Window:              res.Window.String(),
		MinorRadius:         res.MinorRadius,
		PlasmaCurrentMA:     defined(res.PlasmaCurrentMA),
		FieldDirection:      res.FieldDirection,
		LineAveragedDensity: defined(res.LineAveragedDensity),
		GreenwaldLimit:      defined(res.GreenwaldLimit),
		GreenwaldFraction:   defined(res.GreenwaldFraction),
		Errors:              res.Errors,
	})
}

// defined returns nil for NaN and infinities, which JSON cannot carry.
func defined(v float64) *float64 {
	if !compute.Defined(v) {
		return nil
	}
	return &v
}
