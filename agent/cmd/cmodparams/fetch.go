package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cmodtools/cmodparams/pkg/cmod"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

func newFetchCmd(opts *globalOptions) *cobra.Command {
	var (
		signal string
		shot   int
		format string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Print a signal's time and data samples",
		Long: `Fetch one signal for a shot and print it, one sample per line.

Signals: nl04 (line-integrated density, m^-2), nebar (line-averaged
density, m^-3), ip (plasma current, kA), btor (toroidal field, T).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "tsv" && format != "json" {
				return fmt.Errorf("--format must be tsv or json, got %q", format)
			}
			info, ok := cmod.Describe(signal)
			if !ok {
				return fmt.Errorf("unknown signal %q (want one of %v)", signal, cmod.Signals())
			}
			fetch, err := opts.client().Lookup(signal)
			if err != nil {
				return err
			}
			sig, err := fetch(cmd.Context(), shot)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeSignalJSON(cmd.OutOrStdout(), shot, info, sig)
			}
			return writeSignalTSV(cmd.OutOrStdout(), info, sig)
		},
	}
	cmd.Flags().StringVar(&signal, "signal", "", "signal name: nl04|nebar|ip|btor")
	_ = cmd.MarkFlagRequired("signal")
	shotFlag(cmd, &shot)
	cmd.Flags().StringVar(&format, "format", "tsv", "output format: tsv|json")
	return cmd
}

func writeSignalTSV(w io.Writer, info cmod.Info, sig plasma.Signal) error {
	if _, err := fmt.Fprintf(w, "# time_s\t%s_%s\n", info.Name, info.Units); err != nil {
		return err
	}
	for i := range sig.Time {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", formatFloat(sig.Time[i]), formatFloat(sig.Data[i])); err != nil {
			return err
		}
	}
	return nil
}

type signalJSON struct {
	Shot   int       `json:"shot"`
	Signal string    `json:"signal"`
	Path   string    `json:"path"`
	Units  string    `json:"units"`
	Time   []*float64 `json:"time"`
	Data   []*float64 `json:"data"`
}

func writeSignalJSON(w io.Writer, shot int, info cmod.Info, sig plasma.Signal) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(signalJSON{
		Shot:   shot,
		Signal: info.Name,
		Path:   info.Path,
		Units:  info.Units,
		Time:   definedAll(sig.Time),
		Data:   definedAll(sig.Data),
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// definedAll maps NaN and infinite samples to JSON null.
func definedAll(vs []float64) []*float64 {
	out := make([]*float64, len(vs))
	for i, v := range vs {
		out[i] = defined(v)
	}
	return out
}
