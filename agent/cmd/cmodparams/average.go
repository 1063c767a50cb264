package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cmodtools/cmodparams/pkg/cmod"
)

func newAverageCmd(opts *globalOptions) *cobra.Command {
	var (
		signal string
		shot   int
	)
	cmd := &cobra.Command{
		Use:   "average",
		Short: "Average a signal over a time window",
		Long: `Average one signal over the samples strictly inside (start, end).

Without --start and --end the window spans the whole time axis, whose first
and last instants are then excluded. Giving only one bound is an error. An
empty window prints NaN.`,
		Args: cobra.NoArgs,
	}
	window := windowFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		info, ok := cmod.Describe(signal)
		if !ok {
			return fmt.Errorf("unknown signal %q (want one of %v)", signal, cmod.Signals())
		}
		w := window()
		fetch, err := opts.client().Lookup(signal)
		if err != nil {
			return err
		}
		sig, err := fetch(cmd.Context(), shot)
		if err != nil {
			return err
		}
		avg, err := sig.Average(w)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", formatFloat(avg), info.Units, w)
		return err
	}
	cmd.Flags().StringVar(&signal, "signal", "", "signal name: nl04|nebar|ip|btor")
	_ = cmd.MarkFlagRequired("signal")
	shotFlag(cmd, &shot)
	return cmd
}
