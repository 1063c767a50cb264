package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmodtools/cmodparams/pkg/cmod"
	"github.com/cmodtools/cmodparams/pkg/mdsip"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

const version = "v0.3.0"

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	server   string
	user     string
	timeout  time.Duration
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:     "cmodparams",
		Short:   "Alcator C-Mod plasma parameters and Greenwald fraction",
		Version: version,
		Long: `cmodparams reads plasma current, toroidal field and electron density
signals for Alcator C-Mod shots from an MDSplus data server and derives
window-averaged values and the Greenwald density limit.

Examples:
  cmodparams fetch --signal ip --shot 1160930033
  cmodparams average --signal nebar --shot 1160930033 --start 0.5 --end 1.5
  cmodparams greenwald --shot 1160930033
  cmodparams serve --config config.yaml`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
				return fmt.Errorf("--log-level: %w", err)
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.server, "server", cmod.DefaultServer, "MDSplus data server, host[:port]")
	pf.StringVar(&opts.user, "user", "", "login name sent to the server (default $USER)")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-exchange network timeout")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug|info|warn|error")

	root.AddCommand(
		newFetchCmd(opts),
		newAverageCmd(opts),
		newGreenwaldCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// client builds a cmod client from the global flags.
func (o *globalOptions) client() *cmod.Client {
	mdsOpts := []mdsip.Option{mdsip.WithTimeout(o.timeout), mdsip.WithLogger(slog.Default())}
	if o.user != "" {
		mdsOpts = append(mdsOpts, mdsip.WithUser(o.user))
	}
	return cmod.New(o.server, mdsOpts...)
}

// windowFlags adds --start/--end to cmd and returns a func that builds the
// window from whichever bounds were given.
func windowFlags(cmd *cobra.Command) func() plasma.Window {
	var start, end float64
	cmd.Flags().Float64Var(&start, "start", 0, "window start in seconds (exclusive)")
	cmd.Flags().Float64Var(&end, "end", 0, "window end in seconds (exclusive)")
	return func() plasma.Window {
		var w plasma.Window
		if cmd.Flags().Changed("start") {
			w.Start = &start
		}
		if cmd.Flags().Changed("end") {
			w.End = &end
		}
		return w
	}
}

// shotFlag adds a required --shot flag.
func shotFlag(cmd *cobra.Command, shot *int) {
	cmd.Flags().IntVar(shot, "shot", 0, "shot number")
	_ = cmd.MarkFlagRequired("shot")
}
