// Command cmodparams fetches Alcator C-Mod plasma signals over mdsip, averages
// them over time windows and derives the Greenwald density limit and fraction.
// The serve subcommand keeps a configured list of shots summarised behind a
// REST API, a WebSocket stream and a Prometheus /metrics endpoint.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
