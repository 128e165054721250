package main

import (
	"github.com/spf13/cobra"
	"github.com/use-agent/clearance/config"
)

// app carries what every subcommand needs once the root has run.
type app struct {
	cfg      *config.Config
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "clearance",
		Short:         "clearance fetches pages behind anti-bot challenges and harvests clearance cookies.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.cfg = config.Load()
			if a.logLevel != "" {
				a.cfg.Log.Level = a.logLevel
			}
			initLogger(a.cfg.Log, cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override CLEARANCE_LOG_LEVEL (debug, info, warn, error).")

	root.AddCommand(
		newFetchCmd(a),
		newHarvestCmd(a),
		newServeCmd(a),
		newCookiesCmd(),
	)
	return root
}
