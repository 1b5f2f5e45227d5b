package main

import (
	"github.com/spf13/cobra"

	"github.com/revit3d/WebEnsemble/pkg/log"
)

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "webensemble",
		Short:         "Train random forests and gradient boosting ensembles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.SetupLogger(logLevel, cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	root.AddCommand(newServeCmd(), newFitCmd(), newPredictCmd())
	return root
}
