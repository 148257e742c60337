package main

import (
	"github.com/spf13/cobra"

	"mediaflow/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var (
		logLevel    string
		development bool
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the job daemon in the foreground",
		Long: `Run the mediaflow daemon: it serves the HTTP API, picks up pending jobs,
and runs them with bounded concurrency until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}
