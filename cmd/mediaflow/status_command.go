package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"mediaflow/internal/daemonrun"
	"mediaflow/internal/jobs"
	"mediaflow/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show dependency checks and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				fmt.Fprint(out, renderSectionHeader("Dependencies", colorize))
				results := preflight.RunAll(cmd.Context(), rt.Config, preflight.Options{
					Workers:     rt.Workers,
					Stages:      rt.Catalog.Names(),
					ObjectStore: rt.ObjectStore,
				})
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}

				fmt.Fprintln(out)
				fmt.Fprint(out, renderSectionHeader("Jobs", colorize))
				stats, err := rt.Store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if len(stats) == 0 {
					fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo, "none", false))
					return nil
				}
				keys := make([]string, 0, len(stats))
				for status := range stats {
					keys = append(keys, string(status))
				}
				sort.Strings(keys)
				for _, key := range keys {
					count := stats[jobs.JobStatus(key)]
					fmt.Fprintln(out, renderStatusLine(displayLabel(key), jobStatusKind(key), fmt.Sprintf("%d", count), colorize))
				}
				return nil
			})
		},
	}
}
