package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaflow/internal/api"
	"mediaflow/internal/daemonrun"
)

func newLockCommand(ctx *commandContext) *cobra.Command {
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect the exclusive resource lock",
	}
	lockCmd.AddCommand(newLockStatusCommand(ctx))
	return lockCmd
}

func newLockStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show who holds the exclusive resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				status, err := api.InspectLock(cmd.Context(), rt.Locker)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderStatusLine("Resource", statusInfo, status.Resource, false))
				switch {
				case status.Holder == nil:
					fmt.Fprintln(out, renderStatusLine("Holder", statusOK, "free", colorize))
				case status.Holder.Stale:
					fmt.Fprintln(out, renderStatusLine("Holder", statusWarn, status.Holder.Holder+" (expired; next acquirer reclaims it)", colorize))
				default:
					fmt.Fprintln(out, renderStatusLine("Holder", statusInfo, status.Holder.Holder, colorize))
					fmt.Fprintln(out, renderStatusLine("Backend", statusInfo, status.Holder.Backend, false))
					fmt.Fprintln(out, renderStatusLine("Acquired", statusInfo, formatLocalTime(status.Holder.AcquiredAt), false))
					if !status.Holder.ExpiresAt.IsZero() {
						fmt.Fprintln(out, renderStatusLine("Expires", statusInfo, formatLocalTime(status.Holder.ExpiresAt), false))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
