package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mediaflow/internal/api"
	"mediaflow/internal/daemonrun"
	"mediaflow/internal/jobs"
	"mediaflow/internal/stageexec"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		stages      []string
		sets        []string
		params      []string
		payloadFile string
		callbackURL string
		runNow      bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job for one or more stages",
		Example: `  mediaflow submit --stage extract_audio --stage asr --set video_path=/media/in.mkv
  mediaflow submit --stage asr --param asr.language=de --payload-file job.json --run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			payload, err := loadPayloadFile(payloadFile, extra)
			if err != nil {
				return err
			}
			stageParams, err := parseStageParams(params)
			if err != nil {
				return err
			}
			input := jobs.Input{
				Stages:      stages,
				Payload:     payload,
				CallbackURL: callbackURL,
				Params:      stageParams,
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				svc := api.NewJobService(rt.Store, rt.Executor)
				resp, err := svc.Submit(cmd.Context(), input)
				if err != nil {
					return err
				}
				if !runNow {
					if asJSON {
						return writeJSON(cmd, resp)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s)\n", resp.JobID, resp.Status)
					return nil
				}
				return runJobInForeground(cmd, rt, resp.JobID, asJSON)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&stages, "stage", "s", nil, "Stage to run, in order (repeatable)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Payload value as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Explicit stage parameter as stage.key=value (repeatable)")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "JSON file with the job payload")
	cmd.Flags().StringVar(&callbackURL, "callback", "", "Callback URL notified when the job finishes")
	cmd.Flags().BoolVar(&runNow, "run", false, "Run the job in the foreground after submitting")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		stage  string
		sets   []string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a job's pending stages in the foreground",
		Long: `Run executes the job's pending stages in declaration order in this
process, stopping at the first failure. With --stage only that stage runs and
--set values override every other parameter source.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			if stage == "" && len(explicit) > 0 {
				return errors.New("--set requires --stage")
			}
			jobID := strings.TrimSpace(args[0])
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				if stage == "" {
					return runJobInForeground(cmd, rt, jobID, asJSON)
				}
				var job *jobs.Job
				err := runClaimed(cmd.Context(), rt, jobID, func(runCtx context.Context) error {
					var runErr error
					job, runErr = rt.Executor.RunStage(runCtx, jobID, stage, explicit)
					return runErr
				})
				return reportRun(cmd, job, err, asJSON)
			})
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Run only this stage")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Explicit parameter as key=value (requires --stage)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func runJobInForeground(cmd *cobra.Command, rt *daemonrun.Runtime, jobID string, asJSON bool) error {
	var job *jobs.Job
	err := runClaimed(cmd.Context(), rt, jobID, func(runCtx context.Context) error {
		var runErr error
		job, runErr = rt.Executor.RunJob(runCtx, jobID)
		return runErr
	})
	return reportRun(cmd, job, err, asJSON)
}

// reportRun prints the job after a foreground run. A stage failure is shown
// in the job rendering and still returned so the exit status is non-zero.
func reportRun(cmd *cobra.Command, job *jobs.Job, err error, asJSON bool) error {
	if job == nil {
		return err
	}
	view := jobs.NewView(job)
	if asJSON {
		if encErr := writeJSON(cmd, view); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), renderJobDetail(view, shouldColorize(cmd.OutOrStdout())))
	}
	if errors.Is(err, stageexec.ErrStageFailed) {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	return err
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				views, err := api.NewJobService(rt.Store, rt.Executor).List(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.JobListResponse{Jobs: views})
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobList(views))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (pending, running, completed, failed, cancelled)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job and its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				view, err := api.NewJobService(rt.Store, rt.Executor).Describe(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, view)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobDetail(view, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "retry <job-id> <stage>",
		Short: "Reset a failed stage to pending",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, stage := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				view, err := api.NewJobService(rt.Store, rt.Executor).Retry(cmd.Context(), jobID, stage)
				if err != nil {
					return err
				}
				if runNow {
					return runJobInForeground(cmd, rt, jobID, false)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stage %s of job %s queued for retry (job %s)\n", stage, jobID, view.Status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&runNow, "run", false, "Run the job in the foreground after resetting")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job before its next stage starts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := strings.TrimSpace(args[0])
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				if _, err := api.NewJobService(rt.Store, rt.Executor).Cancel(cmd.Context(), jobID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", jobID)
				return nil
			})
		},
	}
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sync <job-id> <stage>",
		Short: "Upload a finished stage's artifacts to remote storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, stage := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				resp, err := api.NewJobService(rt.Store, rt.Executor).Sync(cmd.Context(), jobID, stage)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Uploaded: %s\n", listOrNone(resp.Uploaded))
				fmt.Fprintf(out, "Skipped:  %s\n", listOrNone(resp.Skipped))
				fmt.Fprintf(out, "Failed:   %s\n", listOrNone(resp.Failed))
				if resp.Error != "" {
					return errors.New(resp.Error)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func listOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}
