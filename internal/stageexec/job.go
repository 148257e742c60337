package stageexec

import (
	"context"
	"errors"
	"fmt"

	"mediaflow/internal/artifacts"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

// RunJob executes the job's pending stages in declaration order and stops at
// the first failure. Stages that already succeeded are skipped, so RunJob
// resumes a job after a retry.
func (e *Executor) RunJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, name := range job.Stages.Names() {
		if err := ctx.Err(); err != nil {
			return job, err
		}
		current, err := e.store.Get(ctx, jobID)
		if err != nil {
			return job, err
		}
		job = current
		exec := job.Stage(name)
		switch {
		case job.Cancelled:
			return job, ErrJobCancelled
		case job.Error != "":
			return job, fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
		case exec.Status == jobs.StatusSuccess:
			continue
		case exec.Status != jobs.StatusPending:
			return job, fmt.Errorf("%w: %s is %s", ErrStageNotPending, name, exec.Status)
		}
		next, err := e.RunStage(ctx, jobID, name, nil)
		if next != nil {
			job = next
		}
		if err != nil {
			return job, err
		}
	}
	return job, nil
}

// Retry returns a failed stage to pending and clears the job-level error so
// the stage (and, in chained jobs, everything after it) can run again.
func (e *Executor) Retry(ctx context.Context, jobID, stage string) (*jobs.Job, error) {
	job, err := e.store.Mutate(ctx, jobID, func(job *jobs.Job) error {
		if job.Cancelled {
			return ErrJobCancelled
		}
		exec := job.Stage(stage)
		if exec == nil {
			return fmt.Errorf("%w: %s", ErrStageNotInJob, stage)
		}
		if err := exec.Reset(); err != nil {
			return err
		}
		job.Error = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("stage queued for retry",
		logging.String(logging.FieldEventType, "stage_retry"),
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldStage, stage),
		logging.Int("attempt", job.Stage(stage).Attempt),
	)
	return job, nil
}

// Cancel marks the job cancelled. A stage whose worker is already running
// finishes normally; no further stage starts.
func (e *Executor) Cancel(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := e.store.Mutate(ctx, jobID, func(job *jobs.Job) error {
		switch job.Status() {
		case jobs.JobCompleted, jobs.JobFailed:
			return fmt.Errorf("%w: %s", ErrJobFinished, job.Status())
		case jobs.JobCancelled:
			return nil
		}
		job.Cancelled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
		logging.String(logging.FieldJobID, jobID),
	)
	if !hasRunningStage(job) {
		e.deliverCallback(ctx, job)
	}
	return job, nil
}

func hasRunningStage(job *jobs.Job) bool {
	for _, entry := range job.Stages {
		if entry.Exec.Status == jobs.StatusRunning {
			return true
		}
	}
	return false
}

// SyncStage re-runs artifact sync for a successful stage, for example after
// the object store was unavailable. Only derived remote fields are added to
// the stored record.
func (e *Executor) SyncStage(ctx context.Context, jobID, stage string) (artifacts.Report, error) {
	def, err := e.catalog.Stage(stage)
	if err != nil {
		return artifacts.Report{}, err
	}
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return artifacts.Report{}, err
	}
	exec := job.Stage(stage)
	if exec == nil {
		return artifacts.Report{}, fmt.Errorf("%w: %s", ErrStageNotInJob, stage)
	}
	if exec.Status != jobs.StatusSuccess {
		return artifacts.Report{}, fmt.Errorf("%w: %s is %s", ErrStageNotFinished, stage, exec.Status)
	}

	ctx = services.WithStage(services.WithJobID(ctx, jobID), stage)
	local := *exec
	report, syncErr := e.artifacts.Sync(ctx, stage, &local, jobID, artifacts.PolicyFor(def))
	e.metrics.SyncFields(stage, len(report.Uploaded), len(report.Skipped), len(report.Failed))
	if len(report.Uploaded) > 0 {
		if _, err := e.store.Mutate(ctx, jobID, func(job *jobs.Job) error {
			target := job.Stage(stage)
			if target == nil || target.Status != jobs.StatusSuccess {
				return errors.New("stage changed during sync")
			}
			target.MergeRemoteFields(local.Output)
			return nil
		}); err != nil {
			return report, fmt.Errorf("persist remote fields: %w", err)
		}
	}
	return report, syncErr
}
