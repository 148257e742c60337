package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"time"

	"mediaflow/internal/artifacts"
	"mediaflow/internal/gpulock"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/stagecache"
	"mediaflow/internal/worker"
)

// RunStage executes one pending stage of job jobID. explicit overrides
// parameters given at submission. It returns the job snapshot after the
// stage finished. A stage failure is persisted and returned wrapped in
// ErrStageFailed; errors.As recovers the *jobs.StageError. A worker success
// that could not be stored is returned wrapped in ErrPersist with the stage
// still running.
func (e *Executor) RunStage(ctx context.Context, jobID, stage string, explicit map[string]any) (*jobs.Job, error) {
	def, err := e.catalog.Stage(stage)
	if err != nil {
		return nil, err
	}
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := runnable(job, stage); err != nil {
		return job, err
	}

	stageCtx := services.WithStage(services.WithJobID(ctx, jobID), stage)
	logger := logging.WithContext(stageCtx, e.logger)
	run := &stageRun{
		Executor: e,
		def:      def,
		jobID:    jobID,
		logger:   logger,
	}
	return run.execute(stageCtx, job, mergeExplicit(job.Input.Params[stage], explicit))
}

func runnable(job *jobs.Job, stage string) error {
	exec := job.Stage(stage)
	switch {
	case exec == nil:
		return fmt.Errorf("%w: %s", ErrStageNotInJob, stage)
	case job.Cancelled:
		return ErrJobCancelled
	case job.Error != "":
		return fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
	case exec.Status != jobs.StatusPending:
		return fmt.Errorf("%w: %s is %s", ErrStageNotPending, stage, exec.Status)
	}
	return nil
}

func mergeExplicit(submitted, explicit map[string]any) map[string]any {
	if len(submitted) == 0 {
		return explicit
	}
	out := maps.Clone(submitted)
	maps.Copy(out, explicit)
	return out
}

type stageRun struct {
	*Executor
	def    *pipeline.Stage
	jobID  string
	logger *slog.Logger
}

func (r *stageRun) execute(ctx context.Context, job *jobs.Job, explicit map[string]any) (*jobs.Job, error) {
	stage := r.def.Name
	r.logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Bool("standalone", job.Standalone()),
		logging.Int("attempt", job.Stage(stage).Attempt),
	)

	params, err := r.resolver.ResolveStage(r.def, explicit, job)
	if err != nil {
		return r.fail(ctx, err, nil)
	}

	stageDir := filepath.Join(job.WorkDir, stage)
	params, err = r.artifacts.MaterializeParams(ctx, params, filepath.Join(stageDir, "inputs"))
	if err != nil {
		return r.fail(ctx, services.Wrap(services.ErrTransient, stage, "materialize inputs",
			"could not download remote inputs", err), params)
	}

	decision := r.checkCache(ctx, params)
	if decision.Hit {
		return r.reuse(ctx, params, decision)
	}

	w, err := r.workers.Get(stage)
	if err != nil {
		return r.fail(ctx, err, params)
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return r.fail(ctx, services.Wrap(services.ErrConfiguration, stage, "prepare work dir", stageDir, err), params)
	}

	var call workerCall
	body := func(ctx context.Context) error {
		return r.invoke(ctx, w, params, decision.Fingerprint, stageDir, &call)
	}
	if r.def.RequiresGPU {
		if r.locker == nil {
			return r.fail(ctx, ErrLockRequired, params)
		}
		opts := r.lockOpts
		opts.Logger = r.logger
		start := r.now()
		opts.OnAcquired = func(t *gpulock.Ticket) {
			r.metrics.LockWait(t.Resource, "acquired", t.Waited)
		}
		err = gpulock.Guard(ctx, r.locker, opts, body)
		if errors.Is(err, gpulock.ErrResourceUnavailable) {
			r.metrics.LockWait(r.locker.Resource(), "timeout", r.now().Sub(start))
		}
	} else {
		err = body(ctx)
	}

	// Once the worker ran its result decides the stage; a failed lock
	// release was already logged by Guard and the lease expires on its own.
	if !call.ran {
		if errors.Is(err, ErrJobCancelled) {
			return r.abort(ctx, err)
		}
		return r.fail(ctx, err, params)
	}
	if call.err != nil {
		r.metrics.StageFinished(stage, string(jobs.StatusFailed), call.elapsed)
		return r.fail(ctx, call.err, params)
	}
	return r.complete(ctx, call)
}

// workerCall is the outcome of the locked section.
type workerCall struct {
	ran     bool
	running jobs.StageExecution
	output  map[string]any
	err     error
	elapsed time.Duration
}

func (r *stageRun) checkCache(ctx context.Context, params map[string]any) stagecache.Decision {
	decision, err := stagecache.Check(ctx, r.store, r.def, params)
	if err != nil {
		logging.WarnWithContext(r.logger, "stage cache lookup failed", "cache_lookup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stage runs without reuse"),
		)
		return stagecache.Decision{Fingerprint: decision.Fingerprint}
	}
	if !r.def.Cacheable() {
		return decision
	}
	switch {
	case decision.Hit:
		r.metrics.CacheLookup(r.def.Name, metrics.CacheHit)
	case decision.Inconsistent:
		r.metrics.CacheLookup(r.def.Name, metrics.CacheInconsistent)
		r.logger.Debug("cached result missing reuse fields; running stage",
			logging.String(logging.FieldEventType, "cache_inconsistent"),
			logging.Strings("missing_fields", decision.Missing),
		)
	default:
		r.metrics.CacheLookup(r.def.Name, metrics.CacheMiss)
	}
	return decision
}

// reuse finalizes the stage with a previous job's output.
func (r *stageRun) reuse(ctx context.Context, params map[string]any, decision stagecache.Decision) (*jobs.Job, error) {
	job, err := r.store.Mutate(ctx, r.jobID, func(job *jobs.Job) error {
		if job.Cancelled {
			return ErrJobCancelled
		}
		exec := job.Stage(r.def.Name)
		now := r.now()
		if err := exec.Start(params, now); err != nil {
			return err
		}
		exec.CacheHit = true
		exec.Fingerprint = decision.Fingerprint
		return exec.Succeed(maps.Clone(decision.Output), now)
	})
	if err != nil {
		return r.abort(ctx, err)
	}
	r.logger.Info("stage reused cached result",
		logging.String(logging.FieldEventType, "stage_cache_hit"),
		logging.String("source_job_id", decision.SourceJobID),
		logging.String("fingerprint", decision.Fingerprint),
	)
	r.metrics.StageFinished(r.def.Name, "cached", 0)
	r.deliverCallback(ctx, job)
	return job, nil
}

// invoke marks the stage running and calls the worker. For GPU stages it is
// the whole section held under the resource lock, so it does no uploads,
// cache writes or callbacks.
func (r *stageRun) invoke(ctx context.Context, w worker.Worker, params map[string]any, fingerprint, stageDir string, call *workerCall) error {
	stage := r.def.Name
	job, err := r.store.Mutate(ctx, r.jobID, func(job *jobs.Job) error {
		if job.Cancelled {
			return ErrJobCancelled
		}
		exec := job.Stage(stage)
		if err := exec.Start(params, r.now()); err != nil {
			return err
		}
		exec.Fingerprint = fingerprint
		return nil
	})
	if err != nil {
		return err
	}
	call.running = *job.Stage(stage)
	call.ran = true

	stopHeartbeat := startHeartbeat(ctx, r.store, r.logger, r.heartbeat, r.jobID, stage)
	workerCtx, cancel := context.WithTimeout(ctx, r.def.Timeout(r.cfg.WorkerTimeout()))
	started := r.now()
	call.output, call.err = w.Run(workerCtx, worker.Request{
		JobID:   r.jobID,
		Stage:   stage,
		Params:  params,
		WorkDir: stageDir,
	})
	cancel()
	stopHeartbeat()
	call.elapsed = r.now().Sub(started)
	if call.err != nil && ctx.Err() != nil {
		call.err = &interruptedError{err: call.err}
	}
	return nil
}

// complete syncs artifacts, persists success, records the cache entry and
// delivers the callback. It runs after any resource lock was released.
func (r *stageRun) complete(ctx context.Context, call workerCall) (*jobs.Job, error) {
	stage := r.def.Name

	// Sync against a local terminal copy so a required upload can still fail
	// the stage before success is persisted.
	finished := call.running
	if err := finished.Succeed(call.output, r.now()); err != nil {
		return r.fail(ctx, err, nil)
	}
	report, syncErr := r.artifacts.Sync(ctx, stage, &finished, r.jobID, artifacts.PolicyFor(r.def))
	r.metrics.SyncFields(stage, len(report.Uploaded), len(report.Skipped), len(report.Failed))
	if syncErr != nil {
		r.metrics.StageFinished(stage, string(jobs.StatusFailed), call.elapsed)
		return r.fail(ctx, syncErr, nil)
	}

	persistCtx := context.WithoutCancel(ctx)
	job, err := r.store.Mutate(persistCtx, r.jobID, func(job *jobs.Job) error {
		return job.Stage(stage).Succeed(finished.Output, r.now())
	})
	if err != nil {
		// The worker succeeded; leave the stage running for the heartbeat
		// reclaim instead of recording a failure the worker never had.
		logging.ErrorWithContext(r.logger, "persist stage success failed", "stage_persist_failed",
			logging.Error(err),
			logging.Strings("uploaded", report.Uploaded),
			logging.String(logging.FieldErrorHint, "retry the stage once the store is healthy"),
		)
		current, _ := r.store.Get(persistCtx, r.jobID)
		return current, fmt.Errorf("%w: %s: %w", ErrPersist, stage, err)
	}
	r.metrics.StageFinished(stage, string(jobs.StatusSuccess), call.elapsed)

	exec := job.Stage(stage)
	if err := stagecache.Record(persistCtx, r.store, r.def, exec.Fingerprint, r.jobID, exec.Output); err != nil {
		logging.WarnWithContext(r.logger, "stage cache record failed", "cache_record_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "later jobs with the same inputs rerun this stage"),
		)
	}
	r.logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("duration", call.elapsed),
		logging.Int("uploaded", len(report.Uploaded)),
		logging.Int("sync_failed", len(report.Failed)),
	)
	r.deliverCallback(ctx, job)
	return job, nil
}

// fail persists the failure of a pending or running stage, marks the job
// failed, and delivers the callback.
func (r *stageRun) fail(ctx context.Context, cause error, params map[string]any) (*jobs.Job, error) {
	stage := r.def.Name
	stageErr := jobs.StageErrorFrom(cause)
	job, err := r.store.Mutate(context.WithoutCancel(ctx), r.jobID, func(job *jobs.Job) error {
		exec := job.Stage(stage)
		if exec.Status == jobs.StatusPending && params != nil {
			exec.Input = jobs.RedactParams(params)
		}
		if err := exec.Fail(stageErr, r.now()); err != nil {
			return err
		}
		job.Error = fmt.Sprintf("stage %s failed: %s", stage, stageErr.Message)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist stage failure: %w (cause: %v)", err, cause)
	}
	r.logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_kind", stageErr.Kind),
		logging.Bool("retryable", stageErr.Retryable),
		logging.String("field", stageErr.Field),
		logging.Strings("sources", stageErr.Sources),
		logging.Error(cause),
	)
	r.deliverCallback(ctx, job)
	return job, fmt.Errorf("%w: %s: %w", ErrStageFailed, stage, stageErr)
}

// abort handles a mutation that was refused before the stage started.
func (r *stageRun) abort(ctx context.Context, err error) (*jobs.Job, error) {
	job, getErr := r.store.Get(ctx, r.jobID)
	if getErr != nil {
		return nil, errors.Join(err, getErr)
	}
	return job, err
}

// interruptedError marks a worker stopped because the executor itself was
// shutting down rather than because the stage failed.
type interruptedError struct {
	err error
}

func (e *interruptedError) Error() string { return "interrupted: " + e.err.Error() }

func (e *interruptedError) Unwrap() error { return e.err }

func (e *interruptedError) ErrorKind() string { return jobs.KindInterrupted }

func (e *interruptedError) Retryable() bool { return true }
