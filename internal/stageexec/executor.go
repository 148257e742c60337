// Package stageexec drives stage executions through their lifecycle:
// parameter resolution, cache reuse, exclusive resource locking, worker
// invocation, artifact sync, and callback delivery. Every state change is
// persisted through jobs.Store.Mutate so concurrent readers only ever see
// complete snapshots.
package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mediaflow/internal/artifacts"
	"mediaflow/internal/callback"
	"mediaflow/internal/config"
	"mediaflow/internal/gpulock"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/resolve"
	"mediaflow/internal/worker"
)

var (
	ErrJobCancelled     = errors.New("job cancelled")
	ErrJobFailed        = errors.New("job has a failed stage")
	ErrJobFinished      = errors.New("job already finished")
	ErrStageNotInJob    = errors.New("stage not part of job")
	ErrStageNotPending  = errors.New("stage not pending")
	ErrStageNotFinished = errors.New("stage has not succeeded")
	ErrStageFailed      = errors.New("stage failed")
	ErrPersist          = errors.New("persist stage result")
	ErrLockRequired     = errors.New("stage requires the exclusive resource lock but no locker is configured")
)

// WorkerSource returns the worker bound to a stage.
type WorkerSource interface {
	Get(stage string) (worker.Worker, error)
}

// Options wires an Executor. Config, Store, Catalog, and Workers are
// required; the rest are optional.
type Options struct {
	Config    *config.Config
	Store     *jobs.Store
	Catalog   *pipeline.Catalog
	Workers   WorkerSource
	Locker    gpulock.Locker
	Artifacts *artifacts.Manager
	Callbacks callback.Service
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Executor runs stages of persisted jobs.
type Executor struct {
	cfg       *config.Config
	store     *jobs.Store
	catalog   *pipeline.Catalog
	workers   WorkerSource
	locker    gpulock.Locker
	lockOpts  gpulock.GuardOptions
	artifacts *artifacts.Manager
	callbacks callback.Service
	metrics   *metrics.Metrics
	resolver  *resolve.Resolver
	logger    *slog.Logger
	heartbeat time.Duration
	now       func() time.Time
}

// New validates opts and builds an executor.
func New(opts Options) (*Executor, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("stageexec: config is required")
	case opts.Store == nil:
		return nil, errors.New("stageexec: store is required")
	case opts.Catalog == nil:
		return nil, errors.New("stageexec: catalog is required")
	case opts.Workers == nil:
		return nil, errors.New("stageexec: workers are required")
	}
	logger := logging.NewComponentLogger(opts.Logger, "stage-executor")
	manager := opts.Artifacts
	if manager == nil {
		manager = artifacts.NewManager(nil, logger)
	}
	return &Executor{
		cfg:       opts.Config,
		store:     opts.Store,
		catalog:   opts.Catalog,
		workers:   opts.Workers,
		locker:    opts.Locker,
		lockOpts:  gpulock.DefaultOptions(opts.Config, logger),
		artifacts: manager,
		callbacks: opts.Callbacks,
		metrics:   opts.Metrics,
		resolver:  resolve.New(opts.Config),
		logger:    logger,
		heartbeat: time.Duration(opts.Config.Workflow.HeartbeatInterval) * time.Second,
		now:       time.Now,
	}, nil
}

// Catalog returns the stage catalog the executor validates against.
func (e *Executor) Catalog() *pipeline.Catalog { return e.catalog }

// Submit validates input against the catalog and persists a new pending job.
func (e *Executor) Submit(ctx context.Context, input jobs.Input) (*jobs.Job, error) {
	if err := e.catalog.ValidateChain(input.Stages); err != nil {
		return nil, fmt.Errorf("%w: %w", jobs.ErrInvalidJob, err)
	}
	for stage := range input.Params {
		if !containsStage(input.Stages, stage) {
			return nil, fmt.Errorf("%w: params given for %s which is not scheduled", jobs.ErrInvalidJob, stage)
		}
	}
	job, err := jobs.New(input, e.cfg.Paths.WorkDir)
	if err != nil {
		return nil, err
	}
	if err := e.store.Create(ctx, job); err != nil {
		return nil, err
	}
	e.logger.Info("job submitted",
		logging.String(logging.FieldEventType, "job_submitted"),
		logging.String(logging.FieldJobID, job.ID),
		logging.Strings("stages", job.Stages.Names()),
	)
	return job, nil
}

func containsStage(stages []string, name string) bool {
	for _, s := range stages {
		if s == name {
			return true
		}
	}
	return false
}

// isTerminal reports whether a job will not change without operator action.
func isTerminal(status jobs.JobStatus) bool {
	switch status {
	case jobs.JobCompleted, jobs.JobFailed, jobs.JobCancelled:
		return true
	}
	return false
}

// deliverCallback sends the terminal snapshot to the job's callback target.
// Delivery failures are logged and never change job state.
func (e *Executor) deliverCallback(ctx context.Context, job *jobs.Job) {
	if e.callbacks == nil || job == nil || job.Input.CallbackURL == "" || !isTerminal(job.Status()) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.callbacks.Deliver(ctx, job); err != nil {
		e.metrics.Callback("failed")
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "callback delivery failed", "callback_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the callback endpoint is reachable"),
			logging.String(logging.FieldImpact, "job result is still available through the API"),
		)
		return
	}
	e.metrics.Callback("delivered")
}
