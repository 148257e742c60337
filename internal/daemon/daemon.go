package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/gpulock"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/preflight"
	"mediaflow/internal/workflow"
)

// Options wires a Daemon. Config, Store, Workflow, and Jobs are required.
type Options struct {
	Config      *config.Config
	Store       *jobs.Store
	Workflow    *workflow.Manager
	Jobs        *api.JobService
	Locker      gpulock.Locker
	Workers     preflight.HealthSource
	Stages      []string
	ObjectStore any
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *jobs.Store
	workflow *workflow.Manager
	locker   gpulock.Locker
	workers  preflight.HealthSource
	stages   []string
	objects  any
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Workflow == nil || opts.Jobs == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, and job service")
	}
	logger := logging.NewComponentLogger(opts.Logger, "daemon")
	lockPath := opts.Config.LockFilePath()
	d := &Daemon{
		cfg:      opts.Config,
		logger:   logger,
		store:    opts.Store,
		workflow: opts.Workflow,
		locker:   opts.Locker,
		workers:  opts.Workers,
		stages:   opts.Stages,
		objects:  opts.ObjectStore,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(opts.Config, d, opts.Jobs, opts.Metrics, opts.Logger)
	return d, nil
}

// Start acquires the daemon lock, runs preflight checks, and launches the
// workflow manager and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediaflow daemon instance is already running")
	}

	d.runPreflight(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("mediaflow daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.Addr()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("mediaflow daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address once started.
func (d *Daemon) APIAddr() string {
	return d.api.Addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Workflow:     api.FromStatusSummary(d.workflow.Status(ctx)),
		Stages:       []api.StageHealth{},
	}
	if d.workers != nil {
		status.Stages = api.StageHealthSlice(d.workers.Health(ctx, d.stages))
	}
	if d.locker != nil {
		lock, err := api.InspectLock(ctx, d.locker)
		if err != nil {
			d.logger.Warn("lock inspection failed", logging.Error(err))
		} else {
			status.Lock = &lock
		}
	}
	return status
}

func (d *Daemon) runPreflight(ctx context.Context) {
	results := preflight.RunAll(ctx, d.cfg, preflight.Options{
		Workers:     d.workers,
		Stages:      d.stages,
		ObjectStore: d.objects,
	})
	for _, r := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the dependency; affected stages fail until it is available"),
			logging.String(logging.FieldImpact, "stages using this dependency will fail"),
		)
	}
}
