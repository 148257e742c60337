// Package daemonrun assembles the runtime graph shared by the daemon and the
// foreground CLI commands: store, stage catalog, workers, resource lock,
// object store, callbacks, metrics, and the stage executor.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"mediaflow/internal/api"
	"mediaflow/internal/artifacts"
	"mediaflow/internal/callback"
	"mediaflow/internal/config"
	"mediaflow/internal/daemon"
	"mediaflow/internal/gpulock"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/objectstore"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/stageexec"
	"mediaflow/internal/worker"
	"mediaflow/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Runtime holds the assembled collaborators. Close releases the store.
type Runtime struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       *jobs.Store
	Catalog     *pipeline.Catalog
	Workers     *worker.Registry
	Locker      gpulock.Locker
	ObjectStore objectstore.Store
	Metrics     *metrics.Metrics
	Executor    *stageexec.Executor
}

// Assemble opens the store and builds every collaborator from cfg.
func Assemble(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if cfg.Paths.PipelineFile == "" {
		return nil, errors.New("paths.pipeline_file is not configured")
	}
	catalog, err := pipeline.Load(cfg.Paths.PipelineFile)
	if err != nil {
		return nil, fmt.Errorf("load pipeline: %w", err)
	}
	workers, err := worker.FromCatalog(catalog, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("build workers: %w", err)
	}
	objects, err := objectstore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	locker, err := gpulock.New(cfg, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("resource lock: %w", err)
	}

	m := metrics.New()
	exec, err := stageexec.New(stageexec.Options{
		Config:    cfg,
		Store:     store,
		Catalog:   catalog,
		Workers:   workers,
		Locker:    locker,
		Artifacts: artifacts.NewManager(objects, logger),
		Callbacks: callback.NewService(cfg, logger),
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	logDependencySnapshot(logger, cfg, catalog, objects)
	return &Runtime{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Catalog:     catalog,
		Workers:     workers,
		Locker:      locker,
		ObjectStore: objects,
		Metrics:     m,
		Executor:    exec,
	}, nil
}

// Close releases the job store.
func (r *Runtime) Close() error {
	if r == nil || r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// Run starts the mediaflow daemon and blocks until SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "mediaflow.log")},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	rt, err := Assemble(cfg, logger)
	if err != nil {
		logger.Error("assemble runtime", logging.Error(err))
		return err
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "mediaflow.pid")
	if err := writePIDFile(pidPath); err != nil {
		rt.Close()
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	manager := workflow.NewManager(cfg, rt.Store, rt.Executor, rt.Metrics, logger)
	d, err := daemon.New(daemon.Options{
		Config:      cfg,
		Store:       rt.Store,
		Workflow:    manager,
		Jobs:        api.NewJobService(rt.Store, rt.Executor),
		Locker:      rt.Locker,
		Workers:     rt.Workers,
		Stages:      rt.Catalog.Names(),
		ObjectStore: rt.ObjectStore,
		Metrics:     rt.Metrics,
		Logger:      logger,
	})
	if err != nil {
		rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("mediaflow daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config, catalog *pipeline.Catalog, objects objectstore.Store) {
	storage := "disabled"
	if objects != nil {
		storage = objects.Name()
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("pipeline_file", cfg.Paths.PipelineFile),
		logging.Strings("stages", catalog.Names()),
		logging.String("object_store", storage),
		logging.String("lock_backend", cfg.GPU.Backend),
		logging.String("lock_resource", cfg.GPU.Resource),
		logging.Int("max_concurrent_jobs", cfg.Workflow.MaxConcurrentJobs),
		logging.Bool("api_token_present", cfg.API.Token != ""),
	)
}
