package daemon_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/daemon"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/stageexec"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/worker"
	"mediaflow/internal/workflow"
)

type fixture struct {
	cfg      *config.Config
	store    *jobs.Store
	exec     *stageexec.Executor
	registry *worker.Registry
	catalog  *pipeline.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	catalog, err := pipeline.New(pipeline.Stage{Name: "asr", Worker: pipeline.Worker{Command: []string{"unused"}}})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	registry := worker.NewRegistry()
	exec, err := stageexec.New(stageexec.Options{
		Config:  cfg,
		Store:   store,
		Catalog: catalog,
		Workers: registry,
		Logger:  logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("stageexec.New: %v", err)
	}
	return &fixture{cfg: cfg, store: store, exec: exec, registry: registry, catalog: catalog}
}

func (f *fixture) daemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	d, err := daemon.New(daemon.Options{
		Config:   f.cfg,
		Store:    f.store,
		Workflow: workflow.NewManager(f.cfg, f.store, f.exec, nil, logging.NewNop()),
		Jobs:     api.NewJobService(f.store, f.exec),
		Workers:  f.registry,
		Stages:   f.catalog.Names(),
		Logger:   logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t)
	d := f.daemon(t)
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("expected daemon and workflow to report running: %+v", status)
	}
	if len(status.Stages) != 1 || status.Stages[0].Ready {
		t.Fatalf("asr has no registered worker and should not be ready: %+v", status.Stages)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	resp, err := http.Get("http://" + d.APIAddr() + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from live API, got %d", resp.StatusCode)
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	f := newFixture(t)
	first := f.daemon(t)
	second := f.daemon(t)
	t.Cleanup(first.Stop)
	t.Cleanup(second.Stop)

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected second daemon to be refused by the instance lock")
	}
	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}
