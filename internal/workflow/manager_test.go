package workflow_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/stageexec"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/worker"
	"mediaflow/internal/workflow"
)

type gateWorker struct {
	current atomic.Int32
	peak    atomic.Int32
	release chan struct{}
}

func (w *gateWorker) Run(ctx context.Context, _ worker.Request) (map[string]any, error) {
	n := w.current.Add(1)
	defer w.current.Add(-1)
	for {
		peak := w.peak.Load()
		if n <= peak || w.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-w.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return map[string]any{"done": true}, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestManagerRunsJobsWithBoundedConcurrency(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.MaxConcurrentJobs = 2
	store := testsupport.MustOpenStore(t, cfg)
	catalog, err := pipeline.New(pipeline.Stage{Name: "encode", Worker: pipeline.Worker{Command: []string{"unused"}}})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	gate := &gateWorker{release: make(chan struct{})}
	registry := worker.NewRegistry()
	registry.Register("encode", gate)
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

	var ids []string
	for i := 0; i < 4; i++ {
		job, err := exec.Submit(context.Background(), jobs.Input{Stages: []string{"encode"}})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, job.ID)
	}

	mgr := workflow.NewManager(cfg, store, exec, metrics.New(), logging.NewNop()).WithPollInterval(10 * time.Millisecond)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, 5*time.Second, func() bool { return gate.current.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	if peak := gate.peak.Load(); peak != 2 {
		t.Fatalf("expected peak concurrency 2, got %d", peak)
	}
	close(gate.release)

	waitFor(t, 5*time.Second, func() bool {
		for _, id := range ids {
			job, err := store.Get(context.Background(), id)
			if err != nil || job.Status() != jobs.JobCompleted {
				return false
			}
		}
		return true
	})
	status := mgr.Status(context.Background())
	if !status.Running || status.JobStats[jobs.JobCompleted] != 4 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestManagerStartReclaimsInterruptedStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, cfg, jobs.Input{Stages: []string{"encode"}})
	if _, err := store.Mutate(context.Background(), job.ID, func(j *jobs.Job) error {
		return j.Stage("encode").Start(nil, time.Now().Add(-time.Hour))
	}); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if _, err := store.ClaimJob(context.Background(), job.ID, "dead-daemon"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	runner := &countingRunner{}
	mgr := workflow.NewManager(cfg, store, runner, nil, logging.NewNop()).WithPollInterval(10 * time.Millisecond)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	got, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	exec := got.Stage("encode")
	if exec.Status != jobs.StatusFailed || exec.Error == nil || exec.Error.Kind != jobs.KindInterrupted || !exec.Error.Retryable {
		t.Fatalf("expected interrupted failure, got %+v", exec)
	}
	time.Sleep(50 * time.Millisecond)
	if runner.calls.Load() != 0 {
		t.Fatalf("failed job must not be picked up")
	}
}

func TestManagerStartKeepsForegroundRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, jobs.Input{Stages: []string{"encode"}})
	if _, err := store.Mutate(ctx, job.ID, func(j *jobs.Job) error {
		return j.Stage("encode").Start(nil, time.Now())
	}); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	owner := jobs.ForegroundClaimPrefix + "host:42:abcd"
	if ok, err := store.ClaimJob(ctx, job.ID, owner); err != nil || !ok {
		t.Fatalf("claim = %v, %v", ok, err)
	}

	runner := &countingRunner{}
	mgr := workflow.NewManager(cfg, store, runner, nil, logging.NewNop()).WithPollInterval(10 * time.Millisecond)
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if exec := got.Stage("encode"); exec.Status != jobs.StatusRunning {
		t.Fatalf("live foreground stage was reclaimed: %+v", exec)
	}
	if ok, err := store.ClaimJob(ctx, job.ID, "someone-else"); err != nil || ok {
		t.Fatalf("foreground claim was released: %v, %v", ok, err)
	}
	// The foreground run can still persist its result.
	if _, err := store.Mutate(ctx, job.ID, func(j *jobs.Job) error {
		return j.Stage("encode").Succeed(map[string]any{"done": true}, time.Now())
	}); err != nil {
		t.Fatalf("persist foreground success: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if runner.calls.Load() != 0 {
		t.Fatalf("claimed job must not be picked up")
	}
}

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) RunJob(context.Context, string) (*jobs.Job, error) {
	r.calls.Add(1)
	return nil, context.Canceled
}
