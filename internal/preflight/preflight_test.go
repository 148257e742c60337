package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mediaflow/internal/config"
	"mediaflow/internal/worker"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

type storeStub struct{ err error }

func (s storeStub) Name() string                { return "s3" }
func (s storeStub) Check(context.Context) error { return s.err }

func TestCheckObjectStore(t *testing.T) {
	ok := CheckObjectStore(context.Background(), storeStub{})
	if !ok.Passed || ok.Name != "Object store (s3)" {
		t.Fatalf("unexpected result %+v", ok)
	}
	bad := CheckObjectStore(context.Background(), storeStub{err: errors.New("bucket missing")})
	if bad.Passed || bad.Detail != "bucket missing" {
		t.Fatalf("unexpected result %+v", bad)
	}
	timeout := CheckObjectStore(context.Background(), storeStub{err: context.DeadlineExceeded})
	if timeout.Passed || timeout.Detail != "check timed out (endpoint unresponsive)" {
		t.Fatalf("unexpected result %+v", timeout)
	}
	plain := CheckObjectStore(context.Background(), struct{}{})
	if !plain.Passed {
		t.Fatalf("stores without a check should pass: %+v", plain)
	}
}

type healthStub []worker.Health

func (h healthStub) Health(context.Context, []string) []worker.Health { return h }

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil, Options{})
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Storage.Enabled = false

	results := RunAll(context.Background(), &cfg, Options{})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesStorageAndWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Storage.Enabled = true
	cfg.Storage.Backend = config.StorageFilesystem
	cfg.Storage.BucketDir = filepath.Join(t.TempDir(), "missing")

	results := RunAll(context.Background(), &cfg, Options{
		Workers: healthStub{
			{Stage: "asr", Ready: true},
			{Stage: "encode", Detail: "executable not found"},
		},
		Stages: []string{"asr", "encode"},
	})
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d: %+v", len(results), results)
	}
	failed := Failed(results)
	if len(failed) != 2 {
		t.Fatalf("expected bucket and encode failures, got %+v", failed)
	}
	if failed[0].Name != "Bucket directory" || failed[1].Name != "Worker encode" {
		t.Fatalf("unexpected failures %+v", failed)
	}
}
