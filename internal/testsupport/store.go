package testsupport

import (
	"context"
	"testing"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates and persists a pending job for the given stages.
func NewJob(t testing.TB, store *jobs.Store, cfg *config.Config, input jobs.Input) *jobs.Job {
	t.Helper()

	job, err := jobs.New(input, cfg.Paths.WorkDir)
	if err != nil {
		t.Fatalf("jobs.New: %v", err)
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
