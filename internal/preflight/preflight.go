package preflight

import (
	"context"

	"mediaflow/internal/config"
	"mediaflow/internal/worker"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// HealthSource reports stage worker availability.
type HealthSource interface {
	Health(ctx context.Context, stages []string) []worker.Health
}

// Options carries the runtime collaborators whose health is checked.
// Nil fields are skipped.
type Options struct {
	Workers     HealthSource
	Stages      []string
	ObjectStore any
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// State and work directories are always required.
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))

	if cfg.Storage.Enabled {
		if cfg.Storage.Backend == config.StorageFilesystem {
			results = append(results, CheckDirectoryAccess("Bucket directory", cfg.Storage.BucketDir))
		}
		if opts.ObjectStore != nil {
			results = append(results, CheckObjectStore(ctx, opts.ObjectStore))
		}
	}

	if opts.Workers != nil {
		results = append(results, CheckWorkers(ctx, opts.Workers, opts.Stages)...)
	}
	return results
}

// Failed returns the subset of results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
