package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediaflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.PipelineFile = ""
	cfgVal.Storage.BucketDir = filepath.Join(base, "bucket")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.GPU.PollIntervalMillis = 10
	cfgVal.GPU.AcquireTimeout = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithFilesystemStorage enables artifact sync into a temp bucket directory.
func WithFilesystemStorage() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Enabled = true
		b.cfg.Storage.Backend = config.StorageFilesystem
	}
}

// WithDefaults sets process-wide stage parameter defaults.
func WithDefaults(values map[string]any) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Defaults = values
	}
}

// WithPipeline writes a stage catalog into the base dir and points the
// config at it. "{{bin}}" expands to the directory holding stub workers.
func WithPipeline(yamlText string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "pipeline.yaml")
		yamlText = strings.ReplaceAll(yamlText, "{{bin}}", filepath.Join(b.baseDir, "bin"))
		if err := os.WriteFile(path, []byte(yamlText), 0o644); err != nil {
			b.t.Fatalf("write pipeline: %v", err)
		}
		b.cfg.Paths.PipelineFile = path
	}
}

// WithStubWorker writes an executable shell script to BaseDir(cfg)/bin/name.
func WithStubWorker(name, script string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
			b.t.Fatalf("write stub %s: %v", name, err)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
