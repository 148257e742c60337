package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mediaflow/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("MEDIAFLOW_API_TOKEN", "env-token")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "mediaflow", "state")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.API.Bind != "127.0.0.1:7590" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.API.Token != "env-token" {
		t.Fatalf("expected API token from env, got %q", cfg.API.Token)
	}
	if cfg.GPU.Backend != config.LockBackendLease {
		t.Fatalf("expected lease backend by default, got %q", cfg.GPU.Backend)
	}
	if cfg.Storage.Enabled {
		t.Fatal("expected storage sync disabled by default")
	}
	if cfg.Defaults == nil {
		t.Fatal("expected defaults map to be initialized")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.WorkDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "mediaflow.toml")

	type payload struct {
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
		GPU struct {
			Backend        string `toml:"backend"`
			AcquireTimeout int    `toml:"acquire_timeout"`
		} `toml:"gpu"`
		Defaults map[string]any `toml:"defaults"`
	}
	custom := payload{}
	custom.Paths.StateDir = filepath.Join(tempDir, "state")
	custom.GPU.Backend = "FLOCK"
	custom.GPU.AcquireTimeout = 5
	custom.Defaults = map[string]any{"language": "de", "beam_size": 5}

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempDir, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.GPU.Backend != config.LockBackendFlock {
		t.Fatalf("expected backend to be normalized, got %q", cfg.GPU.Backend)
	}
	if got := cfg.AcquireTimeout().Seconds(); got != 5 {
		t.Fatalf("unexpected acquire timeout: %v", got)
	}
	value, ok := cfg.DefaultValue("language")
	if !ok || value != "de" {
		t.Fatalf("unexpected default language: %v %v", value, ok)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		message string
	}{
		{
			name:    "heartbeat timeout below interval",
			mutate:  func(c *config.Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval },
			message: "heartbeat_timeout",
		},
		{
			name:    "unknown lock backend",
			mutate:  func(c *config.Config) { c.GPU.Backend = "redis" },
			message: "gpu.backend",
		},
		{
			name:    "non-positive acquire timeout",
			mutate:  func(c *config.Config) { c.GPU.AcquireTimeout = 0 },
			message: "gpu.acquire_timeout",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *config.Config) {
				c.Storage.Enabled = true
				c.Storage.Backend = config.StorageS3
				c.Storage.Endpoint = "minio:9000"
			},
			message: "storage.bucket",
		},
		{
			name:    "bad log format",
			mutate:  func(c *config.Config) { c.Logging.Format = "xml" },
			message: "logging.format",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected %q in error, got %v", tc.message, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if v, ok := cfg.DefaultValue("language"); !ok || v != "en" {
		t.Fatalf("expected sample default language, got %v", v)
	}
}
