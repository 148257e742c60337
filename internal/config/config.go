package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir     string `toml:"state_dir"`
	WorkDir      string `toml:"work_dir"`
	LogDir       string `toml:"log_dir"`
	PipelineFile string `toml:"pipeline_file"`
}

// API contains the job submission API settings.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	MaxConcurrentJobs  int `toml:"max_concurrent_jobs"`
}

// GPU configures the exclusive resource lock guarding the shared accelerator.
type GPU struct {
	// Backend selects the lock implementation: "lease" (SQLite lease records)
	// or "flock" (advisory file lock).
	Backend  string `toml:"backend"`
	Resource string `toml:"resource"`
	// LeaseTTL is the lease lifetime in seconds; holders renew at a third of it.
	LeaseTTL int `toml:"lease_ttl"`
	// AcquireTimeout bounds the total wait for the lock in seconds.
	AcquireTimeout int `toml:"acquire_timeout"`
	// PollIntervalMillis is the delay between acquisition attempts.
	PollIntervalMillis int `toml:"poll_interval_ms"`
}

// Worker contains settings for external stage worker invocations.
type Worker struct {
	Timeout int `toml:"timeout"`
}

// Storage configures the remote object store used for artifact sync.
type Storage struct {
	Enabled       bool   `toml:"enabled"`
	Backend       string `toml:"backend"`
	BucketDir     string `toml:"bucket_dir"`
	Endpoint      string `toml:"endpoint"`
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	UseSSL        bool   `toml:"use_ssl"`
	PublicBaseURL string `toml:"public_base_url"`
}

// Callback configures delivery of terminal job notifications.
type Callback struct {
	RequestTimeout int `toml:"request_timeout"`
	Attempts       int `toml:"attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for mediaflow.
//
// Configuration sections by subsystem:
//   - Paths: state, working, and log directories plus the pipeline catalog
//   - API: job submission API bind address and token
//   - Workflow: daemon polling intervals, heartbeats, and concurrency
//   - GPU: exclusive resource lock backend and timings
//   - Worker: stage worker timeouts
//   - Storage: remote object store for artifact sync
//   - Callback: job callback delivery
//   - Logging: log format and level
//   - Defaults: process-wide stage parameter defaults
type Config struct {
	Paths    Paths          `toml:"paths"`
	API      API            `toml:"api"`
	Workflow Workflow       `toml:"workflow"`
	GPU      GPU            `toml:"gpu"`
	Worker   Worker         `toml:"worker"`
	Storage  Storage        `toml:"storage"`
	Callback Callback       `toml:"callback"`
	Logging  Logging        `toml:"logging"`
	Defaults map[string]any `toml:"defaults"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mediaflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediaflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Storage.Enabled && c.Storage.Backend == StorageFilesystem {
		if err := os.MkdirAll(c.Storage.BucketDir, 0o755); err != nil {
			return fmt.Errorf("create bucket directory %q: %w", c.Storage.BucketDir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "mediaflow.db")
}

// LockFilePath returns the daemon single-instance lock file.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.StateDir, "mediaflowd.lock")
}

// JobWorkDir returns the job-scoped working directory.
func (c *Config) JobWorkDir(jobID string) string {
	return filepath.Join(c.Paths.WorkDir, jobID)
}

// LeaseTTL returns the GPU lease lifetime.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.GPU.LeaseTTL) * time.Second
}

// AcquireTimeout returns the GPU lock acquisition bound.
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.GPU.AcquireTimeout) * time.Second
}

// PollInterval returns the GPU lock polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.GPU.PollIntervalMillis) * time.Millisecond
}

// WorkerTimeout returns the per-call worker deadline.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Worker.Timeout) * time.Second
}

// DefaultValue returns the process-wide default for a stage parameter.
func (c *Config) DefaultValue(field string) (any, bool) {
	if c == nil || c.Defaults == nil {
		return nil, false
	}
	value, ok := c.Defaults[field]
	return value, ok
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
