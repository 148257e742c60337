package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateGPU(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.max_concurrent_jobs":  c.Workflow.MaxConcurrentJobs,
		"worker.timeout":                c.Worker.Timeout,
		"callback.request_timeout":      c.Callback.RequestTimeout,
		"callback.attempts":             c.Callback.Attempts,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateGPU() error {
	switch c.GPU.Backend {
	case LockBackendLease, LockBackendFlock:
	default:
		return fmt.Errorf("gpu.backend: unsupported value %q (want %q or %q)", c.GPU.Backend, LockBackendLease, LockBackendFlock)
	}
	if err := ensurePositiveMap(map[string]int{
		"gpu.lease_ttl":        c.GPU.LeaseTTL,
		"gpu.acquire_timeout":  c.GPU.AcquireTimeout,
		"gpu.poll_interval_ms": c.GPU.PollIntervalMillis,
	}); err != nil {
		return err
	}
	if c.GPU.PollIntervalMillis >= c.GPU.AcquireTimeout*1000 {
		return errors.New("gpu.poll_interval_ms must be shorter than gpu.acquire_timeout")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageFilesystem:
		return nil
	case StorageS3:
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	if !c.Storage.Enabled {
		return nil
	}
	if c.Storage.Endpoint == "" {
		return errors.New("storage.endpoint must be set when storage.backend is s3")
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage.bucket must be set when storage.backend is s3")
	}
	if strings.TrimSpace(c.Storage.AccessKey) == "" || strings.TrimSpace(c.Storage.SecretKey) == "" {
		return errors.New("storage.access_key and storage.secret_key must be set (or MEDIAFLOW_S3_ACCESS_KEY / MEDIAFLOW_S3_SECRET_KEY)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
