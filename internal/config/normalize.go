package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeGPU()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeLogging()
	if c.Defaults == nil {
		c.Defaults = map[string]any{}
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.PipelineFile) == "" {
		c.Paths.PipelineFile = defaultPipelineFile
	}
	if c.Paths.PipelineFile, err = expandPath(c.Paths.PipelineFile); err != nil {
		return fmt.Errorf("paths.pipeline_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("MEDIAFLOW_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeGPU() {
	c.GPU.Backend = strings.ToLower(strings.TrimSpace(c.GPU.Backend))
	if c.GPU.Backend == "" {
		c.GPU.Backend = LockBackendLease
	}
	c.GPU.Resource = strings.TrimSpace(c.GPU.Resource)
	if c.GPU.Resource == "" {
		c.GPU.Resource = defaultGPUResource
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageFilesystem
	}
	if strings.TrimSpace(c.Storage.BucketDir) == "" {
		c.Storage.BucketDir = defaultBucketDir
	}
	var err error
	if c.Storage.BucketDir, err = expandPath(c.Storage.BucketDir); err != nil {
		return fmt.Errorf("storage.bucket_dir: %w", err)
	}
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
	if c.Storage.AccessKey == "" {
		if value, ok := os.LookupEnv("MEDIAFLOW_S3_ACCESS_KEY"); ok {
			c.Storage.AccessKey = strings.TrimSpace(value)
		}
	}
	if c.Storage.SecretKey == "" {
		if value, ok := os.LookupEnv("MEDIAFLOW_S3_SECRET_KEY"); ok {
			c.Storage.SecretKey = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
