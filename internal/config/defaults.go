package config

// Storage backends.
const (
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// GPU lock backends.
const (
	LockBackendLease = "lease"
	LockBackendFlock = "flock"
)

const (
	defaultStateDir                  = "~/.local/share/mediaflow/state"
	defaultWorkDir                   = "~/.local/share/mediaflow/jobs"
	defaultLogDir                    = "~/.local/share/mediaflow/logs"
	defaultPipelineFile              = "~/.config/mediaflow/pipeline.yaml"
	defaultBucketDir                 = "~/.local/share/mediaflow/bucket"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultAPIBind                   = "127.0.0.1:7590"
	defaultWorkflowHeartbeatInterval = 15
	defaultWorkflowHeartbeatTimeout  = 120
	defaultMaxConcurrentJobs         = 4
	defaultGPUResource               = "gpu0"
	defaultGPULeaseTTL               = 60
	defaultGPUAcquireTimeout         = 1800
	defaultGPUPollIntervalMillis     = 500
	defaultWorkerTimeout             = 7200
	defaultCallbackTimeout           = 10
	defaultCallbackAttempts          = 3
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:     defaultStateDir,
			WorkDir:      defaultWorkDir,
			LogDir:       defaultLogDir,
			PipelineFile: defaultPipelineFile,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Workflow: Workflow{
			QueuePollInterval:  2,
			ErrorRetryInterval: 10,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:   defaultWorkflowHeartbeatTimeout,
			MaxConcurrentJobs:  defaultMaxConcurrentJobs,
		},
		GPU: GPU{
			Backend:            LockBackendLease,
			Resource:           defaultGPUResource,
			LeaseTTL:           defaultGPULeaseTTL,
			AcquireTimeout:     defaultGPUAcquireTimeout,
			PollIntervalMillis: defaultGPUPollIntervalMillis,
		},
		Worker: Worker{
			Timeout: defaultWorkerTimeout,
		},
		Storage: Storage{
			Backend:   StorageFilesystem,
			BucketDir: defaultBucketDir,
			UseSSL:    true,
		},
		Callback: Callback{
			RequestTimeout: defaultCallbackTimeout,
			Attempts:       defaultCallbackAttempts,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Defaults: map[string]any{},
	}
}
