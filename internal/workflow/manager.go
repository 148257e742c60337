package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/gpulock"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/stageexec"
)

// JobRunner executes every pending stage of a job.
type JobRunner interface {
	RunJob(ctx context.Context, jobID string) (*jobs.Job, error)
}

// Manager coordinates background job processing.
type Manager struct {
	cfg          *config.Config
	store        *jobs.Store
	runner       JobRunner
	metrics      *metrics.Metrics
	logger       *slog.Logger
	owner        string
	pollInterval time.Duration
	retryDelay   time.Duration
	slots        chan struct{}

	heartbeat *HeartbeatMonitor

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob string
	active  map[string]time.Time
}

// NewManager constructs a workflow manager. runner is usually a
// *stageexec.Executor.
func NewManager(cfg *config.Config, store *jobs.Store, runner JobRunner, m *metrics.Metrics, logger *slog.Logger) *Manager {
	logger = logging.NewComponentLogger(logger, "workflow")
	limit := cfg.Workflow.MaxConcurrentJobs
	if limit <= 0 {
		limit = 1
	}
	poll := time.Duration(cfg.Workflow.QueuePollInterval) * time.Second
	if poll <= 0 {
		poll = time.Second
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		runner:       runner,
		metrics:      m,
		logger:       logger,
		owner:        gpulock.HolderID(),
		pollInterval: poll,
		retryDelay:   time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		slots:        make(chan struct{}, limit),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			m,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		active: make(map[string]time.Time),
	}
}

// WithPollInterval overrides the idle poll delay. Tests use it to avoid
// second-scale waits.
func (m *Manager) WithPollInterval(d time.Duration) *Manager {
	if d > 0 {
		m.pollInterval = d
	}
	return m
}

var _ JobRunner = (*stageexec.Executor)(nil)
