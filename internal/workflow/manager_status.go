package workflow

import (
	"context"
	"time"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running    bool                   `json:"running"`
	Owner      string                 `json:"owner"`
	LastError  string                 `json:"last_error,omitempty"`
	LastJobID  string                 `json:"last_job_id,omitempty"`
	ActiveJobs map[string]time.Time   `json:"active_jobs"`
	JobStats   map[jobs.JobStatus]int `json:"job_stats"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Owner:     m.owner,
		LastJobID: m.lastJob,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()
	summary.ActiveJobs = m.Active()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}
	summary.JobStats = stats
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(id string) {
	m.mu.Lock()
	m.lastJob = id
	m.mu.Unlock()
}
