package api

import (
	"time"

	"mediaflow/internal/artifacts"
	"mediaflow/internal/gpulock"
	"mediaflow/internal/jobs"
)

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	JobID  string         `json:"job_id"`
	Status jobs.JobStatus `json:"status"`
}

// JobListResponse wraps a collection of job views.
type JobListResponse struct {
	Jobs []jobs.View `json:"jobs"`
}

// SyncResponse reports the outcome of a manual artifact sync.
type SyncResponse struct {
	JobID    string   `json:"job_id"`
	Stage    string   `json:"stage"`
	Uploaded []string `json:"uploaded"`
	Skipped  []string `json:"skipped"`
	Failed   []string `json:"failed"`
	Error    string   `json:"error,omitempty"`
}

// LockStatus describes the exclusive resource lock.
type LockStatus struct {
	Resource string          `json:"resource"`
	Held     bool            `json:"held"`
	Holder   *gpulock.Holder `json:"holder,omitempty"`
}

// StageHealth mirrors readiness reporting for stage workers.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes the job manager.
type WorkflowStatus struct {
	Running    bool              `json:"running"`
	Owner      string            `json:"owner,omitempty"`
	JobStats   map[string]int    `json:"job_stats"`
	ActiveJobs map[string]string `json:"active_jobs,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	LastJobID  string            `json:"last_job_id,omitempty"`
}

// CheckResult is one preflight check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"database_path"`
	LockFilePath string         `json:"lock_file_path"`
	Workflow     WorkflowStatus `json:"workflow"`
	Stages       []StageHealth  `json:"stages"`
	Checks       []CheckResult  `json:"checks,omitempty"`
	Lock         *LockStatus    `json:"lock,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// FromSyncReport converts an artifact sync report.
func FromSyncReport(jobID, stage string, report artifacts.Report, err error) SyncResponse {
	resp := SyncResponse{
		JobID:    jobID,
		Stage:    stage,
		Uploaded: nonNil(report.Uploaded),
		Skipped:  nonNil(report.Skipped),
		Failed:   nonNil(report.Failed),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
