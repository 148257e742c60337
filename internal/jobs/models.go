package jobs

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the internal lifecycle state of one stage execution.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether the stage has finished.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// External maps the internal status to the value exposed to API clients.
func (s Status) External() string {
	if s == StatusSuccess {
		return string(JobCompleted)
	}
	return string(s)
}

// JobStatus is the externally visible state of a whole job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ParseJobStatus validates a user supplied status filter.
func ParseJobStatus(value string) (JobStatus, bool) {
	switch JobStatus(strings.ToLower(strings.TrimSpace(value))) {
	case JobPending:
		return JobPending, true
	case JobRunning:
		return JobRunning, true
	case JobCompleted:
		return JobCompleted, true
	case JobFailed:
		return JobFailed, true
	case JobCancelled:
		return JobCancelled, true
	}
	return "", false
}

// Input is the original submission.
type Input struct {
	Stages      []string       `json:"stages"`
	Payload     map[string]any `json:"payload,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	// Params holds explicit per-stage parameter overrides keyed by stage name.
	Params map[string]map[string]any `json:"params,omitempty"`
}

// StageError is the persisted failure detail of a stage.
type StageError struct {
	Kind      string   `json:"kind"`
	Message   string   `json:"message"`
	Field     string   `json:"field,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	Retryable bool     `json:"retryable"`
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return e.Kind + ": " + e.Message
}

// StageExecution is the run record of one stage within a job.
type StageExecution struct {
	Status      Status         `json:"status"`
	Input       map[string]any `json:"input_params,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *StageError    `json:"error,omitempty"`
	Duration    float64        `json:"duration,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Heartbeat   *time.Time     `json:"heartbeat,omitempty"`
	Attempt     int            `json:"attempt"`
	CacheHit    bool           `json:"cache_hit,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
}

// Start moves a pending stage to running with the resolved (redacted) input.
func (e *StageExecution) Start(params map[string]any, now time.Time) error {
	if e.Status != StatusPending {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, e.Status)
	}
	now = now.UTC()
	e.Status = StatusRunning
	e.Input = RedactParams(params)
	e.StartedAt = &now
	e.Heartbeat = &now
	e.Error = nil
	e.Output = nil
	return nil
}

// Succeed records the terminal success transition.
func (e *StageExecution) Succeed(output map[string]any, now time.Time) error {
	if e.Status != StatusRunning {
		return fmt.Errorf("%w: succeed from %s", ErrInvalidTransition, e.Status)
	}
	e.Status = StatusSuccess
	e.Output = output
	e.finish(now)
	return nil
}

// Fail records the terminal failure transition. A pending stage may fail
// directly when parameter resolution or lock acquisition never let it run.
func (e *StageExecution) Fail(stageErr *StageError, now time.Time) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, e.Status)
	}
	if e.StartedAt == nil {
		started := now.UTC()
		e.StartedAt = &started
	}
	e.Status = StatusFailed
	e.Error = stageErr
	e.finish(now)
	return nil
}

// Reset returns a failed stage to pending for an explicit retry.
func (e *StageExecution) Reset() error {
	if e.Status != StatusFailed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, e.Status)
	}
	attempt := e.Attempt + 1
	*e = StageExecution{Status: StatusPending, Attempt: attempt}
	return nil
}

func (e *StageExecution) finish(now time.Time) {
	now = now.UTC()
	e.FinishedAt = &now
	e.Heartbeat = nil
	if e.StartedAt != nil {
		e.Duration = now.Sub(*e.StartedAt).Seconds()
	}
}

// MergeRemoteFields copies derived remote fields from src into a terminal
// record without touching any other output field. It returns the names added.
func (e *StageExecution) MergeRemoteFields(src map[string]any) []string {
	var added []string
	for key, value := range src {
		if !IsRemoteField(key) {
			continue
		}
		if _, exists := e.Output[key]; exists {
			continue
		}
		if e.Output == nil {
			e.Output = make(map[string]any)
		}
		e.Output[key] = value
		added = append(added, key)
	}
	return added
}

// IsRemoteField reports whether an output key is a derived remote-copy field.
func IsRemoteField(key string) bool {
	return strings.HasSuffix(key, RemoteURLSuffix) || strings.HasSuffix(key, RemoteURLsSuffix)
}

const (
	RemoteURLSuffix  = "_remote_url"
	RemoteURLsSuffix = "_remote_urls"
)

// Job is the root aggregate for one submission.
type Job struct {
	ID        string    `json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Input     Input     `json:"input_params"`
	WorkDir   string    `json:"shared_storage_path"`
	Stages    StageList `json:"stages"`
	Error     string    `json:"error,omitempty"`
	Cancelled bool      `json:"cancelled,omitempty"`
	Version   int64     `json:"version"`
}

// New builds a pending job for the requested stages. The work directory is
// rooted at workRoot and keyed by the generated id.
func New(input Input, workRoot string) (*Job, error) {
	if len(input.Stages) == 0 {
		return nil, fmt.Errorf("%w: job requires at least one stage", ErrInvalidJob)
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	job := &Job{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Input:     input,
	}
	if workRoot != "" {
		job.WorkDir = filepath.Join(workRoot, id)
	}
	for _, name := range input.Stages {
		if err := job.Stages.Add(name); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// Stage returns the execution record for name, or nil.
func (j *Job) Stage(name string) *StageExecution {
	if j == nil {
		return nil
	}
	return j.Stages.Get(name)
}

// Standalone reports whether the job targets exactly one stage.
func (j *Job) Standalone() bool {
	return len(j.Stages) == 1
}

// Status derives the external job status from its stages.
func (j *Job) Status() JobStatus {
	switch {
	case j.Cancelled:
		return JobCancelled
	case j.Error != "":
		return JobFailed
	}
	pending, success := 0, 0
	for _, entry := range j.Stages {
		switch entry.Exec.Status {
		case StatusFailed:
			return JobFailed
		case StatusPending:
			pending++
		case StatusSuccess:
			success++
		}
	}
	switch {
	case len(j.Stages) > 0 && success == len(j.Stages):
		return JobCompleted
	case pending == len(j.Stages):
		return JobPending
	default:
		return JobRunning
	}
}

// Clone returns a deep copy through the persisted JSON form.
func (j *Job) Clone() (*Job, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	var out Job
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &out, nil
}

var secretMarkers = []string{"token", "secret", "password", "api_key", "apikey", "authorization"}

// RedactedValue replaces secret parameter values in persisted snapshots.
const RedactedValue = "[redacted]"

// RedactParams returns a copy of params with secret-looking keys masked at
// any depth. Nested maps and lists are copied; other values are shared.
func RedactParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		if isSecretKey(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return RedactParams(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
