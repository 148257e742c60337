package jobs

import (
	"encoding/json"
	"time"
)

// StageView is the client-facing rendering of a stage execution. Internal
// success is reported as completed.
type StageView struct {
	Status     string         `json:"status"`
	Input      map[string]any `json:"input_params,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      *StageError    `json:"error,omitempty"`
	Duration   float64        `json:"duration,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Attempt    int            `json:"attempt"`
	CacheHit   bool           `json:"cache_hit,omitempty"`
}

// NewStageView renders exec for clients.
func NewStageView(exec *StageExecution) StageView {
	if exec == nil {
		return StageView{Status: StatusPending.External()}
	}
	return StageView{
		Status:     exec.Status.External(),
		Input:      exec.Input,
		Output:     exec.Output,
		Error:      exec.Error,
		Duration:   exec.Duration,
		StartedAt:  exec.StartedAt,
		FinishedAt: exec.FinishedAt,
		Attempt:    exec.Attempt,
		CacheHit:   exec.CacheHit,
	}
}

// NamedStageView is one entry of StageViews.
type NamedStageView struct {
	Name string
	View StageView
}

// StageViews keeps views in execution order and encodes as an object.
type StageViews []NamedStageView

func (v StageViews) MarshalJSON() ([]byte, error) {
	return marshalOrdered(len(v), func(i int) (string, any) { return v[i].Name, v[i].View })
}

func (v *StageViews) UnmarshalJSON(data []byte) error {
	var out StageViews
	err := unmarshalOrdered(data, func(name string, dec *json.Decoder) error {
		var view StageView
		if err := dec.Decode(&view); err != nil {
			return err
		}
		out = append(out, NamedStageView{Name: name, View: view})
		return nil
	})
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// View is the client-facing rendering of a job.
type View struct {
	JobID       string     `json:"job_id"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	WorkDir     string     `json:"shared_storage_path"`
	Stages      StageViews `json:"stages"`
	Error       string     `json:"error,omitempty"`
	CallbackURL string     `json:"callback_url,omitempty"`
}

// NewView renders job for clients.
func NewView(job *Job) View {
	view := View{
		JobID:       job.ID,
		Status:      job.Status(),
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		WorkDir:     job.WorkDir,
		Error:       job.Error,
		CallbackURL: job.Input.CallbackURL,
	}
	view.Stages = make(StageViews, 0, len(job.Stages))
	for _, entry := range job.Stages {
		view.Stages = append(view.Stages, NamedStageView{Name: entry.Name, View: NewStageView(entry.Exec)})
	}
	return view
}

// SingleStageView is the callback body for single-stage jobs.
type SingleStageView struct {
	JobID string `json:"job_id"`
	Stage string `json:"stage"`
	StageView
}

// NewSingleStageView renders the only stage of a standalone job.
func NewSingleStageView(job *Job) SingleStageView {
	out := SingleStageView{JobID: job.ID}
	if len(job.Stages) > 0 {
		out.Stage = job.Stages[0].Name
		out.StageView = NewStageView(job.Stages[0].Exec)
	}
	return out
}
