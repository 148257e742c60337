package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mediaflow/internal/artifacts"
	"mediaflow/internal/jobs"
)

// ErrInvalidFilter reports an unknown job status filter.
var ErrInvalidFilter = errors.New("invalid status filter")

// JobStore abstracts the reads the API needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, statuses ...jobs.JobStatus) ([]*jobs.Job, error)
}

// JobController abstracts the executor operations exposed over the API.
type JobController interface {
	Submit(ctx context.Context, input jobs.Input) (*jobs.Job, error)
	Retry(ctx context.Context, jobID, stage string) (*jobs.Job, error)
	Cancel(ctx context.Context, jobID string) (*jobs.Job, error)
	SyncStage(ctx context.Context, jobID, stage string) (artifacts.Report, error)
}

// JobService exposes job operations returning API DTOs.
type JobService struct {
	store JobStore
	ctrl  JobController
}

// NewJobService constructs a JobService.
func NewJobService(store JobStore, ctrl JobController) *JobService {
	return &JobService{store: store, ctrl: ctrl}
}

// Submit validates and persists a job. The daemon's manager picks it up.
func (s *JobService) Submit(ctx context.Context, input jobs.Input) (SubmitResponse, error) {
	for i, stage := range input.Stages {
		input.Stages[i] = strings.TrimSpace(stage)
	}
	input.CallbackURL = strings.TrimSpace(input.CallbackURL)
	job, err := s.ctrl.Submit(ctx, input)
	if err != nil {
		return SubmitResponse{}, err
	}
	return SubmitResponse{JobID: job.ID, Status: job.Status()}, nil
}

// List returns job views filtered by the given status names.
func (s *JobService) List(ctx context.Context, statuses []string) ([]jobs.View, error) {
	filter, err := ParseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	items, err := s.store.List(ctx, filter...)
	if err != nil {
		return nil, err
	}
	views := make([]jobs.View, 0, len(items))
	for _, job := range items {
		views = append(views, jobs.NewView(job))
	}
	return views, nil
}

// Describe returns one job view.
func (s *JobService) Describe(ctx context.Context, id string) (jobs.View, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return jobs.View{}, err
	}
	return jobs.NewView(job), nil
}

// Retry resets a failed stage to pending.
func (s *JobService) Retry(ctx context.Context, id, stage string) (jobs.View, error) {
	job, err := s.ctrl.Retry(ctx, id, stage)
	if err != nil {
		return jobs.View{}, err
	}
	return jobs.NewView(job), nil
}

// Cancel marks a job cancelled.
func (s *JobService) Cancel(ctx context.Context, id string) (jobs.View, error) {
	job, err := s.ctrl.Cancel(ctx, id)
	if err != nil {
		return jobs.View{}, err
	}
	return jobs.NewView(job), nil
}

// Sync re-runs artifact sync for a successful stage. A partial sync is not
// an error at this layer; the response lists what failed.
func (s *JobService) Sync(ctx context.Context, id, stage string) (SyncResponse, error) {
	report, err := s.ctrl.SyncStage(ctx, id, stage)
	var syncErr *artifacts.SyncError
	if err != nil && !errors.As(err, &syncErr) {
		return SyncResponse{}, err
	}
	return FromSyncReport(id, stage, report, err), nil
}

// ParseStatuses validates status filter values. Empty values are ignored.
func ParseStatuses(values []string) ([]jobs.JobStatus, error) {
	var out []jobs.JobStatus
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := jobs.ParseJobStatus(part)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, part)
			}
			out = append(out, status)
		}
	}
	return out, nil
}
