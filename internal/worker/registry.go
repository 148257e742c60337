package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"mediaflow/internal/pipeline"
)

// Registry maps stage names to workers.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]Worker)}
}

// FromCatalog builds exec and HTTP workers for every catalog stage.
func FromCatalog(catalog *pipeline.Catalog, client *http.Client) (*Registry, error) {
	reg := NewRegistry()
	for _, name := range catalog.Names() {
		stage, err := catalog.Stage(name)
		if err != nil {
			return nil, err
		}
		var w Worker
		switch {
		case len(stage.Worker.Command) > 0:
			w, err = NewExecWorker(stage.Worker.Command, stage.Worker.Env)
		default:
			w, err = NewHTTPWorker(stage.Worker.URL, stage.Worker.Env, client)
		}
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}
		reg.Register(name, w)
	}
	return reg, nil
}

// Register binds w to stage, replacing any previous worker.
func (r *Registry) Register(stage string, w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[stage] = w
}

// Get returns the worker for stage.
func (r *Registry) Get(stage string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[stage]
	if !ok {
		return nil, fmt.Errorf("%w: no worker for %s", pipeline.ErrUnknownStage, stage)
	}
	return w, nil
}

// Health describes the availability of one stage worker.
type Health struct {
	Stage  string `json:"stage"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Health checks every registered worker that can report availability.
// Workers without a check are reported ready.
func (r *Registry) Health(ctx context.Context, stages []string) []Health {
	out := make([]Health, 0, len(stages))
	for _, stage := range stages {
		w, err := r.Get(stage)
		if err != nil {
			out = append(out, Health{Stage: stage, Detail: err.Error()})
			continue
		}
		h := Health{Stage: stage, Ready: true}
		if checker, ok := w.(Checker); ok {
			if err := checker.Check(ctx); err != nil {
				h.Ready = false
				h.Detail = err.Error()
			}
		}
		out = append(out, h)
	}
	return out
}
