package resolve

import (
	"errors"
	"sort"

	"mediaflow/internal/jobs"
	"mediaflow/internal/pipeline"
)

// Resolver tries its strategies in fixed priority order.
type Resolver struct {
	strategies []Strategy
}

// New returns a resolver using the standard order: explicit, input, fallback
// stage, defaults.
func New(defaults Defaults) *Resolver {
	return NewWithStrategies(
		ExplicitStrategy(),
		InputStrategy(),
		FallbackStageStrategy(),
		DefaultsStrategy(defaults),
	)
}

// NewWithStrategies builds a resolver over a custom strategy list.
func NewWithStrategies(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve returns the value for field. fallback names the upstream stage
// consulted in chained jobs and may be empty.
func (r *Resolver) Resolve(field string, explicit map[string]any, job *jobs.Job, fallback string) (any, error) {
	return r.ResolveRequest(Request{Field: field, Explicit: explicit, Job: job, Fallback: fallback})
}

// ResolveRequest resolves one field. A miss returns *MissingParameterError.
func (r *Resolver) ResolveRequest(req Request) (any, error) {
	sources := make([]string, 0, len(r.strategies))
	for _, strategy := range r.strategies {
		if strategy.Applies != nil && !strategy.Applies(req) {
			continue
		}
		if value, ok := strategy.Lookup(req); ok {
			return renderValue(req.Field, value, req.Job)
		}
		sources = append(sources, strategy.Source(req))
	}
	return nil, &MissingParameterError{Field: req.Field, Stage: req.Stage, Sources: sources}
}

// ResolveStage resolves every declared input of stage. Optional inputs that
// resolve nowhere are omitted. Explicit overrides for undeclared fields pass
// through so operators can tune worker flags that are not part of the
// catalog.
func (r *Resolver) ResolveStage(stage *pipeline.Stage, explicit map[string]any, job *jobs.Job) (map[string]any, error) {
	params := make(map[string]any, len(stage.Inputs)+len(explicit))
	declared := make(map[string]struct{}, len(stage.Inputs))
	for _, in := range stage.Inputs {
		declared[in.Name] = struct{}{}
		value, err := r.ResolveRequest(Request{
			Field:         in.Name,
			Stage:         stage.Name,
			Explicit:      explicit,
			Job:           job,
			Fallback:      in.Fallback,
			FallbackField: in.SourceField(),
		})
		if err != nil {
			var missing *MissingParameterError
			if errors.As(err, &missing) && !in.Required {
				continue
			}
			return nil, err
		}
		params[in.Name] = value
	}

	extra := make([]string, 0, len(explicit))
	for key := range explicit {
		if _, ok := declared[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		value, err := renderValue(key, explicit[key], job)
		if err != nil {
			return nil, err
		}
		params[key] = value
	}
	return params, nil
}
