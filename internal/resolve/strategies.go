package resolve

import (
	"fmt"

	"mediaflow/internal/jobs"
)

// Request carries everything a strategy may consult for one field.
type Request struct {
	Field    string
	Stage    string
	Explicit map[string]any
	Job      *jobs.Job
	// Fallback is the upstream stage declared for this field.
	Fallback string
	// FallbackField is the output key read from Fallback; defaults to Field.
	FallbackField string
}

func (r Request) fallbackField() string {
	if r.FallbackField != "" {
		return r.FallbackField
	}
	return r.Field
}

// Strategy is one ordered resolution source. Lookup must not mutate the
// request. Source labels the attempt for diagnostics and may describe why
// the source could not answer. A nil Applies means the strategy always runs.
type Strategy struct {
	Source  func(Request) string
	Lookup  func(Request) (any, bool)
	Applies func(Request) bool
}

// Defaults supplies process-wide parameter defaults.
type Defaults interface {
	DefaultValue(field string) (any, bool)
}

// DefaultsMap adapts a plain map to Defaults.
type DefaultsMap map[string]any

func (m DefaultsMap) DefaultValue(field string) (any, bool) {
	v, ok := m[field]
	return v, ok && v != nil
}

func constant(label string) func(Request) string {
	return func(Request) string { return label }
}

func lookupMap(values map[string]any, key string) (any, bool) {
	if values == nil {
		return nil, false
	}
	v, ok := values[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ExplicitStrategy reads per-invocation overrides.
func ExplicitStrategy() Strategy {
	return Strategy{
		Source: constant("explicit"),
		Lookup: func(r Request) (any, bool) { return lookupMap(r.Explicit, r.Field) },
	}
}

// InputStrategy reads the job's raw input payload.
func InputStrategy() Strategy {
	return Strategy{
		Source: constant("input"),
		Lookup: func(r Request) (any, bool) {
			if r.Job == nil {
				return nil, false
			}
			return lookupMap(r.Job.Input.Payload, r.Field)
		},
	}
}

// FallbackStageStrategy reads the output of the declared upstream stage.
// Only a successful stage is consulted.
func FallbackStageStrategy() Strategy {
	return Strategy{
		Source: func(r Request) string {
			label := "stage:" + r.Fallback
			exec := r.Job.Stage(r.Fallback)
			switch {
			case exec == nil:
				return label + " (absent)"
			case exec.Status != jobs.StatusSuccess:
				return fmt.Sprintf("%s (status %s)", label, exec.Status)
			}
			return label
		},
		Applies: func(r Request) bool { return r.Fallback != "" },
		Lookup: func(r Request) (any, bool) {
			exec := r.Job.Stage(r.Fallback)
			if exec == nil || exec.Status != jobs.StatusSuccess {
				return nil, false
			}
			return lookupMap(exec.Output, r.fallbackField())
		},
	}
}

// DefaultsStrategy reads process-wide defaults.
func DefaultsStrategy(defaults Defaults) Strategy {
	return Strategy{
		Source: constant("defaults"),
		Lookup: func(r Request) (any, bool) {
			if defaults == nil {
				return nil, false
			}
			return defaults.DefaultValue(r.Field)
		},
	}
}
