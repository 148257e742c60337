package services

import "context"

type contextKey uint8

const (
	jobIDKey contextKey = iota
	stageKey
	requestIDKey
)

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithJobID tags ctx with the job being executed.
func WithJobID(ctx context.Context, id string) context.Context { return withValue(ctx, jobIDKey, id) }

func JobIDFromContext(ctx context.Context) (string, bool) { return lookup(ctx, jobIDKey) }

// WithStage tags ctx with the stage being executed.
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return lookup(ctx, stageKey) }

// WithRequestID tags ctx with the API request that triggered the work; logs
// emit it as correlation_id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return lookup(ctx, requestIDKey) }
