package logging

import (
	"context"
	"log/slog"

	"mediaflow/internal/services"
)

// Structured field keys shared by every component.
const (
	FieldComponent     = "component"
	FieldJobID         = "job_id"
	FieldStage         = "stage"
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a line for filtering: stage_start, lock_acquired, artifact_sync_skip.
	FieldEventType = "event_type"
	// FieldErrorHint is the operator's suggested next step.
	FieldErrorHint = "error_hint"
	// FieldImpact describes what a warning means for the job.
	FieldImpact = "impact"
)

// ContextFields returns the job, stage and correlation attrs stored in ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, JobID(id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, Stage(stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns logger annotated with ContextFields(ctx).
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(attrsToArgs(fields)...)
	}
	return logger
}
