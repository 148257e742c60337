package jobs

import (
	"context"
	"errors"

	"mediaflow/internal/services"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrVersionConflict   = errors.New("job snapshot version conflict")
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrDuplicateStage    = errors.New("duplicate stage")
	ErrInvalidJob        = errors.New("invalid job")
)

// Error kinds persisted on StageError.
const (
	KindMissingParameter    = "missing_parameter"
	KindTemplateReference   = "template_reference"
	KindResourceUnavailable = "resource_unavailable"
	KindWorker              = "worker"
	KindWorkerTimeout       = "worker_timeout"
	KindSync                = "sync"
	KindInterrupted         = "interrupted"
	KindInternal            = "internal"
)

// ErrorClassifier lets domain errors declare the kind recorded on the stage.
type ErrorClassifier interface {
	ErrorKind() string
}

// RetryClassifier lets domain errors declare whether re-submission may clear them.
type RetryClassifier interface {
	Retryable() bool
}

// FieldDetailer exposes the parameter and sources behind a resolution failure.
type FieldDetailer interface {
	ErrorField() string
	ErrorSources() []string
}

// StageErrorFrom converts an error raised at the stage boundary into the
// persisted failure detail. Unclassified errors become internal failures.
func StageErrorFrom(err error) *StageError {
	if err == nil {
		return nil
	}
	var existing *StageError
	if errors.As(err, &existing) && existing != nil {
		cp := *existing
		return &cp
	}
	out := &StageError{Kind: KindInternal, Message: err.Error()}

	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		out.Kind = classifier.ErrorKind()
	} else if errors.Is(err, context.DeadlineExceeded) {
		out.Kind = KindWorkerTimeout
	}

	var retry RetryClassifier
	if errors.As(err, &retry) {
		out.Retryable = retry.Retryable()
	} else {
		out.Retryable = out.Kind == KindWorkerTimeout || services.IsRetryable(err)
	}

	var detail FieldDetailer
	if errors.As(err, &detail) {
		out.Field = detail.ErrorField()
		out.Sources = append([]string(nil), detail.ErrorSources()...)
	}
	return out
}
