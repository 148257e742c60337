package worker

import (
	"context"
	"errors"
	"fmt"

	"mediaflow/internal/jobs"
	"mediaflow/internal/services"
)

// EnvWorkDir names the environment variable carrying the job working
// directory to subprocess workers.
const EnvWorkDir = "MEDIAFLOW_WORK_DIR"

// Request is a single stage invocation.
type Request struct {
	JobID   string         `json:"job_id"`
	Stage   string         `json:"stage"`
	Params  map[string]any `json:"params"`
	WorkDir string         `json:"work_dir"`
}

// Worker executes one stage and returns its output fields.
type Worker interface {
	Run(ctx context.Context, req Request) (map[string]any, error)
}

// Checker is implemented by workers that can report availability.
type Checker interface {
	Check(ctx context.Context) error
}

// Error wraps a worker failure with the message the worker reported.
type Error struct {
	Stage    string
	Message  string
	ExitCode int
	Timeout  bool
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Timeout {
		return fmt.Sprintf("worker %s timed out: %s", e.Stage, msg)
	}
	if e.ExitCode > 0 {
		return fmt.Sprintf("worker %s failed (exit %d): %s", e.Stage, e.ExitCode, msg)
	}
	return fmt.Sprintf("worker %s failed: %s", e.Stage, msg)
}

func (e *Error) Unwrap() []error {
	out := []error{services.ErrExternalTool}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func (e *Error) ErrorKind() string {
	if e.Timeout {
		return jobs.KindWorkerTimeout
	}
	return jobs.KindWorker
}

// Retryable is true only for timeouts; other worker failures need an
// explicit retry after the cause is fixed.
func (e *Error) Retryable() bool { return e.Timeout }

// classify converts a failure observed after ctx ended into a timeout error.
func classify(ctx context.Context, stage, message string, exitCode int, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &Error{Stage: stage, Message: "deadline exceeded", Timeout: true, Err: ctxErr}
		}
		return &Error{Stage: stage, Message: "cancelled", Err: ctxErr}
	}
	return &Error{Stage: stage, Message: message, ExitCode: exitCode, Err: err}
}
