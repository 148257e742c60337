package resolve

import (
	"errors"
	"fmt"
	"strings"

	"mediaflow/internal/jobs"
)

var (
	ErrMissingParameter  = errors.New("missing parameter")
	ErrTemplateReference = errors.New("template reference")
)

// MissingParameterError reports a required field no source could supply.
type MissingParameterError struct {
	Field   string
	Stage   string
	Sources []string
}

func (e *MissingParameterError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "missing parameter %q", e.Field)
	if e.Stage != "" {
		fmt.Fprintf(&b, " for stage %s", e.Stage)
	}
	fmt.Fprintf(&b, " (checked: %s)", strings.Join(e.Sources, ", "))
	return b.String()
}

func (e *MissingParameterError) Is(target error) bool { return target == ErrMissingParameter }

func (e *MissingParameterError) ErrorKind() string { return jobs.KindMissingParameter }

func (e *MissingParameterError) Retryable() bool { return false }

func (e *MissingParameterError) ErrorField() string { return e.Field }

func (e *MissingParameterError) ErrorSources() []string { return e.Sources }

// TemplateError reports a template whose reference cannot be satisfied.
type TemplateError struct {
	Field    string
	Template string
	Reason   string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template for %q: %s (template %q)", e.Field, e.Reason, e.Template)
}

func (e *TemplateError) Is(target error) bool { return target == ErrTemplateReference }

func (e *TemplateError) ErrorKind() string { return jobs.KindTemplateReference }

func (e *TemplateError) Retryable() bool { return false }

func (e *TemplateError) ErrorField() string { return e.Field }

func (e *TemplateError) ErrorSources() []string { return nil }
