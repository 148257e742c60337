package services

import (
	"errors"
	"fmt"
	"strings"
)

// Markers classify failures independently of the message. jobs.StageErrorFrom
// and the retry policy match on them with errors.Is.
var (
	ErrExternalTool  = errors.New("worker failure")
	ErrValidation    = errors.New("invalid input")
	ErrConfiguration = errors.New("misconfiguration")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timed out")
	ErrTransient     = errors.New("transient failure")
)

// Wrap tags err with marker and prefixes "stage: operation: message". Empty
// parts are dropped. A nil marker is treated as ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	detail := joinNonEmpty(stage, operation, message)
	if detail == "" {
		detail = "stage failure"
	}
	if err == nil {
		return fmt.Errorf("%w: %s", marker, detail)
	}
	return fmt.Errorf("%w: %s: %w", marker, detail, err)
}

// IsRetryable reports whether resubmitting the same work may succeed.
func IsRetryable(err error) bool {
	return err != nil && (errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransient))
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ": ")
}
