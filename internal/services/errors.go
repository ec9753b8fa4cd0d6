package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrCancelled     = errors.New("cancelled")
	ErrQueueFull     = errors.New("queue full")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether a failure is worth retrying locally. Only
// transient conditions qualify; everything else is deterministic given the
// same input and must surface to the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// KindClassifier allows errors to declare their taxonomy kind for job failure
// records. Stage packages attach kinds with WithKind; the scheduler persists
// the kind on the job and forwards it to the delivery interface.
type KindClassifier interface {
	ErrorKind() string
}

type kindError struct {
	kind string
	err  error
}

func (e *kindError) Error() string     { return e.err.Error() }
func (e *kindError) Unwrap() error     { return e.err }
func (e *kindError) ErrorKind() string { return e.kind }

// WithKind tags err with a taxonomy kind. The kind survives further wrapping
// via errors.As.
func WithKind(kind string, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: strings.TrimSpace(kind), err: err}
}

// Kind extracts the taxonomy kind from an error chain. Errors without an
// explicit kind fall back to coarse classifications so a job failure record
// is never blank.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var classifier KindClassifier
	if errors.As(err, &classifier) {
		if kind := classifier.ErrorKind(); kind != "" {
			return kind
		}
	}
	switch {
	case errors.Is(err, ErrQueueFull):
		return "resource_exhausted"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
