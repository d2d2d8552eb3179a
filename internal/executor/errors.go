package executor

import (
	"context"
	"errors"
	"fmt"

	"mediaflow/internal/workflow"
)

var (
	// ErrPermanent marks failures that retrying cannot fix.
	ErrPermanent = errors.New("permanent failure")
	// ErrTimeout marks failures caused by an exceeded deadline.
	ErrTimeout = errors.New("step timed out")
)

// ErrorClassifier allows errors to declare their retry classification.
type ErrorClassifier interface {
	ErrorKind() workflow.ErrorKind
}

// Error wraps an executor failure with an explicit classification.
type Error struct {
	Kind workflow.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorKind() workflow.ErrorKind { return e.Kind }

// Transient wraps err as retryable.
func Transient(err error) error { return wrap(workflow.ErrorTransient, err) }

// Permanent wraps err as not retryable.
func Permanent(err error) error { return wrap(workflow.ErrorPermanent, err) }

// Timeout wraps err as a deadline failure.
func Timeout(err error) error { return wrap(workflow.ErrorTimeout, err) }

// Permanentf formats a permanent error.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

func wrap(kind workflow.ErrorKind, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Err: err}
}

// Classify maps err to an error kind. Explicit classifications win, then the
// marker sentinels, then context deadlines. Anything else is transient.
func Classify(err error) workflow.ErrorKind {
	if err == nil {
		return ""
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		switch kind := classifier.ErrorKind(); kind {
		case workflow.ErrorTransient, workflow.ErrorPermanent, workflow.ErrorTimeout:
			return kind
		}
	}
	switch {
	case errors.Is(err, ErrPermanent):
		return workflow.ErrorPermanent
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return workflow.ErrorTimeout
	default:
		return workflow.ErrorTransient
	}
}
