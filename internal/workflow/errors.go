package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTemplate marks templates rejected at registration time.
	ErrInvalidTemplate = errors.New("invalid template")
	// ErrTemplateNotFound is returned when a template id is unknown.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrTemplateExists is returned when a published template id is re-registered with different content.
	ErrTemplateExists = errors.New("template already registered with different content")
	// ErrNotFound is returned when a workflow instance id is unknown.
	ErrNotFound = errors.New("workflow not found")
	// ErrIllegalTransition indicates an impossible state change was attempted.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrWorkflowActive is returned for operations that require a terminal workflow.
	ErrWorkflowActive = errors.New("workflow is still active")
)

// ErrorKind classifies executor failures for the retry policy.
type ErrorKind string

const (
	ErrorTransient ErrorKind = "transient"
	ErrorPermanent ErrorKind = "permanent"
	ErrorTimeout   ErrorKind = "timeout"
)

// Retryable reports whether the kind may consume another attempt.
func (k ErrorKind) Retryable() bool {
	return k == ErrorTransient || k == ErrorTimeout
}

// TransitionError describes a rejected state change.
type TransitionError struct {
	WorkflowID string
	StepID     string
	From       string
	To         string
	Reason     string
}

func (e *TransitionError) Error() string {
	subject := "workflow " + e.WorkflowID
	if e.StepID != "" {
		subject = fmt.Sprintf("step %s of workflow %s", e.StepID, e.WorkflowID)
	}
	msg := fmt.Sprintf("illegal transition for %s: %s -> %s", subject, e.From, e.To)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }
