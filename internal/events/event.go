package events

import (
	"time"

	"mediaflow/internal/workflow"
)

// Type names an event kind.
type Type string

const (
	TypeStepStateChanged     Type = "step_state_changed"
	TypeWorkflowStateChanged Type = "workflow_state_changed"
	TypeStepProgress         Type = "step_progress"
)

// Event describes one observable state change of a workflow instance.
// Progress is the workflow aggregate (0-100) at publish time.
type Event struct {
	Sequence     uint64                `json:"seq"`
	Timestamp    time.Time             `json:"ts"`
	Type         Type                  `json:"type"`
	WorkflowID   string                `json:"workflow_id"`
	TemplateID   string                `json:"template_id,omitempty"`
	AssetID      string                `json:"asset_id,omitempty"`
	StepID       string                `json:"step_id,omitempty"`
	From         string                `json:"from,omitempty"`
	To           string                `json:"to,omitempty"`
	Attempt      int                   `json:"attempt,omitempty"`
	Progress     float64               `json:"progress"`
	StepProgress float64               `json:"step_progress,omitempty"`
	Error        *workflow.ErrorDetail `json:"error,omitempty"`
	Reason       string                `json:"reason,omitempty"`
}

// Terminal reports whether the event records a workflow reaching a terminal state.
func (e Event) Terminal() bool {
	return e.Type == TypeWorkflowStateChanged && workflow.State(e.To).Terminal()
}
