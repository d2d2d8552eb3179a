package api

import (
	"encoding/json"

	"mediaflow/internal/events"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Workflow describes a workflow instance in a transport-friendly format.
type Workflow struct {
	ID           string   `json:"id"`
	TemplateID   string   `json:"templateId"`
	TemplateName string   `json:"templateName"`
	AssetID      string   `json:"assetId"`
	State        string   `json:"state"`
	Progress     float64  `json:"progress"`
	Reason       string   `json:"reason,omitempty"`
	RetryOf      string   `json:"retryOf,omitempty"`
	FailedSteps  []string `json:"failedSteps,omitempty"`
	CreatedAt    string   `json:"createdAt,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
	FinishedAt   string   `json:"finishedAt,omitempty"`
	Steps        []Step   `json:"steps"`
}

// Step describes one step of a workflow instance.
type Step struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	State       string          `json:"state"`
	DependsOn   []string        `json:"dependsOn,omitempty"`
	Attempt     int             `json:"attempt"`
	Progress    float64         `json:"progress"`
	Skippable   bool            `json:"skippable,omitempty"`
	Discarded   bool            `json:"discarded,omitempty"`
	Error       *StepError      `json:"error,omitempty"`
	StartedAt   string          `json:"startedAt,omitempty"`
	CompletedAt string          `json:"completedAt,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    []Attempt       `json:"attempts,omitempty"`
}

// StepError mirrors the normalized failure recorded on a step.
type StepError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Attempt captures one executor invocation.
type Attempt struct {
	Attempt    int    `json:"attempt"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Template summarizes a registered template.
type Template struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	Category         string   `json:"category"`
	EstimatedMinutes int      `json:"estimatedMinutes,omitempty"`
	Steps            int      `json:"steps"`
	Kinds            []string `json:"kinds"`
}

// CheckResult mirrors a preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running            bool               `json:"running"`
	PID                int                `json:"pid"`
	DatabasePath       string             `json:"databasePath"`
	LockFilePath       string             `json:"lockFilePath"`
	SocketPath         string             `json:"socketPath"`
	APIAddress         string             `json:"apiAddress,omitempty"`
	Workflows          map[string]int     `json:"workflows"`
	DispatchesInFlight int                `json:"dispatchesInFlight"`
	MaxConcurrentSteps int                `json:"maxConcurrentSteps"`
	Templates          int                `json:"templates"`
	Executors          []string           `json:"executors"`
	Schedules          []Schedule         `json:"schedules,omitempty"`
	Checks             []CheckResult      `json:"checks,omitempty"`
	Dependencies       []DependencyStatus `json:"dependencies,omitempty"`
}

// Schedule reports a configured cron trigger.
type Schedule struct {
	Name     string `json:"name"`
	Cron     string `json:"cron"`
	Template string `json:"template"`
	Asset    string `json:"asset"`
	Next     string `json:"next,omitempty"`
}

// StartWorkflowRequest is the body of POST /api/workflows.
type StartWorkflowRequest struct {
	Template string `json:"template"`
	Asset    string `json:"asset"`
}

// WorkflowListResponse wraps a collection of workflows.
type WorkflowListResponse struct {
	Workflows []Workflow `json:"workflows"`
}

// WorkflowResponse wraps a single workflow.
type WorkflowResponse struct {
	Workflow Workflow `json:"workflow"`
}

// TemplateListResponse wraps the registered templates.
type TemplateListResponse struct {
	Templates []Template `json:"templates"`
}

// TemplateResponse reports a registration outcome.
type TemplateResponse struct {
	Template Template `json:"template"`
	Created  bool     `json:"created"`
}

// EventListResponse carries a page of workflow events and the next cursor.
// First is the oldest sequence still buffered. Missed counts events after the
// requested cursor that were evicted before this read.
type EventListResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
	First  uint64         `json:"first"`
	Missed uint64         `json:"missed,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
