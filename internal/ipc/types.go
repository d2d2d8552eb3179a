package ipc

import (
	"mediaflow/internal/api"
	"mediaflow/internal/template"
)

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon without exiting the process.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse mirrors the HTTP status payload.
type StatusResponse = api.DaemonStatus

// Workflow mirrors the HTTP API workflow DTO.
type Workflow = api.Workflow

// Template mirrors the HTTP API template summary.
type Template = api.Template

// WorkflowStartRequest instantiates a template against an asset.
type WorkflowStartRequest struct {
	Template string `json:"template"`
	Asset    string `json:"asset"`
}

// WorkflowResponse carries one workflow snapshot.
type WorkflowResponse struct {
	Workflow Workflow `json:"workflow"`
}

// WorkflowListRequest filters workflow listing.
type WorkflowListRequest struct {
	States   []string `json:"states"`
	Template string   `json:"template"`
	Asset    string   `json:"asset"`
}

// WorkflowListResponse contains matching workflows, oldest first.
type WorkflowListResponse struct {
	Workflows []Workflow `json:"workflows"`
}

// WorkflowRequest addresses a single workflow.
type WorkflowRequest struct {
	ID string `json:"id"`
}

// WorkflowControlResponse reports the workflow after a control operation.
// Workflow is empty after an archive.
type WorkflowControlResponse struct {
	Workflow *Workflow `json:"workflow,omitempty"`
}

// TemplateListRequest lists registered templates.
type TemplateListRequest struct{}

// TemplateListResponse contains registered templates sorted by id.
type TemplateListResponse struct {
	Templates []Template `json:"templates"`
}

// TemplateShowRequest fetches a full template definition.
type TemplateShowRequest struct {
	ID string `json:"id"`
}

// TemplateShowResponse carries the full template definition.
type TemplateShowResponse struct {
	Template template.Template `json:"template"`
}

// TemplateRegisterRequest carries a template definition.
type TemplateRegisterRequest struct {
	Template template.Template `json:"template"`
}

// TemplateRegisterResponse reports the registration outcome.
type TemplateRegisterResponse = api.TemplateResponse

// EventsRequest reads the event log after a cursor.
type EventsRequest struct {
	Since uint64 `json:"since"`
	Limit int    `json:"limit"`
	Wait  bool   `json:"wait"`
}

// EventsResponse carries events and the cursor for the next call.
type EventsResponse = api.EventListResponse

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification status.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// DependencyStatus describes availability of an external binary.
type DependencyStatus = api.DependencyStatus

// CheckResult mirrors a preflight check.
type CheckResult = api.CheckResult
