package logging

import (
	"context"
	"log/slog"

	"mediaflow/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldWorkflowID is the standardized structured logging key for workflow instance identifiers.
	FieldWorkflowID = "workflow_id"
	// FieldStepID is the standardized structured logging key for step identifiers.
	FieldStepID = "step_id"
	// FieldAssetID is the standardized structured logging key for asset identifiers.
	FieldAssetID = "asset_id"
	// FieldTemplateID is the standardized structured logging key for template identifiers.
	FieldTemplateID = "template_id"
	// FieldAttempt is the standardized structured logging key for step attempt numbers.
	FieldAttempt = "attempt"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (e.g. step_dispatched).
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for a failure.
	FieldErrorHint = "error_hint"
	// FieldImpact describes what a warning means for the workflow.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.WorkflowIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorkflowID, id))
	}
	if step, ok := services.StepIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStepID, step))
	}
	if asset, ok := services.AssetIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldAssetID, asset))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
