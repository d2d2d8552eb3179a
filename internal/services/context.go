package services

import "context"

type contextKey string

const (
	workflowIDKey contextKey = "workflow_id"
	stepIDKey     contextKey = "step_id"
	assetIDKey    contextKey = "asset_id"
	requestIDKey  contextKey = "request_id"
)

// WithWorkflowID annotates context with the workflow instance identifier.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, workflowIDKey, id)
}

// WorkflowIDFromContext extracts the workflow instance identifier if present.
func WorkflowIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(workflowIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStepID annotates context with the step identifier.
func WithStepID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, stepIDKey, id)
}

// StepIDFromContext returns the step identifier if present.
func StepIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stepIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAssetID annotates context with the target asset identifier.
func WithAssetID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, assetIDKey, id)
}

// AssetIDFromContext returns the asset identifier if present.
func AssetIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(assetIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
