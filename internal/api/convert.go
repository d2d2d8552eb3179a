package api

import (
	"errors"
	"slices"
	"time"

	"mediaflow/internal/template"
	"mediaflow/internal/workflow"
)

// FromInstance converts a workflow snapshot to its API representation. Steps
// follow order; ids missing from order are appended sorted.
func FromInstance(inst workflow.Instance, order []string) Workflow {
	dto := Workflow{
		ID:           inst.ID,
		TemplateID:   inst.TemplateID,
		TemplateName: inst.TemplateName,
		AssetID:      inst.AssetID,
		State:        string(inst.State),
		Progress:     inst.Progress,
		Reason:       inst.Reason,
		RetryOf:      inst.RetryOf,
		FailedSteps:  slices.Clone(inst.FailedSteps),
		CreatedAt:    formatTime(inst.CreatedAt),
		UpdatedAt:    formatTime(inst.UpdatedAt),
		FinishedAt:   formatOptionalTime(inst.FinishedAt),
	}

	seen := make(map[string]struct{}, len(inst.Steps))
	ids := make([]string, 0, len(inst.Steps))
	for _, id := range order {
		if _, ok := inst.Steps[id]; ok {
			ids = append(ids, id)
			seen[id] = struct{}{}
		}
	}
	for _, id := range inst.StepIDs() {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}

	dto.Steps = make([]Step, 0, len(ids))
	for _, id := range ids {
		dto.Steps = append(dto.Steps, fromStep(inst.Steps[id]))
	}
	return dto
}

func fromStep(step workflow.StepInstance) Step {
	dto := Step{
		ID:          step.ID,
		Name:        step.Name,
		Kind:        step.Kind,
		State:       string(step.State),
		DependsOn:   slices.Clone(step.DependsOn),
		Attempt:     step.Attempt,
		Progress:    step.Fraction() * 100,
		Skippable:   step.Skippable,
		Discarded:   step.Discarded,
		StartedAt:   formatOptionalTime(step.StartedAt),
		CompletedAt: formatOptionalTime(step.CompletedAt),
		Payload:     step.Payload,
	}
	if step.Error != nil {
		dto.Error = &StepError{Kind: string(step.Error.Kind), Message: step.Error.Message}
	}
	for _, rec := range step.Attempts {
		dto.Attempts = append(dto.Attempts, Attempt{
			Attempt:    rec.Attempt,
			StartedAt:  formatTime(rec.StartedAt),
			FinishedAt: formatOptionalTime(rec.FinishedAt),
			Outcome:    rec.Outcome,
			ErrorKind:  string(rec.ErrorKind),
			Message:    rec.Message,
		})
	}
	return dto
}

// StepOrder returns the declaration order of a template's steps.
func StepOrder(tpl template.Template) []string {
	ids := make([]string, 0, len(tpl.Steps))
	for _, step := range tpl.Steps {
		ids = append(ids, step.ID)
	}
	return ids
}

// FromTemplate summarizes a template definition.
func FromTemplate(tpl template.Template) Template {
	kinds := make([]string, 0, len(tpl.Steps))
	for _, step := range tpl.Steps {
		if !slices.Contains(kinds, step.Kind) {
			kinds = append(kinds, step.Kind)
		}
	}
	slices.Sort(kinds)
	return Template{
		ID:               tpl.ID,
		Name:             tpl.Name,
		Description:      tpl.Description,
		Category:         string(tpl.Category),
		EstimatedMinutes: tpl.EstimatedMinutes,
		Steps:            len(tpl.Steps),
		Kinds:            kinds,
	}
}

// FromTemplates summarizes a list of templates.
func FromTemplates(tpls []template.Template) []Template {
	out := make([]Template, 0, len(tpls))
	for _, tpl := range tpls {
		out = append(out, FromTemplate(tpl))
	}
	return out
}

// ErrorCode maps domain errors to stable codes for API clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, workflow.ErrNotFound):
		return "not_found"
	case errors.Is(err, workflow.ErrTemplateNotFound):
		return "template_not_found"
	case errors.Is(err, workflow.ErrInvalidTemplate):
		return "invalid_template"
	case errors.Is(err, workflow.ErrTemplateExists):
		return "template_exists"
	case errors.Is(err, workflow.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, workflow.ErrWorkflowActive):
		return "workflow_active"
	default:
		return "internal"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
