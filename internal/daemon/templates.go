package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mediaflow/internal/logging"
	"mediaflow/internal/template"
	"mediaflow/internal/workflow"
)

// loadTemplates publishes stored templates first so instances persisted
// against them can be restored, then built-ins and the templates directory.
// A conflicting or invalid definition is logged and skipped.
func (d *Daemon) loadTemplates(ctx context.Context) error {
	stored, err := d.store.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("load stored templates: %w", err)
	}
	for _, tpl := range stored {
		d.publishTemplate(ctx, tpl, "store")
	}

	if d.cfg.Orchestrator.BuiltinTemplates {
		for _, tpl := range template.Builtins() {
			d.publishTemplate(ctx, tpl, "builtin")
		}
	}

	if dir := strings.TrimSpace(d.cfg.Paths.TemplatesDir); dir != "" {
		tpls, err := template.LoadDir(dir)
		if err != nil {
			logging.WarnWithContext(d.logger, "template directory unreadable", "template_dir_failed",
				logging.String("dir", dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check templates_dir and the JSON files in it"),
			)
		}
		for _, tpl := range tpls {
			d.publishTemplate(ctx, tpl, dir)
		}
	}
	return nil
}

func (d *Daemon) publishTemplate(ctx context.Context, tpl template.Template, source string) {
	if _, _, err := d.registerTemplate(ctx, tpl); err != nil {
		logging.WarnWithContext(d.logger, "template skipped", "template_rejected",
			logging.String(logging.FieldTemplateID, tpl.ID),
			logging.String("source", source),
			logging.Error(err),
			logging.String(logging.FieldImpact, "workflows cannot be started from this template"),
			logging.String(logging.FieldErrorHint, "fix the definition or choose a new template id"),
		)
	}
}

// registerTemplate publishes tpl and persists it when newly added.
func (d *Daemon) registerTemplate(ctx context.Context, tpl template.Template) (*template.Compiled, bool, error) {
	compiled, created, err := d.templates.Register(tpl)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := d.store.SaveTemplate(ctx, compiled.Template, compiled.Hash); err != nil {
			return compiled, created, fmt.Errorf("persist template %s: %w", compiled.Template.ID, err)
		}
	}
	return compiled, created, nil
}

func isTemplateRejection(err error) bool {
	return errors.Is(err, workflow.ErrInvalidTemplate) || errors.Is(err, workflow.ErrTemplateExists)
}
