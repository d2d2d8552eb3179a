// Package schedule starts workflows on cron expressions from config.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/workflow"
)

// Starter launches a workflow. *orchestrator.Orchestrator satisfies it.
type Starter interface {
	Start(ctx context.Context, templateID, assetID string) (workflow.Instance, error)
}

// Scheduler owns a cron runner bound to a Starter.
type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	logger  *slog.Logger
	ctx     context.Context
	now     func() time.Time
	entries map[string]cron.EntryID
}

// New parses every schedule. An invalid cron expression fails the whole set.
func New(ctx context.Context, schedules []config.Schedule, starter Starter, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		starter: starter,
		logger:  logging.NewComponentLogger(logger, "schedule"),
		ctx:     ctx,
		now:     time.Now,
		entries: make(map[string]cron.EntryID, len(schedules)),
	}
	for _, sched := range schedules {
		sched := sched
		id, err := s.cron.AddFunc(sched.Cron, func() { s.fire(sched) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sched.Name, err)
		}
		s.entries[sched.Name] = id
	}
	return s, nil
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	if len(s.entries) == 0 {
		return
	}
	s.cron.Start()
	s.logger.Info("scheduler started", logging.Int("schedules", len(s.entries)))
}

// Stop halts the runner and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next reports the next activation of a named schedule.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	return entry.Next, !entry.Next.IsZero()
}

func (s *Scheduler) fire(sched config.Schedule) {
	asset := ExpandAsset(sched.Asset, s.now())
	inst, err := s.starter.Start(s.ctx, sched.Template, asset)
	if err != nil {
		logging.WarnWithContext(s.logger, "scheduled workflow not started", "schedule_start_failed",
			logging.String("schedule", sched.Name),
			logging.String(logging.FieldTemplateID, sched.Template),
			logging.String(logging.FieldAssetID, asset),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the template id and asset in the schedule"),
		)
		return
	}
	s.logger.Info("scheduled workflow started",
		logging.String("schedule", sched.Name),
		logging.String(logging.FieldWorkflowID, inst.ID),
		logging.String(logging.FieldTemplateID, inst.TemplateID),
		logging.String(logging.FieldAssetID, inst.AssetID),
	)
}

// ExpandAsset substitutes {{date}} (YYYY-MM-DD) and {{datetime}}
// (YYYYMMDD-HHMMSS) in an asset template.
func ExpandAsset(asset string, now time.Time) string {
	r := strings.NewReplacer(
		"{{date}}", now.Format("2006-01-02"),
		"{{datetime}}", now.Format("20060102-150405"),
	)
	return r.Replace(asset)
}
