// Package tracker owns the mutable state of one workflow instance. Every step
// and workflow state change passes through a Tracker, which enforces the legal
// transition tables and hands out deep-copied snapshots to readers.
package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/template"
	"mediaflow/internal/workflow"
)

// TemplateSource resolves template ids to compiled templates.
type TemplateSource interface {
	Lookup(id string) (*template.Compiled, error)
}

// Outcome carries the data attached to a step transition.
type Outcome struct {
	Payload json.RawMessage
	Error   *workflow.ErrorDetail
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	tpl  *template.Compiled
	inst workflow.Instance
	now  func() time.Time
}

// Option customizes Create.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithRetryOf links the new instance to the workflow it re-runs.
func WithRetryOf(id string) Option {
	return func(t *Tracker) { t.inst.RetryOf = id }
}

// Create instantiates templateID against assetID with every step Pending.
func Create(src TemplateSource, templateID, assetID string, opts ...Option) (*Tracker, error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return nil, errors.New("asset id must be set")
	}
	tpl, err := src.Lookup(strings.TrimSpace(templateID))
	if err != nil {
		return nil, err
	}

	t := &Tracker{tpl: tpl, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	now := t.now().UTC()
	steps := make(map[string]workflow.StepInstance, len(tpl.Template.Steps))
	for _, def := range tpl.Template.Steps {
		weight := def.Weight
		if weight <= 0 {
			weight = 1
		}
		steps[def.ID] = workflow.StepInstance{
			ID:        def.ID,
			Name:      def.Name,
			Kind:      def.Kind,
			DependsOn: tpl.Graph.Dependencies(def.ID),
			Weight:    weight,
			Skippable: def.Skippable,
			State:     workflow.StepPending,
		}
	}
	t.inst = workflow.Instance{
		ID:           uuid.NewString(),
		TemplateID:   tpl.Template.ID,
		TemplateName: tpl.Template.Name,
		TemplateHash: tpl.Hash,
		AssetID:      assetID,
		State:        workflow.StateRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
		Steps:        steps,
		RetryOf:      t.inst.RetryOf,
	}
	return t, nil
}

// Restore rebuilds a tracker from a persisted record. In-flight steps of a
// non-terminal workflow return to Pending: their open attempt is closed as
// interrupted and does not count against the retry budget.
func Restore(rec workflow.Instance, src TemplateSource, opts ...Option) (*Tracker, error) {
	tpl, err := src.Lookup(rec.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("restore workflow %s: %w", rec.ID, err)
	}
	for _, def := range tpl.Template.Steps {
		if _, ok := rec.Steps[def.ID]; !ok {
			return nil, fmt.Errorf("restore workflow %s: record is missing step %q", rec.ID, def.ID)
		}
	}
	if len(rec.Steps) != len(tpl.Template.Steps) {
		return nil, fmt.Errorf("restore workflow %s: record has %d steps, template %s has %d",
			rec.ID, len(rec.Steps), tpl.Template.ID, len(tpl.Template.Steps))
	}

	t := &Tracker{tpl: tpl, inst: rec.Clone(), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.inst.State.Terminal() {
		return t, nil
	}
	now := t.now().UTC()
	for id, step := range t.inst.Steps {
		if !step.State.InFlight() {
			continue
		}
		closeOpenAttempt(&step, now, workflow.OutcomeInterrupted, "", "daemon restarted")
		if step.Attempt > 0 {
			step.Attempt--
		}
		step.State = workflow.StepPending
		t.inst.Steps[id] = step
	}
	t.inst.UpdatedAt = now
	return t, nil
}

// ID returns the workflow instance id.
func (t *Tracker) ID() string { return t.inst.ID }

// Template returns the compiled template the instance runs.
func (t *Tracker) Template() *template.Compiled { return t.tpl }

// State returns the workflow state.
func (t *Tracker) State() workflow.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inst.State
}

// Step returns a copy of one step.
func (t *Tracker) Step(id string) (workflow.StepInstance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	step, ok := t.inst.Steps[id]
	if !ok {
		return workflow.StepInstance{}, false
	}
	return step.Clone(), true
}

// StepStates returns the current state of every step.
func (t *Tracker) StepStates() map[string]workflow.StepState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inst.StepStates()
}

// AllSettled reports whether every step is Completed or Skipped.
func (t *Tracker) AllSettled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, step := range t.inst.Steps {
		if !step.State.Settled() {
			return false
		}
	}
	return true
}

// Inputs returns the payloads of a step's declared inputs that completed.
// Skipped inputs are omitted.
func (t *Tracker) Inputs(stepID string) map[string]json.RawMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.tpl.Inputs(stepID)
	out := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		step := t.inst.Steps[id]
		if step.State == workflow.StepCompleted && step.Payload != nil {
			out[id] = append(json.RawMessage(nil), step.Payload...)
		}
	}
	return out
}

// Transition applies a step state change. It fails with
// workflow.ErrIllegalTransition when the change is not in the step table,
// when dependencies are unsatisfied, or when the workflow is terminal.
func (t *Tracker) Transition(stepID string, to workflow.StepState, outcome Outcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	step, ok := t.inst.Steps[stepID]
	if !ok {
		return t.illegal(stepID, "", string(to), "unknown step")
	}
	from := step.State
	if t.inst.State.Terminal() {
		return t.illegal(stepID, string(from), string(to), "workflow is "+string(t.inst.State))
	}
	if !workflow.CanTransitionStep(from, to) {
		return t.illegal(stepID, string(from), string(to), "")
	}

	now := t.now().UTC()
	switch to {
	case workflow.StepReady:
		if from == workflow.StepPending && !t.depsSettledLocked(stepID) {
			return t.illegal(stepID, string(from), string(to), "dependencies not satisfied")
		}
		step.Attempt++
		step.Error = nil
	case workflow.StepRunning:
		if step.StartedAt == nil {
			step.StartedAt = &now
		}
		step.Attempts = append(step.Attempts, workflow.AttemptRecord{Attempt: step.Attempt, StartedAt: now})
	case workflow.StepCompleted:
		step.Payload = append(json.RawMessage(nil), outcome.Payload...)
		step.CompletedAt = &now
		step.Progress = 1
		closeOpenAttempt(&step, now, workflow.OutcomeCompleted, "", "")
	case workflow.StepFailed:
		detail := workflow.ErrorDetail{Kind: workflow.ErrorTransient, Message: "unknown error"}
		if outcome.Error != nil {
			detail = *outcome.Error
		}
		step.Error = &detail
		closeOpenAttempt(&step, now, workflow.OutcomeFailed, detail.Kind, detail.Message)
	case workflow.StepSkipped:
		step.CompletedAt = &now
	}
	step.State = to
	t.inst.Steps[stepID] = step
	t.inst.UpdatedAt = now
	return nil
}

// SetState applies a workflow-level state change. Terminal states are closed.
// Entering a terminal state marks in-flight steps as discarded.
func (t *Tracker) SetState(to workflow.State, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.inst.State
	if !workflow.CanTransitionState(from, to) {
		return &workflow.TransitionError{WorkflowID: t.inst.ID, From: string(from), To: string(to)}
	}
	now := t.now().UTC()
	t.inst.State = to
	t.inst.UpdatedAt = now
	if reason != "" {
		t.inst.Reason = reason
	}
	if !to.Terminal() {
		return nil
	}

	t.inst.FinishedAt = &now
	var failed []string
	for _, id := range t.inst.StepIDs() {
		step := t.inst.Steps[id]
		switch {
		case step.State == workflow.StepFailed:
			failed = append(failed, id)
		case step.State.InFlight():
			step.Discarded = true
			closeOpenAttempt(&step, now, workflow.OutcomeDiscarded, "", "workflow "+string(to))
			t.inst.Steps[id] = step
		}
	}
	t.inst.FailedSteps = failed
	return nil
}

// ReportProgress records fractional progress for the running attempt of a
// step. Progress is a high-water mark; lower values are ignored. It reports
// whether the stored value changed.
func (t *Tracker) ReportProgress(stepID string, attempt int, fraction float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inst.State.Terminal() {
		return false
	}
	step, ok := t.inst.Steps[stepID]
	if !ok || step.State != workflow.StepRunning || step.Attempt != attempt {
		return false
	}
	fraction = min(max(fraction, 0), 1)
	if fraction <= step.Progress {
		return false
	}
	step.Progress = fraction
	t.inst.Steps[stepID] = step
	return true
}

// Snapshot returns a deep copy with aggregate progress computed.
func (t *Tracker) Snapshot() workflow.Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := t.inst.Clone()
	snap.Progress = workflow.AggregateProgress(snap.Steps)
	return snap
}

// Progress returns the current aggregate progress (0-100).
func (t *Tracker) Progress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return workflow.AggregateProgress(t.inst.Steps)
}

// Record returns the storage-agnostic record of the instance.
func (t *Tracker) Record() workflow.Instance { return t.Snapshot() }

func (t *Tracker) depsSettledLocked(stepID string) bool {
	for _, dep := range t.tpl.Graph.Dependencies(stepID) {
		if !t.inst.Steps[dep].State.Settled() {
			return false
		}
	}
	return true
}

func (t *Tracker) illegal(stepID, from, to, reason string) error {
	return &workflow.TransitionError{
		WorkflowID: t.inst.ID,
		StepID:     stepID,
		From:       from,
		To:         to,
		Reason:     reason,
	}
}

func closeOpenAttempt(step *workflow.StepInstance, now time.Time, outcome string, kind workflow.ErrorKind, msg string) {
	if n := len(step.Attempts); n > 0 && step.Attempts[n-1].FinishedAt == nil {
		rec := &step.Attempts[n-1]
		rec.FinishedAt = &now
		rec.Outcome = outcome
		rec.ErrorKind = kind
		rec.Message = msg
	}
}
