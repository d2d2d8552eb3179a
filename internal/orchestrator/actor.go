package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"mediaflow/internal/dag"
	"mediaflow/internal/events"
	"mediaflow/internal/executor"
	"mediaflow/internal/logging"
	"mediaflow/internal/template"
	"mediaflow/internal/tracker"
	"mediaflow/internal/workflow"
)

type controlOp int

const (
	opCancel controlOp = iota
	opPause
	opResume
)

func (op controlOp) target() workflow.State {
	switch op {
	case opPause:
		return workflow.StatePaused
	case opResume:
		return workflow.StateRunning
	default:
		return workflow.StateCancelled
	}
}

type resultMsg struct {
	step    string
	attempt int
	payload json.RawMessage
	err     error
}

type retryMsg struct {
	step    string
	attempt int
}

type progressMsg struct {
	step     string
	attempt  int
	fraction float64
}

type controlMsg struct {
	op    controlOp
	reply chan error
}

// actor is the single writer for one workflow instance. Only its run
// goroutine touches frontier, queued, flights, and timers.
type actor struct {
	o        *Orchestrator
	tr       *tracker.Tracker
	tpl      *template.Compiled
	frontier *dag.Frontier
	logger   *slog.Logger

	mailbox chan any
	quit    chan struct{}
	done    chan struct{}
	stopMu  sync.Once
	doneMu  sync.Once

	queued  map[string]struct{}
	flights map[string]context.CancelFunc
	timers  map[string]*time.Timer
	dirty   bool
}

func newActor(o *Orchestrator, tr *tracker.Tracker) *actor {
	tpl := tr.Template()
	snap := tr.Snapshot()
	return &actor{
		o:        o,
		tr:       tr,
		tpl:      tpl,
		frontier: tpl.Graph.Frontier(snap.StepStates()),
		logger: o.logger.With(
			logging.String(logging.FieldWorkflowID, snap.ID),
			logging.String(logging.FieldAssetID, snap.AssetID),
		),
		mailbox: make(chan any, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		queued:  make(map[string]struct{}),
		flights: make(map[string]context.CancelFunc),
		timers:  make(map[string]*time.Timer),
	}
}

func (a *actor) run() {
	defer a.finish()
	a.resumeFailed()
	a.advance()
	a.flush()
	for !a.tr.State().Terminal() {
		select {
		case msg := <-a.mailbox:
			a.handle(msg)
			a.advance()
			a.flush()
		case <-a.quit:
			return
		}
	}
}

// finish releases timers and marks the actor as no longer accepting messages.
func (a *actor) finish() {
	a.doneMu.Do(func() {
		for id, timer := range a.timers {
			timer.Stop()
			delete(a.timers, id)
		}
		close(a.done)
	})
}

func (a *actor) stop() {
	a.stopMu.Do(func() { close(a.quit) })
}

// tryPost delivers msg only when the mailbox has room.
func (a *actor) tryPost(msg any) {
	select {
	case a.mailbox <- msg:
	case <-a.done:
	default:
	}
}

// post delivers msg unless the actor has exited.
func (a *actor) post(msg any) {
	select {
	case a.mailbox <- msg:
	case <-a.done:
	}
}

func (a *actor) halted() bool {
	select {
	case <-a.done:
		return true
	default:
		return a.tr.State().Terminal()
	}
}

func (a *actor) call(ctx context.Context, op controlOp) error {
	reply := make(chan error, 1)
	select {
	case a.mailbox <- controlMsg{op: op, reply: reply}:
	case <-a.done:
		return a.controlAfterExit(op)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-a.done:
		select {
		case err := <-reply:
			return err
		default:
			return a.controlAfterExit(op)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *actor) controlAfterExit(op controlOp) error {
	if op == opCancel {
		return nil
	}
	state := a.tr.State()
	return &workflow.TransitionError{
		WorkflowID: a.tr.ID(),
		From:       string(state),
		To:         string(op.target()),
		Reason:     "workflow is not active",
	}
}

func (a *actor) handle(msg any) {
	switch m := msg.(type) {
	case resultMsg:
		a.onResult(m)
	case retryMsg:
		a.onRetry(m)
	case progressMsg:
		a.publishProgress(m.step, m.attempt, m.fraction)
	case controlMsg:
		m.reply <- a.onControl(m.op)
	}
}

// resumeFailed applies failure policy to steps that were Failed when the
// instance was restored.
func (a *actor) resumeFailed() {
	for _, id := range a.tpl.Graph.Order() {
		step, _ := a.tr.Step(id)
		if step.State == workflow.StepFailed {
			a.afterFailure(id)
			if a.tr.State().Terminal() {
				return
			}
		}
	}
}

// advance cascades skips, promotes newly ready steps, dispatches queued
// steps when running, and completes the workflow once every step settled.
// It repeats while a synchronous failure during dispatch unblocks more work.
func (a *actor) advance() {
	for !a.tr.State().Terminal() {
		a.cascade()
		promoted := false
		for _, id := range a.frontier.Take() {
			step, _ := a.tr.Step(id)
			if step.State != workflow.StepPending {
				continue
			}
			if a.transition(id, workflow.StepReady, tracker.Outcome{}) {
				a.queued[id] = struct{}{}
				promoted = true
			}
		}
		dispatched := false
		if a.tr.State() == workflow.StateRunning && len(a.queued) > 0 {
			dispatched = true
			for _, id := range slices.Sorted(maps.Keys(a.queued)) {
				delete(a.queued, id)
				a.dispatch(id)
				if a.tr.State().Terminal() {
					return
				}
			}
		}
		if a.tr.AllSettled() {
			_ = a.setState(workflow.StateCompleted, "all steps completed or skipped")
			return
		}
		if !promoted && !dispatched {
			return
		}
	}
}

// cascade skips Pending steps whose dependencies were all skipped. Each skip
// may unblock further unreachable dependents, so it drains until empty.
func (a *actor) cascade() {
	for {
		ids := a.frontier.TakeUnreachable()
		if len(ids) == 0 {
			return
		}
		for _, id := range ids {
			step, _ := a.tr.Step(id)
			if step.State != workflow.StepPending {
				continue
			}
			if a.transition(id, workflow.StepSkipped, tracker.Outcome{}) {
				a.frontier.Skip(id)
			}
		}
	}
}

func (a *actor) dispatch(id string) {
	def, _ := a.tpl.Step(id)
	exec, ok := a.o.executors.Get(def.Kind)
	if !a.transition(id, workflow.StepRunning, tracker.Outcome{}) {
		return
	}
	step, _ := a.tr.Step(id)
	if !ok {
		a.onFailure(id, workflow.ErrorDetail{
			Kind:    workflow.ErrorPermanent,
			Message: fmt.Sprintf("no executor registered for kind %q", def.Kind),
		})
		return
	}

	snap := a.tr.Snapshot()
	ctx, cancel := context.WithCancel(a.o.execCtx)
	a.flights[id] = cancel
	j := job{
		exec:    exec,
		timeout: a.tpl.Timeout(id),
		req: executor.Request{
			WorkflowID: snap.ID,
			StepID:     id,
			AssetID:    snap.AssetID,
			Attempt:    step.Attempt,
			Config:     maps.Clone(def.Config),
			Inputs:     a.tr.Inputs(id),
		},
	}
	a.logger.Info("step dispatched",
		logging.String(logging.FieldEventType, "step_dispatched"),
		logging.String(logging.FieldStepID, id),
		logging.String("kind", def.Kind),
		logging.Int(logging.FieldAttempt, step.Attempt),
		logging.Duration("timeout", j.timeout),
	)
	a.o.dispatches.Add(1)
	go a.o.runStep(ctx, cancel, a, j)
}

func (a *actor) onResult(m resultMsg) {
	if cancel, ok := a.flights[m.step]; ok {
		cancel()
		delete(a.flights, m.step)
	}
	step, ok := a.tr.Step(m.step)
	if !ok || step.State != workflow.StepRunning || step.Attempt != m.attempt {
		a.logger.Debug("stale step result dropped",
			logging.String(logging.FieldEventType, "stale_result"),
			logging.String(logging.FieldStepID, m.step),
			logging.Int(logging.FieldAttempt, m.attempt),
		)
		return
	}

	if m.err == nil {
		if a.transition(m.step, workflow.StepCompleted, tracker.Outcome{Payload: m.payload}) {
			a.frontier.Resolve(m.step)
			a.logger.Info("step completed",
				logging.String(logging.FieldEventType, "step_completed"),
				logging.String(logging.FieldStepID, m.step),
				logging.Int(logging.FieldAttempt, m.attempt),
			)
		}
		return
	}

	kind := executor.Classify(m.err)
	if def, _ := a.tpl.Step(m.step); kind == workflow.ErrorTimeout && def.TimeoutPermanent {
		kind = workflow.ErrorPermanent
	}
	a.onFailure(m.step, workflow.ErrorDetail{Kind: kind, Message: m.err.Error()})
}

func (a *actor) onFailure(id string, detail workflow.ErrorDetail) {
	if !a.transition(id, workflow.StepFailed, tracker.Outcome{Error: &detail}) {
		return
	}
	step, _ := a.tr.Step(id)
	a.logger.Warn("step failed",
		logging.String(logging.FieldEventType, "step_failed"),
		logging.String(logging.FieldStepID, id),
		logging.Int(logging.FieldAttempt, step.Attempt),
		logging.String("error_kind", string(detail.Kind)),
		logging.String("error_message", detail.Message),
	)
	a.afterFailure(id)
}

// afterFailure applies retry policy to a Failed step: schedule a retry while
// attempts remain, skip it when skippable, otherwise fail the workflow.
func (a *actor) afterFailure(id string) {
	step, _ := a.tr.Step(id)
	def, _ := a.tpl.Step(id)
	policy := a.tpl.Retry(id)
	kind := workflow.ErrorTransient
	message := "unknown error"
	if step.Error != nil {
		kind, message = step.Error.Kind, step.Error.Message
	}

	if kind.Retryable() && step.Attempt < policy.MaxAttempts {
		delay := policy.Backoff(step.Attempt)
		attempt := step.Attempt
		a.timers[id] = time.AfterFunc(delay, func() { a.post(retryMsg{step: id, attempt: attempt}) })
		a.logger.Info("step retry scheduled",
			logging.String(logging.FieldEventType, "step_retry_scheduled"),
			logging.String(logging.FieldStepID, id),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Int("max_attempts", policy.MaxAttempts),
			logging.Duration("delay", delay),
		)
		return
	}

	if def.Skippable {
		if a.transition(id, workflow.StepSkipped, tracker.Outcome{}) {
			a.frontier.Skip(id)
			logging.WarnWithContext(a.logger, "step skipped after failure", "step_skipped",
				logging.String(logging.FieldStepID, id),
				logging.Int(logging.FieldAttempt, step.Attempt),
				logging.String("error_kind", string(kind)),
				logging.String(logging.FieldImpact, "dependents that only rely on this step are skipped"),
			)
		}
		return
	}

	_ = a.setState(workflow.StateFailed, fmt.Sprintf("step %s failed after %d attempt(s): %s", id, step.Attempt, message))
}

func (a *actor) onRetry(m retryMsg) {
	delete(a.timers, m.step)
	step, ok := a.tr.Step(m.step)
	if !ok || step.State != workflow.StepFailed || step.Attempt != m.attempt {
		return
	}
	if a.transition(m.step, workflow.StepReady, tracker.Outcome{}) {
		a.queued[m.step] = struct{}{}
	}
}

func (a *actor) onControl(op controlOp) error {
	switch op {
	case opCancel:
		if a.tr.State().Terminal() {
			return nil
		}
		if err := a.setState(workflow.StateCancelled, "cancelled by operator"); err != nil {
			return err
		}
		for id, cancel := range a.flights {
			cancel()
			delete(a.flights, id)
		}
		return nil
	default:
		return a.setState(op.target(), "")
	}
}

// transition applies a step change and publishes it. Failures indicate a
// defect and are logged loudly.
func (a *actor) transition(id string, to workflow.StepState, out tracker.Outcome) bool {
	before, _ := a.tr.Step(id)
	if err := a.tr.Transition(id, to, out); err != nil {
		logging.ErrorWithContext(a.logger, "illegal step transition", "illegal_transition",
			logging.String(logging.FieldStepID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "report this as a bug"),
		)
		return false
	}
	a.dirty = true
	after, _ := a.tr.Step(id)
	snap := a.tr.Snapshot()
	a.o.publish(events.Event{
		Type:       events.TypeStepStateChanged,
		WorkflowID: snap.ID,
		TemplateID: snap.TemplateID,
		AssetID:    snap.AssetID,
		StepID:     id,
		From:       string(before.State),
		To:         string(to),
		Attempt:    after.Attempt,
		Progress:   snap.Progress,
		Error:      after.Error,
	})
	return true
}

func (a *actor) setState(to workflow.State, reason string) error {
	from := a.tr.State()
	if err := a.tr.SetState(to, reason); err != nil {
		return err
	}
	a.dirty = true
	snap := a.tr.Snapshot()
	a.o.publish(events.Event{
		Type:       events.TypeWorkflowStateChanged,
		WorkflowID: snap.ID,
		TemplateID: snap.TemplateID,
		AssetID:    snap.AssetID,
		From:       string(from),
		To:         string(to),
		Progress:   snap.Progress,
		Reason:     reason,
	})
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "workflow_state_changed"),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
		logging.Float64("progress", snap.Progress),
	}
	if reason != "" {
		attrs = append(attrs, logging.String("reason", reason))
	}
	if to == workflow.StateFailed {
		attrs = append(attrs, logging.Any("failed_steps", snap.FailedSteps))
		a.logger.Error("workflow failed", logging.Args(attrs...)...)
	} else {
		a.logger.Info("workflow state changed", logging.Args(attrs...)...)
	}
	return nil
}

func (a *actor) publishProgress(id string, attempt int, fraction float64) {
	if a.tr.State().Terminal() {
		return
	}
	a.o.publish(events.Event{
		Type:         events.TypeStepProgress,
		WorkflowID:   a.tr.ID(),
		TemplateID:   a.tpl.Template.ID,
		StepID:       id,
		Attempt:      attempt,
		Progress:     a.tr.Progress(),
		StepProgress: fraction,
	})
}

func (a *actor) flush() {
	if !a.dirty {
		return
	}
	a.dirty = false
	a.o.persist(context.Background(), a.tr.Snapshot())
}
