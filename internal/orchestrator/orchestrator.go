package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"mediaflow/internal/events"
	"mediaflow/internal/executor"
	"mediaflow/internal/logging"
	"mediaflow/internal/tracker"
	"mediaflow/internal/workflow"
)

var (
	// ErrClosed is returned once Shutdown has started.
	ErrClosed = errors.New("orchestrator is shut down")
	// ErrNotRetryable is returned when retrying a workflow that completed.
	ErrNotRetryable = errors.New("workflow is not retryable")
)

// Store persists workflow records. Implementations must be safe for
// concurrent use.
type Store interface {
	SaveWorkflow(ctx context.Context, rec workflow.Instance) error
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context) ([]workflow.Instance, error)
}

// Options configures an Orchestrator. Zero values disable the corresponding
// limit.
type Options struct {
	Logger             *slog.Logger
	Store              Store
	Hub                *events.Hub
	MaxConcurrentSteps int
	DispatchRate       float64
	DispatchBurst      int
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	States     []workflow.State
	TemplateID string
	AssetID    string
}

func (f Filter) match(inst workflow.Instance) bool {
	if f.TemplateID != "" && inst.TemplateID != f.TemplateID {
		return false
	}
	if f.AssetID != "" && inst.AssetID != f.AssetID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if inst.State == s {
			return true
		}
	}
	return false
}

// Stats summarizes orchestrator load.
type Stats struct {
	Workflows          map[workflow.State]int `json:"workflows"`
	DispatchesInFlight int                    `json:"dispatches_in_flight"`
	MaxConcurrentSteps int                    `json:"max_concurrent_steps"`
}

// Orchestrator owns every workflow instance known to the process.
type Orchestrator struct {
	templates tracker.TemplateSource
	executors *executor.Registry
	store     Store
	hub       *events.Hub
	logger    *slog.Logger

	sem     chan struct{}
	limiter *rate.Limiter

	// execCtx parents every executor context; cancelled on shutdown.
	execCtx    context.Context
	execCancel context.CancelFunc
	dispatches sync.WaitGroup
	actors     sync.WaitGroup

	mu        sync.RWMutex
	instances map[string]*actor
	closed    bool
}

// New constructs an orchestrator resolving templates from templates and
// executors from executors.
func New(templates tracker.TemplateSource, executors *executor.Registry, opts Options) *Orchestrator {
	o := &Orchestrator{
		templates: templates,
		executors: executors,
		store:     opts.Store,
		hub:       opts.Hub,
		logger:    logging.NewComponentLogger(opts.Logger, "orchestrator"),
		instances: make(map[string]*actor),
	}
	if opts.MaxConcurrentSteps > 0 {
		o.sem = make(chan struct{}, opts.MaxConcurrentSteps)
	}
	if opts.DispatchRate > 0 {
		burst := opts.DispatchBurst
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(opts.DispatchRate), burst)
	}
	o.execCtx, o.execCancel = context.WithCancel(context.Background())
	return o
}

// Start instantiates templateID against assetID and begins execution.
func (o *Orchestrator) Start(ctx context.Context, templateID, assetID string) (workflow.Instance, error) {
	return o.start(ctx, templateID, assetID, "")
}

func (o *Orchestrator) start(ctx context.Context, templateID, assetID, retryOf string) (workflow.Instance, error) {
	var opts []tracker.Option
	if retryOf != "" {
		opts = append(opts, tracker.WithRetryOf(retryOf))
	}
	tr, err := tracker.Create(o.templates, templateID, assetID, opts...)
	if err != nil {
		return workflow.Instance{}, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return workflow.Instance{}, ErrClosed
	}
	a := newActor(o, tr)
	o.instances[tr.ID()] = a
	o.mu.Unlock()

	snap := tr.Snapshot()
	o.persist(ctx, snap)
	o.publish(events.Event{
		Type:       events.TypeWorkflowStateChanged,
		WorkflowID: snap.ID,
		TemplateID: snap.TemplateID,
		AssetID:    snap.AssetID,
		To:         string(snap.State),
		Reason:     reasonStarted(retryOf),
	})
	a.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.String(logging.FieldTemplateID, snap.TemplateID),
		logging.Int("steps", len(snap.Steps)),
		logging.String("retry_of", retryOf),
	)
	o.launch(a)
	return snap, nil
}

func reasonStarted(retryOf string) string {
	if retryOf == "" {
		return "started"
	}
	return "retry of " + retryOf
}

func (o *Orchestrator) launch(a *actor) {
	o.actors.Add(1)
	go func() {
		defer o.actors.Done()
		a.run()
	}()
}

// Status returns a snapshot of one workflow instance.
func (o *Orchestrator) Status(id string) (workflow.Instance, error) {
	a, err := o.lookup(id)
	if err != nil {
		return workflow.Instance{}, err
	}
	return a.tr.Snapshot(), nil
}

// List returns snapshots of instances matching filter, oldest first.
func (o *Orchestrator) List(filter Filter) []workflow.Instance {
	o.mu.RLock()
	actors := make([]*actor, 0, len(o.instances))
	for _, a := range o.instances {
		actors = append(actors, a)
	}
	o.mu.RUnlock()

	out := make([]workflow.Instance, 0, len(actors))
	for _, a := range actors {
		snap := a.tr.Snapshot()
		if filter.match(snap) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel moves a workflow to Cancelled and signals in-flight executors to
// stop without waiting for them. Cancelling a terminal workflow is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	return o.control(ctx, id, opCancel)
}

// Pause stops dispatching new steps. Running steps finish normally.
func (o *Orchestrator) Pause(ctx context.Context, id string) error {
	return o.control(ctx, id, opPause)
}

// Resume continues a paused workflow.
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	return o.control(ctx, id, opResume)
}

func (o *Orchestrator) control(ctx context.Context, id string, op controlOp) error {
	if o.isClosed() {
		return ErrClosed
	}
	a, err := o.lookup(id)
	if err != nil {
		return err
	}
	return a.call(ctx, op)
}

// Retry starts a new instance of a Failed or Cancelled workflow's template
// and asset. The new instance records the original in RetryOf.
func (o *Orchestrator) Retry(ctx context.Context, id string) (workflow.Instance, error) {
	a, err := o.lookup(id)
	if err != nil {
		return workflow.Instance{}, err
	}
	snap := a.tr.Snapshot()
	switch snap.State {
	case workflow.StateFailed, workflow.StateCancelled:
	case workflow.StateCompleted:
		return workflow.Instance{}, fmt.Errorf("%w: workflow %s completed", ErrNotRetryable, id)
	default:
		return workflow.Instance{}, fmt.Errorf("%w: workflow %s is %s", workflow.ErrWorkflowActive, id, snap.State)
	}
	return o.start(ctx, snap.TemplateID, snap.AssetID, id)
}

// Archive removes a terminal workflow from memory and the store.
func (o *Orchestrator) Archive(ctx context.Context, id string) error {
	o.mu.Lock()
	a, ok := o.instances[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("workflow %s: %w", id, workflow.ErrNotFound)
	}
	if state := a.tr.State(); !state.Terminal() {
		o.mu.Unlock()
		return fmt.Errorf("%w: workflow %s is %s", workflow.ErrWorkflowActive, id, state)
	}
	delete(o.instances, id)
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.DeleteWorkflow(ctx, id); err != nil {
			return fmt.Errorf("archive workflow %s: %w", id, err)
		}
	}
	a.logger.Info("workflow archived", logging.String(logging.FieldEventType, "workflow_archived"))
	return nil
}

// Restore loads every stored workflow. Non-terminal instances resume
// execution; in-flight steps restart from Pending. It returns the number of
// resumed workflows.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	if o.store == nil {
		return 0, nil
	}
	records, err := o.store.ListWorkflows(ctx)
	if err != nil {
		return 0, fmt.Errorf("load workflows: %w", err)
	}
	resumed := 0
	for _, rec := range records {
		o.mu.RLock()
		_, known := o.instances[rec.ID]
		o.mu.RUnlock()
		if known {
			continue
		}
		tr, err := tracker.Restore(rec, o.templates)
		if err != nil {
			logging.WarnWithContext(o.logger, "workflow restore skipped", "workflow_restore_failed",
				logging.String(logging.FieldWorkflowID, rec.ID),
				logging.String(logging.FieldTemplateID, rec.TemplateID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "workflow stays in the store but is not tracked"),
				logging.String(logging.FieldErrorHint, "register the template again or archive the workflow"),
			)
			continue
		}
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return resumed, ErrClosed
		}
		a := newActor(o, tr)
		o.instances[tr.ID()] = a
		o.mu.Unlock()

		if tr.State().Terminal() {
			a.finish()
			continue
		}
		o.persist(ctx, tr.Snapshot())
		a.logger.Info("workflow restored",
			logging.String(logging.FieldEventType, "workflow_restored"),
			logging.String("state", string(tr.State())),
		)
		o.launch(a)
		resumed++
	}
	return resumed, nil
}

// Shutdown stops every actor and cancels in-flight executors without
// changing persisted workflow state, then waits for dispatch goroutines or
// ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	actors := make([]*actor, 0, len(o.instances))
	for _, a := range o.instances {
		actors = append(actors, a)
	}
	o.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
	o.execCancel()

	done := make(chan struct{})
	go func() {
		o.actors.Wait()
		o.dispatches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports workflow counts by state and dispatch load.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	actors := make([]*actor, 0, len(o.instances))
	for _, a := range o.instances {
		actors = append(actors, a)
	}
	o.mu.RUnlock()

	stats := Stats{Workflows: make(map[workflow.State]int)}
	for _, a := range actors {
		stats.Workflows[a.tr.State()]++
	}
	if o.sem != nil {
		stats.DispatchesInFlight = len(o.sem)
		stats.MaxConcurrentSteps = cap(o.sem)
	}
	return stats
}

func (o *Orchestrator) lookup(id string) (*actor, error) {
	id = strings.TrimSpace(id)
	o.mu.RLock()
	a, ok := o.instances[id]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, workflow.ErrNotFound)
	}
	return a, nil
}

func (o *Orchestrator) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

func (o *Orchestrator) publish(evt events.Event) {
	o.hub.Publish(evt)
}

func (o *Orchestrator) persist(ctx context.Context, rec workflow.Instance) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveWorkflow(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Error("persist workflow failed",
			logging.String(logging.FieldWorkflowID, rec.ID),
			logging.String(logging.FieldEventType, "workflow_persist_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions and free space"),
		)
	}
}
