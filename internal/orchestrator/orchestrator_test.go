package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaflow/internal/events"
	"mediaflow/internal/executor"
	"mediaflow/internal/template"
	"mediaflow/internal/workflow"
)

type staticSource map[string]*template.Compiled

func (s staticSource) Lookup(id string) (*template.Compiled, error) {
	c, ok := s[id]
	if !ok {
		return nil, workflow.ErrTemplateNotFound
	}
	return c, nil
}

var fastRetry = template.Defaults{Retry: template.RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   template.Duration(time.Millisecond),
	Multiplier:  2,
	MaxDelay:    template.Duration(10 * time.Millisecond),
}}

func sourceOf(t *testing.T, tpls ...template.Template) staticSource {
	t.Helper()
	src := staticSource{}
	for _, tpl := range tpls {
		c, err := template.Compile(tpl, fastRetry)
		if err != nil {
			t.Fatalf("Compile %s: %v", tpl.ID, err)
		}
		src[tpl.ID] = c
	}
	return src
}

type memStore struct {
	mu   sync.Mutex
	recs map[string]workflow.Instance
}

func newMemStore() *memStore { return &memStore{recs: make(map[string]workflow.Instance)} }

func (m *memStore) SaveWorkflow(_ context.Context, rec workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec.Clone()
	return nil
}

func (m *memStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

func (m *memStore) ListWorkflows(context.Context) ([]workflow.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]workflow.Instance, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *memStore) get(id string) (workflow.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	return rec, ok
}

// counting wraps an executor and records invocations per step.
type counting struct {
	mu    sync.Mutex
	calls map[string]int
	next  executor.Func
}

func newCounting(fn executor.Func) *counting {
	return &counting{calls: make(map[string]int), next: fn}
}

func (c *counting) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	c.mu.Lock()
	c.calls[req.StepID]++
	c.mu.Unlock()
	return c.next(ctx, req)
}

func (c *counting) count(step string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[step]
}

func succeed(_ context.Context, req executor.Request) (executor.Result, error) {
	req.ReportProgress(0.5)
	return executor.JSONResult(map[string]string{"step": req.StepID})
}

func newTestOrchestrator(t *testing.T, src staticSource, execs map[string]executor.Executor, opts Options) *Orchestrator {
	t.Helper()
	reg := executor.NewRegistry()
	for kind, exec := range execs {
		reg.Register(kind, exec)
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub(4096)
	}
	o := New(src, reg, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func waitState(t *testing.T, o *Orchestrator, id string, want ...workflow.State) workflow.Instance {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := o.Status(id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		for _, s := range want {
			if snap.State == s {
				return snap
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow %s stuck in %s (want %v): %+v", id, snap.State, want, snap.Steps)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitStep(t *testing.T, o *Orchestrator, id, step string, want workflow.StepState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, _ := o.Status(id)
		if snap.Steps[step].State == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("step %s stuck in %s (want %s)", step, snap.Steps[step].State, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func workflowEvents(hub *events.Hub, id string) []events.Event {
	all, _ := hub.Tail(0)
	var out []events.Event
	for _, evt := range all {
		if evt.WorkflowID == id {
			out = append(out, evt)
		}
	}
	return out
}

func TestLinearChainCompletes(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "linear", Steps: []template.Step{
		{ID: "a", Kind: "work"},
		{ID: "b", Kind: "work", DependsOn: []string{"a"}},
		{ID: "c", Kind: "work", DependsOn: []string{"b"}},
	}})
	hub := events.NewHub(4096)
	store := newMemStore()
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"work": executor.Func(succeed)}, Options{Hub: hub, Store: store})

	inst, err := o.Start(context.Background(), "linear", "asset-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitState(t, o, inst.ID, workflow.StateCompleted)
	if snap.Progress != 100 {
		t.Fatalf("expected progress 100, got %v", snap.Progress)
	}
	for _, id := range []string{"a", "b", "c"} {
		if snap.Steps[id].State != workflow.StepCompleted || snap.Steps[id].Attempt != 1 {
			t.Fatalf("step %s: %+v", id, snap.Steps[id])
		}
	}

	var states []string
	var last float64
	var order []string
	for _, evt := range workflowEvents(hub, inst.ID) {
		if evt.Progress < last {
			t.Fatalf("event progress regressed from %v to %v", last, evt.Progress)
		}
		last = evt.Progress
		if evt.Type == events.TypeWorkflowStateChanged {
			states = append(states, evt.To)
		}
		if evt.Type == events.TypeStepStateChanged && evt.To == string(workflow.StepRunning) {
			order = append(order, evt.StepID)
		}
	}
	if strings.Join(states, ",") != "running,completed" {
		t.Fatalf("unexpected workflow states %v", states)
	}
	if strings.Join(order, ",") != "a,b,c" {
		t.Fatalf("steps ran out of dependency order: %v", order)
	}
	if rec, ok := store.get(inst.ID); !ok || rec.State != workflow.StateCompleted {
		t.Fatalf("final state not persisted: %+v", rec)
	}
}

func TestFanOutRunsBranchesConcurrently(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "fan", Steps: []template.Step{
		{ID: "a", Kind: "work"},
		{ID: "b", Kind: "branch", DependsOn: []string{"a"}},
		{ID: "c", Kind: "branch", DependsOn: []string{"a"}},
	}})
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() { arrived.Wait(); close(both) }()
	branch := executor.Func(func(ctx context.Context, req executor.Request) (executor.Result, error) {
		arrived.Done()
		select {
		case <-both:
		case <-ctx.Done():
			return executor.Result{}, ctx.Err()
		}
		if req.StepID == "b" {
			time.Sleep(5 * time.Millisecond)
		}
		return executor.JSONResult(req.StepID)
	})
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"work": executor.Func(succeed), "branch": branch}, Options{})

	inst, _ := o.Start(context.Background(), "fan", "asset")
	snap := waitState(t, o, inst.ID, workflow.StateCompleted, workflow.StateFailed)
	if snap.State != workflow.StateCompleted {
		t.Fatalf("expected completed, got %s", snap.State)
	}
	if snap.Steps["b"].State != workflow.StepCompleted || snap.Steps["c"].State != workflow.StepCompleted {
		t.Fatalf("branches not completed: %+v", snap.Steps)
	}
}

func TestRetryBoundFailsWorkflow(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "flaky", Steps: []template.Step{
		{ID: "d", Kind: "flaky", Retry: &template.RetryPolicy{MaxAttempts: 2}},
		{ID: "after", Kind: "flaky", DependsOn: []string{"d"}},
	}})
	exec := newCounting(func(context.Context, executor.Request) (executor.Result, error) {
		return executor.Result{}, executor.Transient(errors.New("upstream unavailable"))
	})
	hub := events.NewHub(4096)
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"flaky": exec}, Options{Hub: hub})

	inst, _ := o.Start(context.Background(), "flaky", "asset")
	snap := waitState(t, o, inst.ID, workflow.StateFailed)

	if got := exec.count("d"); got != 2 {
		t.Fatalf("expected exactly 2 invocations, got %d", got)
	}
	if exec.count("after") != 0 {
		t.Fatal("dependent step must not run")
	}
	d := snap.Steps["d"]
	if d.State != workflow.StepFailed || d.Attempt != 2 || len(d.Attempts) != 2 {
		t.Fatalf("unexpected step d: %+v", d)
	}
	if d.Error == nil || d.Error.Kind != workflow.ErrorTransient {
		t.Fatalf("unexpected error detail %+v", d.Error)
	}
	if len(snap.FailedSteps) != 1 || snap.FailedSteps[0] != "d" {
		t.Fatalf("unexpected failed steps %v", snap.FailedSteps)
	}

	failedCycles := 0
	for _, evt := range workflowEvents(hub, inst.ID) {
		if evt.StepID == "d" && evt.From == string(workflow.StepRunning) && evt.To == string(workflow.StepFailed) {
			failedCycles++
		}
	}
	if failedCycles != 2 {
		t.Fatalf("expected 2 running->failed events, got %d", failedCycles)
	}
}

func TestSkippablePermanentFailureCascades(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "skip", Steps: []template.Step{
		{ID: "e", Kind: "broken", Skippable: true},
		{ID: "f", Kind: "work", DependsOn: []string{"e"}},
	}})
	broken := newCounting(func(context.Context, executor.Request) (executor.Result, error) {
		return executor.Result{}, executor.Permanentf("malformed asset")
	})
	work := newCounting(succeed)
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"broken": broken, "work": work}, Options{})

	inst, _ := o.Start(context.Background(), "skip", "asset")
	snap := waitState(t, o, inst.ID, workflow.StateCompleted, workflow.StateFailed)
	if snap.State != workflow.StateCompleted {
		t.Fatalf("expected completed, got %s", snap.State)
	}
	if snap.Steps["e"].State != workflow.StepSkipped || snap.Steps["f"].State != workflow.StepSkipped {
		t.Fatalf("expected both skipped: %+v", snap.Steps)
	}
	if broken.count("e") != 1 {
		t.Fatalf("permanent failure must not retry, got %d calls", broken.count("e"))
	}
	if work.count("f") != 0 {
		t.Fatal("unreachable step must not run")
	}
}

func TestDiamondProceedsWithOneSkippedBranch(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "diamond", Steps: []template.Step{
		{ID: "a", Kind: "work"},
		{ID: "b", Kind: "broken", DependsOn: []string{"a"}, Skippable: true},
		{ID: "c", Kind: "work", DependsOn: []string{"a"}},
		{ID: "d", Kind: "work", DependsOn: []string{"b", "c"}},
	}})
	broken := executor.Func(func(context.Context, executor.Request) (executor.Result, error) {
		return executor.Result{}, executor.Permanentf("no subtitles")
	})
	var inputs sync.Map
	work := executor.Func(func(ctx context.Context, req executor.Request) (executor.Result, error) {
		inputs.Store(req.StepID, len(req.Inputs))
		return succeed(ctx, req)
	})
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"broken": broken, "work": work}, Options{})

	inst, _ := o.Start(context.Background(), "diamond", "asset")
	snap := waitState(t, o, inst.ID, workflow.StateCompleted, workflow.StateFailed)
	if snap.State != workflow.StateCompleted || snap.Steps["d"].State != workflow.StepCompleted {
		t.Fatalf("expected d to complete: %+v", snap.Steps)
	}
	if n, _ := inputs.Load("d"); n != 1 {
		t.Fatalf("d should receive only the completed input, got %v", n)
	}
}

func TestTimeoutIsRetriedAndClassified(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "slow", Steps: []template.Step{
		{ID: "s", Kind: "hang", Timeout: template.Duration(20 * time.Millisecond), Retry: &template.RetryPolicy{MaxAttempts: 2}},
	}})
	hang := newCounting(func(ctx context.Context, _ executor.Request) (executor.Result, error) {
		<-ctx.Done()
		return executor.Result{Payload: []byte(`"late"`)}, nil
	})
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"hang": hang}, Options{})

	inst, _ := o.Start(context.Background(), "slow", "asset")
	snap := waitState(t, o, inst.ID, workflow.StateFailed)
	s := snap.Steps["s"]
	if hang.count("s") != 2 || s.Attempt != 2 {
		t.Fatalf("timeouts should be retried: calls=%d attempt=%d", hang.count("s"), s.Attempt)
	}
	if s.Error == nil || s.Error.Kind != workflow.ErrorTimeout {
		t.Fatalf("expected timeout error, got %+v", s.Error)
	}
	if s.Payload != nil {
		t.Fatal("late result must be ignored")
	}
}

func TestTimeoutPermanentSkipsRetry(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "slow", Steps: []template.Step{
		{ID: "s", Kind: "hang", Timeout: template.Duration(10 * time.Millisecond), TimeoutPermanent: true},
	}})
	hang := newCounting(func(ctx context.Context, _ executor.Request) (executor.Result, error) {
		<-ctx.Done()
		return executor.Result{}, ctx.Err()
	})
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"hang": hang}, Options{})

	inst, _ := o.Start(context.Background(), "slow", "asset")
	snap := waitState(t, o, inst.ID, workflow.StateFailed)
	if hang.count("s") != 1 || snap.Steps["s"].Error.Kind != workflow.ErrorPermanent {
		t.Fatalf("expected a single permanent failure: calls=%d err=%+v", hang.count("s"), snap.Steps["s"].Error)
	}
}

func TestCancelIsIdempotentAndSignalsExecutors(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "long", Steps: []template.Step{
		{ID: "a", Kind: "block"},
		{ID: "b", Kind: "block", DependsOn: []string{"a"}},
	}})
	started := make(chan struct{})
	stopped := make(chan struct{})
	block := executor.Func(func(ctx context.Context, _ executor.Request) (executor.Result, error) {
		close(started)
		<-ctx.Done()
		close(stopped)
		return executor.Result{}, ctx.Err()
	})
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"block": block}, Options{})

	inst, _ := o.Start(context.Background(), "long", "asset")
	<-started
	for i := 0; i < 2; i++ {
		if err := o.Cancel(context.Background(), inst.ID); err != nil {
			t.Fatalf("Cancel #%d: %v", i+1, err)
		}
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("executor context not cancelled")
	}
	snap := waitState(t, o, inst.ID, workflow.StateCancelled)
	if !snap.Steps["a"].Discarded || snap.Steps["b"].State != workflow.StepPending {
		t.Fatalf("unexpected steps after cancel: %+v", snap.Steps)
	}
	if snap.FinishedAt == nil {
		t.Fatal("finished timestamp not set")
	}
	if err := o.Cancel(context.Background(), "missing"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPauseHoldsDispatchUntilResume(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "pausable", Steps: []template.Step{
		{ID: "a", Kind: "gate"},
		{ID: "b", Kind: "work", DependsOn: []string{"a"}},
	}})
	release := make(chan struct{})
	gate := executor.Func(func(ctx context.Context, req executor.Request) (executor.Result, error) {
		<-release
		return succeed(ctx, req)
	})
	work := newCounting(succeed)
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"gate": gate, "work": work}, Options{})

	inst, _ := o.Start(context.Background(), "pausable", "asset")
	waitStep(t, o, inst.ID, "a", workflow.StepRunning)
	if err := o.Pause(context.Background(), inst.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := o.Pause(context.Background(), inst.ID); !errors.Is(err, workflow.ErrIllegalTransition) {
		t.Fatalf("pausing twice should be illegal, got %v", err)
	}
	close(release)
	waitStep(t, o, inst.ID, "b", workflow.StepReady)
	time.Sleep(20 * time.Millisecond)
	if work.count("b") != 0 {
		t.Fatal("paused workflow dispatched a step")
	}

	if err := o.Resume(context.Background(), inst.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitState(t, o, inst.ID, workflow.StateCompleted)
	if err := o.Resume(context.Background(), inst.ID); !errors.Is(err, workflow.ErrIllegalTransition) {
		t.Fatalf("resuming a completed workflow should be illegal, got %v", err)
	}
}

func TestRetryAndArchive(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "once", Steps: []template.Step{
		{ID: "a", Kind: "maybe"},
	}})
	var fail atomic.Bool
	fail.Store(true)
	maybe := executor.Func(func(ctx context.Context, req executor.Request) (executor.Result, error) {
		if fail.Load() {
			return executor.Result{}, executor.Permanentf("bad input")
		}
		return succeed(ctx, req)
	})
	store := newMemStore()
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"maybe": maybe}, Options{Store: store})

	first, _ := o.Start(context.Background(), "once", "asset-9")
	waitState(t, o, first.ID, workflow.StateFailed)

	fail.Store(false)
	second, err := o.Retry(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if second.ID == first.ID || second.RetryOf != first.ID || second.AssetID != "asset-9" {
		t.Fatalf("unexpected retry instance %+v", second)
	}
	waitState(t, o, second.ID, workflow.StateCompleted)
	if _, err := o.Retry(context.Background(), second.ID); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable, got %v", err)
	}

	if got := o.List(Filter{States: []workflow.State{workflow.StateFailed}}); len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("unexpected filtered list %+v", got)
	}
	if got := o.List(Filter{AssetID: "asset-9"}); len(got) != 2 || got[0].ID != first.ID {
		t.Fatalf("expected both instances oldest first, got %d", len(got))
	}

	if err := o.Archive(context.Background(), first.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if _, err := o.Status(first.ID); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("archived workflow still visible: %v", err)
	}
	if _, ok := store.get(first.ID); ok {
		t.Fatal("archived workflow still stored")
	}
}

func TestArchiveAndRetryRejectActiveWorkflows(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "long", Steps: []template.Step{{ID: "a", Kind: "block"}}})
	block := executor.Func(func(ctx context.Context, _ executor.Request) (executor.Result, error) {
		<-ctx.Done()
		return executor.Result{}, ctx.Err()
	})
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"block": block}, Options{})
	inst, _ := o.Start(context.Background(), "long", "asset")

	if err := o.Archive(context.Background(), inst.ID); !errors.Is(err, workflow.ErrWorkflowActive) {
		t.Fatalf("expected ErrWorkflowActive, got %v", err)
	}
	if _, err := o.Retry(context.Background(), inst.ID); !errors.Is(err, workflow.ErrWorkflowActive) {
		t.Fatalf("expected ErrWorkflowActive, got %v", err)
	}
	if _, err := o.Start(context.Background(), "nope", "asset"); !errors.Is(err, workflow.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if _, err := o.Status("nope"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMissingExecutorFailsPermanently(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "orphan", Steps: []template.Step{{ID: "a", Kind: "unregistered"}}})
	o := newTestOrchestrator(t, src, nil, Options{})
	inst, _ := o.Start(context.Background(), "orphan", "asset")
	snap := waitState(t, o, inst.ID, workflow.StateFailed)
	if snap.Steps["a"].Error == nil || snap.Steps["a"].Error.Kind != workflow.ErrorPermanent {
		t.Fatalf("unexpected error %+v", snap.Steps["a"].Error)
	}
}

func TestConcurrencyCapBoundsDispatch(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "wide", Steps: []template.Step{
		{ID: "a", Kind: "track"}, {ID: "b", Kind: "track"}, {ID: "c", Kind: "track"}, {ID: "d", Kind: "track"},
	}})
	var current, peak atomic.Int32
	track := executor.Func(func(ctx context.Context, req executor.Request) (executor.Result, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return succeed(ctx, req)
	})
	o := newTestOrchestrator(t, src, map[string]executor.Executor{"track": track}, Options{MaxConcurrentSteps: 2, DispatchRate: 1000, DispatchBurst: 4})
	inst, _ := o.Start(context.Background(), "wide", "asset")
	waitState(t, o, inst.ID, workflow.StateCompleted)
	if peak.Load() > 2 {
		t.Fatalf("concurrency cap exceeded: %d", peak.Load())
	}
	if stats := o.Stats(); stats.MaxConcurrentSteps != 2 || stats.Workflows[workflow.StateCompleted] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRestoreResumesInterruptedWorkflow(t *testing.T) {
	src := sourceOf(t, template.Template{ID: "linear", Steps: []template.Step{
		{ID: "a", Kind: "work"},
		{ID: "b", Kind: "block", DependsOn: []string{"a"}},
	}})
	store := newMemStore()
	running := make(chan struct{})
	var once sync.Once
	block := executor.Func(func(ctx context.Context, _ executor.Request) (executor.Result, error) {
		once.Do(func() { close(running) })
		<-ctx.Done()
		return executor.Result{}, ctx.Err()
	})
	first := New(src, registryWith(map[string]executor.Executor{"work": executor.Func(succeed), "block": block}), Options{Store: store})
	inst, _ := first.Start(context.Background(), "linear", "asset")
	<-running
	if err := first.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := first.Start(context.Background(), "linear", "asset"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
	rec, _ := store.get(inst.ID)
	if rec.State != workflow.StateRunning || rec.Steps["b"].State != workflow.StepRunning {
		t.Fatalf("shutdown must not change persisted state: %+v", rec)
	}

	work := newCounting(succeed)
	second := newTestOrchestrator(t, src, map[string]executor.Executor{"work": work, "block": executor.Func(succeed)}, Options{Store: store})
	resumed, err := second.Restore(context.Background())
	if err != nil || resumed != 1 {
		t.Fatalf("Restore = %d, %v", resumed, err)
	}
	snap := waitState(t, second, inst.ID, workflow.StateCompleted)
	b := snap.Steps["b"]
	if b.Attempt != 1 || len(b.Attempts) != 2 || b.Attempts[0].Outcome != workflow.OutcomeInterrupted {
		t.Fatalf("unexpected attempt history after restore: %+v", b)
	}
	if work.count("a") != 0 {
		t.Fatal("completed step re-ran after restore")
	}
}

func registryWith(execs map[string]executor.Executor) *executor.Registry {
	reg := executor.NewRegistry()
	for kind, exec := range execs {
		reg.Register(kind, exec)
	}
	return reg
}

func TestCyclicTemplateRejected(t *testing.T) {
	_, err := template.Compile(template.Template{ID: "loop", Steps: []template.Step{
		{ID: "x", Kind: "work", DependsOn: []string{"y"}},
		{ID: "y", Kind: "work", DependsOn: []string{"x"}},
	}}, fastRetry)
	if !errors.Is(err, workflow.ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
	if !strings.Contains(err.Error(), "x") || !strings.Contains(err.Error(), "y") {
		t.Fatalf("cycle members missing from %q", err)
	}
}
