package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/events"
	"mediaflow/internal/executor"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/notifications"
	"mediaflow/internal/orchestrator"
	"mediaflow/internal/preflight"
	"mediaflow/internal/schedule"
	"mediaflow/internal/store"
	"mediaflow/internal/template"
	"mediaflow/internal/workflow"
)

// ErrNotRunning is returned by workflow operations while the daemon is stopped.
var ErrNotRunning = errors.New("daemon is not running")

// Daemon owns the process-wide services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	templates *template.Registry
	executors *executor.Registry
	hub       *events.Hub
	metrics   *metrics.Collector
	notifier  notifications.Service

	lockPath string
	lock     *flock.Flock

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	orch      *orchestrator.Orchestrator
	scheduler *schedule.Scheduler
	api       *apiServer
	notify    *notifications.Sink
	redis     *events.RedisSink
	detach    []func()
}

// New constructs a daemon with initialized dependencies. Nothing runs until Start.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	executors := buildExecutors(cfg, logger)
	templates, err := template.NewRegistry(template.Defaults{
		Retry: template.RetryPolicy{
			MaxAttempts: cfg.Orchestrator.MaxAttempts,
			BaseDelay:   template.Duration(cfg.Orchestrator.BaseDelay()),
			Multiplier:  cfg.Orchestrator.BackoffMultiplier,
			MaxDelay:    template.Duration(cfg.Orchestrator.MaxDelay()),
		},
		StepTimeout: cfg.Orchestrator.StepTimeout(),
	}, executors.Has, logger)
	if err != nil {
		return nil, err
	}

	hub := events.NewHub(cfg.Orchestrator.EventBuffer)
	collector := metrics.NewCollector("mediaflow")
	hub.AddSink(events.NewLogSink(logger))
	hub.AddSink(collector)

	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     st,
		templates: templates,
		executors: executors,
		hub:       hub,
		metrics:   collector,
		notifier:  notifications.NewService(cfg),
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	collector.RegisterGaugeFunc("dispatch_in_flight", "Step executions holding a concurrency slot", func() float64 {
		if orch := d.orchestrator(); orch != nil {
			return float64(orch.Stats().DispatchesInFlight)
		}
		return 0
	})
	return d, nil
}

// Start acquires the daemon lock, loads templates, restores persisted
// workflows, and starts schedules and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediaflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.startLocked(runCtx); err != nil {
		cancel()
		d.teardownLocked()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.running = true
	d.logger.Info("mediaflow daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("templates", len(d.templates.List())),
		logging.Any("executors", d.executors.Kinds()),
	)
	return nil
}

func (d *Daemon) startLocked(ctx context.Context) error {
	for _, check := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldImpact, "steps depending on this resource may fail"),
		)
	}

	if err := d.loadTemplates(ctx); err != nil {
		return err
	}

	d.notify = notifications.NewSink(d.notifier, notifications.SinkOptions{}, d.logger)
	d.detach = append(d.detach, d.hub.AddSink(d.notify))
	if addr := strings.TrimSpace(d.cfg.Events.RedisAddr); addr != "" {
		sink, err := events.NewRedisSink(ctx, events.RedisOptions{
			Addr:     addr,
			Password: d.cfg.Events.RedisPassword,
			DB:       d.cfg.Events.RedisDB,
			Channel:  d.cfg.Events.RedisChannel,
		}, d.logger)
		if err != nil {
			logging.WarnWithContext(d.logger, "redis event sink unavailable", "redis_sink_failed",
				logging.String("addr", addr),
				logging.Error(err),
				logging.String(logging.FieldImpact, "events are not published to redis"),
				logging.String(logging.FieldErrorHint, "check events.redis_addr and credentials"),
			)
		} else {
			d.redis = sink
			d.detach = append(d.detach, d.hub.AddSink(sink))
		}
	}

	d.orch = orchestrator.New(d.templates, d.executors, orchestrator.Options{
		Logger:             d.logger,
		Store:              d.store,
		Hub:                d.hub,
		MaxConcurrentSteps: d.cfg.Orchestrator.MaxConcurrentSteps,
		DispatchRate:       d.cfg.Orchestrator.DispatchRate,
		DispatchBurst:      d.cfg.Orchestrator.DispatchBurst,
	})
	if d.cfg.Orchestrator.RestoreOnStart {
		resumed, err := d.orch.Restore(ctx)
		if err != nil {
			return fmt.Errorf("restore workflows: %w", err)
		}
		if resumed > 0 {
			d.logger.Info("workflows resumed", logging.Int("count", resumed))
		}
	}

	scheduler, err := schedule.New(ctx, d.cfg.Schedules, d.orch, d.logger)
	if err != nil {
		return err
	}
	d.scheduler = scheduler
	d.scheduler.Start()

	srv, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		return err
	}
	if err := srv.start(ctx); err != nil {
		return err
	}
	d.api = srv
	return nil
}

// Stop halts schedules and the API, stops every workflow actor without
// changing persisted state, and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.teardownLocked()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_unlock_failed"),
		)
	}
	d.running = false
	d.logger.Info("mediaflow daemon stopped")
}

func (d *Daemon) teardownLocked() {
	if d.scheduler != nil {
		d.scheduler.Stop()
		d.scheduler = nil
	}
	if d.api != nil {
		d.api.stop()
		d.api = nil
	}
	if d.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Orchestrator.ShutdownTimeout())
		if err := d.orch.Shutdown(ctx); err != nil {
			logging.WarnWithContext(d.logger, "orchestrator shutdown timed out", "shutdown_timeout",
				logging.Error(err),
				logging.String(logging.FieldImpact, "executors may still be running"),
			)
		}
		cancel()
		d.orch = nil
	}
	for _, detach := range d.detach {
		detach()
	}
	d.detach = nil
	if d.notify != nil {
		d.notify.Close()
		d.notify = nil
	}
	if d.redis != nil {
		_ = d.redis.Close()
		d.redis = nil
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.templates.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Hub exposes the event hub for streaming transports.
func (d *Daemon) Hub() *events.Hub { return d.hub }

// Metrics exposes the Prometheus collector.
func (d *Daemon) Metrics() *metrics.Collector { return d.metrics }

// APIAddress returns the bound HTTP address, or "" when the API is disabled.
func (d *Daemon) APIAddress() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.api == nil || d.api.listener == nil {
		return ""
	}
	return d.api.listener.Addr().String()
}

func (d *Daemon) orchestrator() *orchestrator.Orchestrator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.orch
}

func (d *Daemon) requireOrchestrator() (*orchestrator.Orchestrator, error) {
	if orch := d.orchestrator(); orch != nil {
		return orch, nil
	}
	return nil, ErrNotRunning
}

// StartWorkflow instantiates a template against an asset.
func (d *Daemon) StartWorkflow(ctx context.Context, templateID, assetID string) (api.Workflow, error) {
	orch, err := d.requireOrchestrator()
	if err != nil {
		return api.Workflow{}, err
	}
	inst, err := orch.Start(ctx, templateID, assetID)
	if err != nil {
		return api.Workflow{}, err
	}
	return d.toDTO(inst), nil
}

// Workflow returns one workflow snapshot.
func (d *Daemon) Workflow(id string) (api.Workflow, error) {
	orch, err := d.requireOrchestrator()
	if err != nil {
		return api.Workflow{}, err
	}
	inst, err := orch.Status(id)
	if err != nil {
		return api.Workflow{}, err
	}
	return d.toDTO(inst), nil
}

// Workflows lists workflows matching the filter, oldest first.
func (d *Daemon) Workflows(filter orchestrator.Filter) ([]api.Workflow, error) {
	orch, err := d.requireOrchestrator()
	if err != nil {
		return nil, err
	}
	insts := orch.List(filter)
	out := make([]api.Workflow, 0, len(insts))
	for _, inst := range insts {
		out = append(out, d.toDTO(inst))
	}
	return out, nil
}

// CancelWorkflow cancels a workflow. Cancelling a terminal workflow is a no-op.
func (d *Daemon) CancelWorkflow(ctx context.Context, id string) error {
	orch, err := d.requireOrchestrator()
	if err != nil {
		return err
	}
	return orch.Cancel(ctx, id)
}

// PauseWorkflow holds dispatch of new steps.
func (d *Daemon) PauseWorkflow(ctx context.Context, id string) error {
	orch, err := d.requireOrchestrator()
	if err != nil {
		return err
	}
	return orch.Pause(ctx, id)
}

// ResumeWorkflow releases a paused workflow.
func (d *Daemon) ResumeWorkflow(ctx context.Context, id string) error {
	orch, err := d.requireOrchestrator()
	if err != nil {
		return err
	}
	return orch.Resume(ctx, id)
}

// RetryWorkflow starts a fresh instance from a failed or cancelled one.
func (d *Daemon) RetryWorkflow(ctx context.Context, id string) (api.Workflow, error) {
	orch, err := d.requireOrchestrator()
	if err != nil {
		return api.Workflow{}, err
	}
	inst, err := orch.Retry(ctx, id)
	if err != nil {
		return api.Workflow{}, err
	}
	return d.toDTO(inst), nil
}

// ArchiveWorkflow forgets a terminal workflow.
func (d *Daemon) ArchiveWorkflow(ctx context.Context, id string) error {
	orch, err := d.requireOrchestrator()
	if err != nil {
		return err
	}
	return orch.Archive(ctx, id)
}

// RegisterTemplate validates, publishes, and persists a template.
func (d *Daemon) RegisterTemplate(ctx context.Context, tpl template.Template) (api.TemplateResponse, error) {
	compiled, created, err := d.registerTemplate(ctx, tpl)
	if err != nil {
		if isTemplateRejection(err) {
			d.logger.Info("template rejected",
				logging.String(logging.FieldTemplateID, tpl.ID),
				logging.String(logging.FieldEventType, "template_rejected"),
				logging.Error(err),
			)
		}
		return api.TemplateResponse{}, err
	}
	return api.TemplateResponse{Template: api.FromTemplate(compiled.Template), Created: created}, nil
}

// Templates lists registered templates sorted by id.
func (d *Daemon) Templates() []api.Template {
	return api.FromTemplates(d.templates.List())
}

// Template returns the full definition of a registered template.
func (d *Daemon) Template(id string) (template.Template, error) {
	compiled, err := d.templates.Lookup(strings.TrimSpace(id))
	if err != nil {
		return template.Template{}, err
	}
	return compiled.Template, nil
}

// Events returns events after since. With wait set it blocks until at least
// one event arrives or ctx ends.
func (d *Daemon) Events(ctx context.Context, since uint64, limit int, wait bool) (api.EventListResponse, error) {
	evts, next, err := d.hub.Fetch(ctx, since, limit, wait)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return api.EventListResponse{}, err
	}
	if evts == nil {
		evts = []events.Event{}
	}
	resp := api.EventListResponse{Events: evts, Next: next, First: d.hub.FirstSequence()}
	if len(evts) > 0 && evts[0].Sequence > since+1 {
		resp.Missed = evts[0].Sequence - since - 1
	}
	return resp, nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.Running(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		SocketPath:   d.cfg.SocketPath(),
		APIAddress:   d.APIAddress(),
		Workflows:    map[string]int{},
		Templates:    len(d.templates.List()),
		Executors:    d.executors.Kinds(),
	}
	if orch := d.orchestrator(); orch != nil {
		stats := orch.Stats()
		for state, n := range stats.Workflows {
			status.Workflows[string(state)] = n
		}
		status.DispatchesInFlight = stats.DispatchesInFlight
		status.MaxConcurrentSteps = stats.MaxConcurrentSteps
	}

	d.mu.RLock()
	scheduler := d.scheduler
	d.mu.RUnlock()
	for _, s := range d.cfg.Schedules {
		entry := api.Schedule{Name: s.Name, Cron: s.Cron, Template: s.Template, Asset: s.Asset}
		if scheduler != nil {
			if next, ok := scheduler.Next(s.Name); ok {
				entry.Next = next.UTC().Format(time.RFC3339)
			}
		}
		status.Schedules = append(status.Schedules, entry)
	}

	for _, r := range preflight.RunAll(ctx, d.cfg) {
		status.Checks = append(status.Checks, api.CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	for _, dep := range preflight.CheckSystemDeps(d.cfg) {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return status
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

func (d *Daemon) toDTO(inst workflow.Instance) api.Workflow {
	var order []string
	if compiled, err := d.templates.Lookup(inst.TemplateID); err == nil {
		order = api.StepOrder(compiled.Template)
	}
	return api.FromInstance(inst, order)
}
