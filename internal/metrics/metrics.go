// Package metrics exposes workflow telemetry to Prometheus. The Collector is
// an events.Sink: it derives every series from the published event stream so
// the orchestrator carries no metrics code of its own.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediaflow/internal/events"
	"mediaflow/internal/workflow"
)

// Collector aggregates workflow and step metrics.
type Collector struct {
	registry *prometheus.Registry

	stepTransitions     *prometheus.CounterVec
	workflowTransitions *prometheus.CounterVec
	stepRetries         *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
	workflowDuration    *prometheus.HistogramVec
	activeWorkflows     prometheus.Gauge
	runningSteps        prometheus.Gauge

	mu           sync.Mutex
	stepStarts   map[stepKey]time.Time
	workflowSeen map[string]time.Time
}

type stepKey struct {
	workflowID string
	stepID     string
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "mediaflow"
	}

	c := &Collector{
		registry:     prometheus.NewRegistry(),
		stepStarts:   make(map[stepKey]time.Time),
		workflowSeen: make(map[string]time.Time),
	}

	c.stepTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "transitions_total",
			Help:      "Step state transitions by target state",
		},
		[]string{"template", "to"},
	)
	c.workflowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow state transitions by target state",
		},
		[]string{"template", "to"},
	)
	c.stepRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "failures_total",
			Help:      "Failed step attempts by error kind",
		},
		[]string{"template", "kind"},
	)
	c.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of one step attempt",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16), // 50ms to ~27m
		},
		[]string{"template", "result"},
	)
	c.workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "duration_seconds",
			Help:      "Time from first observed event to terminal state",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		},
		[]string{"template", "result"},
	)
	c.activeWorkflows = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "active",
		Help:      "Workflows observed and not yet terminal",
	})
	c.runningSteps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "step",
		Name:      "running",
		Help:      "Steps currently executing",
	})

	c.registry.MustRegister(
		c.stepTransitions,
		c.workflowTransitions,
		c.stepRetries,
		c.stepDuration,
		c.workflowDuration,
		c.activeWorkflows,
		c.runningSteps,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RegisterGaugeFunc exposes a value sampled at scrape time.
func (c *Collector) RegisterGaugeFunc(name, help string, fn func() float64) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "mediaflow",
		Name:      name,
		Help:      help,
	}, fn))
}

// Append implements events.Sink.
func (c *Collector) Append(evt events.Event) {
	switch evt.Type {
	case events.TypeStepStateChanged:
		c.recordStep(evt)
	case events.TypeWorkflowStateChanged:
		c.recordWorkflow(evt)
	}
}

func (c *Collector) recordStep(evt events.Event) {
	c.stepTransitions.WithLabelValues(evt.TemplateID, evt.To).Inc()
	c.touchWorkflow(evt.WorkflowID, evt.Timestamp)

	key := stepKey{evt.WorkflowID, evt.StepID}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch workflow.StepState(evt.To) {
	case workflow.StepRunning:
		c.stepStarts[key] = evt.Timestamp
		c.runningSteps.Inc()
		return
	case workflow.StepFailed:
		kind := workflow.ErrorTransient
		if evt.Error != nil && evt.Error.Kind != "" {
			kind = evt.Error.Kind
		}
		c.stepRetries.WithLabelValues(evt.TemplateID, string(kind)).Inc()
	}
	if started, ok := c.stepStarts[key]; ok && workflow.StepState(evt.From) == workflow.StepRunning {
		delete(c.stepStarts, key)
		c.runningSteps.Dec()
		c.stepDuration.WithLabelValues(evt.TemplateID, evt.To).Observe(evt.Timestamp.Sub(started).Seconds())
	}
}

func (c *Collector) recordWorkflow(evt events.Event) {
	c.workflowTransitions.WithLabelValues(evt.TemplateID, evt.To).Inc()
	c.touchWorkflow(evt.WorkflowID, evt.Timestamp)
	if !evt.Terminal() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if first, ok := c.workflowSeen[evt.WorkflowID]; ok {
		delete(c.workflowSeen, evt.WorkflowID)
		c.activeWorkflows.Dec()
		c.workflowDuration.WithLabelValues(evt.TemplateID, evt.To).Observe(evt.Timestamp.Sub(first).Seconds())
	}
	for key := range c.stepStarts {
		if key.workflowID == evt.WorkflowID {
			delete(c.stepStarts, key)
			c.runningSteps.Dec()
		}
	}
}

func (c *Collector) touchWorkflow(id string, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.workflowSeen[id]; ok {
		return
	}
	c.workflowSeen[id] = ts
	c.activeWorkflows.Inc()
}
