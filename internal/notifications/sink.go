package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediaflow/internal/events"
	"mediaflow/internal/logging"
	"mediaflow/internal/workflow"
)

// SinkOptions tunes delivery. Zero values pick the defaults.
type SinkOptions struct {
	Buffer         int
	EnqueueTimeout time.Duration
	Attempts       int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

func (o SinkOptions) withDefaults() SinkOptions {
	if o.Buffer <= 0 {
		o.Buffer = 64
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = 2 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	return o
}

// Sink turns terminal workflow events into notifications. Hub sinks run on
// the publishing goroutine, so delivery happens on a background worker. A full
// queue blocks Append for up to EnqueueTimeout and failed sends are retried
// with backoff.
type Sink struct {
	svc    Service
	logger *slog.Logger
	opts   SinkOptions

	mu       sync.RWMutex
	closed   bool
	queue    chan events.Event
	stopping chan struct{}
	done     chan struct{}
}

// NewSink starts the delivery worker. Call Close to drain and stop it.
func NewSink(svc Service, opts SinkOptions, logger *slog.Logger) *Sink {
	opts = opts.withDefaults()
	s := &Sink{
		svc:      svc,
		logger:   logging.NewComponentLogger(logger, "notifications"),
		opts:     opts,
		queue:    make(chan events.Event, opts.Buffer),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Append implements events.Sink.
func (s *Sink) Append(evt events.Event) {
	if s == nil || !evt.Terminal() {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- evt:
		return
	default:
	}
	timer := time.NewTimer(s.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case s.queue <- evt:
	case <-timer.C:
		logging.WarnWithContext(s.logger, "notification dropped", "notification_dropped",
			logging.String(logging.FieldWorkflowID, evt.WorkflowID),
			logging.String(logging.FieldImpact, "no notification for this workflow outcome"),
			logging.String(logging.FieldErrorHint, "check ntfy reachability"),
		)
	}
}

// Close stops accepting events and waits for queued deliveries.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stopping)
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for evt := range s.queue {
		event, payload := translate(evt)
		if err := s.deliver(event, payload); err != nil {
			logging.WarnWithContext(s.logger, "notification failed", "notification_failed",
				logging.String(logging.FieldWorkflowID, evt.WorkflowID),
				logging.Error(err),
				logging.Int("attempts", s.opts.Attempts),
				logging.String(logging.FieldErrorHint, "check ntfy_topic and network reachability"),
			)
		}
	}
}

func (s *Sink) deliver(event Event, payload Payload) error {
	delay := s.opts.RetryDelay
	var err error
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
		err = s.svc.Publish(ctx, event, payload)
		cancel()
		if err == nil || attempt == s.opts.Attempts {
			return err
		}
		select {
		case <-time.After(delay):
		case <-s.stopping:
			return err
		}
		delay *= 2
	}
	return err
}

func translate(evt events.Event) (Event, Payload) {
	payload := Payload{
		"workflow": evt.WorkflowID,
		"template": evt.TemplateID,
		"asset":    evt.AssetID,
		"reason":   evt.Reason,
	}
	switch workflow.State(evt.To) {
	case workflow.StateCompleted:
		return EventWorkflowCompleted, payload
	case workflow.StateFailed:
		return EventWorkflowFailed, payload
	default:
		return EventWorkflowCancelled, payload
	}
}
