package events

import (
	"log/slog"

	"mediaflow/internal/logging"
)

// LogSink writes workflow-level events at info and step events at debug.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a sink that logs through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logging.NewComponentLogger(logger, "events")}
}

func (s *LogSink) Append(evt Event) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, string(evt.Type)),
		logging.String(logging.FieldWorkflowID, evt.WorkflowID),
		logging.Float64("progress", evt.Progress),
	}
	if evt.StepID != "" {
		attrs = append(attrs, logging.String(logging.FieldStepID, evt.StepID))
	}
	if evt.Attempt > 0 {
		attrs = append(attrs, logging.Int(logging.FieldAttempt, evt.Attempt))
	}
	if evt.From != "" || evt.To != "" {
		attrs = append(attrs, logging.String("from", evt.From), logging.String("to", evt.To))
	}
	if evt.Error != nil {
		attrs = append(attrs,
			logging.String("error_kind", string(evt.Error.Kind)),
			logging.String("error_message", evt.Error.Message),
		)
	}
	if evt.Reason != "" {
		attrs = append(attrs, logging.String("reason", evt.Reason))
	}

	switch {
	case evt.Type == TypeStepProgress:
		return
	case evt.Type == TypeWorkflowStateChanged && evt.To == "failed":
		s.logger.Warn("workflow state changed", logging.Args(attrs...)...)
	case evt.Type == TypeWorkflowStateChanged:
		s.logger.Info("workflow state changed", logging.Args(attrs...)...)
	default:
		s.logger.Debug("step state changed", logging.Args(attrs...)...)
	}
}
