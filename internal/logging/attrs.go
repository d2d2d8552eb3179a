package logging

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// Attr aliases slog.Attr so callers need only this package.
type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }
func Bool(key string, value bool) Attr { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }
func Float64(key string, value float64) Attr { return slog.Float64(key, value) }
func Int(key string, value int) Attr { return slog.Int(key, value) }
func Int64(key string, value int64) Attr { return slog.Int64(key, value) }
func Uint64(key string, value uint64) Attr { return slog.Uint64(key, value) }
func String(key string, value string) Attr { return slog.String(key, value) }

// Group nests attrs under key.
func Group(key string, attrs ...Attr) Attr {
	return slog.Attr{Key: key, Value: slog.GroupValue(attrs...)}
}

// Error renders err under the "error" key; a nil error is logged as "<nil>".
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts attrs to the variadic form slog.Logger methods take.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger tags logger with a component name. A nil logger yields
// a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

const defaultErrorHint = "check the daemon log for details"

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact. Attrs already holding those keys win over the defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logClassified(logger, slog.LevelWarn, msg, eventType, append(attrs,
		String(FieldImpact, "operation continued with degraded behavior")))
}

// ErrorWithContext logs an error that always carries event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logClassified(logger, slog.LevelError, msg, eventType, attrs)
}

func logClassified(logger *slog.Logger, level slog.Level, msg, eventType string, attrs []Attr) {
	if logger == nil {
		return
	}
	attrs = append(attrs, String(FieldEventType, eventType), String(FieldErrorHint, defaultErrorHint))
	logger.LogAttrs(context.Background(), level, msg, firstByKey(attrs)...)
}

// firstByKey drops attrs whose key appeared earlier, so explicit values beat
// the defaults appended after them.
func firstByKey(attrs []Attr) []Attr {
	out := make([]Attr, 0, len(attrs))
	for _, attr := range attrs {
		if !slices.ContainsFunc(out, func(a Attr) bool { return a.Key == attr.Key }) {
			out = append(out, attr)
		}
	}
	return out
}

// NoopHandler discards all records.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }
func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h NoopHandler) WithGroup(string) slog.Handler { return h }
