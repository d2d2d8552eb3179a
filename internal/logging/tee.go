package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler duplicates records to several handlers, each applying its own
// level check. The daemon uses it to send console output and the JSON log
// file the same records.
type teeHandler []slog.Handler

func newTeeHandler(handlers ...slog.Handler) slog.Handler {
	var live teeHandler
	for _, h := range handlers {
		if h != nil {
			live = append(live, h)
		}
	}
	switch len(live) {
	case 0:
		return NoopHandler{}
	case 1:
		return live[0]
	}
	return live
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		// Handlers may retain or mutate the record's attrs.
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) each(fn func(slog.Handler) slog.Handler) teeHandler {
	next := make(teeHandler, len(t))
	for i, h := range t {
		next[i] = fn(h)
	}
	return next
}
