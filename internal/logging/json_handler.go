package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

const redacted = "[redacted]"

// newJSONHandler writes one JSON object per record with short keys (ts, level,
// msg), UTC millisecond timestamps, lower-case levels, and secrets redacted.
// `mediaflow logs` parses this layout.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: replaceJSONAttr,
	})
}

func replaceJSONAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch attr.Key {
		case slog.TimeKey:
			attr.Key = "ts"
			if attr.Value.Kind() == slog.KindTime {
				attr.Value = slog.StringValue(attr.Value.Time().UTC().Format("2006-01-02T15:04:05.000Z07:00"))
			}
			return attr
		case slog.LevelKey:
			attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			return attr
		case slog.SourceKey:
			if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
				attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
			}
			return attr
		}
	}
	if isSecretKey(attr.Key) && attr.Value.Kind() == slog.KindString && attr.Value.String() != "" {
		attr.Value = slog.StringValue(redacted)
	}
	return attr
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	for _, marker := range []string{"token", "password", "secret", "authorization"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

