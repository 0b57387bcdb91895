package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

const (
	// FieldService names the emitting program on every JSON record.
	FieldService = "service"

	serviceName = "visualia"
	// jsonTimestampLayout keeps millisecond precision so caption and
	// engine lines can be ordered within a second.
	jsonTimestampLayout = "2006-01-02T15:04:05.000Z07:00"
	// maxJSONString caps string values; engine output is logged verbatim.
	maxJSONString = 4096
)

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: replaceJSONAttr,
	}
	return slog.NewJSONHandler(w, &opts).WithAttrs([]slog.Attr{slog.String(FieldService, serviceName)})
}

func replaceJSONAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch attr.Key {
		case slog.TimeKey:
			attr.Key = "ts"
			if attr.Value.Kind() == slog.KindTime {
				attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(jsonTimestampLayout))
			}
			return attr
		case slog.LevelKey:
			attr.Value = slog.StringValue(strings.ToLower(levelLabel(levelOf(attr.Value))))
			return attr
		case slog.SourceKey:
			if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
				attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
			}
			return attr
		}
	}
	switch attr.Value.Kind() {
	case slog.KindString:
		attr.Value = slog.StringValue(Truncate(attr.Value.String(), maxJSONString))
	case slog.KindDuration:
		attr.Value = slog.StringValue(attr.Value.Duration().Round(time.Millisecond).String())
	}
	return attr
}

func levelOf(v slog.Value) slog.Level {
	if level, ok := v.Any().(slog.Level); ok {
		return level
	}
	return slog.LevelInfo
}
