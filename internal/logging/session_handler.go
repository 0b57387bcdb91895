package logging

import (
	"context"
	"log/slog"
)

// FieldSessionID identifies one daemon run; transcripts carry the same value.
const FieldSessionID = "session_id"

// sessionIDHandler stamps session_id on every record at Handle time so
// loggers derived before the session is known still carry it.
type sessionIDHandler struct {
	base slog.Handler
	attr slog.Attr
}

func newSessionIDHandler(base slog.Handler, sessionID string) slog.Handler {
	if base == nil {
		return NoopHandler{}
	}
	return &sessionIDHandler{base: base, attr: slog.String(FieldSessionID, sessionID)}
}

func (h *sessionIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *sessionIDHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(h.attr)
	return h.base.Handle(ctx, record)
}

func (h *sessionIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sessionIDHandler{base: h.base.WithAttrs(attrs), attr: h.attr}
}

func (h *sessionIDHandler) WithGroup(name string) slog.Handler {
	return &sessionIDHandler{base: h.base.WithGroup(name), attr: h.attr}
}
