package logger

import (
	"context"
	"log/slog"
	"regexp"
)

var (
	redactEmail = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	redactCard  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
)

var redactedKeys = map[string]bool{
	"password": true,
	"token":    true,
	"secret":   true,
	"cc":       true,
	"email":    true,
}

// RedactHandler scrubs attribute values that look like PII (emails,
// card numbers) or whose key names are known-sensitive before handing
// the record to the next handler.
type RedactHandler struct {
	next slog.Handler
}

func NewRedactHandler(next slog.Handler) *RedactHandler {
	return &RedactHandler{next: next}
}

func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, nr)
}

func redactAttr(a slog.Attr) slog.Attr {
	if redactedKeys[a.Key] {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		v := a.Value.String()
		v = redactEmail.ReplaceAllString(v, "[REDACTED_EMAIL]")
		v = redactCard.ReplaceAllString(v, "[REDACTED_CARD]")
		return slog.String(a.Key, v)
	}
	return a
}

func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RedactHandler{next: h.next.WithAttrs(attrs)}
}

func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{next: h.next.WithGroup(name)}
}
