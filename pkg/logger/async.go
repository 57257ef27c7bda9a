package logger

import (
	"context"
	"log/slog"
)

// AsyncHandler buffers records on a channel and hands them to the next
// handler from a background goroutine, so callers do not wait on slow
// sinks. With dropOnFull false, a caller blocks while the buffer is full.
type AsyncHandler struct {
	next    slog.Handler
	records chan slog.Record
	drop    bool
}

// NewAsyncHandler starts the background drain goroutine. When dropOnFull
// is true, records are discarded once the buffer is full instead of
// blocking the caller.
func NewAsyncHandler(next slog.Handler, bufferSize int, dropOnFull bool) *AsyncHandler {
	h := &AsyncHandler{
		next:    next,
		records: make(chan slog.Record, bufferSize),
		drop:    dropOnFull,
	}
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	for r := range h.records {
		_ = h.next.Handle(context.Background(), r)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.drop {
		select {
		case h.records <- r.Clone():
		default:
		}
		return nil
	}
	h.records <- r.Clone()
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewAsyncHandler(h.next.WithAttrs(attrs), cap(h.records), h.drop)
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return NewAsyncHandler(h.next.WithGroup(name), cap(h.records), h.drop)
}
