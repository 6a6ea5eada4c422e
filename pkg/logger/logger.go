package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
)

type customKey int

const (
	LogDataKey customKey = iota
)

type ChipJSONLogHandler struct {
	handler slog.Handler
}

// LogData is the request-scoped part of every log record.
type LogData struct {
	RequestID string
	ChipID    string
	Timestamp *int64
	Details   map[string]any
}

func New(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts != nil {
		return slog.New(NewChipJSONLogHandler(slog.NewJSONHandler(w, opts)))
	}
	handler := slog.Handler(slog.NewJSONHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.TimeValue(a.Value.Time().Truncate(time.Millisecond))
			}
			return a
		},
		Level: slog.LevelInfo,
	}))
	return slog.New(NewChipJSONLogHandler(handler))
}

func NewChipJSONLogHandler(h slog.Handler) *ChipJSONLogHandler {
	return &ChipJSONLogHandler{handler: h}
}

func (h *ChipJSONLogHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.handler.Enabled(ctx, lvl)
}

func (h *ChipJSONLogHandler) Handle(ctx context.Context, rec slog.Record) error {
	if ld, ok := ctx.Value(LogDataKey).(LogData); ok {
		if ld.RequestID != "" {
			rec.Add("request_id", ld.RequestID)
		}
		if ld.ChipID != "" {
			rec.Add("chip_id", ld.ChipID)
		}
		if ld.Timestamp != nil {
			rec.Add("timestamp", *ld.Timestamp)
		}
		if ld.Details != nil {
			rec.Add("details", ld.Details)
		}
	}
	return h.handler.Handle(ctx, rec)
}

// WithAttrs and WithGroup keep the wrapper so context data survives logger.With.
func (h *ChipJSONLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ChipJSONLogHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *ChipJSONLogHandler) WithGroup(name string) slog.Handler {
	return &ChipJSONLogHandler{handler: h.handler.WithGroup(name)}
}

func FromContext(ctx context.Context) LogData {
	ld, _ := ctx.Value(LogDataKey).(LogData)
	return ld
}

func WithRequestID(ctx context.Context, id string) context.Context {
	ld := FromContext(ctx)
	ld.RequestID = id
	return context.WithValue(ctx, LogDataKey, ld)
}

func WithChip(ctx context.Context, chipID string) context.Context {
	ld := FromContext(ctx)
	ld.ChipID = chipID
	return context.WithValue(ctx, LogDataKey, ld)
}

func WithRecord(ctx context.Context, chipID string, timestamp int64) context.Context {
	ld := FromContext(ctx)
	ld.ChipID = chipID
	ld.Timestamp = &timestamp
	return context.WithValue(ctx, LogDataKey, ld)
}

// WithDetails copies the details map, contexts derived from the same parent
// must not see each other's keys.
func WithDetails(ctx context.Context, key string, detail any) context.Context {
	ld := FromContext(ctx)
	details := make(map[string]any, len(ld.Details)+1)
	for k, v := range ld.Details {
		details[k] = v
	}
	details[key] = detail
	ld.Details = details
	return context.WithValue(ctx, LogDataKey, ld)
}
