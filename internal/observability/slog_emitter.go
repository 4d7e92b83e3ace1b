package observability

import (
	"context"
	"log/slog"
	"sort"

	"git.home.luguber.info/inful/ghillie/internal/logfields"
)

// LogEmitter writes lifecycle events to the structured log at info level,
// with the event name as the message and its fields as attributes.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger.With(logfields.Component("lifecycle"))}
}

func (e *LogEmitter) Emit(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event = NewEvent(event.Name, event.Fields)
	}

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Fields[k]))
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, event.Name, attrs...)
}
