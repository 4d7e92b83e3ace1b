package observability

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureEmitter) Emit(_ context.Context, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func TestNewEventStampsTime(t *testing.T) {
	event := NewEvent(IngestionRunStarted, map[string]any{"repo_slug": "acme/widgets"})
	require.Equal(t, IngestionRunStarted, event.Name)
	require.False(t, event.OccurredAt.IsZero())
	require.Equal(t, "acme/widgets", event.Fields["repo_slug"])
}

func TestLogEmitterWritesNameAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	NewLogEmitter(logger).Emit(context.Background(), NewEvent(ReportCompleted, map[string]any{
		"repo_slug":  "acme/widgets",
		"latency_ms": int64(120),
	}))

	out := buf.String()
	require.Contains(t, out, ReportCompleted)
	require.Contains(t, out, `"repo_slug":"acme/widgets"`)
	require.Contains(t, out, `"latency_ms":120`)
}

func TestMultiEmitterFansOut(t *testing.T) {
	a := &captureEmitter{}
	b := &captureEmitter{}

	MultiEmitter{a, b, NopEmitter{}}.Emit(context.Background(), NewEvent(IngestionRunFailed, nil))

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	require.Equal(t, IngestionRunFailed, a.events[0].Name)
}
