// Package observability carries the lifecycle events the pipelines emit:
// structured records fanned out to slog and, when configured, NATS.
// Emission never fails the emitting operation; publish errors are logged
// and dropped.
package observability

import (
	"context"
	"time"
)

// Lifecycle event names.
const (
	IngestionRunStarted   = "ingestion.run.started"
	IngestionRunCompleted = "ingestion.run.completed"
	IngestionRunFailed    = "ingestion.run.failed"
	IngestionRepoStalled  = "ingestion.repo.stalled"
	ReportStarted         = "reporting.report.started"
	ReportCompleted       = "reporting.report.completed"
	ReportFailed          = "reporting.report.failed"
	CatalogueReloaded     = "catalogue.reloaded"
)

// Event is one structured lifecycle record.
type Event struct {
	Name       string         `json:"name"`
	OccurredAt time.Time      `json:"occurred_at"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// NewEvent stamps a lifecycle event with the current UTC time.
func NewEvent(name string, fields map[string]any) Event {
	return Event{Name: name, OccurredAt: time.Now().UTC(), Fields: fields}
}

// Emitter publishes lifecycle events. Implementations must be safe for
// concurrent use and must not block the caller beyond a short publish
// timeout.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}

// MultiEmitter fans one event out to several emitters in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, event Event) {
	for _, e := range m {
		e.Emit(ctx, event)
	}
}
