// Package sink delivers rendered report documents to external destinations.
// Sinks run strictly after a report is persisted; a sink failure never rolls
// a report back.
package sink

import (
	"context"
	"time"
)

// Metadata identifies the report a document belongs to and where it should
// land.
type Metadata struct {
	Owner     string
	Name      string
	ReportID  string
	WindowEnd time.Time
}

// ReportSink writes one rendered report document.
type ReportSink interface {
	Write(ctx context.Context, markdown string, meta Metadata) error
}
