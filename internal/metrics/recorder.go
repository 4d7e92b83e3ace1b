// Package metrics defines the observability hooks for the ingestion and
// reporting pipelines. Components receive a Recorder by injection and default
// to NoopRecorder, so metrics stay optional and tests stay quiet.
package metrics

import "time"

// ResultLabel enumerates run result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
)

// Recorder defines the pipeline metrics surface. Implementations must be
// safe for concurrent use; the Prometheus implementation also tolerates a
// nil receiver so injection stays optional.
type Recorder interface {
	IncIngestionRun(result ResultLabel)
	AddEventsIngested(n int)
	ObserveIngestionDuration(repo string, d time.Duration)
	IncTransformOutcome(outcome string) // transformed|failed|skipped
	IncReportAttempt(scope string, result ResultLabel)
	ObserveReportDuration(scope string, d time.Duration)
	AddReportTokens(promptTokens, completionTokens int)
	SetQueueDepth(n int)
	SetStalledRepositories(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) IncIngestionRun(ResultLabel)                    {}
func (NoopRecorder) AddEventsIngested(int)                          {}
func (NoopRecorder) ObserveIngestionDuration(string, time.Duration) {}
func (NoopRecorder) IncTransformOutcome(string)                     {}
func (NoopRecorder) IncReportAttempt(string, ResultLabel)           {}
func (NoopRecorder) ObserveReportDuration(string, time.Duration)    {}
func (NoopRecorder) AddReportTokens(int, int)                       {}
func (NoopRecorder) SetQueueDepth(int)                              {}
func (NoopRecorder) SetStalledRepositories(int)                     {}
