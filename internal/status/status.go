// Package status defines the model port that turns evidence bundles into
// structured status results, with a deterministic heuristic variant and an
// OpenAI-compatible LLM adapter.
package status

import (
	"context"

	"git.home.luguber.info/inful/ghillie/internal/evidence"
)

// Code is the coarse health verdict of a report.
type Code string

const (
	CodeOnTrack Code = "on_track"
	CodeAtRisk  Code = "at_risk"
	CodeBlocked Code = "blocked"
	CodeUnknown Code = "unknown"
)

// ParseCode maps a status string to a Code; anything unrecognised is unknown.
func ParseCode(s string) Code {
	switch Code(s) {
	case CodeOnTrack, CodeAtRisk, CodeBlocked, CodeUnknown:
		return Code(s)
	default:
		return CodeUnknown
	}
}

// Result is the structured outcome of one summarisation. Raw carries the
// verbatim model output when a remote model produced it; deterministic
// models leave it empty.
type Result struct {
	Summary    string
	Status     Code
	Highlights []string
	Risks      []string
	NextSteps  []string
	Raw        string
}

// Model summarises evidence bundles. Implementations must be safe for
// concurrent use.
type Model interface {
	SummarizeRepository(ctx context.Context, bundle *evidence.RepositoryEvidenceBundle) (*Result, error)
	SummarizeProject(ctx context.Context, bundle *evidence.ProjectEvidenceBundle) (*Result, error)
	Name() string
}

// InvocationMetrics is the per-call cost side-channel an adapter may expose.
type InvocationMetrics struct {
	LatencyMS        int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// InvocationMetricsProvider is optionally implemented by adapters that can
// report the cost of their most recent call. The port itself does not
// require it; callers type-assert.
type InvocationMetricsProvider interface {
	LastInvocationMetrics() (InvocationMetrics, bool)
}
