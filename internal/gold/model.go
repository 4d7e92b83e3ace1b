// Package gold persists the reporting tier: generated reports, the event
// facts each report covered, and review markers for runs that exhausted
// their validation attempts.
package gold

import "time"

// Scope identifies what a report describes.
type Scope string

const (
	ScopeRepository Scope = "repository"
	ScopeProject    Scope = "project"
	ScopeEstate     Scope = "estate"
)

// MachineSummary is the structured model verdict persisted with a report.
type MachineSummary struct {
	Status     string   `json:"status"`
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights,omitempty"`
	Risks      []string `json:"risks,omitempty"`
	NextSteps  []string `json:"next_steps,omitempty"`
}

// Report is one persisted status report. The window start is inclusive and
// the end exclusive. Model metrics are nullable: heuristic models report none.
type Report struct {
	ID               string
	Scope            Scope
	RepositoryID     string
	ProjectID        string
	WindowStart      time.Time
	WindowEnd        time.Time
	GeneratedAt      time.Time
	Model            string
	HumanText        string
	MachineSummary   MachineSummary
	LatencyMS        *int64
	PromptTokens     *int64
	CompletionTokens *int64
	TotalTokens      *int64
}

// ReviewState tracks whether a review marker still needs attention.
type ReviewState string

const (
	ReviewPending  ReviewState = "pending"
	ReviewResolved ReviewState = "resolved"
)

// ValidationIssue is one stable-coded validator finding.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReportReview marks a window whose report generation exhausted validation.
// At most one pending review exists per (scope_key, window_start, window_end).
type ReportReview struct {
	ID           string
	ScopeKey     string
	RepositoryID string
	ProjectID    string
	WindowStart  time.Time
	WindowEnd    time.Time
	Model        string
	AttemptCount int
	Issues       []ValidationIssue
	State        ReviewState
	CreatedAt    time.Time
}

func ScopeKeyRepository(slug string) string { return "repository:" + slug }
func ScopeKeyProject(key string) string     { return "project:" + key }

// MetricsRow carries one report's model metrics for period aggregation.
type MetricsRow struct {
	Scope            Scope
	LatencyMS        *int64
	PromptTokens     *int64
	CompletionTokens *int64
	TotalTokens      *int64
}
