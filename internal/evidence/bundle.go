// Package evidence assembles the immutable input bundles the status models
// summarise: per-repository activity over a reporting window, and per-project
// component rollups. Bundles are plain values; building twice over unchanged
// stores yields equal bundles.
package evidence

import (
	"time"

	"git.home.luguber.info/inful/ghillie/internal/catalogue"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

// RepositoryEvidenceBundle is everything known about one repository's
// activity in [WindowStart, WindowEnd). Entities are selected by identifier,
// so work created before the window but touched inside it is present.
type RepositoryEvidenceBundle struct {
	Repository  silver.Repository
	WindowStart time.Time
	WindowEnd   time.Time

	Commits      []ClassifiedCommit
	PullRequests []ClassifiedPullRequest
	Issues       []ClassifiedIssue
	DocChanges   []silver.DocumentationChange

	WorkTypeCounts map[WorkType]int

	// PreviousReport carries the last repository-scoped summary forward,
	// nil on the first report.
	PreviousReport *PreviousReportContext

	// EventFactIDs lists the uncovered facts this bundle consumed, sorted
	// by (occurred_at, id). Reports persist these as coverage.
	EventFactIDs    []string
	TotalEventCount int
}

// IsEmpty reports whether the window held no uncovered activity.
func (b *RepositoryEvidenceBundle) IsEmpty() bool {
	return b.TotalEventCount == 0
}

// OpenPullRequestCount counts bundle PRs still open.
func (b *RepositoryEvidenceBundle) OpenPullRequestCount() int {
	n := 0
	for _, pr := range b.PullRequests {
		if pr.State == "open" {
			n++
		}
	}
	return n
}

// OpenIssueCount counts bundle issues still open.
func (b *RepositoryEvidenceBundle) OpenIssueCount() int {
	n := 0
	for _, issue := range b.Issues {
		if issue.State == "open" {
			n++
		}
	}
	return n
}

// ClassifiedCommit is a Silver commit with its work type.
type ClassifiedCommit struct {
	silver.Commit
	WorkType WorkType
}

// ClassifiedPullRequest is a Silver pull request with its work type.
type ClassifiedPullRequest struct {
	silver.PullRequest
	WorkType WorkType
}

// ClassifiedIssue is a Silver issue with its work type.
type ClassifiedIssue struct {
	silver.Issue
	WorkType WorkType
}

// PreviousReportContext is the slice of the last machine summary that the
// next report carries forward.
type PreviousReportContext struct {
	ReportID   string
	Status     string
	Highlights []string
	Risks      []string
	WindowEnd  time.Time
}

// ProjectEvidenceBundle is the component rollup for one catalogue project.
type ProjectEvidenceBundle struct {
	Project      catalogue.Project
	Components   []ComponentEvidence
	Dependencies []ComponentDependencyEvidence
}

// ComponentEvidence pairs a catalogue component with its resolved repository
// and that repository's latest report summary. Components without
// repositories contribute lifecycle stage only.
type ComponentEvidence struct {
	Component  catalogue.Component
	Repository *silver.Repository
	Summary    *ComponentRepositorySummary
}

// ComponentRepositorySummary is the latest repository-scoped machine summary
// for a component's repository.
type ComponentRepositorySummary struct {
	ReportID   string
	Status     string
	Summary    string
	Highlights []string
	Risks      []string
	WindowEnd  time.Time
}

// ComponentDependencyEvidence is one intra-project dependency edge.
type ComponentDependencyEvidence struct {
	FromComponent string
	ToComponent   string
	Kind          string
}
