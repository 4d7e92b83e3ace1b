package status

import (
	"context"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/ghillie/internal/evidence"
)

// HeuristicModel is the deterministic fallback: no network, no tokens, same
// bundle always yields the same result.
type HeuristicModel struct{}

func NewHeuristicModel() *HeuristicModel { return &HeuristicModel{} }

func (m *HeuristicModel) Name() string { return "heuristic-v1" }

func (m *HeuristicModel) SummarizeRepository(_ context.Context, bundle *evidence.RepositoryEvidenceBundle) (*Result, error) {
	if bundle.IsEmpty() {
		return &Result{
			Summary:   fmt.Sprintf("No activity recorded for %s in this window.", bundle.Repository.Slug()),
			Status:    CodeUnknown,
			NextSteps: []string{"investigate activity"},
		}, nil
	}

	code := CodeOnTrack
	var risks []string
	if prev := bundle.PreviousReport; prev != nil && len(prev.Risks) > 0 {
		code = CodeAtRisk
		risks = append(risks, prev.Risks...)
	}
	bugs := bundle.WorkTypeCounts[evidence.WorkTypeBug]
	features := bundle.WorkTypeCounts[evidence.WorkTypeFeature]
	if bugs > features {
		code = CodeAtRisk
		risks = append(risks, fmt.Sprintf("bug-type work (%d) outweighs feature work (%d)", bugs, features))
	}

	var steps []string
	if code == CodeAtRisk {
		steps = append(steps, "address risks")
	}
	if bundle.OpenPullRequestCount() > 0 {
		steps = append(steps, "review open PRs")
	}
	if bundle.OpenIssueCount() > 0 {
		steps = append(steps, "triage open issues")
	}

	return &Result{
		Summary:    repositorySummaryLine(bundle),
		Status:     code,
		Highlights: repositoryHighlights(bundle),
		Risks:      risks,
		NextSteps:  steps,
	}, nil
}

func (m *HeuristicModel) SummarizeProject(_ context.Context, bundle *evidence.ProjectEvidenceBundle) (*Result, error) {
	if len(bundle.Components) == 0 {
		return &Result{
			Summary:   fmt.Sprintf("Project %s has no components in the catalogue.", bundle.Project.Key),
			Status:    CodeUnknown,
			NextSteps: []string{"investigate activity"},
		}, nil
	}

	// The worst component status wins; components without reports do not
	// drag the project to unknown on their own.
	code := CodeUnknown
	var risks []string
	reported := 0
	for _, component := range bundle.Components {
		if component.Summary == nil {
			continue
		}
		reported++
		risks = append(risks, component.Summary.Risks...)
		code = worseCode(code, ParseCode(component.Summary.Status))
	}
	if reported > 0 && code == CodeUnknown {
		code = CodeOnTrack
	}

	var steps []string
	if code == CodeAtRisk || code == CodeBlocked {
		steps = append(steps, "address risks")
	}
	if code == CodeUnknown {
		steps = append(steps, "investigate activity")
	}

	return &Result{
		Summary: fmt.Sprintf("%d of %d components in %s have current reports.",
			reported, len(bundle.Components), bundle.Project.Key),
		Status:    code,
		Risks:     risks,
		NextSteps: steps,
	}, nil
}

// worseCode orders on_track < at_risk < blocked; unknown never overrides a
// concrete verdict.
func worseCode(current, candidate Code) Code {
	rank := map[Code]int{CodeUnknown: 0, CodeOnTrack: 1, CodeAtRisk: 2, CodeBlocked: 3}
	if rank[candidate] > rank[current] {
		return candidate
	}
	return current
}

func repositorySummaryLine(bundle *evidence.RepositoryEvidenceBundle) string {
	var parts []string
	if n := len(bundle.Commits); n > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", n, plural(n, "commit", "commits")))
	}
	if n := len(bundle.PullRequests); n > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", n, plural(n, "pull request", "pull requests")))
	}
	if n := len(bundle.Issues); n > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", n, plural(n, "issue", "issues")))
	}
	if n := len(bundle.DocChanges); n > 0 {
		parts = append(parts, fmt.Sprintf("%d documentation %s", n, plural(n, "change", "changes")))
	}
	activity := "activity"
	if len(parts) > 0 {
		activity = strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%s saw %d events this window: %s.",
		bundle.Repository.Slug(), bundle.TotalEventCount, activity)
}

func repositoryHighlights(bundle *evidence.RepositoryEvidenceBundle) []string {
	var highlights []string
	for _, pr := range bundle.PullRequests {
		if pr.State != "open" {
			highlights = append(highlights, fmt.Sprintf("pull request #%d %s: %s", pr.Number, pr.State, pr.Title))
		}
	}
	if n := len(bundle.DocChanges); n > 0 {
		highlights = append(highlights, fmt.Sprintf("%d documentation %s updated", n, plural(n, "page", "pages")))
	}
	if len(highlights) > 3 {
		highlights = highlights[:3]
	}
	return highlights
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
