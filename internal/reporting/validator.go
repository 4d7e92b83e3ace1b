// Package reporting orchestrates report generation: window computation,
// bounded model attempts with validation, atomic persistence with coverage,
// and review markers for windows that exhausted their attempts.
package reporting

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/status"
)

// Validation issue codes. Stable across versions; review tooling keys on
// them.
const (
	IssueEmptySummary          = "empty_summary"
	IssueTruncatedSummary      = "truncated_summary"
	IssueImplausibleHighlights = "implausible_highlights"
)

// Verdict is the outcome of validating one model result.
type Verdict struct {
	Valid  bool
	Issues []gold.ValidationIssue
}

// Validate runs the conservative result checks against the evidence that
// produced it. totalEvents is the bundle's uncovered event count;
// emptyEvidence marks a bundle holding no activity at all.
func Validate(result *status.Result, totalEvents int, emptyEvidence bool) Verdict {
	var issues []gold.ValidationIssue

	summary := strings.TrimSpace(result.Summary)
	switch {
	case summary == "":
		issues = append(issues, gold.ValidationIssue{
			Code:    IssueEmptySummary,
			Message: "summary is empty",
		})
	case truncated(summary):
		issues = append(issues, gold.ValidationIssue{
			Code:    IssueTruncatedSummary,
			Message: "summary ends mid-sentence",
		})
	}

	limit := max(3, totalEvents)
	switch {
	case emptyEvidence && len(result.Highlights) > 0:
		issues = append(issues, gold.ValidationIssue{
			Code:    IssueImplausibleHighlights,
			Message: "highlights reported for a window with no activity",
		})
	case len(result.Highlights) > limit:
		issues = append(issues, gold.ValidationIssue{
			Code:    IssueImplausibleHighlights,
			Message: fmt.Sprintf("%d highlights exceed the plausible limit of %d", len(result.Highlights), limit),
		})
	}

	return Verdict{Valid: len(issues) == 0, Issues: issues}
}

// truncated reports whether a non-empty trimmed summary ends on an ellipsis
// or an unterminated clause: a trailing comma, colon, or dangling
// conjunction.
func truncated(summary string) bool {
	if strings.HasSuffix(summary, "...") || strings.HasSuffix(summary, "…") {
		return true
	}
	switch summary[len(summary)-1] {
	case ',', ':':
		return true
	}
	fields := strings.Fields(summary)
	switch strings.ToLower(fields[len(fields)-1]) {
	case "and", "or", "but":
		return true
	}
	return false
}
