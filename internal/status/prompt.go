package status

import (
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/ghillie/internal/evidence"
)

// systemPrompt pins the output contract for every LLM call.
const systemPrompt = `You are a software delivery analyst. You receive evidence about recent
repository or project activity and respond with a status assessment.

Respond with a single JSON object and nothing else. The object must have:
  "summary": one or two sentences describing the period,
  "status": one of "on_track", "at_risk", "blocked", "unknown",
  "highlights": a list of short strings (may be empty),
  "risks": a list of short strings (may be empty),
  "next_steps": a list of short strings (may be empty).

Ground every statement in the evidence provided. Do not invent activity.`

// listLimit bounds per-section entity listings in prompts.
const listLimit = 20

func repositoryPrompt(bundle *evidence.RepositoryEvidenceBundle) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Repository: %s\n", bundle.Repository.Slug())
	fmt.Fprintf(&b, "Reporting window: %s to %s (end exclusive)\n",
		bundle.WindowStart.UTC().Format(time.RFC3339), bundle.WindowEnd.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Total events in window: %d\n", bundle.TotalEventCount)

	if prev := bundle.PreviousReport; prev != nil {
		b.WriteString("\nPrevious report:\n")
		fmt.Fprintf(&b, "  status: %s (window ended %s)\n", prev.Status, prev.WindowEnd.UTC().Format("2006-01-02"))
		for _, h := range prev.Highlights {
			fmt.Fprintf(&b, "  highlight: %s\n", h)
		}
		for _, r := range prev.Risks {
			fmt.Fprintf(&b, "  open risk: %s\n", r)
		}
	}

	if len(bundle.WorkTypeCounts) > 0 {
		b.WriteString("\nWork breakdown:\n")
		for _, wt := range []evidence.WorkType{
			evidence.WorkTypeBug, evidence.WorkTypeFeature, evidence.WorkTypeDocs,
			evidence.WorkTypeChore, evidence.WorkTypeOther,
		} {
			if n := bundle.WorkTypeCounts[wt]; n > 0 {
				fmt.Fprintf(&b, "  %s: %d\n", wt, n)
			}
		}
	}

	if len(bundle.Commits) > 0 {
		fmt.Fprintf(&b, "\nCommits (%d):\n", len(bundle.Commits))
		for i, c := range bundle.Commits {
			if i == listLimit {
				fmt.Fprintf(&b, "  … and %d more\n", len(bundle.Commits)-listLimit)
				break
			}
			fmt.Fprintf(&b, "  %s %s [%s]\n", shortSHA(c.SHA), firstLine(c.Message), c.WorkType)
		}
	}

	if len(bundle.PullRequests) > 0 {
		fmt.Fprintf(&b, "\nPull requests (%d):\n", len(bundle.PullRequests))
		for i, pr := range bundle.PullRequests {
			if i == listLimit {
				fmt.Fprintf(&b, "  … and %d more\n", len(bundle.PullRequests)-listLimit)
				break
			}
			fmt.Fprintf(&b, "  #%d (%s) %s [%s]\n", pr.Number, pr.State, pr.Title, pr.WorkType)
		}
	}

	if len(bundle.Issues) > 0 {
		fmt.Fprintf(&b, "\nIssues (%d):\n", len(bundle.Issues))
		for i, issue := range bundle.Issues {
			if i == listLimit {
				fmt.Fprintf(&b, "  … and %d more\n", len(bundle.Issues)-listLimit)
				break
			}
			fmt.Fprintf(&b, "  #%d (%s) %s [%s]\n", issue.Number, issue.State, issue.Title, issue.WorkType)
		}
	}

	if len(bundle.DocChanges) > 0 {
		fmt.Fprintf(&b, "\nDocumentation changes (%d):\n", len(bundle.DocChanges))
		for i, dc := range bundle.DocChanges {
			if i == listLimit {
				fmt.Fprintf(&b, "  … and %d more\n", len(bundle.DocChanges)-listLimit)
				break
			}
			fmt.Fprintf(&b, "  %s (%s)\n", dc.Path, shortSHA(dc.CommitSHA))
		}
	}

	return b.String()
}

func projectPrompt(bundle *evidence.ProjectEvidenceBundle) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Project: %s (%s)\n", bundle.Project.Name, bundle.Project.Key)
	if bundle.Project.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", bundle.Project.Description)
	}

	fmt.Fprintf(&b, "\nComponents (%d):\n", len(bundle.Components))
	for _, ce := range bundle.Components {
		fmt.Fprintf(&b, "  %s (stage: %s)", ce.Component.Name, ce.Component.Stage)
		if ce.Repository != nil {
			fmt.Fprintf(&b, " — repository %s", ce.Repository.Slug())
		}
		b.WriteString("\n")
		if ce.Summary != nil {
			fmt.Fprintf(&b, "    latest status: %s — %s\n", ce.Summary.Status, ce.Summary.Summary)
			for _, r := range ce.Summary.Risks {
				fmt.Fprintf(&b, "    risk: %s\n", r)
			}
		}
	}

	if len(bundle.Dependencies) > 0 {
		fmt.Fprintf(&b, "\nDependencies (%d):\n", len(bundle.Dependencies))
		for _, dep := range bundle.Dependencies {
			fmt.Fprintf(&b, "  %s %s %s\n", dep.FromComponent, dep.Kind, dep.ToComponent)
		}
	}

	return b.String()
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
