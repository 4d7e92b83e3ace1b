// Package render turns persisted reports into Markdown documents and, for
// browser consumption, HTML. Rendering is pure: the document is a function of
// the machine summary plus scope and window metadata, so re-rendering a
// stored report always yields the same bytes.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/gold"
)

var statusTitle = cases.Title(language.English)

// RepositoryMarkdown renders a repository-scoped report.
func RepositoryMarkdown(owner, name string, report gold.Report) string {
	return document(owner+"/"+name, report)
}

// ProjectMarkdown renders a project-scoped report.
func ProjectMarkdown(projectKey string, report gold.Report) string {
	return document("project "+projectKey, report)
}

// document assembles the canonical report layout: title with the window,
// status line, the populated summary sections, and a footer naming the model
// and report id. Empty sections are omitted.
func document(subject string, report gold.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s — Status report (%s to %s)\n",
		subject,
		report.WindowStart.UTC().Format(time.DateOnly),
		report.WindowEnd.UTC().Format(time.DateOnly))

	summary := report.MachineSummary
	if status := StatusLabel(summary.Status); status != "" {
		fmt.Fprintf(&b, "\n**Status:** %s\n", status)
	}
	if text := strings.TrimSpace(summary.Summary); text != "" {
		b.WriteString("\n## Summary\n\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	writeListSection(&b, "Highlights", summary.Highlights)
	writeListSection(&b, "Risks", summary.Risks)
	writeListSection(&b, "Next steps", summary.NextSteps)

	fmt.Fprintf(&b, "\n---\n\n_Generated by %s (report %s)_\n", report.Model, report.ID)
	return b.String()
}

func writeListSection(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// StatusLabel humanises a status code for display: "on_track" becomes
// "On Track". Unknown or empty codes pass through title-cased so future
// codes degrade gracefully.
func StatusLabel(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	return statusTitle.String(strings.ReplaceAll(code, "_", " "))
}

// HTML converts a rendered Markdown document to HTML via goldmark.
func HTML(markdown string) ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.New().Convert([]byte(markdown), &buf); err != nil {
		return nil, gerrors.InternalError("render report html", err)
	}
	return buf.Bytes(), nil
}
