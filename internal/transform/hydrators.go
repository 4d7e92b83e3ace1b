package transform

import (
	"encoding/json"
	"strings"
	"time"

	"git.home.luguber.info/inful/ghillie/internal/bronze"
	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/github"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

// canonicalFact builds the EventFact every hydrator must emit: 1:1 with the
// raw event, digest computed over the stored Bronze payload.
func canonicalFact(event bronze.RawEvent, repo silver.Repository) silver.EventFact {
	return silver.EventFact{
		RawEventID:    event.ID,
		RepoID:        repo.ID,
		EventType:     event.EventType,
		OccurredAt:    event.OccurredAt,
		PayloadDigest: bronze.Digest(event.Payload),
		Payload:       event.Payload,
	}
}

// hydrateRecordOnly produces the event fact and nothing else. It serves
// commit comments and every event type without a dedicated hydrator.
func hydrateRecordOnly(event bronze.RawEvent, repo silver.Repository) (silver.HydrationWrites, error) {
	return silver.HydrationWrites{Fact: canonicalFact(event, repo)}, nil
}

func hydratePush(event bronze.RawEvent, repo silver.Repository) (silver.HydrationWrites, error) {
	var payload github.PushPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return silver.HydrationWrites{}, gerrors.Wrap(err, gerrors.CategoryValidation, gerrors.SeverityError, "decode push payload")
	}

	writes := silver.HydrationWrites{Fact: canonicalFact(event, repo)}
	for _, c := range payload.Commits {
		if c.SHA == "" {
			continue
		}
		committedAt := parseCommitTime(c.Timestamp, event.OccurredAt)
		writes.Commits = append(writes.Commits, silver.Commit{
			RepoID:    repo.ID,
			SHA:       c.SHA,
			Author:    c.Author,
			Message:   c.Message,
			CreatedAt: committedAt,
		})
		for _, path := range docPaths(repo.DocumentationPaths, c.Added, c.Modified) {
			writes.DocChanges = append(writes.DocChanges, silver.DocumentationChange{
				RepoID:    repo.ID,
				CommitSHA: c.SHA,
				Path:      path,
				ChangedAt: committedAt,
			})
		}
	}
	return writes, nil
}

func hydratePullRequest(event bronze.RawEvent, repo silver.Repository) (silver.HydrationWrites, error) {
	var payload github.PullRequestPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return silver.HydrationWrites{}, gerrors.Wrap(err, gerrors.CategoryValidation, gerrors.SeverityError, "decode pull request payload")
	}
	if payload.Number <= 0 {
		return silver.HydrationWrites{}, gerrors.ValidationFailed("number", "pull request payload missing number")
	}

	pr := silver.PullRequest{
		RepoID:    repo.ID,
		Number:    payload.Number,
		Title:     payload.Title,
		Author:    payload.Author,
		State:     defaultState(payload.State),
		Labels:    payload.Labels,
		CreatedAt: parseCommitTime(payload.CreatedAt, event.OccurredAt),
		UpdatedAt: parseCommitTime(payload.UpdatedAt, event.OccurredAt),
	}
	if payload.ClosedAt != "" {
		closedAt := parseCommitTime(payload.ClosedAt, event.OccurredAt)
		pr.ClosedAt = &closedAt
	}

	return silver.HydrationWrites{
		PullRequests: []silver.PullRequest{pr},
		Fact:         canonicalFact(event, repo),
	}, nil
}

func hydrateIssue(event bronze.RawEvent, repo silver.Repository) (silver.HydrationWrites, error) {
	var payload github.IssuePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return silver.HydrationWrites{}, gerrors.Wrap(err, gerrors.CategoryValidation, gerrors.SeverityError, "decode issue payload")
	}
	if payload.Number <= 0 {
		return silver.HydrationWrites{}, gerrors.ValidationFailed("number", "issue payload missing number")
	}

	issue := silver.Issue{
		RepoID:    repo.ID,
		Number:    payload.Number,
		Title:     payload.Title,
		Author:    payload.Author,
		State:     defaultState(payload.State),
		Labels:    payload.Labels,
		CreatedAt: parseCommitTime(payload.CreatedAt, event.OccurredAt),
		UpdatedAt: parseCommitTime(payload.UpdatedAt, event.OccurredAt),
	}
	if payload.ClosedAt != "" {
		closedAt := parseCommitTime(payload.ClosedAt, event.OccurredAt)
		issue.ClosedAt = &closedAt
	}

	return silver.HydrationWrites{
		Issues: []silver.Issue{issue},
		Fact:   canonicalFact(event, repo),
	}, nil
}

func hydrateIssueComment(event bronze.RawEvent, repo silver.Repository) (silver.HydrationWrites, error) {
	var payload github.IssueCommentPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return silver.HydrationWrites{}, gerrors.Wrap(err, gerrors.CategoryValidation, gerrors.SeverityError, "decode issue comment payload")
	}

	writes := silver.HydrationWrites{Fact: canonicalFact(event, repo)}
	if payload.IssueNumber > 0 {
		writes.IssueTouches = []silver.IssueTouch{{
			RepoID:    repo.ID,
			Number:    payload.IssueNumber,
			UpdatedAt: parseCommitTime(payload.CommentedAt, event.OccurredAt),
		}}
	}
	return writes, nil
}

// docPaths intersects a commit's touched files with the repository's
// configured documentation prefixes, deduplicated and ordered.
func docPaths(prefixes []string, pathLists ...[]string) []string {
	if len(prefixes) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var matched []string
	for _, paths := range pathLists {
		for _, path := range paths {
			if seen[path] {
				continue
			}
			for _, prefix := range prefixes {
				if strings.HasPrefix(path, prefix) {
					seen[path] = true
					matched = append(matched, path)
					break
				}
			}
		}
	}
	return matched
}

func parseCommitTime(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return fallback
	}
	return t
}

func defaultState(state string) string {
	if state == "" {
		return "open"
	}
	return state
}
