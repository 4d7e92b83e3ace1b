// Package silver holds the refined entity tier of the Medallion pipeline:
// repositories, commits, pull requests, issues, documentation changes, and
// the canonical EventFact rows linking back to Bronze.
package silver

import (
	"strings"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

// Repository is a tracked GitHub repository.
type Repository struct {
	ID                 string
	GithubOwner        string
	GithubName         string
	DocumentationPaths []string
	IngestionEnabled   bool
}

// Slug is the owner/name form used in APIs, logs and checkpoints.
func (r Repository) Slug() string {
	return r.GithubOwner + "/" + r.GithubName
}

// ParseSlug splits an owner/name slug into its parts.
func ParseSlug(slug string) (owner, name string, err error) {
	owner, name, found := strings.Cut(slug, "/")
	if !found || owner == "" || name == "" {
		return "", "", gerrors.ValidationFailed("slug", "expected owner/name, got "+slug)
	}
	return owner, name, nil
}

// Commit is keyed by its sha within a repository.
type Commit struct {
	ID        string
	RepoID    string
	SHA       string
	Author    string
	Message   string
	CreatedAt time.Time
}

// PullRequest is keyed by its GitHub number within a repository.
type PullRequest struct {
	ID        string
	RepoID    string
	Number    int
	Title     string
	Author    string
	State     string
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// Issue is keyed by its GitHub number within a repository.
type Issue struct {
	ID        string
	RepoID    string
	Number    int
	Title     string
	Author    string
	State     string
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// DocumentationChange is keyed by (commit sha, path) within a repository.
type DocumentationChange struct {
	ID        string
	RepoID    string
	CommitSHA string
	Path      string
	ChangedAt time.Time
}

// DocChangeKey identifies one documentation change.
type DocChangeKey struct {
	CommitSHA string
	Path      string
}

// EventFact is the canonical, typed projection of one raw event; exactly one
// exists per successfully transformed RawEvent.
type EventFact struct {
	ID            string
	RawEventID    string
	RepoID        string
	EventType     string
	OccurredAt    time.Time
	PayloadDigest string
	Payload       []byte
}

// IssueTouch bumps an existing issue's updated_at without creating the row;
// comment activity must never mint stub issues.
type IssueTouch struct {
	RepoID    string
	Number    int
	UpdatedAt time.Time
}

// HydrationWrites is the set of Silver writes produced by hydrating one raw
// event. The fact is mandatory; entity slices may be empty.
type HydrationWrites struct {
	Commits      []Commit
	PullRequests []PullRequest
	Issues       []Issue
	DocChanges   []DocumentationChange
	IssueTouches []IssueTouch
	Fact         EventFact
}
