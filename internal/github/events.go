// Package github normalises GitHub repository activity into the event
// records Ghillie ingests. Activity sources (API poller, local mirror)
// produce ActivityRecords; the transform hydrators parse the payload
// schemas defined here. The upstream wire format never leaves this package.
package github

import "time"

// Normalised event types routed by the transformer registry.
const (
	EventPush          = "push"
	EventPullRequest   = "pull_request"
	EventIssues        = "issues"
	EventIssueComment  = "issue_comment"
	EventCommitComment = "commit_comment"
)

// ActivityRecord is one normalised unit of repository activity ready for
// ingestion. ExternalID is stable per upstream object so replays deduplicate.
// Author carries the acting login for noise filtering.
type ActivityRecord struct {
	EventType  string
	ExternalID string
	OccurredAt time.Time
	Author     string
	Payload    any
}

// Envelope is the minimal payload shape shared by every event type; the
// transformer uses it to route a raw event to its Silver repository.
type Envelope struct {
	Repository string `json:"repository"`
}

// PushPayload carries one push with its commits.
type PushPayload struct {
	Repository string          `json:"repository"`
	Ref        string          `json:"ref,omitempty"`
	Commits    []CommitPayload `json:"commits"`
}

// CommitPayload is one commit inside a push.
type CommitPayload struct {
	SHA       string   `json:"sha"`
	Author    string   `json:"author,omitempty"`
	Message   string   `json:"message,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Added     []string `json:"added,omitempty"`
	Modified  []string `json:"modified,omitempty"`
	Removed   []string `json:"removed,omitempty"`
}

// PullRequestPayload is the latest-state snapshot of a pull request.
type PullRequestPayload struct {
	Repository string   `json:"repository"`
	Number     int      `json:"number"`
	Title      string   `json:"title,omitempty"`
	Author     string   `json:"author,omitempty"`
	State      string   `json:"state,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	CreatedAt  string   `json:"created_at,omitempty"`
	UpdatedAt  string   `json:"updated_at,omitempty"`
	ClosedAt   string   `json:"closed_at,omitempty"`
}

// IssuePayload is the latest-state snapshot of an issue.
type IssuePayload struct {
	Repository string   `json:"repository"`
	Number     int      `json:"number"`
	Title      string   `json:"title,omitempty"`
	Author     string   `json:"author,omitempty"`
	State      string   `json:"state,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	CreatedAt  string   `json:"created_at,omitempty"`
	UpdatedAt  string   `json:"updated_at,omitempty"`
	ClosedAt   string   `json:"closed_at,omitempty"`
}

// IssueCommentPayload marks comment activity on an existing issue.
type IssueCommentPayload struct {
	Repository  string `json:"repository"`
	IssueNumber int    `json:"issue_number"`
	Author      string `json:"author,omitempty"`
	CommentedAt string `json:"commented_at,omitempty"`
}

// CommitCommentPayload marks comment activity on a commit.
type CommitCommentPayload struct {
	Repository string `json:"repository"`
	CommitSHA  string `json:"commit_sha"`
	Author     string `json:"author,omitempty"`
}
