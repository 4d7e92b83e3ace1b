package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v84/github"
	"github.com/sethvargo/go-retry"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

const listPageSize = 100

// can be overridden for testing
var (
	retryMinWaitDuration        = 500 * time.Millisecond
	retryMaxAttempts     uint64 = 3
	retryFunc                   = retry.NewFibonacci
)

// APISource polls the GitHub REST API and normalises repository activity
// into ActivityRecords. Transient upstream failures (429, 5xx, network) are
// retried in-call with fibonacci backoff; permanent 4xx errors surface to
// the caller.
type APISource struct {
	client  *gh.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewAPISource(token, baseURL string, timeout time.Duration, logger *slog.Logger) (*APISource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := gh.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, gerrors.Wrap(err, gerrors.CategoryConfig, gerrors.SeverityFatal, "configure GitHub base URL")
		}
	}
	return &APISource{
		client:  client,
		timeout: timeout,
		logger:  logger.With(logfields.Component("github_source")),
	}, nil
}

// FetchSince returns activity for the repository newer than since:
// commits, pull requests, issues, and issue comments.
func (s *APISource) FetchSince(ctx context.Context, repo silver.Repository, since time.Time) ([]ActivityRecord, error) {
	var records []ActivityRecord

	commits, err := s.fetchCommits(ctx, repo, since)
	if err != nil {
		return nil, err
	}
	records = append(records, commits...)

	pulls, err := s.fetchPullRequests(ctx, repo, since)
	if err != nil {
		return nil, err
	}
	records = append(records, pulls...)

	issues, err := s.fetchIssues(ctx, repo, since)
	if err != nil {
		return nil, err
	}
	records = append(records, issues...)

	comments, err := s.fetchIssueComments(ctx, repo, since)
	if err != nil {
		return nil, err
	}
	records = append(records, comments...)

	return records, nil
}

func (s *APISource) fetchCommits(ctx context.Context, repo silver.Repository, since time.Time) ([]ActivityRecord, error) {
	var records []ActivityRecord
	opts := &gh.CommitsListOptions{
		Since:       since,
		ListOptions: gh.ListOptions{PerPage: listPageSize},
	}
	for {
		var page []*gh.RepositoryCommit
		var resp *gh.Response
		err := s.call(ctx, "list commits", func(ctx context.Context) error {
			var callErr error
			page, resp, callErr = s.client.Repositories.ListCommits(ctx, repo.GithubOwner, repo.GithubName, opts)
			return callErr
		})
		if err != nil {
			return nil, err
		}

		for _, rc := range page {
			record, err := s.commitRecord(ctx, repo, rc)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}

		if resp == nil || resp.NextPage == 0 {
			return records, nil
		}
		opts.Page = resp.NextPage
	}
}

// commitRecord fetches the commit detail for its file list; the list
// endpoint does not include touched paths and documentation changes need
// them.
func (s *APISource) commitRecord(ctx context.Context, repo silver.Repository, rc *gh.RepositoryCommit) (ActivityRecord, error) {
	sha := rc.GetSHA()

	var detail *gh.RepositoryCommit
	err := s.call(ctx, "get commit", func(ctx context.Context) error {
		var callErr error
		detail, _, callErr = s.client.Repositories.GetCommit(ctx, repo.GithubOwner, repo.GithubName, sha, nil)
		return callErr
	})
	if err != nil {
		return ActivityRecord{}, err
	}

	var added, modified, removed []string
	for _, f := range detail.Files {
		switch f.GetStatus() {
		case "added":
			added = append(added, f.GetFilename())
		case "removed":
			removed = append(removed, f.GetFilename())
		default:
			modified = append(modified, f.GetFilename())
		}
	}

	author := rc.GetAuthor().GetLogin()
	if author == "" {
		author = rc.GetCommit().GetAuthor().GetName()
	}
	occurredAt := rc.GetCommit().GetAuthor().GetDate().Time

	return ActivityRecord{
		EventType:  EventPush,
		ExternalID: fmt.Sprintf("%s:commit:%s", repo.Slug(), sha),
		OccurredAt: occurredAt,
		Author:     author,
		Payload: PushPayload{
			Repository: repo.Slug(),
			Commits: []CommitPayload{{
				SHA:       sha,
				Author:    author,
				Message:   rc.GetCommit().GetMessage(),
				Timestamp: occurredAt.UTC().Format(time.RFC3339),
				Added:     added,
				Modified:  modified,
				Removed:   removed,
			}},
		},
	}, nil
}

func (s *APISource) fetchPullRequests(ctx context.Context, repo silver.Repository, since time.Time) ([]ActivityRecord, error) {
	var records []ActivityRecord
	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: listPageSize},
	}
	for {
		var page []*gh.PullRequest
		var resp *gh.Response
		err := s.call(ctx, "list pull requests", func(ctx context.Context) error {
			var callErr error
			page, resp, callErr = s.client.PullRequests.List(ctx, repo.GithubOwner, repo.GithubName, opts)
			return callErr
		})
		if err != nil {
			return nil, err
		}

		for _, pr := range page {
			updatedAt := pr.GetUpdatedAt().Time
			// Sorted by updated desc: past the checkpoint means done.
			if !updatedAt.After(since) {
				return records, nil
			}
			records = append(records, ActivityRecord{
				EventType:  EventPullRequest,
				ExternalID: fmt.Sprintf("%s:pr:%d:%d", repo.Slug(), pr.GetNumber(), updatedAt.Unix()),
				OccurredAt: updatedAt,
				Author:     pr.GetUser().GetLogin(),
				Payload: PullRequestPayload{
					Repository: repo.Slug(),
					Number:     pr.GetNumber(),
					Title:      pr.GetTitle(),
					Author:     pr.GetUser().GetLogin(),
					State:      pr.GetState(),
					Labels:     labelNames(pr.Labels),
					CreatedAt:  formatTimestamp(pr.GetCreatedAt()),
					UpdatedAt:  formatTimestamp(pr.GetUpdatedAt()),
					ClosedAt:   formatTimestamp(pr.GetClosedAt()),
				},
			})
		}

		if resp == nil || resp.NextPage == 0 {
			return records, nil
		}
		opts.Page = resp.NextPage
	}
}

func (s *APISource) fetchIssues(ctx context.Context, repo silver.Repository, since time.Time) ([]ActivityRecord, error) {
	var records []ActivityRecord
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		Since:       since,
		Sort:        "updated",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: listPageSize},
	}
	for {
		var page []*gh.Issue
		var resp *gh.Response
		err := s.call(ctx, "list issues", func(ctx context.Context) error {
			var callErr error
			page, resp, callErr = s.client.Issues.ListByRepo(ctx, repo.GithubOwner, repo.GithubName, opts)
			return callErr
		})
		if err != nil {
			return nil, err
		}

		for _, issue := range page {
			if issue.IsPullRequest() {
				continue
			}
			updatedAt := issue.GetUpdatedAt().Time
			records = append(records, ActivityRecord{
				EventType:  EventIssues,
				ExternalID: fmt.Sprintf("%s:issue:%d:%d", repo.Slug(), issue.GetNumber(), updatedAt.Unix()),
				OccurredAt: updatedAt,
				Author:     issue.GetUser().GetLogin(),
				Payload: IssuePayload{
					Repository: repo.Slug(),
					Number:     issue.GetNumber(),
					Title:      issue.GetTitle(),
					Author:     issue.GetUser().GetLogin(),
					State:      issue.GetState(),
					Labels:     labelNames(issue.Labels),
					CreatedAt:  formatTimestamp(issue.GetCreatedAt()),
					UpdatedAt:  formatTimestamp(issue.GetUpdatedAt()),
					ClosedAt:   formatTimestamp(issue.GetClosedAt()),
				},
			})
		}

		if resp == nil || resp.NextPage == 0 {
			return records, nil
		}
		opts.ListOptions.Page = resp.NextPage
	}
}

func (s *APISource) fetchIssueComments(ctx context.Context, repo silver.Repository, since time.Time) ([]ActivityRecord, error) {
	var records []ActivityRecord
	sort := "created"
	direction := "asc"
	opts := &gh.IssueListCommentsOptions{
		Sort:        &sort,
		Direction:   &direction,
		Since:       &since,
		ListOptions: gh.ListOptions{PerPage: listPageSize},
	}
	for {
		var page []*gh.IssueComment
		var resp *gh.Response
		err := s.call(ctx, "list issue comments", func(ctx context.Context) error {
			var callErr error
			// Issue number 0 lists comments across the repository.
			page, resp, callErr = s.client.Issues.ListComments(ctx, repo.GithubOwner, repo.GithubName, 0, opts)
			return callErr
		})
		if err != nil {
			return nil, err
		}

		for _, comment := range page {
			number, ok := issueNumberFromURL(comment.GetIssueURL())
			if !ok {
				s.logger.Warn("skipping comment with unparseable issue url",
					logfields.Repository(repo.Slug()),
					logfields.URL(comment.GetIssueURL()),
				)
				continue
			}
			records = append(records, ActivityRecord{
				EventType:  EventIssueComment,
				ExternalID: fmt.Sprintf("%s:issue_comment:%d", repo.Slug(), comment.GetID()),
				OccurredAt: comment.GetCreatedAt().Time,
				Author:     comment.GetUser().GetLogin(),
				Payload: IssueCommentPayload{
					Repository:  repo.Slug(),
					IssueNumber: number,
					Author:      comment.GetUser().GetLogin(),
					CommentedAt: formatTimestamp(comment.GetCreatedAt()),
				},
			})
		}

		if resp == nil || resp.NextPage == 0 {
			return records, nil
		}
		opts.Page = resp.NextPage
	}
}

// call runs one API invocation with a per-call timeout and fibonacci retry
// on transient failures.
func (s *APISource) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retryFunc(retryMinWaitDuration)
	backoff = retry.WithMaxRetries(retryMaxAttempts, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		classified := classifyAPIError(op, err)
		if gerrors.IsRetryable(classified) {
			return retry.RetryableError(classified)
		}
		return classified
	})
}

// classifyAPIError decides transient (retryable) versus permanent. Rate
// limits, 5xx and network failures retry; other 4xx do not.
func classifyAPIError(op string, err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return gerrors.TransientUpstream(op, err)
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return gerrors.TransientUpstream(op, err)
		}
		return gerrors.PermanentUpstream(op, err)
	}

	// Anything without an HTTP status is a network-level failure.
	return gerrors.TransientUpstream(op, err)
}

func labelNames(labels []*gh.Label) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		if name := l.GetName(); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func formatTimestamp(ts gh.Timestamp) string {
	if ts.Time.IsZero() {
		return ""
	}
	return ts.Time.UTC().Format(time.RFC3339)
}

func issueNumberFromURL(issueURL string) (int, bool) {
	idx := strings.LastIndex(issueURL, "/")
	if idx < 0 {
		return 0, false
	}
	number, err := strconv.Atoi(issueURL[idx+1:])
	if err != nil || number <= 0 {
		return 0, false
	}
	return number, true
}
