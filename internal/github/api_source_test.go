package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

func fastRetries(t *testing.T) {
	t.Helper()
	origWait := retryMinWaitDuration
	retryMinWaitDuration = time.Millisecond
	t.Cleanup(func() { retryMinWaitDuration = origWait })
}

func newTestSource(t *testing.T, handler http.Handler) *APISource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source, err := NewAPISource("", srv.URL+"/api/v3/", 5*time.Second, logger)
	require.NoError(t, err)
	return source
}

var testSilverRepo = silver.Repository{
	ID:          "repo-1",
	GithubOwner: "acme",
	GithubName:  "widgets",
}

func TestFetchSinceNormalisesActivity(t *testing.T) {
	fastRetries(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widgets/commits", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"sha":"aaa111","commit":{"author":{"name":"Mira","date":"2026-03-02T09:58:00Z"},"message":"add install guide"},"author":{"login":"mira"}}]`)
	})
	mux.HandleFunc("/api/v3/repos/acme/widgets/commits/aaa111", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"aaa111","commit":{"author":{"name":"Mira","date":"2026-03-02T09:58:00Z"},"message":"add install guide"},"author":{"login":"mira"},"files":[{"filename":"docs/install.md","status":"added"},{"filename":"main.go","status":"modified"}]}`)
	})
	mux.HandleFunc("/api/v3/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"number":12,"title":"Add API","state":"open","user":{"login":"mira"},"labels":[{"name":"feature"}],"created_at":"2026-03-02T08:00:00Z","updated_at":"2026-03-02T10:00:00Z"},
			{"number":3,"title":"Old PR","state":"closed","user":{"login":"bob"},"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-02-01T00:00:00Z"}
		]`)
	})
	mux.HandleFunc("/api/v3/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"number":7,"title":"flaky test","state":"open","user":{"login":"bob"},"labels":[{"name":"bug"}],"created_at":"2026-03-01T08:00:00Z","updated_at":"2026-03-02T11:00:00Z"},
			{"number":12,"title":"Add API","state":"open","user":{"login":"mira"},"updated_at":"2026-03-02T10:00:00Z","pull_request":{"url":"https://example.test/pr/12"}}
		]`)
	})
	mux.HandleFunc("/api/v3/repos/acme/widgets/issues/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":555,"issue_url":"https://api.github.com/repos/acme/widgets/issues/7","user":{"login":"renovate[bot]"},"created_at":"2026-03-02T12:00:00Z"}]`)
	})

	source := newTestSource(t, mux)
	records, err := source.FetchSince(context.Background(), testSilverRepo, since)
	require.NoError(t, err)
	require.Len(t, records, 4)

	byType := make(map[string]ActivityRecord)
	for _, rec := range records {
		byType[rec.EventType] = rec
	}

	push := byType[EventPush]
	require.Equal(t, "acme/widgets:commit:aaa111", push.ExternalID)
	require.Equal(t, "mira", push.Author)
	payload, ok := push.Payload.(PushPayload)
	require.True(t, ok)
	require.Len(t, payload.Commits, 1)
	require.Equal(t, []string{"docs/install.md"}, payload.Commits[0].Added)
	require.Equal(t, []string{"main.go"}, payload.Commits[0].Modified)

	pr := byType[EventPullRequest]
	prPayload, ok := pr.Payload.(PullRequestPayload)
	require.True(t, ok)
	require.Equal(t, 12, prPayload.Number, "pull requests at or before the checkpoint are cut off")
	require.Equal(t, []string{"feature"}, prPayload.Labels)

	issue := byType[EventIssues]
	issuePayload, ok := issue.Payload.(IssuePayload)
	require.True(t, ok)
	require.Equal(t, 7, issuePayload.Number, "issues that are pull requests are filtered")

	comment := byType[EventIssueComment]
	commentPayload, ok := comment.Payload.(IssueCommentPayload)
	require.True(t, ok)
	require.Equal(t, 7, commentPayload.IssueNumber)
	require.Equal(t, "renovate[bot]", comment.Author)
}

func TestFetchSinceRetriesTransientErrors(t *testing.T) {
	fastRetries(t)

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widgets/commits", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[]`)
	})
	emptyList := func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `[]`) }
	mux.HandleFunc("/api/v3/repos/acme/widgets/pulls", emptyList)
	mux.HandleFunc("/api/v3/repos/acme/widgets/issues", emptyList)
	mux.HandleFunc("/api/v3/repos/acme/widgets/issues/comments", emptyList)

	source := newTestSource(t, mux)
	records, err := source.FetchSince(context.Background(), testSilverRepo, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchSinceDoesNotRetryPermanentErrors(t *testing.T) {
	fastRetries(t)

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/widgets/commits", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})

	source := newTestSource(t, mux)
	_, err := source.FetchSince(context.Background(), testSilverRepo, time.Now().Add(-time.Hour))
	require.Error(t, err)
	require.True(t, gerrors.IsCategory(err, gerrors.CategoryPermanentUpstream))
	require.False(t, gerrors.IsRetryable(err))
	require.Equal(t, int32(1), calls.Load())
}

func TestIssueNumberFromURL(t *testing.T) {
	number, ok := issueNumberFromURL("https://api.github.com/repos/acme/widgets/issues/42")
	require.True(t, ok)
	require.Equal(t, 42, number)

	_, ok = issueNumberFromURL("not-a-url")
	require.False(t, ok)

	_, ok = issueNumberFromURL("https://api.github.com/repos/acme/widgets/issues/zero")
	require.False(t, ok)
}
