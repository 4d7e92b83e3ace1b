package gold

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghillie/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func i64(n int64) *int64 { return &n }

func sampleReport(scope Scope, scopeID string, windowEnd time.Time) Report {
	report := Report{
		Scope:       scope,
		WindowStart: windowEnd.AddDate(0, 0, -7),
		WindowEnd:   windowEnd,
		GeneratedAt: windowEnd,
		Model:       "heuristic-v1",
		MachineSummary: MachineSummary{
			Status:     "on_track",
			Summary:    "Steady progress on the widget pipeline.",
			Highlights: []string{"merged the batching PR"},
		},
	}
	switch scope {
	case ScopeRepository:
		report.RepositoryID = scopeID
	case ScopeProject:
		report.ProjectID = scopeID
	}
	return report
}

func TestSaveReportPersistsCoverageAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	windowEnd := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	input := sampleReport(ScopeRepository, "repo-1", windowEnd)
	input.HumanText = `{"status":"on_track"}`
	input.LatencyMS = i64(412)
	input.PromptTokens = i64(900)
	input.CompletionTokens = i64(120)
	input.TotalTokens = i64(1020)

	saved, err := store.SaveReport(ctx, input, []string{"fact-2", "fact-1"})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	got, err := store.GetReport(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, ScopeRepository, got.Scope)
	require.Equal(t, "repo-1", got.RepositoryID)
	require.Empty(t, got.ProjectID)
	require.Equal(t, "on_track", got.MachineSummary.Status)
	require.Equal(t, []string{"merged the batching PR"}, got.MachineSummary.Highlights)
	require.Equal(t, `{"status":"on_track"}`, got.HumanText)
	require.Equal(t, i64(412), got.LatencyMS)
	require.Equal(t, i64(1020), got.TotalTokens)
	require.True(t, got.WindowEnd.Equal(windowEnd))

	coverage, err := store.CoverageFor(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"fact-1", "fact-2"}, coverage)

	covered, err := store.CoveredFactIDs(ctx, ScopeRepository, []string{"fact-1", "fact-2", "fact-3"})
	require.NoError(t, err)
	require.Len(t, covered, 2)
	require.Contains(t, covered, "fact-1")
	require.NotContains(t, covered, "fact-3")
}

func TestCoverageExclusionIsScopeSpecific(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	windowEnd := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	_, err := store.SaveReport(ctx, sampleReport(ScopeProject, "platform", windowEnd), []string{"fact-1"})
	require.NoError(t, err)

	// Project coverage must not exclude facts from repository runs.
	covered, err := store.CoveredFactIDs(ctx, ScopeRepository, []string{"fact-1"})
	require.NoError(t, err)
	require.Empty(t, covered)

	covered, err = store.CoveredFactIDs(ctx, ScopeProject, []string{"fact-1"})
	require.NoError(t, err)
	require.Contains(t, covered, "fact-1")
}

func TestLatestReportPerScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	_, err := store.SaveReport(ctx, sampleReport(ScopeRepository, "repo-1", older), nil)
	require.NoError(t, err)
	latest, err := store.SaveReport(ctx, sampleReport(ScopeRepository, "repo-1", newer), nil)
	require.NoError(t, err)
	_, err = store.SaveReport(ctx, sampleReport(ScopeRepository, "repo-2", newer), nil)
	require.NoError(t, err)

	got, err := store.LatestRepositoryReport(ctx, "repo-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, latest.ID, got.ID)

	got, err = store.LatestRepositoryReport(ctx, "repo-unknown")
	require.NoError(t, err)
	require.Nil(t, got)

	// Repository reports are invisible to the project lookup.
	got, err = store.LatestProjectReport(ctx, "repo-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestLatestRepositoryReportsBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	_, err := store.SaveReport(ctx, sampleReport(ScopeRepository, "repo-1", older), nil)
	require.NoError(t, err)
	latest1, err := store.SaveReport(ctx, sampleReport(ScopeRepository, "repo-1", newer), nil)
	require.NoError(t, err)
	latest2, err := store.SaveReport(ctx, sampleReport(ScopeRepository, "repo-2", older), nil)
	require.NoError(t, err)

	batch, err := store.LatestRepositoryReports(ctx, []string{"repo-1", "repo-2", "repo-3"})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, latest1.ID, batch["repo-1"].ID)
	require.Equal(t, latest2.ID, batch["repo-2"].ID)

	batch, err = store.LatestRepositoryReports(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, batch)
}

func TestUpsertPendingReviewFoldsAttempts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	windowStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	input := ReviewInput{
		ScopeKey:     ScopeKeyRepository("acme/widgets"),
		RepositoryID: "repo-1",
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		Model:        "gpt-4o-mini",
		AttemptCount: 2,
		Issues:       []ValidationIssue{{Code: "empty_summary", Message: "summary is empty"}},
	}

	first, err := store.UpsertPendingReview(ctx, input)
	require.NoError(t, err)
	require.Equal(t, ReviewPending, first.State)
	require.Equal(t, 2, first.AttemptCount)

	input.AttemptCount = 4
	input.Issues = []ValidationIssue{{Code: "truncated_summary", Message: "summary ends mid-clause"}}
	second, err := store.UpsertPendingReview(ctx, input)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 4, second.AttemptCount)
	require.Len(t, second.Issues, 1)
	require.Equal(t, "truncated_summary", second.Issues[0].Code)
	require.True(t, second.CreatedAt.Equal(first.CreatedAt))

	pending, err := store.ListPendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestResolveReviewAllowsNewPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	input := ReviewInput{
		ScopeKey:     ScopeKeyProject("platform"),
		ProjectID:    "platform",
		WindowStart:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:    time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		Model:        "gpt-4o-mini",
		AttemptCount: 2,
	}
	first, err := store.UpsertPendingReview(ctx, input)
	require.NoError(t, err)

	require.NoError(t, store.ResolveReview(ctx, first.ID))
	resolved, err := store.GetReview(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, ReviewResolved, resolved.State)

	// A later exhausted run for the same window opens a fresh marker.
	second, err := store.UpsertPendingReview(ctx, input)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, ReviewPending, second.State)

	require.Error(t, store.ResolveReview(ctx, "no-such-review"))
}

func TestListReportMetricsFiltersPeriodAndScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := func(day int) time.Time { return time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC) }

	repo := sampleReport(ScopeRepository, "repo-1", at(1))
	repo.GeneratedAt = at(1)
	repo.LatencyMS = i64(300)
	_, err := store.SaveReport(ctx, repo, nil)
	require.NoError(t, err)

	project := sampleReport(ScopeProject, "platform", at(2))
	project.GeneratedAt = at(2)
	_, err = store.SaveReport(ctx, project, nil)
	require.NoError(t, err)

	outside := sampleReport(ScopeRepository, "repo-1", at(9))
	outside.GeneratedAt = at(9)
	_, err = store.SaveReport(ctx, outside, nil)
	require.NoError(t, err)

	rows, err := store.ListReportMetrics(ctx, at(1), at(9), "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, i64(300), rows[0].LatencyMS)
	require.Nil(t, rows[1].LatencyMS)

	rows, err = store.ListReportMetrics(ctx, at(1), at(9), ScopeRepository)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, ScopeRepository, rows[0].Scope)
}
