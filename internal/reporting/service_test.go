package reporting

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghillie/internal/bronze"
	"git.home.luguber.info/inful/ghillie/internal/catalogue"
	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/evidence"
	"git.home.luguber.info/inful/ghillie/internal/github"
	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/silver"
	"git.home.luguber.info/inful/ghillie/internal/sink"
	"git.home.luguber.info/inful/ghillie/internal/status"
	"git.home.luguber.info/inful/ghillie/internal/storage"
	"git.home.luguber.info/inful/ghillie/internal/transform"
)

var reportAsOf = time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)

// scriptedModel replays canned responses; the last response repeats once the
// script runs out.
type scriptedModel struct {
	mu        sync.Mutex
	responses []modelScript
	calls     int
}

type modelScript struct {
	result *status.Result
	err    error
}

func okResult() *status.Result {
	return &status.Result{
		Summary:    "Steady delivery with the ingest fixes merged.",
		Status:     status.CodeOnTrack,
		Highlights: []string{"merged the payload fix"},
		NextSteps:  []string{"review open PRs"},
	}
}

func (m *scriptedModel) next() (*status.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	if idx < 0 {
		return okResult(), nil
	}
	script := m.responses[idx]
	return script.result, script.err
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *scriptedModel) SummarizeRepository(context.Context, *evidence.RepositoryEvidenceBundle) (*status.Result, error) {
	return m.next()
}

func (m *scriptedModel) SummarizeProject(context.Context, *evidence.ProjectEvidenceBundle) (*status.Result, error) {
	return m.next()
}

func (m *scriptedModel) Name() string { return "scripted-test" }

// meteredModel additionally exposes the invocation metrics side-channel.
type meteredModel struct {
	scriptedModel
	metrics status.InvocationMetrics
}

func (m *meteredModel) LastInvocationMetrics() (status.InvocationMetrics, bool) {
	return m.metrics, true
}

type reportingFixture struct {
	db       *sql.DB
	events   *bronze.Store
	entities *silver.Store
	reports  *gold.Store
	pipeline *transform.Service
	bundles  *evidence.Service
	repo     silver.Repository
	logger   *slog.Logger
}

func newReportingFixture(t *testing.T) *reportingFixture {
	t.Helper()

	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	events, err := bronze.NewStore(db)
	require.NoError(t, err)
	entities, err := silver.NewStore(db)
	require.NoError(t, err)
	reports, err := gold.NewStore(db)
	require.NoError(t, err)

	repo, err := entities.UpsertRepository(context.Background(), silver.Repository{
		GithubOwner:      "acme",
		GithubName:       "widgets",
		IngestionEnabled: true,
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &reportingFixture{
		db:       db,
		events:   events,
		entities: entities,
		reports:  reports,
		pipeline: transform.NewService(db, events, entities, transform.NewRegistry(), logger),
		bundles:  evidence.NewService(entities, reports, logger),
		repo:     *repo,
		logger:   logger,
	}
}

func (f *reportingFixture) newService(model status.Model, cfg Config, writer *sink.AsyncWriter) *Service {
	return NewService(cfg, Deps{
		Entities: f.entities,
		Reports:  f.reports,
		Bundles:  f.bundles,
		Model:    model,
		Writer:   writer,
		Logger:   f.logger,
	})
}

// feedCommit ingests one push event and hydrates it into Silver.
func (f *reportingFixture) feedCommit(t *testing.T, sha string, occurredAt time.Time) {
	t.Helper()
	payload, err := json.Marshal(github.PushPayload{
		Repository: f.repo.Slug(),
		Commits: []github.CommitPayload{{
			SHA:       sha,
			Author:    "rivka",
			Message:   "fix: tighten payload handling",
			Timestamp: occurredAt.Format(time.RFC3339),
			Modified:  []string{"internal/worker.go"},
		}},
	})
	require.NoError(t, err)

	outcome, err := f.events.Ingest(context.Background(), bronze.IngestInput{
		Source:     "github",
		EventType:  github.EventPush,
		ExternalID: f.repo.Slug() + ":commit:" + sha,
		OccurredAt: occurredAt.Format(time.RFC3339),
		Payload:    payload,
	})
	require.NoError(t, err)
	require.Equal(t, bronze.OutcomeInserted, outcome)

	stats, err := f.pipeline.TransformPending(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, stats.Failed)
}

func (f *reportingFixture) seedWeekActivity(t *testing.T) {
	t.Helper()
	f.feedCommit(t, "c1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	f.feedCommit(t, "c2", time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC))
	f.feedCommit(t, "c3", time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC))
}

func TestRunForRepositoryPersistsReportAndCoverage(t *testing.T) {
	f := newReportingFixture(t)
	f.seedWeekActivity(t)
	svc := f.newService(&scriptedModel{}, Config{}, nil)
	ctx := context.Background()

	result, err := svc.RunForRepository(ctx, f.repo.ID, reportAsOf)
	require.NoError(t, err)
	require.NotNil(t, result)

	report := result.Report
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, gold.ScopeRepository, report.Scope)
	assert.Equal(t, f.repo.ID, report.RepositoryID)
	assert.Equal(t, reportAsOf.AddDate(0, 0, -7), report.WindowStart)
	assert.Equal(t, reportAsOf, report.WindowEnd)
	assert.Equal(t, "scripted-test", report.Model)
	assert.Equal(t, "Steady delivery with the ingest fixes merged.", report.MachineSummary.Summary)
	require.NotNil(t, report.LatencyMS)
	assert.GreaterOrEqual(t, *report.LatencyMS, int64(0))
	assert.Nil(t, report.PromptTokens, "no metrics side-channel on the scripted model")

	covered, err := f.reports.CoverageFor(ctx, report.ID)
	require.NoError(t, err)
	assert.Len(t, covered, 3)

	stored, err := f.reports.GetReport(ctx, report.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestRunForRepositoryWindowContinuesFromLastReport(t *testing.T) {
	f := newReportingFixture(t)
	ctx := context.Background()

	previousEnd := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	_, err := f.reports.SaveReport(ctx, gold.Report{
		Scope:          gold.ScopeRepository,
		RepositoryID:   f.repo.ID,
		WindowStart:    previousEnd.AddDate(0, 0, -7),
		WindowEnd:      previousEnd,
		GeneratedAt:    previousEnd,
		Model:          "scripted-test",
		MachineSummary: gold.MachineSummary{Status: "on_track", Summary: "Previous period."},
	}, nil)
	require.NoError(t, err)

	f.feedCommit(t, "c9", time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))

	svc := f.newService(&scriptedModel{}, Config{}, nil)
	result, err := svc.RunForRepository(ctx, f.repo.ID, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, previousEnd, result.Report.WindowStart,
		"window must continue exactly where the previous report ended")
}

func TestRunForRepositoryTwiceWithoutNewEvents(t *testing.T) {
	f := newReportingFixture(t)
	f.seedWeekActivity(t)
	svc := f.newService(&scriptedModel{}, Config{}, nil)
	ctx := context.Background()

	first, err := svc.RunForRepository(ctx, f.repo.ID, reportAsOf)
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := svc.RunForRepository(ctx, f.repo.ID, reportAsOf)
	require.NoError(t, err)
	assert.Nil(t, again)

	later, err := svc.RunForRepository(ctx, f.repo.ID, reportAsOf.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, later)

	latest, err := f.reports.LatestRepositoryReport(ctx, f.repo.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, first.Report.ID, latest.ID)
}

func TestRunForRepositoryRetriesThenSucceeds(t *testing.T) {
	f := newReportingFixture(t)
	f.seedWeekActivity(t)
	model := &scriptedModel{responses: []modelScript{
		{result: &status.Result{Summary: "", Status: status.CodeOnTrack}},
		{result: okResult()},
	}}
	svc := f.newService(model, Config{MaxAttempts: 2}, nil)
	ctx := context.Background()

	result, err := svc.RunForRepository(ctx, f.repo.ID, reportAsOf)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, model.callCount())
	require.NotNil(t, result.Report.LatencyMS)

	reviews, err := f.reports.ListPendingReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, reviews, "a recovered run must not leave a review marker")
}

func TestRunForRepositoryExhaustsAttempts(t *testing.T) {
	f := newReportingFixture(t)
	f.seedWeekActivity(t)
	model := &scriptedModel{responses: []modelScript{
		{result: &status.Result{Summary: ""}},
	}}
	svc := f.newService(model, Config{MaxAttempts: 2}, nil)
	ctx := context.Background()

	result, runErr := svc.RunForRepository(ctx, f.repo.ID, reportAsOf)
	require.Error(t, runErr)
	assert.Nil(t, result)
	assert.True(t, gerrors.IsCategory(runErr, gerrors.CategoryReportValidation))

	latest, err := f.reports.LatestRepositoryReport(ctx, f.repo.ID)
	require.NoError(t, err)
	assert.Nil(t, latest, "no report may be persisted on exhaustion")

	reviews, err := f.reports.ListPendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	review := reviews[0]
	assert.Equal(t, gold.ScopeKeyRepository("acme/widgets"), review.ScopeKey)
	assert.Equal(t, 2, review.AttemptCount)
	require.NotEmpty(t, review.Issues)
	for _, issue := range review.Issues {
		assert.Equal(t, IssueEmptySummary, issue.Code)
	}

	ge, ok := runErr.(*gerrors.GhillieError)
	require.True(t, ok)
	assert.Equal(t, review.ID, ge.Context["review_id"])

	// A second exhausted run folds into the same pending marker.
	_, err = svc.RunForRepository(ctx, f.repo.ID, reportAsOf)
	require.Error(t, err)
	reviews, err = f.reports.ListPendingReviews(ctx)
	require.NoError(t, err)
	assert.Len(t, reviews, 1)
}

func TestRunForRepositoryModelFailuresConsumeAttempts(t *testing.T) {
	f := newReportingFixture(t)
	f.seedWeekActivity(t)
	model := &scriptedModel{responses: []modelScript{
		{err: gerrors.ResponseShape("response is not a JSON object", nil)},
	}}
	svc := f.newService(model, Config{MaxAttempts: 2}, nil)

	_, err := svc.RunForRepository(context.Background(), f.repo.ID, reportAsOf)
	require.Error(t, err)
	assert.True(t, gerrors.IsCategory(err, gerrors.CategoryReportValidation))
	assert.Equal(t, 2, model.callCount())

	reviews, err := f.reports.ListPendingReviews(context.Background())
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Empty(t, reviews[0].Issues, "model failures carry no validator issues")
}

func TestRunForRepositoryEmptyWindow(t *testing.T) {
	f := newReportingFixture(t)
	svc := f.newService(&scriptedModel{}, Config{}, nil)
	ctx := context.Background()

	result, err := svc.RunForRepository(ctx, f.repo.ID, reportAsOf)
	require.NoError(t, err)
	assert.Nil(t, result)

	latest, err := f.reports.LatestRepositoryReport(ctx, f.repo.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	reviews, err := f.reports.ListPendingReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestRunForRepositoryUnknownRepository(t *testing.T) {
	f := newReportingFixture(t)
	svc := f.newService(&scriptedModel{}, Config{}, nil)

	_, err := svc.RunForRepository(context.Background(), "no-such-repo", reportAsOf)
	require.Error(t, err)
	assert.True(t, gerrors.IsCategory(err, gerrors.CategoryRepositoryNotFound))
}

func TestRunForRepositoryPersistsInvocationMetrics(t *testing.T) {
	f := newReportingFixture(t)
	f.seedWeekActivity(t)
	model := &meteredModel{metrics: status.InvocationMetrics{
		LatencyMS:        412,
		PromptTokens:     900,
		CompletionTokens: 120,
		TotalTokens:      1020,
	}}
	svc := f.newService(model, Config{}, nil)

	result, err := svc.RunForRepository(context.Background(), f.repo.ID, reportAsOf)
	require.NoError(t, err)
	require.NotNil(t, result)

	report := result.Report
	require.NotNil(t, report.PromptTokens)
	assert.EqualValues(t, 900, *report.PromptTokens)
	require.NotNil(t, report.CompletionTokens)
	assert.EqualValues(t, 120, *report.CompletionTokens)
	require.NotNil(t, report.TotalTokens)
	assert.EqualValues(t, 1020, *report.TotalTokens)
}

func TestRunForRepositoryWritesToSink(t *testing.T) {
	f := newReportingFixture(t)
	f.seedWeekActivity(t)

	base := t.TempDir()
	fsSink, err := sink.NewFilesystemSink(base, f.logger)
	require.NoError(t, err)
	writer := sink.NewAsyncWriter(fsSink, 4, f.logger)

	svc := f.newService(&scriptedModel{}, Config{}, writer)
	result, err := svc.RunForRepository(context.Background(), f.repo.ID, reportAsOf)
	require.NoError(t, err)
	require.NotNil(t, result)

	writer.Close()

	latest, err := os.ReadFile(filepath.Join(base, "acme", "widgets", "latest.md"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(latest),
		"# acme/widgets — Status report (2026-03-01 to 2026-03-08)"))
	assert.Contains(t, string(latest), "Steady delivery with the ingest fixes merged.")

	dated := filepath.Join(base, "acme", "widgets", "2026-03-08-"+result.Report.ID+".md")
	assert.FileExists(t, dated)
}

func TestRunForProject(t *testing.T) {
	f := newReportingFixture(t)
	ctx := context.Background()

	// The component's repository already has a summarised report.
	_, err := f.reports.SaveReport(ctx, gold.Report{
		Scope:        gold.ScopeRepository,
		RepositoryID: f.repo.ID,
		WindowStart:  reportAsOf.AddDate(0, 0, -7),
		WindowEnd:    reportAsOf,
		GeneratedAt:  reportAsOf,
		Model:        "scripted-test",
		MachineSummary: gold.MachineSummary{
			Status:  "on_track",
			Summary: "Widgets held steady.",
		},
	}, nil)
	require.NoError(t, err)

	estate := catalogue.NewMemoryStore()
	estate.AddRepository(catalogue.Repository{ID: "cat-widgets", Owner: "acme", Name: "widgets"})
	estate.AddProject(catalogue.Project{Key: "atlantis", Name: "Atlantis"},
		[]catalogue.Component{{Key: "widgets", Name: "Widgets", Stage: catalogue.StageActive, RepositoryID: "cat-widgets"}},
		nil)

	svc := NewService(Config{}, Deps{
		Entities: f.entities,
		Reports:  f.reports,
		Bundles:  f.bundles,
		Projects: evidence.NewProjectService(estate, f.entities, f.reports),
		Model:    &scriptedModel{},
		Logger:   f.logger,
	})

	result, err := svc.RunForProject(ctx, "atlantis", reportAsOf)
	require.NoError(t, err)
	require.NotNil(t, result)

	report := result.Report
	assert.Equal(t, gold.ScopeProject, report.Scope)
	assert.Equal(t, "atlantis", report.ProjectID)
	assert.Empty(t, report.RepositoryID)

	covered, err := f.reports.CoverageFor(ctx, report.ID)
	require.NoError(t, err)
	assert.Empty(t, covered, "project reports consume no facts")

	// Same as-of again: the continued window is empty.
	again, err := svc.RunForProject(ctx, "atlantis", reportAsOf)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestRunForProjectWithoutSummaries(t *testing.T) {
	f := newReportingFixture(t)

	estate := catalogue.NewMemoryStore()
	estate.AddProject(catalogue.Project{Key: "atlantis"},
		[]catalogue.Component{{Key: "widgets", Stage: catalogue.StageActive}},
		nil)

	svc := NewService(Config{}, Deps{
		Entities: f.entities,
		Reports:  f.reports,
		Bundles:  f.bundles,
		Projects: evidence.NewProjectService(estate, f.entities, f.reports),
		Model:    &scriptedModel{},
		Logger:   f.logger,
	})

	result, err := svc.RunForProject(context.Background(), "atlantis", reportAsOf)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestSnapshotAggregatesPeriodMetrics(t *testing.T) {
	f := newReportingFixture(t)
	svc := f.newService(&scriptedModel{}, Config{}, nil)
	ctx := context.Background()

	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	i64 := func(n int64) *int64 { return &n }
	save := func(scope gold.Scope, generatedAt time.Time, latency, prompt, completion, total *int64) {
		report := gold.Report{
			Scope:            scope,
			WindowStart:      generatedAt.AddDate(0, 0, -7),
			WindowEnd:        generatedAt,
			GeneratedAt:      generatedAt,
			Model:            "scripted-test",
			MachineSummary:   gold.MachineSummary{Status: "on_track", Summary: "ok"},
			LatencyMS:        latency,
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      total,
		}
		if scope == gold.ScopeRepository {
			report.RepositoryID = f.repo.ID
		} else {
			report.ProjectID = "atlantis"
		}
		_, err := f.reports.SaveReport(ctx, report, nil)
		require.NoError(t, err)
	}

	at := periodStart.Add(24 * time.Hour)
	save(gold.ScopeRepository, at, i64(100), i64(100), i64(10), i64(110))
	save(gold.ScopeRepository, at.Add(time.Hour), i64(200), nil, nil, nil)
	save(gold.ScopeRepository, at.Add(2*time.Hour), i64(300), i64(50), i64(5), i64(55))
	save(gold.ScopeRepository, at.Add(3*time.Hour), i64(400), nil, nil, nil)
	save(gold.ScopeRepository, at.Add(4*time.Hour), nil, i64(7), i64(3), i64(10))
	save(gold.ScopeProject, at.Add(5*time.Hour), i64(9999), nil, nil, nil)

	snap, err := svc.Snapshot(ctx, periodStart, periodEnd, gold.ScopeRepository)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.ReportCount)
	require.NotNil(t, snap.AvgLatencyMS)
	assert.InDelta(t, 250.0, *snap.AvgLatencyMS, 0.001)
	require.NotNil(t, snap.P95LatencyMS)
	assert.EqualValues(t, 400, *snap.P95LatencyMS, "ceil(0.95*4)-1 indexes the sorted latencies")
	assert.EqualValues(t, 157, snap.TotalPromptTokens)
	assert.EqualValues(t, 18, snap.TotalCompletionTokens)
	assert.EqualValues(t, 175, snap.TotalTokens)

	all, err := svc.Snapshot(ctx, periodStart, periodEnd, "")
	require.NoError(t, err)
	assert.Equal(t, 6, all.ReportCount)
	require.NotNil(t, all.P95LatencyMS)
	assert.EqualValues(t, 9999, *all.P95LatencyMS)

	empty, err := svc.Snapshot(ctx, periodEnd, periodEnd.AddDate(0, 1, 0), "")
	require.NoError(t, err)
	assert.Zero(t, empty.ReportCount)
	assert.Nil(t, empty.AvgLatencyMS)
	assert.Nil(t, empty.P95LatencyMS)
}
