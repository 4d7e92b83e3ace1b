package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/reporting"
	"git.home.luguber.info/inful/ghillie/internal/silver"
	"git.home.luguber.info/inful/ghillie/internal/storage"
)

// stubRunner answers on-demand runs and snapshots with canned values.
type stubRunner struct {
	result   *reporting.RunResult
	runErr   error
	snapshot *reporting.MetricsSnapshot
	snapErr  error

	lastRepositoryID string
	lastPeriodStart  time.Time
	lastPeriodEnd    time.Time
	lastScope        gold.Scope
}

func (s *stubRunner) RunForRepository(_ context.Context, repositoryID string, _ time.Time) (*reporting.RunResult, error) {
	s.lastRepositoryID = repositoryID
	return s.result, s.runErr
}

func (s *stubRunner) Snapshot(_ context.Context, periodStart, periodEnd time.Time, scope gold.Scope) (*reporting.MetricsSnapshot, error) {
	s.lastPeriodStart = periodStart
	s.lastPeriodEnd = periodEnd
	s.lastScope = scope
	if s.snapErr != nil {
		return nil, s.snapErr
	}
	if s.snapshot != nil {
		return s.snapshot, nil
	}
	return &reporting.MetricsSnapshot{}, nil
}

type stubRuntime struct {
	status RuntimeStatus
	err    error
}

func (s stubRuntime) RuntimeStatus(context.Context) (RuntimeStatus, error) {
	return s.status, s.err
}

type serverFixture struct {
	db       *sql.DB
	entities *silver.Store
	reports  *gold.Store
	runner   *stubRunner
	repo     silver.Repository
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

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

	return &serverFixture{
		db:       db,
		entities: entities,
		reports:  reports,
		runner:   &stubRunner{},
		repo:     *repo,
	}
}

func (f *serverFixture) handler(runtime Runtime) http.Handler {
	return New(Deps{
		DB:       f.db,
		Entities: f.entities,
		Reports:  f.reports,
		Runner:   f.runner,
		Runtime:  runtime,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}).Handler()
}

func (f *serverFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler(nil).ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func sampleReport(repoID string, windowEnd time.Time) gold.Report {
	latency := int64(180)
	prompt, completion, total := int64(900), int64(120), int64(1020)
	return gold.Report{
		Scope:        gold.ScopeRepository,
		RepositoryID: repoID,
		WindowStart:  windowEnd.AddDate(0, 0, -7),
		WindowEnd:    windowEnd,
		GeneratedAt:  windowEnd.Add(2 * time.Minute),
		Model:        "gpt-4o-mini",
		HumanText:    `{"status":"on_track"}`,
		MachineSummary: gold.MachineSummary{
			Status:     "on_track",
			Summary:    "Steady delivery with the ingest fixes merged.",
			Highlights: []string{"merged the payload fix"},
			NextSteps:  []string{"review open PRs"},
		},
		LatencyMS:        &latency,
		PromptTokens:     &prompt,
		CompletionTokens: &completion,
		TotalTokens:      &total,
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestReadyEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody(t, rec)["status"])
}

func TestReadyEndpointReportsClosedStores(t *testing.T) {
	f := newServerFixture(t)
	handler := f.handler(nil)
	require.NoError(t, f.db.Close())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decodeBody(t, rec)["status"])
}

func TestRunReportReturnsPersistedReport(t *testing.T) {
	f := newServerFixture(t)
	windowEnd := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	report := sampleReport(f.repo.ID, windowEnd)
	report.ID = "rep-1"
	f.runner.result = &reporting.RunResult{Report: report, Attempts: 1}

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/reports/repositories/acme/widgets", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.repo.ID, f.runner.lastRepositoryID)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Equal(t, "rep-1", body["report_id"])
	assert.Equal(t, "acme/widgets", body["repository"])
	assert.Equal(t, "on_track", body["status"])
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, windowEnd.Format(time.RFC3339), body["window_end"])

	metrics, ok := body["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(180), metrics["latency_ms"])
	assert.Equal(t, float64(900), metrics["prompt_tokens"])
	assert.Equal(t, float64(120), metrics["completion_tokens"])
	assert.Equal(t, float64(1020), metrics["total_tokens"])
}

func TestRunReportEmptyWindowReturnsNoContent(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/reports/repositories/acme/widgets", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestRunReportUnknownRepository(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/reports/repositories/acme/ghost", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "repository not found", body["title"])
	assert.NotEmpty(t, body["description"])
	assert.Empty(t, f.runner.lastRepositoryID, "runner must not be invoked for unknown slugs")
}

func TestRunReportValidationExhausted(t *testing.T) {
	f := newServerFixture(t)
	windowEnd := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)

	review, err := f.reports.UpsertPendingReview(context.Background(), gold.ReviewInput{
		ScopeKey:     gold.ScopeKeyRepository("acme/widgets"),
		RepositoryID: f.repo.ID,
		WindowStart:  windowEnd.AddDate(0, 0, -7),
		WindowEnd:    windowEnd,
		Model:        "gpt-4o-mini",
		AttemptCount: 2,
		Issues: []gold.ValidationIssue{
			{Code: "empty_summary", Message: "summary is empty"},
			{Code: "truncated_summary", Message: "summary ends mid-sentence"},
		},
	})
	require.NoError(t, err)
	f.runner.runErr = gerrors.ReportValidationExhausted(gold.ScopeKeyRepository("acme/widgets"), review.ID, 2)

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/reports/repositories/acme/widgets", nil))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "report failed validation", body["title"])
	assert.Equal(t, review.ID, body["review_id"])

	issues, ok := body["issues"].([]any)
	require.True(t, ok)
	require.Len(t, issues, 2)
	first, ok := issues[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "empty_summary", first["code"])
}

func TestLatestReportServesMarkdown(t *testing.T) {
	f := newServerFixture(t)
	windowEnd := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	_, err := f.reports.SaveReport(context.Background(), sampleReport(f.repo.ID, windowEnd), nil)
	require.NoError(t, err)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/reports/repositories/acme/widgets/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "# acme/widgets — Status report (2026-03-01 to 2026-03-08)")
	assert.Contains(t, body, "**Status:** On Track")
	assert.Contains(t, body, "## Summary")
}

func TestLatestReportRendersHTMLOnAccept(t *testing.T) {
	f := newServerFixture(t)
	windowEnd := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	_, err := f.reports.SaveReport(context.Background(), sampleReport(f.repo.ID, windowEnd), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/reports/repositories/acme/widgets/latest", nil)
	req.Header.Set("Accept", "text/html")
	rec := f.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<h1>")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/reports/repositories/acme/widgets/latest?format=html", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestLatestReportNotFound(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/reports/repositories/acme/widgets/latest", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "report not found", decodeBody(t, rec)["title"])
}

func TestReportMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	avg := 250.0
	p95 := int64(400)
	f.runner.snapshot = &reporting.MetricsSnapshot{
		ReportCount:           3,
		AvgLatencyMS:          &avg,
		P95LatencyMS:          &p95,
		TotalPromptTokens:     157,
		TotalCompletionTokens: 18,
		TotalTokens:           175,
	}

	rec := f.do(t, httptest.NewRequest(http.MethodGet,
		"/metrics/reports?period_start=2026-03-01T00:00:00Z&period_end=2026-04-01T00:00:00Z&scope=repository", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), f.runner.lastPeriodStart)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), f.runner.lastPeriodEnd)
	assert.Equal(t, gold.ScopeRepository, f.runner.lastScope)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["report_count"])
	assert.Equal(t, float64(250), body["avg_latency_ms"])
	assert.Equal(t, float64(400), body["p95_latency_ms"])
	assert.Equal(t, float64(175), body["total_tokens"])
}

func TestReportMetricsDefaultsPeriod(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics/reports", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, gold.Scope(""), f.runner.lastScope)
	assert.Equal(t, defaultMetricsPeriod, f.runner.lastPeriodEnd.Sub(f.runner.lastPeriodStart))
}

func TestReportMetricsRejectsBadInput(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics/reports?period_start=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/metrics/reports?scope=galaxy", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request", decodeBody(t, rec)["title"])
}

func TestStatusEndpoint(t *testing.T) {
	f := newServerFixture(t)
	runtime := stubRuntime{status: RuntimeStatus{
		State:               "running",
		StartedAt:           time.Date(2026, 3, 8, 6, 0, 0, 0, time.UTC),
		QueueDepth:          2,
		ActiveJobs:          []string{"repository:acme/widgets"},
		CheckpointCount:     4,
		StalledRepositories: 1,
		CatalogueRevision:   "9a8b7c6d",
	}}

	rec := httptest.NewRecorder()
	f.handler(runtime).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, float64(2), body["queue_depth"])
	assert.Equal(t, float64(4), body["checkpoint_count"])
	assert.Equal(t, float64(1), body["stalled_repositories"])
	assert.Equal(t, "9a8b7c6d", body["catalogue_revision"])
}

func TestStatusEndpointWithoutDaemon(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service unavailable", decodeBody(t, rec)["title"])
}

func TestPanicRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := gerrors.NewHTTPErrorAdapter(logger)
	handler := Chain(logger, adapter)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "internal error"))
}
