package gold

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

// Store persists reports, coverage associations and review markers in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore initializes the Gold schema on the shared database handle.
func NewStore(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("initialize gold schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		repository_id TEXT,
		project_id TEXT,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		model TEXT NOT NULL,
		human_text TEXT,
		machine_summary TEXT NOT NULL,
		model_latency_ms INTEGER,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		total_tokens INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_reports_repo ON reports(scope, repository_id, window_end);
	CREATE INDEX IF NOT EXISTS idx_reports_project ON reports(scope, project_id, window_end);
	CREATE INDEX IF NOT EXISTS idx_reports_generated ON reports(generated_at);

	CREATE TABLE IF NOT EXISTS report_coverage (
		report_id TEXT NOT NULL,
		event_fact_id TEXT NOT NULL,
		PRIMARY KEY (report_id, event_fact_id)
	);
	CREATE INDEX IF NOT EXISTS idx_report_coverage_fact ON report_coverage(event_fact_id);

	CREATE TABLE IF NOT EXISTS report_reviews (
		id TEXT PRIMARY KEY,
		scope_key TEXT NOT NULL,
		repository_id TEXT,
		project_id TEXT,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		model TEXT NOT NULL,
		attempt_count INTEGER NOT NULL,
		validation_issues TEXT NOT NULL DEFAULT '[]',
		state TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_report_reviews_pending
		ON report_reviews(scope_key, window_start, window_end) WHERE state = 'pending';
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveReport persists a report and its coverage rows in one transaction, so
// a report never exists without the facts it consumed (and vice versa). The
// returned report carries the generated id.
func (s *Store) SaveReport(ctx context.Context, report Report, factIDs []string) (*Report, error) {
	if report.Scope == "" {
		return nil, gerrors.ValidationFailed("scope", "must not be empty")
	}
	if report.ID == "" {
		report.ID = uuid.Must(uuid.NewV7()).String()
	}
	summary, err := json.Marshal(report.MachineSummary)
	if err != nil {
		return nil, gerrors.StorageError("marshal machine summary", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gerrors.StorageError("begin report transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reports (id, scope, repository_id, project_id, window_start, window_end,
			generated_at, model, human_text, machine_summary,
			model_latency_ms, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.Scope, nullableString(report.RepositoryID), nullableString(report.ProjectID),
		formatTime(report.WindowStart), formatTime(report.WindowEnd),
		formatTime(report.GeneratedAt), report.Model, nullableString(report.HumanText), string(summary),
		nullableInt(report.LatencyMS), nullableInt(report.PromptTokens),
		nullableInt(report.CompletionTokens), nullableInt(report.TotalTokens),
	)
	if err != nil {
		return nil, gerrors.StorageError("insert report", err)
	}

	for _, factID := range factIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO report_coverage (report_id, event_fact_id) VALUES (?, ?)`,
			report.ID, factID,
		); err != nil {
			return nil, gerrors.StorageError("insert report coverage", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, gerrors.StorageError("commit report transaction", err)
	}
	return &report, nil
}

// LatestRepositoryReport returns the most recent repository-scoped report,
// or nil when the repository has never been reported on.
func (s *Store) LatestRepositoryReport(ctx context.Context, repositoryID string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectReport+`
		WHERE scope = ? AND repository_id = ?
		ORDER BY window_end DESC, generated_at DESC LIMIT 1`,
		ScopeRepository, repositoryID)
	return scanReport(row)
}

// LatestProjectReport returns the most recent project-scoped report, or nil.
func (s *Store) LatestProjectReport(ctx context.Context, projectID string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectReport+`
		WHERE scope = ? AND project_id = ?
		ORDER BY window_end DESC, generated_at DESC LIMIT 1`,
		ScopeProject, projectID)
	return scanReport(row)
}

// LatestRepositoryReports returns the most recent repository-scoped report
// per repository id, in one pass.
func (s *Store) LatestRepositoryReports(ctx context.Context, repositoryIDs []string) (map[string]Report, error) {
	latest := make(map[string]Report)
	if len(repositoryIDs) == 0 {
		return latest, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, 0, len(repositoryIDs)+1)
	args = append(args, ScopeRepository)
	for _, id := range repositoryIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, repository_id, project_id, window_start, window_end,
			generated_at, model, human_text, machine_summary,
			model_latency_ms, prompt_tokens, completion_tokens, total_tokens
		FROM (
			SELECT r.*, ROW_NUMBER() OVER (
				PARTITION BY repository_id
				ORDER BY window_end DESC, generated_at DESC
			) AS rn
			FROM reports r
			WHERE scope = ? AND repository_id IN (`+placeholders(len(repositoryIDs))+`)
		) WHERE rn = 1`, args...)
	if err != nil {
		return nil, gerrors.StorageError("query latest reports", err)
	}
	defer rows.Close()

	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		latest[report.RepositoryID] = *report
	}
	return latest, rows.Err()
}

// GetReport fetches a single report by id, or nil.
func (s *Store) GetReport(ctx context.Context, id string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectReport+` WHERE id = ?`, id)
	return scanReport(row)
}

// CoverageFor returns the fact ids a report covered, sorted.
func (s *Store) CoverageFor(ctx context.Context, reportID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_fact_id FROM report_coverage WHERE report_id = ? ORDER BY event_fact_id`,
		reportID)
	if err != nil {
		return nil, gerrors.StorageError("query report coverage", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, gerrors.StorageError("scan report coverage", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const coverageChunkSize = 500

// CoveredFactIDs reports which of the given facts are already covered by a
// report of the given scope. Coverage from other scopes is ignored.
func (s *Store) CoveredFactIDs(ctx context.Context, scope Scope, factIDs []string) (map[string]struct{}, error) {
	covered := make(map[string]struct{})
	if len(factIDs) == 0 {
		return covered, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for start := 0; start < len(factIDs); start += coverageChunkSize {
		end := start + coverageChunkSize
		if end > len(factIDs) {
			end = len(factIDs)
		}
		chunk := factIDs[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, scope)
		for _, id := range chunk {
			args = append(args, id)
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT rc.event_fact_id
			FROM report_coverage rc
			JOIN reports r ON r.id = rc.report_id
			WHERE r.scope = ? AND rc.event_fact_id IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return nil, gerrors.StorageError("query covered facts", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, gerrors.StorageError("scan covered fact", err)
			}
			covered[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, gerrors.StorageError("query covered facts", err)
		}
		rows.Close()
	}
	return covered, nil
}

// ReviewInput describes a run that exhausted its validation attempts.
type ReviewInput struct {
	ScopeKey     string
	RepositoryID string
	ProjectID    string
	WindowStart  time.Time
	WindowEnd    time.Time
	Model        string
	AttemptCount int
	Issues       []ValidationIssue
}

// UpsertPendingReview creates the pending review for the window, or folds the
// new attempt into the existing one. The partial unique index guarantees at
// most one pending row per (scope_key, window_start, window_end); the
// original id and created_at survive an upsert.
func (s *Store) UpsertPendingReview(ctx context.Context, input ReviewInput) (*ReportReview, error) {
	if input.ScopeKey == "" {
		return nil, gerrors.ValidationFailed("scope_key", "must not be empty")
	}
	if input.Issues == nil {
		input.Issues = []ValidationIssue{}
	}
	issues, err := json.Marshal(input.Issues)
	if err != nil {
		return nil, gerrors.StorageError("marshal validation issues", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.Must(uuid.NewV7()).String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO report_reviews (id, scope_key, repository_id, project_id,
			window_start, window_end, model, attempt_count, validation_issues, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope_key, window_start, window_end) WHERE state = 'pending' DO UPDATE SET
			model = excluded.model,
			attempt_count = excluded.attempt_count,
			validation_issues = excluded.validation_issues`,
		id, input.ScopeKey, nullableString(input.RepositoryID), nullableString(input.ProjectID),
		formatTime(input.WindowStart), formatTime(input.WindowEnd),
		input.Model, input.AttemptCount, string(issues), ReviewPending, formatTime(time.Now()),
	)
	if err != nil {
		return nil, gerrors.StorageError("upsert report review", err)
	}

	row := s.db.QueryRowContext(ctx, selectReview+`
		WHERE scope_key = ? AND window_start = ? AND window_end = ? AND state = ?`,
		input.ScopeKey, formatTime(input.WindowStart), formatTime(input.WindowEnd), ReviewPending)
	return scanReview(row)
}

// GetReview fetches a single review marker, or nil.
func (s *Store) GetReview(ctx context.Context, id string) (*ReportReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectReview+` WHERE id = ?`, id)
	return scanReview(row)
}

// ListPendingReviews returns every pending review, oldest first.
func (s *Store) ListPendingReviews(ctx context.Context) ([]ReportReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectReview+`
		WHERE state = ? ORDER BY created_at, scope_key`, ReviewPending)
	if err != nil {
		return nil, gerrors.StorageError("list pending reviews", err)
	}
	defer rows.Close()

	var reviews []ReportReview
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *review)
	}
	return reviews, rows.Err()
}

// ResolveReview marks a review handled.
func (s *Store) ResolveReview(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE report_reviews SET state = ? WHERE id = ?`, ReviewResolved, id)
	if err != nil {
		return gerrors.StorageError("resolve review", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return gerrors.StorageError("resolve review", err)
	}
	if affected == 0 {
		return gerrors.StorageError("resolve review", fmt.Errorf("review %s not found", id))
	}
	return nil
}

// ListReportMetrics returns the model metrics of reports generated in
// [periodStart, periodEnd), optionally restricted to one scope.
func (s *Store) ListReportMetrics(ctx context.Context, periodStart, periodEnd time.Time, scope Scope) ([]MetricsRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT scope, model_latency_ms, prompt_tokens, completion_tokens, total_tokens
		FROM reports WHERE generated_at >= ? AND generated_at < ?`
	args := []any{formatTime(periodStart), formatTime(periodEnd)}
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY generated_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, gerrors.StorageError("query report metrics", err)
	}
	defer rows.Close()

	var metrics []MetricsRow
	for rows.Next() {
		var m MetricsRow
		var latency, prompt, completion, total sql.NullInt64
		if err := rows.Scan(&m.Scope, &latency, &prompt, &completion, &total); err != nil {
			return nil, gerrors.StorageError("scan report metrics", err)
		}
		m.LatencyMS = nullInt(latency)
		m.PromptTokens = nullInt(prompt)
		m.CompletionTokens = nullInt(completion)
		m.TotalTokens = nullInt(total)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

const selectReport = `
	SELECT id, scope, repository_id, project_id, window_start, window_end,
		generated_at, model, human_text, machine_summary,
		model_latency_ms, prompt_tokens, completion_tokens, total_tokens
	FROM reports`

const selectReview = `
	SELECT id, scope_key, repository_id, project_id, window_start, window_end,
		model, attempt_count, validation_issues, state, created_at
	FROM report_reviews`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var r Report
	var repoID, projectID, humanText sql.NullString
	var windowStart, windowEnd, generatedAt, summary string
	var latency, prompt, completion, total sql.NullInt64

	err := row.Scan(&r.ID, &r.Scope, &repoID, &projectID, &windowStart, &windowEnd,
		&generatedAt, &r.Model, &humanText, &summary,
		&latency, &prompt, &completion, &total)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, gerrors.StorageError("scan report", err)
	}

	r.RepositoryID = repoID.String
	r.ProjectID = projectID.String
	r.HumanText = humanText.String
	if r.WindowStart, err = parseTime(windowStart); err != nil {
		return nil, err
	}
	if r.WindowEnd, err = parseTime(windowEnd); err != nil {
		return nil, err
	}
	if r.GeneratedAt, err = parseTime(generatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(summary), &r.MachineSummary); err != nil {
		return nil, gerrors.StorageError("unmarshal machine summary", err)
	}
	r.LatencyMS = nullInt(latency)
	r.PromptTokens = nullInt(prompt)
	r.CompletionTokens = nullInt(completion)
	r.TotalTokens = nullInt(total)
	return &r, nil
}

func scanReview(row rowScanner) (*ReportReview, error) {
	var r ReportReview
	var repoID, projectID sql.NullString
	var windowStart, windowEnd, createdAt, issues string

	err := row.Scan(&r.ID, &r.ScopeKey, &repoID, &projectID, &windowStart, &windowEnd,
		&r.Model, &r.AttemptCount, &issues, &r.State, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, gerrors.StorageError("scan report review", err)
	}

	r.RepositoryID = repoID.String
	r.ProjectID = projectID.String
	if r.WindowStart, err = parseTime(windowStart); err != nil {
		return nil, err
	}
	if r.WindowEnd, err = parseTime(windowEnd); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(issues), &r.Issues); err != nil {
		return nil, gerrors.StorageError("unmarshal validation issues", err)
	}
	return &r, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, gerrors.StorageError("parse stored timestamp", err)
	}
	return t, nil
}
