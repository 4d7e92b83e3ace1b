package reporting

import (
	"context"
	"log/slog"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/evidence"
	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/metrics"
	"git.home.luguber.info/inful/ghillie/internal/observability"
	"git.home.luguber.info/inful/ghillie/internal/render"
	"git.home.luguber.info/inful/ghillie/internal/silver"
	"git.home.luguber.info/inful/ghillie/internal/sink"
	"git.home.luguber.info/inful/ghillie/internal/status"
)

// Defaults applied when Config fields are unset.
const (
	DefaultWindowDays  = 7
	DefaultMaxAttempts = 2
)

// Config bounds a reporting run.
type Config struct {
	// WindowDays sizes the first window of a scope, before any report
	// exists to continue from.
	WindowDays int
	// MaxAttempts bounds the model-and-validate loop per run.
	MaxAttempts int
}

// Deps carries the service collaborators. Events, Recorder and Logger are
// optional; Writer and Projects may be nil when the deployment does not sink
// files or report on projects.
type Deps struct {
	Entities *silver.Store
	Reports  *gold.Store
	Bundles  *evidence.Service
	Projects *evidence.ProjectService
	Model    status.Model
	Writer   *sink.AsyncWriter
	Events   observability.Emitter
	Recorder metrics.Recorder
	Logger   *slog.Logger
}

// Service generates reports for repositories and projects.
type Service struct {
	windowDays  int
	maxAttempts int

	entities *silver.Store
	reports  *gold.Store
	bundles  *evidence.Service
	projects *evidence.ProjectService
	model    status.Model
	writer   *sink.AsyncWriter
	events   observability.Emitter
	recorder metrics.Recorder
	logger   *slog.Logger
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.WindowDays < 1 {
		cfg.WindowDays = DefaultWindowDays
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if deps.Events == nil {
		deps.Events = observability.NopEmitter{}
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		windowDays:  cfg.WindowDays,
		maxAttempts: cfg.MaxAttempts,
		entities:    deps.Entities,
		reports:     deps.Reports,
		bundles:     deps.Bundles,
		projects:    deps.Projects,
		model:       deps.Model,
		writer:      deps.Writer,
		events:      deps.Events,
		recorder:    deps.Recorder,
		logger:      logger.With(logfields.Component("reporting")),
	}
}

// RunResult is one persisted report plus the attempts it took.
type RunResult struct {
	Report   gold.Report
	Attempts int
}

// RunForRepository generates the next report for a repository. The window
// continues from the last repository-scoped report, or reaches back the
// configured number of days on the first run; start is inclusive, end
// exclusive. A window with no uncovered activity returns (nil, nil) and
// persists nothing.
func (s *Service) RunForRepository(ctx context.Context, repositoryID string, asOf time.Time) (*RunResult, error) {
	repo, err := s.entities.GetRepositoryByID(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, gerrors.RepositoryNotFound(repositoryID)
	}

	windowEnd := asOf.UTC()
	windowStart, err := s.repositoryWindowStart(ctx, repositoryID, windowEnd)
	if err != nil {
		return nil, err
	}

	bundle, err := s.bundles.BuildRepositoryBundle(ctx, repositoryID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	if bundle.IsEmpty() {
		s.logger.Debug("window holds no uncovered activity",
			logfields.Repository(repo.Slug()),
			logfields.WindowStart(windowStart.Format(time.RFC3339)),
			logfields.WindowEnd(windowEnd.Format(time.RFC3339)))
		return nil, nil
	}

	owner, name := repo.GithubOwner, repo.GithubName
	return s.run(ctx, runScope{
		scope:        gold.ScopeRepository,
		scopeKey:     gold.ScopeKeyRepository(repo.Slug()),
		repositoryID: repositoryID,
		windowStart:  windowStart,
		windowEnd:    windowEnd,
		factIDs:      bundle.EventFactIDs,
		totalEvents:  bundle.TotalEventCount,
		empty:        bundle.IsEmpty(),
		summarize: func(ctx context.Context) (*status.Result, error) {
			return s.model.SummarizeRepository(ctx, bundle)
		},
		render: func(report gold.Report) string {
			return render.RepositoryMarkdown(owner, name, report)
		},
		sinkMeta: &sink.Metadata{Owner: owner, Name: name},
	})
}

// RunForProject generates the next report for a catalogue project. Project
// bundles aggregate the latest repository summaries rather than raw facts,
// so no coverage rows are written; a project with no summarised components
// yet returns (nil, nil).
func (s *Service) RunForProject(ctx context.Context, projectKey string, asOf time.Time) (*RunResult, error) {
	if s.projects == nil {
		return nil, gerrors.DaemonError("project reporting is not configured")
	}

	windowEnd := asOf.UTC()
	windowStart, err := s.projectWindowStart(ctx, projectKey, windowEnd)
	if err != nil {
		return nil, err
	}
	if !windowStart.Before(windowEnd) {
		return nil, nil
	}

	bundle, err := s.projects.BuildProjectBundle(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	summarised := 0
	for _, component := range bundle.Components {
		if component.Summary != nil {
			summarised++
		}
	}
	if summarised == 0 {
		s.logger.Debug("project has no summarised components yet",
			logfields.Project(projectKey))
		return nil, nil
	}

	return s.run(ctx, runScope{
		scope:       gold.ScopeProject,
		scopeKey:    gold.ScopeKeyProject(projectKey),
		projectID:   projectKey,
		windowStart: windowStart,
		windowEnd:   windowEnd,
		totalEvents: summarised,
		summarize: func(ctx context.Context) (*status.Result, error) {
			return s.model.SummarizeProject(ctx, bundle)
		},
		render: func(report gold.Report) string {
			return render.ProjectMarkdown(projectKey, report)
		},
	})
}

func (s *Service) repositoryWindowStart(ctx context.Context, repositoryID string, windowEnd time.Time) (time.Time, error) {
	last, err := s.reports.LatestRepositoryReport(ctx, repositoryID)
	if err != nil {
		return time.Time{}, err
	}
	if last != nil {
		return last.WindowEnd, nil
	}
	return windowEnd.AddDate(0, 0, -s.windowDays), nil
}

func (s *Service) projectWindowStart(ctx context.Context, projectKey string, windowEnd time.Time) (time.Time, error) {
	last, err := s.reports.LatestProjectReport(ctx, projectKey)
	if err != nil {
		return time.Time{}, err
	}
	if last != nil {
		return last.WindowEnd, nil
	}
	return windowEnd.AddDate(0, 0, -s.windowDays), nil
}

// runScope is the per-run state shared by the repository and project flows.
type runScope struct {
	scope        gold.Scope
	scopeKey     string
	repositoryID string
	projectID    string
	windowStart  time.Time
	windowEnd    time.Time
	factIDs      []string
	totalEvents  int
	empty        bool

	summarize func(context.Context) (*status.Result, error)
	render    func(gold.Report) string
	// sinkMeta is nil for scopes that do not land in the file sink.
	sinkMeta *sink.Metadata
}

// run drives the bounded attempt loop: summarise, validate, persist. Model
// call failures and validation failures both consume attempts; exhaustion
// upserts the pending review for the window and surfaces it to the caller.
func (s *Service) run(ctx context.Context, rc runScope) (*RunResult, error) {
	s.events.Emit(ctx, observability.NewEvent(observability.ReportStarted, map[string]any{
		"scope":        string(rc.scope),
		"scope_key":    rc.scopeKey,
		"window_start": rc.windowStart.Format(time.RFC3339),
		"window_end":   rc.windowEnd.Format(time.RFC3339),
	}))
	runStart := time.Now()

	var issues []gold.ValidationIssue
	attempts := 0
	for attempts < s.maxAttempts {
		if err := ctx.Err(); err != nil {
			s.failRun(ctx, rc, attempts, err)
			return nil, err
		}
		attempts++

		callStart := time.Now()
		result, err := rc.summarize(ctx)
		latency := time.Since(callStart).Milliseconds()
		if err != nil {
			s.recorder.IncReportAttempt(string(rc.scope), metrics.ResultFailed)
			s.logger.Warn("model call failed",
				logfields.Scope(rc.scopeKey),
				logfields.Attempt(attempts),
				logfields.Error(err))
			continue
		}

		verdict := Validate(result, rc.totalEvents, rc.empty)
		if !verdict.Valid {
			issues = append(issues, verdict.Issues...)
			s.recorder.IncReportAttempt(string(rc.scope), metrics.ResultFailed)
			s.logger.Warn("result failed validation",
				logfields.Scope(rc.scopeKey),
				logfields.Attempt(attempts),
				logfields.Count(len(verdict.Issues)))
			continue
		}

		report := s.assembleReport(rc, result, latency)
		saved, err := s.reports.SaveReport(ctx, report, rc.factIDs)
		if err != nil {
			s.failRun(ctx, rc, attempts, err)
			return nil, err
		}

		s.enqueueSinkWrite(*saved, rc)
		s.recorder.IncReportAttempt(string(rc.scope), metrics.ResultSuccess)
		s.recorder.ObserveReportDuration(string(rc.scope), time.Since(runStart))
		if saved.PromptTokens != nil && saved.CompletionTokens != nil {
			s.recorder.AddReportTokens(int(*saved.PromptTokens), int(*saved.CompletionTokens))
		}
		s.events.Emit(ctx, observability.NewEvent(observability.ReportCompleted, map[string]any{
			"scope":      string(rc.scope),
			"scope_key":  rc.scopeKey,
			"report_id":  saved.ID,
			"attempts":   attempts,
			"latency_ms": latency,
		}))
		s.logger.Info("report persisted",
			logfields.Scope(rc.scopeKey),
			logfields.ReportID(saved.ID),
			logfields.Model(saved.Model),
			logfields.Attempt(attempts))
		return &RunResult{Report: *saved, Attempts: attempts}, nil
	}

	review, err := s.reports.UpsertPendingReview(ctx, gold.ReviewInput{
		ScopeKey:     rc.scopeKey,
		RepositoryID: rc.repositoryID,
		ProjectID:    rc.projectID,
		WindowStart:  rc.windowStart,
		WindowEnd:    rc.windowEnd,
		Model:        s.model.Name(),
		AttemptCount: attempts,
		Issues:       issues,
	})
	if err != nil {
		s.failRun(ctx, rc, attempts, err)
		return nil, err
	}

	exhausted := gerrors.ReportValidationExhausted(rc.scopeKey, review.ID, attempts)
	s.recorder.ObserveReportDuration(string(rc.scope), time.Since(runStart))
	s.failRun(ctx, rc, attempts, exhausted)
	s.logger.Warn("validation attempts exhausted, review created",
		logfields.Scope(rc.scopeKey),
		logfields.ReviewID(review.ID),
		logfields.Attempt(attempts))
	return nil, exhausted
}

func (s *Service) assembleReport(rc runScope, result *status.Result, latencyMS int64) gold.Report {
	report := gold.Report{
		Scope:        rc.scope,
		RepositoryID: rc.repositoryID,
		ProjectID:    rc.projectID,
		WindowStart:  rc.windowStart,
		WindowEnd:    rc.windowEnd,
		GeneratedAt:  time.Now().UTC(),
		Model:        s.model.Name(),
		HumanText:    result.Raw,
		MachineSummary: gold.MachineSummary{
			Status:     string(result.Status),
			Summary:    result.Summary,
			Highlights: result.Highlights,
			Risks:      result.Risks,
			NextSteps:  result.NextSteps,
		},
		LatencyMS: &latencyMS,
	}
	if provider, ok := s.model.(status.InvocationMetricsProvider); ok {
		if m, ok := provider.LastInvocationMetrics(); ok {
			report.PromptTokens = &m.PromptTokens
			report.CompletionTokens = &m.CompletionTokens
			report.TotalTokens = &m.TotalTokens
		}
	}
	return report
}

func (s *Service) enqueueSinkWrite(report gold.Report, rc runScope) {
	if s.writer == nil || rc.sinkMeta == nil {
		return
	}
	meta := *rc.sinkMeta
	meta.ReportID = report.ID
	meta.WindowEnd = report.WindowEnd
	if err := s.writer.Enqueue(rc.render(report), meta); err != nil {
		s.logger.Warn("report sink enqueue failed",
			logfields.ReportID(report.ID),
			logfields.Error(err))
	}
}

func (s *Service) failRun(ctx context.Context, rc runScope, attempts int, err error) {
	s.events.Emit(ctx, observability.NewEvent(observability.ReportFailed, map[string]any{
		"scope":      string(rc.scope),
		"scope_key":  rc.scopeKey,
		"attempts":   attempts,
		"error_kind": string(gerrors.GetCategory(err)),
	}))
}
